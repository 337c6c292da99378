package transport

import (
	"context"
	"fmt"
	"strings"

	"github.com/refractionPOINT/syslog-generator/codepage"
	"github.com/refractionPOINT/syslog-generator/counters"
	"github.com/refractionPOINT/syslog-generator/queue"
	"github.com/refractionPOINT/syslog-generator/utils"
)

// Worker drains the replay queue toward one destination once per tick.
type Worker interface {
	TaskID() string
	Initialize() error
	Run(ctx context.Context)
	Dispose() error
}

func taskID(prefix string, index int) string {
	return fmt.Sprintf("%s-%d", prefix, index)
}

// sendLoop is the per-tick dequeue and send cycle shared by all workers.
type sendLoop struct {
	eps     int
	queue   queue.LogQueue
	encoder *codepage.Encoder
	pacer   pacer
	log     utils.LogOptions

	consumed *counters.Counter
	success  *counters.Counter
	fail     *counters.Counter
	total    *counters.Counter
}

func newSendLoop(conf TransportConfig, q queue.LogQueue, registry *counters.Registry) (*sendLoop, error) {
	enc, err := codepage.Resolve(conf.SendEncoding)
	if err != nil {
		return nil, fmt.Errorf("send_encoding: %w", err)
	}
	p, err := newPacer(conf.Pacing, conf.EPS)
	if err != nil {
		return nil, err
	}
	return &sendLoop{
		eps:      int(conf.EPS),
		queue:    q,
		encoder:  codepage.NewEncoder(enc),
		pacer:    p,
		log:      conf.LogOptions,
		consumed: registry.Counter(counters.FileQueueConsume),
		success:  registry.Counter(counters.SendSuccess),
		fail:     registry.Counter(counters.SendFail),
		total:    registry.Counter(counters.SendTotal),
	}, nil
}

// run performs up to eps iterations. An empty queue still uses up an
// iteration, a blank line does not. ready is consulted before every
// dequeue and ends the tick early when it returns false.
func (l *sendLoop) run(ctx context.Context, ready func() bool, send func([]byte) error) {
	for i := 0; i < l.eps; i++ {
		if ctx.Err() != nil {
			return
		}
		if ready != nil && !ready() {
			return
		}
		line, ok := l.queue.TryDequeue()
		if !ok {
			continue
		}
		if strings.TrimSpace(line) == "" {
			i--
			continue
		}
		l.consumed.Increment()

		if err := l.pacer.wait(ctx); err != nil {
			l.queue.Enqueue(line)
			return
		}

		payload, err := l.encoder.Encode(line)
		if err != nil {
			// Not a transport failure, retrying would fail the same way.
			l.log.Warn(fmt.Sprintf("dropping line that cannot be encoded: %v", err))
			l.fail.Increment()
			l.total.Increment()
			continue
		}

		if err := send(payload); err != nil {
			l.queue.Enqueue(line)
			l.fail.Increment()
		} else {
			l.success.Increment()
		}
		l.total.Increment()
	}
}
