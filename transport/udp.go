package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/refractionPOINT/syslog-generator/counters"
	"github.com/refractionPOINT/syslog-generator/queue"
	"github.com/refractionPOINT/syslog-generator/scheduler"
)

const UDPTaskPrefix = "UdpGeneratorWorker"

// Applies when no write timeout is configured, so a full send buffer fails
// the send instead of stalling the tick.
var udpDefaultWriteTimeout = 50 * time.Millisecond

// UDPWorker sends one datagram per line, without framing, from an
// unconnected socket.
type UDPWorker struct {
	index    int
	conf     TransportConfig
	queue    queue.LogQueue
	registry *counters.Registry
	sched    scheduler.TaskScheduler

	conn *net.UDPConn
	dest *net.UDPAddr
	loop *sendLoop
	now  func() time.Time

	mu         sync.Mutex
	isDisposed bool
}

func NewUDPWorker(index int, conf TransportConfig, q queue.LogQueue, registry *counters.Registry, sched scheduler.TaskScheduler) *UDPWorker {
	return &UDPWorker{
		index:    index,
		conf:     conf,
		queue:    q,
		registry: registry,
		sched:    sched,
		now:      time.Now,
	}
}

func (w *UDPWorker) TaskID() string {
	return taskID(UDPTaskPrefix, w.index)
}

func (w *UDPWorker) Initialize() error {
	if w.conf.EPS == 0 {
		return errors.New("eps must be greater than 0")
	}
	loop, err := newSendLoop(w.conf, w.queue, w.registry)
	if err != nil {
		return err
	}
	w.loop = loop

	dest, err := net.ResolveUDPAddr("udp", net.JoinHostPort(w.conf.Host, strconv.Itoa(int(w.conf.Port))))
	if err != nil {
		return fmt.Errorf("net.ResolveUDPAddr(): %v", err)
	}
	w.dest = dest

	network := "udp6"
	if dest.IP.To4() != nil {
		network = "udp4"
	}
	conn, err := net.ListenUDP(network, nil)
	if err != nil {
		return fmt.Errorf("net.ListenUDP(): %v", err)
	}
	if w.conf.SendBufferSize > 0 {
		if err := conn.SetWriteBuffer(w.conf.SendBufferSize); err != nil {
			conn.Close()
			return fmt.Errorf("SetWriteBuffer(): %v", err)
		}
	}
	w.conn = conn

	if err := w.sched.AddTask(w.TaskID(), w); err != nil {
		w.conn.Close()
		w.conn = nil
		return err
	}
	w.conf.LogOptions.Debug(fmt.Sprintf("%s sending to udp %s", w.TaskID(), dest))
	return nil
}

func (w *UDPWorker) Run(ctx context.Context) {
	w.loop.run(ctx, nil, w.send)
}

func (w *UDPWorker) send(payload []byte) error {
	timeout := w.conf.WriteTimeout
	if timeout <= 0 {
		timeout = udpDefaultWriteTimeout
	}
	if err := w.conn.SetWriteDeadline(w.now().Add(timeout)); err != nil {
		return err
	}
	_, err := w.conn.WriteToUDP(payload, w.dest)
	return err
}

// Dispose unregisters the task, waiting for an in-flight tick, then closes
// the socket. Subsequent calls do nothing.
func (w *UDPWorker) Dispose() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.isDisposed {
		return nil
	}
	w.isDisposed = true
	w.sched.RemoveTask(w.TaskID())
	if w.conn == nil {
		return nil
	}
	err := w.conn.Close()
	w.conn = nil
	return err
}
