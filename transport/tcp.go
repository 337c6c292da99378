package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/refractionPOINT/syslog-generator/counters"
	"github.com/refractionPOINT/syslog-generator/framing"
	"github.com/refractionPOINT/syslog-generator/queue"
	"github.com/refractionPOINT/syslog-generator/scheduler"
)

const (
	TCPTaskPrefix = "TcpGeneratorWorker"

	writerBufferSize = 16 * 1024
)

var (
	reconnectMinBackoff = 1 * time.Second
	reconnectMaxBackoff = 30 * time.Second

	errNotConnected = errors.New("not connected")
)

// TCPWorker sends octet-count framed lines over one long-lived stream,
// optionally wrapped in TLS.
type TCPWorker struct {
	index    int
	conf     TransportConfig
	queue    queue.LogQueue
	registry *counters.Registry
	sched    scheduler.TaskScheduler

	addr    string
	dial    dialFunc
	tlsConf *tls.Config
	loop    *sendLoop
	now     func() time.Time

	// Owned by the scheduled task once initialized.
	conn     net.Conn
	writer   *bufio.Writer
	broken   bool
	backoff  time.Duration
	nextDial time.Time

	mu         sync.Mutex
	isDisposed bool
}

func NewTCPWorker(index int, conf TransportConfig, q queue.LogQueue, registry *counters.Registry, sched scheduler.TaskScheduler) *TCPWorker {
	return &TCPWorker{
		index:    index,
		conf:     conf,
		queue:    q,
		registry: registry,
		sched:    sched,
		now:      time.Now,
	}
}

func (w *TCPWorker) TaskID() string {
	return taskID(TCPTaskPrefix, w.index)
}

func (w *TCPWorker) Initialize() error {
	if w.conf.EPS == 0 {
		return errors.New("eps must be greater than 0")
	}
	loop, err := newSendLoop(w.conf, w.queue, w.registry)
	if err != nil {
		return err
	}
	w.loop = loop
	w.addr = net.JoinHostPort(w.conf.Host, strconv.Itoa(int(w.conf.Port)))

	if w.conf.TLS.Enabled {
		if w.tlsConf, err = buildTLSConfig(w.conf.TLS, w.conf.Host); err != nil {
			return err
		}
	}
	if w.dial == nil {
		if w.dial, err = newDialer(w.conf.ProxyURL, w.conf.ConnectTimeout); err != nil {
			return err
		}
	}

	if err := w.connect(); err != nil {
		return fmt.Errorf("connect(%s): %v", w.addr, err)
	}

	if err := w.sched.AddTask(w.TaskID(), w); err != nil {
		w.closeConn()
		return err
	}
	w.conf.LogOptions.Debug(fmt.Sprintf("%s connected to tcp %s (tls: %v)", w.TaskID(), w.addr, w.tlsConf != nil))
	return nil
}

func (w *TCPWorker) connect() error {
	ctx := context.Background()
	if w.conf.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.conf.ConnectTimeout)
		defer cancel()
	}
	conn, err := w.dial(ctx, "tcp", w.addr)
	if err != nil {
		return err
	}
	if tc, ok := conn.(*net.TCPConn); ok && w.conf.SendBufferSize > 0 {
		if err := tc.SetWriteBuffer(w.conf.SendBufferSize); err != nil {
			conn.Close()
			return fmt.Errorf("SetWriteBuffer(): %v", err)
		}
	}
	if w.tlsConf != nil {
		tc := tls.Client(conn, w.tlsConf)
		if err := tc.HandshakeContext(ctx); err != nil {
			conn.Close()
			return fmt.Errorf("tls handshake: %v", err)
		}
		conn = tc
	}
	w.conn = conn
	w.writer = bufio.NewWriterSize(conn, writerBufferSize)
	w.broken = false
	w.backoff = 0
	return nil
}

func (w *TCPWorker) Run(ctx context.Context) {
	w.loop.run(ctx, w.ready, w.send)
}

// ready redials a broken connection once its backoff has elapsed.
func (w *TCPWorker) ready() bool {
	if !w.broken {
		return true
	}
	if w.now().Before(w.nextDial) {
		return false
	}
	if err := w.connect(); err != nil {
		w.conf.LogOptions.Warn(fmt.Sprintf("%s reconnect to %s: %v", w.TaskID(), w.addr, err))
		w.scheduleRedial()
		return false
	}
	w.conf.LogOptions.Debug(fmt.Sprintf("%s reconnected to %s", w.TaskID(), w.addr))
	return true
}

func (w *TCPWorker) send(payload []byte) error {
	if w.conn == nil {
		return errNotConnected
	}
	if w.conf.WriteTimeout > 0 {
		if err := w.conn.SetWriteDeadline(w.now().Add(w.conf.WriteTimeout)); err != nil {
			w.onWriteError(err)
			return err
		}
	}
	if err := framing.WriteFrame(w.writer, payload); err != nil {
		w.onWriteError(err)
		return err
	}
	return nil
}

func (w *TCPWorker) onWriteError(err error) {
	if w.conf.DisableReconnect {
		return
	}
	w.conf.LogOptions.Warn(fmt.Sprintf("%s connection to %s lost: %v", w.TaskID(), w.addr, err))
	w.closeConn()
	w.broken = true
	w.scheduleRedial()
}

func (w *TCPWorker) scheduleRedial() {
	if w.backoff < reconnectMinBackoff {
		w.backoff = reconnectMinBackoff
	}
	w.nextDial = w.now().Add(w.backoff)
	w.backoff *= 2
	if w.backoff > reconnectMaxBackoff {
		w.backoff = reconnectMaxBackoff
	}
}

func (w *TCPWorker) closeConn() error {
	if w.conn == nil {
		return nil
	}
	err := w.conn.Close()
	w.conn = nil
	w.writer = nil
	return err
}

// Dispose unregisters the task, waiting for an in-flight tick, then closes
// the stream. Subsequent calls do nothing.
func (w *TCPWorker) Dispose() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.isDisposed {
		return nil
	}
	w.isDisposed = true
	w.sched.RemoveTask(w.TaskID())
	return w.closeConn()
}
