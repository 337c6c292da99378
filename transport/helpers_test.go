package transport

import (
	"bytes"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/refractionPOINT/syslog-generator/counters"
	"github.com/refractionPOINT/syslog-generator/queue"
	"github.com/refractionPOINT/syslog-generator/scheduler"
	"github.com/stretchr/testify/mock"
)

type mockScheduler struct {
	mock.Mock
}

func (m *mockScheduler) AddTask(id string, task scheduler.Task) error {
	return m.Called(id, task).Error(0)
}

func (m *mockScheduler) RemoveTask(id string) bool {
	return m.Called(id).Bool(0)
}

func newMockScheduler() *mockScheduler {
	m := &mockScheduler{}
	m.On("AddTask", mock.Anything, mock.Anything).Return(nil)
	m.On("RemoveTask", mock.Anything).Return(true)
	return m
}

func newTestQueue() (*queue.ReplayQueue, *counters.Registry) {
	reg := counters.NewRegistry()
	return queue.NewReplayQueue(reg.Counter(counters.FileQueueProduce)), reg
}

func drain(q *queue.ReplayQueue) []string {
	var out []string
	for {
		v, ok := q.TryDequeue()
		if !ok {
			return out
		}
		out = append(out, v)
	}
}

func counterValues(reg *counters.Registry) map[string]int64 {
	return map[string]int64{
		counters.FileQueueConsume: reg.Counter(counters.FileQueueConsume).Value(),
		counters.SendSuccess:      reg.Counter(counters.SendSuccess).Value(),
		counters.SendFail:         reg.Counter(counters.SendFail).Value(),
		counters.SendTotal:        reg.Counter(counters.SendTotal).Value(),
	}
}

// fakeConn records writes and fails them on demand.
type fakeConn struct {
	net.Conn
	mu     sync.Mutex
	buf    bytes.Buffer
	fail   bool
	closed bool
}

func (c *fakeConn) Write(b []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail || c.closed {
		return 0, errors.New("broken pipe")
	}
	return c.buf.Write(b)
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) SetWriteDeadline(t time.Time) error {
	return nil
}

func (c *fakeConn) setFail(fail bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail = fail
}

func (c *fakeConn) written() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
