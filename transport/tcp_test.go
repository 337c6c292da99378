package transport

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/refractionPOINT/syslog-generator/counters"
	"github.com/refractionPOINT/syslog-generator/sink"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"software.sslmate.com/src/go-pkcs12"
)

func TestTCPFraming(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	chData := make(chan []byte, 1)
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 5)
		if _, err := io.ReadFull(conn, buf); err != nil {
			return
		}
		chData <- buf
	}()

	q, reg := newTestQueue()
	w := NewTCPWorker(0, TransportConfig{
		Host:           "127.0.0.1",
		Port:           uint16(l.Addr().(*net.TCPAddr).Port),
		EPS:            1,
		SendBufferSize: 65535,
		ConnectTimeout: 5 * time.Second,
	}, q, reg, newMockScheduler())
	require.NoError(t, w.Initialize())
	defer w.Dispose()

	q.Enqueue("abc")
	w.Run(context.Background())

	select {
	case b := <-chData:
		assert.Equal(t, []byte{0x33, 0x20, 0x61, 0x62, 0x63}, b)
	case <-time.After(5 * time.Second):
		t.Fatal("no data received")
	}
	assert.Equal(t, int64(1), reg.Counter(counters.SendSuccess).Value())
}

func TestTCPWorkerToSink(t *testing.T) {
	var mu sync.Mutex
	var got []string
	s, chStopped, err := sink.NewSink(sink.SinkConfig{Interface: "127.0.0.1"}, func(b []byte) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, string(b))
	})
	require.NoError(t, err)
	defer func() {
		s.Close()
		<-chStopped
	}()

	q, reg := newTestQueue()
	w := NewTCPWorker(0, TransportConfig{Host: "127.0.0.1", Port: s.Port(), EPS: 3}, q, reg, newMockScheduler())
	require.NoError(t, w.Initialize())
	defer w.Dispose()

	for _, line := range []string{"one", "two words", "three"} {
		q.Enqueue(line)
	}
	w.Run(context.Background())

	require.Eventually(t, func() bool { return s.Messages() == 3 }, 5*time.Second, 10*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"one", "two words", "three"}, got)
}

func TestTCPWorkerInitializeFailsWithoutListener(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := uint16(l.Addr().(*net.TCPAddr).Port)
	l.Close()

	q, reg := newTestQueue()
	sched := newMockScheduler()
	w := NewTCPWorker(0, TransportConfig{Host: "127.0.0.1", Port: port, EPS: 1, ConnectTimeout: time.Second}, q, reg, sched)
	assert.Error(t, w.Initialize())
	sched.AssertNotCalled(t, "AddTask")
}

func TestTCPReconnect(t *testing.T) {
	defer func(min time.Duration) { reconnectMinBackoff = min }(reconnectMinBackoff)
	reconnectMinBackoff = 0

	conns := []*fakeConn{{}, {}}
	dials := 0
	q, reg := newTestQueue()
	w := NewTCPWorker(0, TransportConfig{Host: "collector", Port: 514, EPS: 1}, q, reg, newMockScheduler())
	w.dial = func(ctx context.Context, network, address string) (net.Conn, error) {
		assert.Equal(t, "collector:514", address)
		c := conns[dials]
		dials++
		return c, nil
	}
	require.NoError(t, w.Initialize())
	defer w.Dispose()

	q.Enqueue("one")
	w.Run(context.Background())
	assert.Equal(t, "3 one", conns[0].written())

	conns[0].setFail(true)
	q.Enqueue("two")
	w.Run(context.Background())
	assert.Equal(t, 1, q.Len())
	assert.True(t, conns[0].isClosed())
	assert.Equal(t, int64(1), reg.Counter(counters.SendFail).Value())

	w.Run(context.Background())
	assert.Equal(t, 2, dials)
	assert.Equal(t, "3 two", conns[1].written())
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, map[string]int64{
		counters.FileQueueConsume: 3,
		counters.SendSuccess:      2,
		counters.SendFail:         1,
		counters.SendTotal:        3,
	}, counterValues(reg))
}

func TestTCPReconnectBackoff(t *testing.T) {
	now := time.Unix(1000, 0)
	conns := []*fakeConn{{}, {}}
	dials := 0
	q, reg := newTestQueue()
	w := NewTCPWorker(0, TransportConfig{Host: "collector", Port: 514, EPS: 5}, q, reg, newMockScheduler())
	w.now = func() time.Time { return now }
	w.dial = func(ctx context.Context, network, address string) (net.Conn, error) {
		c := conns[dials]
		dials++
		return c, nil
	}
	require.NoError(t, w.Initialize())
	defer w.Dispose()

	conns[0].setFail(true)
	q.Enqueue("a")
	q.Enqueue("b")
	w.Run(context.Background())
	// Dequeuing stops for the rest of the tick once the stream broke.
	assert.Equal(t, []string{"b", "a"}, drainAndRestore(q))
	assert.Equal(t, 2*time.Second, w.backoff)

	now = now.Add(500 * time.Millisecond)
	w.Run(context.Background())
	assert.Equal(t, 1, dials)
	assert.Equal(t, 2, q.Len())

	now = now.Add(time.Second)
	w.Run(context.Background())
	assert.Equal(t, 2, dials)
	assert.Equal(t, "1 b1 a", conns[1].written())
	assert.Equal(t, time.Duration(0), w.backoff)
}

func TestTCPBackoffCapped(t *testing.T) {
	w := NewTCPWorker(0, TransportConfig{}, nil, nil, nil)
	for i := 0; i < 10; i++ {
		w.scheduleRedial()
	}
	assert.Equal(t, reconnectMaxBackoff, w.backoff)
}

func TestTCPDisableReconnect(t *testing.T) {
	conn := &fakeConn{}
	dials := 0
	q, reg := newTestQueue()
	w := NewTCPWorker(0, TransportConfig{Host: "collector", Port: 514, EPS: 2, DisableReconnect: true}, q, reg, newMockScheduler())
	w.dial = func(ctx context.Context, network, address string) (net.Conn, error) {
		dials++
		return conn, nil
	}
	require.NoError(t, w.Initialize())
	defer w.Dispose()

	conn.setFail(true)
	q.Enqueue("a")
	w.Run(context.Background())
	w.Run(context.Background())

	assert.Equal(t, 1, dials)
	assert.False(t, conn.isClosed())
	assert.Equal(t, 1, q.Len())
	assert.Equal(t, int64(4), reg.Counter(counters.SendFail).Value())
}

func TestTCPWorkerTLS(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath, err := sink.WriteSelfSigned(dir, "127.0.0.1")
	require.NoError(t, err)

	s, chStopped, err := sink.NewSink(sink.SinkConfig{
		Interface:   "127.0.0.1",
		SslCertPath: certPath,
		SslKeyPath:  keyPath,
	}, nil)
	require.NoError(t, err)
	defer func() {
		s.Close()
		<-chStopped
	}()

	p12Path := filepath.Join(dir, "truststore.p12")
	pemData, err := os.ReadFile(certPath)
	require.NoError(t, err)
	block, _ := pem.Decode(pemData)
	require.NotNil(t, block)
	cert, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)
	p12, err := pkcs12.Modern.EncodeTrustStore([]*x509.Certificate{cert}, "changeit")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(p12Path, p12, 0o600))

	for _, tc := range []TLSConfig{
		{Enabled: true, TrustStorePath: certPath},
		{Enabled: true, TrustStorePath: p12Path, TrustStorePassword: "changeit"},
	} {
		q, reg := newTestQueue()
		w := NewTCPWorker(0, TransportConfig{
			Host:           "127.0.0.1",
			Port:           s.Port(),
			EPS:            1,
			ConnectTimeout: 5 * time.Second,
			TLS:            tc,
		}, q, reg, newMockScheduler())
		require.NoError(t, w.Initialize(), tc.TrustStorePath)
		q.Enqueue("secure")
		w.Run(context.Background())
		assert.Equal(t, int64(1), reg.Counter(counters.SendSuccess).Value())
		require.NoError(t, w.Dispose())
	}

	require.Eventually(t, func() bool { return s.Messages() == 2 }, 5*time.Second, 10*time.Millisecond)
}

func TestTCPWorkerTLSUntrusted(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath, err := sink.WriteSelfSigned(dir, "127.0.0.1")
	require.NoError(t, err)
	otherCert, _, err := sink.WriteSelfSigned(t.TempDir(), "127.0.0.1")
	require.NoError(t, err)

	s, chStopped, err := sink.NewSink(sink.SinkConfig{
		Interface:   "127.0.0.1",
		SslCertPath: certPath,
		SslKeyPath:  keyPath,
	}, nil)
	require.NoError(t, err)
	defer func() {
		s.Close()
		<-chStopped
	}()

	q, reg := newTestQueue()
	w := NewTCPWorker(0, TransportConfig{
		Host:           "127.0.0.1",
		Port:           s.Port(),
		EPS:            1,
		ConnectTimeout: 5 * time.Second,
		TLS:            TLSConfig{Enabled: true, TrustStorePath: otherCert},
	}, q, reg, newMockScheduler())
	assert.Error(t, w.Initialize())
}

func TestLoadTrustStoreErrors(t *testing.T) {
	dir := t.TempDir()
	garbage := filepath.Join(dir, "garbage.p12")
	require.NoError(t, os.WriteFile(garbage, []byte("not a trust store"), 0o600))

	_, err := LoadTrustStore(garbage, "")
	assert.Error(t, err)
	_, err = LoadTrustStore(filepath.Join(dir, "missing.pem"), "")
	assert.Error(t, err)
}

func TestNewDialer(t *testing.T) {
	d, err := newDialer("", time.Second)
	require.NoError(t, err)
	assert.NotNil(t, d)

	d, err = newDialer("socks5://127.0.0.1:1080", time.Second)
	require.NoError(t, err)
	assert.NotNil(t, d)

	_, err = newDialer("gopher://127.0.0.1:70", time.Second)
	assert.Error(t, err)
}

func drainAndRestore(q interface {
	Enqueue(string)
	TryDequeue() (string, bool)
}) []string {
	var out []string
	for {
		v, ok := q.TryDequeue()
		if !ok {
			break
		}
		out = append(out, v)
	}
	for _, v := range out {
		q.Enqueue(v)
	}
	return out
}
