package generator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/refractionPOINT/syslog-generator/counters"
	"github.com/refractionPOINT/syslog-generator/scheduler"
	"github.com/refractionPOINT/syslog-generator/sink"
	"github.com/refractionPOINT/syslog-generator/source"
	"github.com/refractionPOINT/syslog-generator/staging"
	"github.com/refractionPOINT/syslog-generator/transport"
	"github.com/refractionPOINT/syslog-generator/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogOptions(t *testing.T) utils.LogOptions {
	return utils.LogOptions{
		DebugLog:  func(msg string) { t.Logf("DBG: %s", msg) },
		OnWarning: func(msg string) { t.Logf("WRN: %s", msg) },
		OnError:   func(err error) { t.Logf("ERR: %v", err) },
	}
}

func writeReplayFile(t *testing.T, lines []string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "replay.log")
	require.NoError(t, os.WriteFile(p, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return p
}

type received struct {
	mu   sync.Mutex
	msgs []string
}

func (r *received) add(b []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, string(b))
}

func (r *received) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}

func runToCompletion(t *testing.T, mode string, isUDP bool) {
	rcv := &received{}
	s, chStopped, err := sink.NewSink(sink.SinkConfig{Interface: "127.0.0.1", IsUDP: isUDP}, rcv.add)
	require.NoError(t, err)
	defer func() {
		s.Close()
		<-chStopped
	}()

	lines := []string{"<13>one", "", "<13>two", "<13>three", "   ", "<13>four"}
	sched := scheduler.NewTickScheduler(10*time.Millisecond, 0, testLogOptions(t))
	defer sched.Close()
	registry := counters.NewRegistry()

	g, err := NewGenerator(GeneratorConfig{
		LogOptions:     testLogOptions(t),
		Mode:           mode,
		Host:           "127.0.0.1",
		Port:           s.Port(),
		EPS:            3,
		SenderCount:    2,
		FilePath:       writeReplayFile(t, lines),
		Count:          8,
		DisableWatcher: true,
	}, sched, registry)
	require.NoError(t, err)
	require.NoError(t, g.Start(context.Background()))

	prefix := transport.UDPTaskPrefix
	if mode == ModeTCP {
		prefix = transport.TCPTaskPrefix
	}
	assert.Equal(t, []string{
		"FileLogQueue",
		MonitorTaskID,
		prefix + "-0",
		prefix + "-1",
	}, sched.Tasks())

	select {
	case <-g.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("generator did not finish")
	}
	require.NoError(t, g.Stop())
	require.NoError(t, g.Stop())
	assert.Empty(t, sched.Tasks())

	require.Eventually(t, func() bool { return s.Messages() == 8 }, 5*time.Second, 10*time.Millisecond)
	got := rcv.get()
	assert.ElementsMatch(t, []string{
		"<13>one", "<13>two", "<13>three", "<13>four",
		"<13>one", "<13>two", "<13>three", "<13>four",
	}, got)

	snap := registry.Snapshot()
	assert.Equal(t, int64(8), snap[counters.FileQueueProduce])
	assert.Equal(t, int64(8), snap[counters.FileQueueConsume])
	assert.Equal(t, int64(8), snap[counters.SendSuccess])
	assert.Equal(t, int64(0), snap[counters.SendFail])
	assert.Equal(t, int64(8), snap[counters.SendTotal])
}

func TestGeneratorUDP(t *testing.T) {
	runToCompletion(t, ModeUDP, true)
}

func TestGeneratorTCP(t *testing.T) {
	runToCompletion(t, ModeTCP, false)
}

func TestGeneratorWorkerFailureUnwinds(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := uint16(l.Addr().(*net.TCPAddr).Port)
	l.Close()

	sched := scheduler.NewTickScheduler(time.Hour, 0, testLogOptions(t))
	defer sched.Close()

	g, err := NewGenerator(GeneratorConfig{
		LogOptions:        testLogOptions(t),
		Mode:              ModeTCP,
		Host:              "127.0.0.1",
		Port:              port,
		EPS:               10,
		SenderCount:       3,
		FilePath:          writeReplayFile(t, []string{"a"}),
		ConnectTimeoutSec: 1,
		DisableWatcher:    true,
	}, sched, counters.NewRegistry())
	require.NoError(t, err)

	err = g.Start(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "TcpGeneratorWorker-0")
	assert.Empty(t, sched.Tasks())
	assert.NoError(t, g.Stop())
}

func TestGeneratorInvalidConfig(t *testing.T) {
	_, err := NewGenerator(GeneratorConfig{}, scheduler.NewTickScheduler(time.Second, 0, utils.LogOptions{}), counters.NewRegistry())
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestGeneratorStartTwice(t *testing.T) {
	sched := scheduler.NewTickScheduler(time.Hour, 0, testLogOptions(t))
	defer sched.Close()

	g, err := NewGenerator(GeneratorConfig{
		Host:           "127.0.0.1",
		Port:           9,
		EPS:            1,
		FilePath:       writeReplayFile(t, []string{"a"}),
		DisableWatcher: true,
	}, sched, counters.NewRegistry())
	require.NoError(t, err)
	require.NoError(t, g.Start(context.Background()))
	defer g.Stop()

	assert.Error(t, g.Start(context.Background()))
	assert.NotEmpty(t, g.RunID())

	// Without a count the run never completes.
	select {
	case <-g.Done():
		t.Fatal("uncapped run reported done")
	default:
	}
}

func TestGeneratorCountersRegistered(t *testing.T) {
	sched := scheduler.NewTickScheduler(time.Hour, 0, testLogOptions(t))
	defer sched.Close()
	registry := counters.NewRegistry()

	g, err := NewGenerator(GeneratorConfig{
		Host:           "127.0.0.1",
		Port:           9,
		EPS:            1,
		FilePath:       writeReplayFile(t, []string{"a"}),
		DisableWatcher: true,
	}, sched, registry)
	require.NoError(t, err)
	require.NoError(t, g.Start(context.Background()))
	defer g.Stop()

	snap := registry.Snapshot()
	for _, name := range counters.Names {
		_, ok := snap[name]
		assert.True(t, ok, name)
	}
}

func TestGeneratorStagedSourceResumesAndCleansUp(t *testing.T) {
	rcv := &received{}
	s, chStopped, err := sink.NewSink(sink.SinkConfig{Interface: "127.0.0.1", IsUDP: true}, rcv.add)
	require.NoError(t, err)
	defer func() {
		s.Close()
		<-chStopped
	}()

	content, err := os.ReadFile(writeReplayFile(t, []string{"l1", "l2", "l3", "l4", "l5", "l6", "l7"}))
	require.NoError(t, err)
	stagingDir := t.TempDir()
	conf := GeneratorConfig{
		LogOptions:     testLogOptions(t),
		Host:           "127.0.0.1",
		Port:           s.Port(),
		EPS:            3,
		FilePath:       "s3://bucket/logs/replay.log",
		Count:          3,
		StateFile:      filepath.Join(t.TempDir(), "state.db"),
		StagingDir:     stagingDir,
		DisableWatcher: true,
	}

	downloads := 0
	var staged []string
	fakeStage := func(ctx context.Context, sc staging.StagingConfig, p string) (string, error) {
		assert.Equal(t, conf.FilePath, p)
		downloads++
		local := filepath.Join(sc.Dir, fmt.Sprintf("%d-replay.log", downloads))
		staged = append(staged, local)
		return local, os.WriteFile(local, content, 0o644)
	}

	run := func() {
		sched := scheduler.NewTickScheduler(10*time.Millisecond, 0, testLogOptions(t))
		defer sched.Close()
		g, err := NewGenerator(conf, sched, counters.NewRegistry())
		require.NoError(t, err)
		g.stage = fakeStage
		require.NoError(t, g.Start(context.Background()))
		select {
		case <-g.Done():
		case <-time.After(10 * time.Second):
			t.Fatal("generator did not finish")
		}
		require.NoError(t, g.Stop())
	}

	run()
	require.Eventually(t, func() bool { return s.Messages() == 3 }, 5*time.Second, 10*time.Millisecond)
	assert.NoFileExists(t, staged[0])

	run()
	require.Eventually(t, func() bool { return s.Messages() == 6 }, 5*time.Second, 10*time.Millisecond)
	assert.NoFileExists(t, staged[1])

	assert.Equal(t, []string{"l1", "l2", "l3", "l4", "l5", "l6"}, rcv.get())
	entries, err := os.ReadDir(stagingDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestGeneratorSourceFailureRemovesStagedCopy(t *testing.T) {
	sched := scheduler.NewTickScheduler(time.Hour, 0, testLogOptions(t))
	defer sched.Close()
	require.NoError(t, sched.AddTask(source.TaskID, scheduler.TaskFunc(func(ctx context.Context) {})))

	g, err := NewGenerator(GeneratorConfig{
		LogOptions:     testLogOptions(t),
		Host:           "127.0.0.1",
		Port:           9,
		EPS:            1,
		FilePath:       "gs://bucket/replay.log",
		DisableWatcher: true,
	}, sched, counters.NewRegistry())
	require.NoError(t, err)
	local := filepath.Join(t.TempDir(), "staged.log")
	g.stage = func(ctx context.Context, sc staging.StagingConfig, p string) (string, error) {
		return local, os.WriteFile(local, []byte("a\n"), 0o644)
	}

	assert.Error(t, g.Start(context.Background()))
	assert.NoFileExists(t, local)
	assert.Equal(t, []string{source.TaskID}, sched.Tasks())
}

func TestGeneratorDoneWaitsForInFlightLine(t *testing.T) {
	sched := scheduler.NewTickScheduler(time.Hour, 0, testLogOptions(t))
	defer sched.Close()
	registry := counters.NewRegistry()

	g, err := NewGenerator(GeneratorConfig{
		LogOptions:     testLogOptions(t),
		Host:           "127.0.0.1",
		Port:           9,
		EPS:            1,
		FilePath:       writeReplayFile(t, []string{"a", "b"}),
		Count:          1,
		DisableWatcher: true,
	}, sched, registry)
	require.NoError(t, err)
	require.NoError(t, g.Start(context.Background()))
	defer g.Stop()

	isDone := func() bool {
		g.monitor(context.Background())
		select {
		case <-g.Done():
			return true
		default:
			return false
		}
	}

	g.source.Run(context.Background())
	require.True(t, g.source.CapReached())
	assert.False(t, isDone())

	// Dequeued by a worker: the queue is empty but nothing was sent yet.
	line, ok := g.queue.TryDequeue()
	require.True(t, ok)
	assert.False(t, isDone())

	// The send failed and the line went back.
	g.queue.Enqueue(line)
	registry.Counter(counters.SendFail).Increment()
	assert.False(t, isDone())

	_, ok = g.queue.TryDequeue()
	require.True(t, ok)
	registry.Counter(counters.SendSuccess).Increment()
	assert.True(t, isDone())
}
