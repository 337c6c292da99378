package generator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/refractionPOINT/syslog-generator/counters"
	"github.com/refractionPOINT/syslog-generator/queue"
	"github.com/refractionPOINT/syslog-generator/scheduler"
	"github.com/refractionPOINT/syslog-generator/source"
	"github.com/refractionPOINT/syslog-generator/staging"
	"github.com/refractionPOINT/syslog-generator/transport"
	"golang.org/x/sync/errgroup"
)

const MonitorTaskID = "GeneratorMonitor"

// Generator wires one log source and SenderCount transport workers around
// a shared replay queue.
type Generator struct {
	conf     GeneratorConfig
	sched    scheduler.TaskScheduler
	registry *counters.Registry
	runID    string
	queue    *queue.ReplayQueue

	source    *source.FileSource
	workers   []transport.Worker
	localPath string

	// Overridden in tests.
	stage func(ctx context.Context, conf staging.StagingConfig, p string) (string, error)

	chDone   chan struct{}
	doneOnce sync.Once
	// SendSuccess value when the run started.
	sentBase int64

	mu        sync.Mutex
	isStarted bool
	isStopped bool
}

func NewGenerator(conf GeneratorConfig, sched scheduler.TaskScheduler, registry *counters.Registry) (*Generator, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return &Generator{
		conf:     conf,
		sched:    sched,
		registry: registry,
		runID:    uuid.NewString(),
		queue:    queue.NewReplayQueue(registry.Counter(counters.FileQueueProduce)),
		chDone:   make(chan struct{}),
		stage:    staging.Stage,
	}, nil
}

// Start stages the source file if it is remote, then initializes the
// source and every worker in order. If any of them fails, everything
// created so far is disposed and the error returned.
func (g *Generator) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.isStarted {
		return errors.New("generator already started")
	}
	g.isStarted = true

	for _, name := range counters.Names {
		g.registry.Counter(name)
	}
	g.sentBase = g.registry.Counter(counters.SendSuccess).Value()

	localPath, err := g.stage(ctx, g.conf.stagingConfig(), g.conf.FilePath)
	if err != nil {
		return err
	}
	g.localPath = localPath

	src := source.NewFileSource(g.conf.sourceConfig(localPath), g.queue, g.sched)
	if err := src.Initialize(); err != nil {
		g.disposeAll()
		return fmt.Errorf("source: %v", err)
	}
	g.source = src

	tc := g.conf.transportConfig()
	for i := 0; i < int(g.conf.SenderCount); i++ {
		w := g.newWorker(i, tc)
		if err := w.Initialize(); err != nil {
			w.Dispose()
			g.disposeAll()
			return fmt.Errorf("%s: %v", w.TaskID(), err)
		}
		g.workers = append(g.workers, w)
	}

	if g.conf.Count > 0 {
		if err := g.sched.AddTask(MonitorTaskID, scheduler.TaskFunc(g.monitor)); err != nil {
			g.disposeAll()
			return err
		}
	}

	g.conf.LogOptions.Debug(fmt.Sprintf("run %s: replaying %s to %s %s:%d at %d eps with %d workers",
		g.runID, g.conf.FilePath, g.conf.Mode, g.conf.Host, g.conf.Port, g.conf.EPS, len(g.workers)))
	return nil
}

func (g *Generator) newWorker(index int, tc transport.TransportConfig) transport.Worker {
	if g.conf.Mode == ModeTCP {
		return transport.NewTCPWorker(index, tc, g.queue, g.registry, g.sched)
	}
	return transport.NewUDPWorker(index, tc, g.queue, g.registry, g.sched)
}

// monitor closes Done once a capped run has read everything and every line
// read has been sent. A line a worker is still sending is neither queued nor
// sent, and may yet be re-enqueued.
func (g *Generator) monitor(ctx context.Context) {
	if !g.source.CapReached() || g.queue.Len() != 0 {
		return
	}
	sent := g.registry.Counter(counters.SendSuccess).Value() - g.sentBase
	if sent < int64(g.source.ReadCount()) {
		return
	}
	g.doneOnce.Do(func() {
		g.conf.LogOptions.Debug(fmt.Sprintf("run %s: %d lines read and sent", g.runID, g.conf.Count))
		close(g.chDone)
	})
}

// Stop disposes every worker concurrently, then the source. Subsequent
// calls do nothing.
func (g *Generator) Stop() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.isStopped {
		return nil
	}
	g.isStopped = true
	return g.disposeAll()
}

func (g *Generator) disposeAll() error {
	g.sched.RemoveTask(MonitorTaskID)

	var eg errgroup.Group
	for _, w := range g.workers {
		eg.Go(w.Dispose)
	}
	err := eg.Wait()
	g.workers = nil

	if g.source != nil {
		if serr := g.source.Dispose(); err == nil {
			err = serr
		}
		g.source = nil
	}

	if g.localPath != "" && g.localPath != g.conf.FilePath {
		if rerr := os.Remove(g.localPath); rerr != nil && !os.IsNotExist(rerr) {
			g.conf.LogOptions.Warn(fmt.Sprintf("removing staged %s: %v", g.localPath, rerr))
		}
		g.localPath = ""
	}
	return err
}

// Done is closed once a configured count has been fully replayed. Without
// a count it never closes.
func (g *Generator) Done() <-chan struct{} {
	return g.chDone
}

func (g *Generator) RunID() string {
	return g.runID
}

func (g *Generator) QueueLen() int {
	return g.queue.Len()
}

// Config returns the validated configuration.
func (g *Generator) Config() GeneratorConfig {
	return g.conf
}
