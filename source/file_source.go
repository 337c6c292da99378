package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/refractionPOINT/syslog-generator/codepage"
	"github.com/refractionPOINT/syslog-generator/queue"
	"github.com/refractionPOINT/syslog-generator/scheduler"
	"golang.org/x/text/encoding"
)

const (
	TaskID = "FileLogQueue"

	// The source keeps up to this many ticks worth of lines queued.
	softLimitFactor = 3
)

// FileSource replays a file as a circular buffer, enqueueing up to a soft
// limit of lines per tick and resuming at the exact byte offset where the
// previous tick stopped.
type FileSource struct {
	conf  FileSourceConfig
	queue queue.LogQueue
	sched scheduler.TaskScheduler

	path string
	key  string
	enc  encoding.Encoding
	term []byte

	// Owned by the scheduled task.
	offset     int64
	identity   uint64
	lastSaved  int64
	readCount  uint64
	store      *offsetStore
	watcher    *rotationWatcher
	isDisposed uint32
}

func NewFileSource(conf FileSourceConfig, q queue.LogQueue, sched scheduler.TaskScheduler) *FileSource {
	return &FileSource{
		conf:      conf,
		queue:     q,
		sched:     sched,
		lastSaved: -1,
	}
}

func (s *FileSource) Initialize() error {
	if s.conf.FilePath == "" {
		return errors.New("file_path missing")
	}
	if s.conf.EPS == 0 {
		return errors.New("eps must be greater than 0")
	}
	enc, err := codepage.Resolve(s.conf.FileEncoding)
	if err != nil {
		return fmt.Errorf("file_encoding: %w", err)
	}
	term, err := codepage.LineTerminator(enc)
	if err != nil {
		return fmt.Errorf("file_encoding: %w", err)
	}
	s.enc = enc
	s.term = term

	if s.path, err = filepath.Abs(s.conf.FilePath); err != nil {
		return fmt.Errorf("filepath.Abs(): %v", err)
	}
	s.key = s.conf.CheckpointKey
	if s.key == "" {
		s.key = s.path
	}

	if s.conf.StateFile != "" {
		s.restoreCheckpoint()
	}

	if !s.conf.DisableWatcher {
		w, err := newRotationWatcher(s.path, s.conf.LogOptions)
		if err != nil {
			s.conf.LogOptions.Warn(fmt.Sprintf("rotation watcher disabled: %v", err))
		} else {
			s.watcher = w
		}
	}

	if err := s.sched.AddTask(TaskID, s); err != nil {
		s.release()
		return err
	}
	return nil
}

func (s *FileSource) restoreCheckpoint() {
	store, err := openOffsetStore(s.conf.StateFile)
	if err != nil {
		s.conf.LogOptions.Warn(fmt.Sprintf("offset checkpoint disabled: %v", err))
		return
	}
	s.store = store
	rec, found, err := store.load(s.key)
	if err != nil {
		s.conf.LogOptions.Warn(fmt.Sprintf("offset checkpoint load: %v", err))
		return
	}
	if !found {
		return
	}
	s.offset = rec.Offset
	if s.conf.CheckpointKey == "" {
		s.identity = rec.Identity
	}
	s.lastSaved = rec.Offset
	s.conf.LogOptions.Debug(fmt.Sprintf("resuming %s at offset %d", s.key, rec.Offset))
}

// Enqueue pushes a line to the queue.
func (s *FileSource) Enqueue(line string) {
	s.queue.Enqueue(line)
}

// CapReached reports whether a configured read cap has been exhausted.
func (s *FileSource) CapReached() bool {
	return s.conf.Count > 0 && atomic.LoadUint64(&s.readCount) >= s.conf.Count
}

func (s *FileSource) ReadCount() uint64 {
	return atomic.LoadUint64(&s.readCount)
}

// Offset is the byte position the next tick resumes at. Only meaningful
// while the task is not running.
func (s *FileSource) Offset() int64 {
	return s.offset
}

func (s *FileSource) softLimit() int {
	return int(s.conf.EPS) * softLimitFactor
}

func (s *FileSource) Run(ctx context.Context) {
	if s.CapReached() {
		return
	}
	limit := s.softLimit()
	if s.queue.Len() >= limit {
		return
	}
	if err := s.readCycle(ctx, limit); err != nil {
		s.conf.LogOptions.Warn(fmt.Sprintf("read %s: %v", s.path, err))
	}
	s.saveCheckpoint()
}

func (s *FileSource) readCycle(ctx context.Context, limit int) error {
	f, err := os.Open(s.path)
	if err != nil {
		return err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return err
	}
	size := fi.Size()

	if s.watcher != nil && s.watcher.takeRotated() {
		s.conf.LogOptions.Debug(fmt.Sprintf("%s rotated, restarting at offset 0", s.path))
		s.offset = 0
	}
	if id := fileIdentity(f); id != 0 {
		if s.identity != 0 && id != s.identity {
			s.conf.LogOptions.Debug(fmt.Sprintf("%s replaced, restarting at offset 0", s.path))
			s.offset = 0
		}
		s.identity = id
	}
	if s.offset > size {
		s.offset = 0
	}

	if _, err := f.Seek(s.offset, io.SeekStart); err != nil {
		return err
	}
	lr := newLineReader(f, s.offset, s.enc, s.term)

	// A full pass from offset 0 yielding nothing means the file has no
	// usable lines, end the tick rather than spin.
	wrapped := false
	producedSinceWrap := 0
	for s.queue.Len() < limit {
		if ctx.Err() != nil || s.CapReached() {
			return nil
		}
		line, atEOF, err := lr.readLine()
		if err == io.EOF {
			if size == 0 || (wrapped && producedSinceWrap == 0) {
				return nil
			}
			wrapped = true
			producedSinceWrap = 0
			s.offset = 0
			if _, err := f.Seek(0, io.SeekStart); err != nil {
				return err
			}
			lr.reset(f, 0)
			continue
		}
		if err != nil {
			return err
		}

		if strings.TrimSpace(line) == "" {
			s.offset = lr.pos
			continue
		}

		s.Enqueue(line)
		producedSinceWrap++
		if s.conf.Count > 0 {
			atomic.AddUint64(&s.readCount, 1)
		}
		if atEOF || lr.pos >= size {
			s.offset = 0
		} else {
			s.offset = lr.pos
		}
	}
	return nil
}

func (s *FileSource) saveCheckpoint() {
	if s.store == nil || s.offset == s.lastSaved {
		return
	}
	if err := s.store.save(s.key, offsetRecord{
		Offset:   s.offset,
		Identity: s.identity,
	}); err != nil {
		s.conf.LogOptions.Warn(fmt.Sprintf("offset checkpoint save: %v", err))
		return
	}
	s.lastSaved = s.offset
}

// Dispose unregisters the task and releases the watcher and the checkpoint
// store. Subsequent calls do nothing.
func (s *FileSource) Dispose() error {
	if !atomic.CompareAndSwapUint32(&s.isDisposed, 0, 1) {
		return nil
	}
	s.sched.RemoveTask(TaskID)
	s.saveCheckpoint()
	return s.release()
}

func (s *FileSource) release() error {
	var errs []error
	if s.watcher != nil {
		errs = append(errs, s.watcher.close())
		s.watcher = nil
	}
	if s.store != nil {
		errs = append(errs, s.store.close())
		s.store = nil
	}
	return errors.Join(errs...)
}
