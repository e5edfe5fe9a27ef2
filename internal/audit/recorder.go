package audit

import (
	"context"
	"sync"
	"time"
)

// Logger defines the logging interface used by this package.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// recorderQueueSize bounds the async buffer. When full, entries are
// dropped rather than blocking the command path.
const recorderQueueSize = 256

// recorderWriteTimeout bounds each database insert.
const recorderWriteTimeout = 5 * time.Second

// Recorder writes audit entries asynchronously. Command handlers call
// Record and move on; a single worker goroutine drains the queue into
// the repository.
type Recorder struct {
	repo   Repository
	logger Logger

	queue    chan Entry
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	errMu    sync.Mutex
	writeErr error
}

// NewRecorder creates and starts an async recorder.
func NewRecorder(repo Repository) *Recorder {
	r := &Recorder{
		repo:   repo,
		logger: noopLogger{},
		queue:  make(chan Entry, recorderQueueSize),
		done:   make(chan struct{}),
	}
	r.wg.Add(1)
	go r.drain()
	return r
}

// SetLogger sets the logger for the recorder.
func (r *Recorder) SetLogger(logger Logger) {
	r.logger = logger
}

// Record queues one audit entry. Never blocks: if the queue is full the
// entry is dropped with a warning. The audit trail is best-effort;
// losing a record must never delay or fail a command.
func (r *Recorder) Record(entry Entry) {
	select {
	case r.queue <- entry:
	case <-r.done:
	default:
		r.logger.Warn("audit queue full, dropping entry",
			"address", entry.Address, "command", entry.Command)
	}
}

// drain is the worker loop. On shutdown it flushes whatever is queued.
func (r *Recorder) drain() {
	defer r.wg.Done()
	for {
		select {
		case entry := <-r.queue:
			r.write(entry)
		case <-r.done:
			for {
				select {
				case entry := <-r.queue:
					r.write(entry)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(entry Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), recorderWriteTimeout)
	defer cancel()
	if err := r.repo.Create(ctx, &entry); err != nil {
		r.logger.Error("audit write failed",
			"address", entry.Address, "command", entry.Command, "error", err)
		r.errMu.Lock()
		r.writeErr = err
		r.errMu.Unlock()
	}
}

// Close stops the worker after flushing queued entries. It returns the
// last write error the worker hit, so a lossy audit trail surfaces at
// shutdown even though Record itself never fails.
// Safe to call more than once.
func (r *Recorder) Close() error {
	r.stopOnce.Do(func() {
		close(r.done)
		r.wg.Wait()
	})
	r.errMu.Lock()
	defer r.errMu.Unlock()
	return r.writeErr
}
