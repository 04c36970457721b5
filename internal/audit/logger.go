package audit

// The recorder is the engine's append-only memory. Every decision and every
// execution transition funnels through one writer goroutine, which assigns
// the monotonically increasing sequence number, writes the JSON audit file,
// persists the entry, and fans it out to notification sinks. Concurrent
// producers therefore never interleave entries non-deterministically.

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/mamutelabs/steward/internal/metrics"
)

// Sink receives audit entries at or above its registered severity. Sinks are
// invoked from the single-writer path, in registration order, so deliveries
// preserve the log's total ordering.
type Sink interface {
	Name() string
	Notify(ctx context.Context, e Entry) error
}

// Store persists entries durably. May be nil for in-memory operation.
type Store interface {
	AppendAuditEntry(ctx context.Context, e Entry) error
}

// Config configures the audit file and its rotation.
type Config struct {
	// AuditLogPath is the path to the append-only audit log file.
	AuditLogPath string

	// MaxSize is the maximum size in megabytes before rotation.
	MaxSize int

	// MaxBackups is the maximum number of rotated files to retain.
	MaxBackups int

	// MaxAge is the maximum number of days to retain rotated files.
	MaxAge int

	// Compress determines if rotated files are compressed.
	Compress bool

	// QueueSize bounds the producer queue. Producers block when full rather
	// than dropping entries.
	QueueSize int
}

// DefaultConfig returns default audit recorder configuration.
func DefaultConfig() Config {
	return Config{
		AuditLogPath: "logs/audit.log",
		MaxSize:      100, // megabytes
		MaxBackups:   10,
		MaxAge:       30, // days
		Compress:     true,
		QueueSize:    1024,
	}
}

type sinkEntry struct {
	sink Sink
	min  Severity
}

// Recorder is the single-writer audit log.
type Recorder struct {
	fileLogger *zap.Logger
	appLogger  *zap.Logger
	store      Store

	mu    sync.RWMutex
	sinks []sinkEntry

	queue    chan envelope
	seq      uint64
	stopOnce sync.Once
	done     chan struct{}
}

// envelope carries either an entry or a flush marker through the queue.
type envelope struct {
	entry Entry
	flush chan struct{}
}

// NewRecorder creates and starts a recorder. appLogger receives operational
// warnings (sink failures, persistence failures); the audit stream itself
// goes to its own rotated file.
func NewRecorder(cfg Config, store Store, appLogger *zap.Logger) (*Recorder, error) {
	if cfg.AuditLogPath == "" {
		return nil, fmt.Errorf("audit: log path must not be empty")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if appLogger == nil {
		appLogger = zap.NewNop()
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "written_at",
		MessageKey:     "entry",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
	}

	rotator := &lumberjack.Logger{
		Filename:   cfg.AuditLogPath,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(rotator),
		zapcore.InfoLevel, // the audit stream has no levels to filter
	)

	r := &Recorder{
		fileLogger: zap.New(core),
		appLogger:  appLogger,
		store:      store,
		queue:      make(chan envelope, cfg.QueueSize),
		done:       make(chan struct{}),
	}
	go r.writeLoop()
	return r, nil
}

// RegisterSink subscribes a notification sink for entries at or above min.
// Registration happens during initialization, before recording begins.
func (r *Recorder) RegisterSink(s Sink, min Severity) {
	r.mu.Lock()
	r.sinks = append(r.sinks, sinkEntry{sink: s, min: min})
	r.mu.Unlock()
}

// Record appends an entry to the log. The sequence number is assigned by the
// writer; Record itself only enqueues and may block briefly when the queue
// is full.
func (r *Recorder) Record(e Entry) {
	r.queue <- envelope{entry: e}
}

// Flush blocks until every entry recorded before the call has been written,
// persisted, and dispatched.
func (r *Recorder) Flush() {
	done := make(chan struct{})
	r.queue <- envelope{flush: done}
	<-done
}

// Close drains the queue and stops the writer. Record must not be called
// after Close.
func (r *Recorder) Close() error {
	r.stopOnce.Do(func() {
		close(r.queue)
		<-r.done
	})
	return r.fileLogger.Sync()
}

// writeLoop is the single writer: sequence assignment, file write,
// persistence, and sink fanout all happen here, in order.
func (r *Recorder) writeLoop() {
	defer close(r.done)
	for env := range r.queue {
		if env.flush != nil {
			close(env.flush)
			continue
		}
		r.seq++
		entry := env.entry
		entry.Seq = r.seq

		r.write(entry)
		metrics.AuditEntriesTotal.WithLabelValues(string(entry.Severity)).Inc()
	}
}

func (r *Recorder) write(entry Entry) {
	ctx := context.Background()

	r.fileLogger.Info("audit",
		zap.Uint64("seq", entry.Seq),
		zap.Time("timestamp", entry.Timestamp),
		zap.String("event_type", string(entry.Type)),
		zap.String("severity", string(entry.Severity)),
		zap.Inline(entryObject(entry)),
	)

	if r.store != nil {
		if err := r.store.AppendAuditEntry(ctx, entry); err != nil {
			r.appLogger.Warn("failed to persist audit entry",
				zap.Uint64("seq", entry.Seq),
				zap.String("event_type", string(entry.Type)),
				zap.Error(err))
		}
	}

	r.mu.RLock()
	sinks := r.sinks
	r.mu.RUnlock()

	for _, se := range sinks {
		if !entry.Severity.AtLeast(se.min) {
			continue
		}
		if err := se.sink.Notify(ctx, entry); err != nil {
			r.appLogger.Warn("notification sink failed",
				zap.String("sink", se.sink.Name()),
				zap.Uint64("seq", entry.Seq),
				zap.Error(err))
		}
	}
}

// entryObject adapts an Entry for inline zap JSON encoding.
type entryObject Entry

func (e entryObject) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	if e.ActionID != "" {
		enc.AddString("action_id", e.ActionID)
	}
	if e.OpportunityID != "" {
		enc.AddString("opportunity_id", e.OpportunityID)
	}
	if e.DecisionID != "" {
		enc.AddString("decision_id", e.DecisionID)
	}
	if e.ConfirmationID != "" {
		enc.AddString("confirmation_id", e.ConfirmationID)
	}
	if e.ExecutionID != "" {
		enc.AddString("execution_id", e.ExecutionID)
	}
	if e.Outcome != "" {
		enc.AddString("outcome", string(e.Outcome))
	}
	if e.Status != "" {
		enc.AddString("status", e.Status)
	}
	if e.Message != "" {
		enc.AddString("message", e.Message)
	}
	if e.Error != "" {
		enc.AddString("error", e.Error)
	}
	if len(e.Metadata) > 0 {
		_ = enc.AddReflected("metadata", e.Metadata)
	}
	return nil
}
