package engine

import (
	"context"
	"math/rand"
	"sync"
	"time"

	payloadcore "splitlab/internal/payload/core"
)

// Clock supplies the current time to service operations.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

// Now returns the function's current time.
func (f ClockFunc) Now() time.Time { return f() }

// Logger is the slog-compatible structured logging contract accepted by the
// service. *slog.Logger satisfies it directly.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MetricsRecorder receives one observation per service operation.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

type noopMetricsRecorder struct{}

func (noopMetricsRecorder) Observe(context.Context, string, bool, time.Duration) {}

// AuditStatus marks the outcome recorded in an audit entry.
type AuditStatus string

// Audit entry outcomes.
const (
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusError   AuditStatus = "error"
)

// AuditEntry captures one service operation for the audit trail.
type AuditEntry struct {
	Operation string
	Entity    EntityType
	Action    Action
	EntityID  string
	Status    AuditStatus
	Error     string
	Duration  time.Duration
	Timestamp time.Time
}

// AuditRecorder receives audit entries for mutating service operations.
type AuditRecorder interface {
	Record(ctx context.Context, entry AuditEntry)
}

type noopAuditRecorder struct{}

func (noopAuditRecorder) Record(context.Context, AuditEntry) {}

// TraceSpan terminates a trace started by a Tracer.
type TraceSpan interface {
	End(err error)
}

// Tracer starts spans around service operations.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

type noopTracer struct{}

type noopSpan struct{}

func (noopSpan) End(error) {}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

// RandSource supplies the randomness consumed by the bandit allocator. It is
// injected so property tests can seed it; *math/rand.Rand satisfies it.
type RandSource interface {
	Float64() float64
	NormFloat64() float64
}

// lockedRand serializes access to a RandSource so adaptive assignment is safe
// under concurrent callers (math/rand.Rand is not).
type lockedRand struct {
	mu  sync.Mutex
	src RandSource
}

func (r *lockedRand) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.src.Float64()
}

func (r *lockedRand) NormFloat64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.src.NormFloat64()
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the service time source.
func WithClock(clock Clock) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger attaches a structured logger to the service.
func WithLogger(logger Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetricsRecorder attaches a metrics recorder to the service.
func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(s *Service) {
		if recorder != nil {
			s.metrics = recorder
		}
	}
}

// WithAuditRecorder attaches an audit trail recorder to the service.
func WithAuditRecorder(recorder AuditRecorder) Option {
	return func(s *Service) {
		if recorder != nil {
			s.audit = recorder
		}
	}
}

// WithTracer attaches a tracer to the service.
func WithTracer(tracer Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithRandSource seeds the bandit allocator with a deterministic source.
func WithRandSource(src RandSource) Option {
	return func(s *Service) {
		if src != nil {
			s.rand = &lockedRand{src: src}
		}
	}
}

// WithPayloadStore attaches a blob store used to offload variant content
// payloads larger than the inline threshold.
func WithPayloadStore(store payloadcore.Store) Option {
	return func(s *Service) {
		s.payloads = store
	}
}

func defaultRand() *lockedRand {
	return &lockedRand{src: rand.New(rand.NewSource(time.Now().UnixNano()))}
}
