package taskgraph

import "time"

// Options configures an Engine. Zero values are valid; New applies the
// documented defaults for anything left unset.
type Options struct {
	// DefaultTaskTimeout is stored on the Engine but is not applied to
	// operation attempts: the engine sets no per-attempt deadline, and an
	// executor bounds attempts on its own (executor.NewSubprocess takes a
	// timeout). Default: 0.
	DefaultTaskTimeout time.Duration

	// RunWallClockBudget bounds the whole execution. When exceeded, the
	// execution is failed with context.DeadlineExceeded. Default: 0 (no
	// bound).
	RunWallClockBudget time.Duration

	// Metrics receives per-task counters, the in-flight gauge, and the
	// attempt latency histogram. Nil disables metrics collection.
	Metrics *EngineMetrics

	// Signals is the bus lifecycle events are published on. A nil value
	// gets a fresh, unconnected Signals so callers never observe a nil
	// bus, but supplying one is how callers subscribe handlers.
	Signals *Signals

	// Store persists Execution/Task Records. Required: New returns
	// ErrStoreRequired if Store is nil.
	Store Store

	// ExecutorFactory builds the Executor that runs ExecOperation tasks,
	// given the notifications sink it must call back into. A factory
	// rather than a bare Executor because most executors need a live
	// reference to the engine's notification methods at construction
	// time. Required: New returns ErrExecutorRequired if nil.
	ExecutorFactory func(ExecutorNotifications) Executor

	// PluginWorkdirBase is the parent directory plugin working
	// directories are created under. Default: os.TempDir().
	PluginWorkdirBase string
}

// Option mutates Options at Engine construction time.
type Option func(*Options)

// WithDefaultTaskTimeout sets Options.DefaultTaskTimeout, which the engine
// stores but does not apply to operation attempts.
func WithDefaultTaskTimeout(d time.Duration) Option {
	return func(o *Options) { o.DefaultTaskTimeout = d }
}

// WithRunWallClockBudget bounds total execution wall-clock time.
func WithRunWallClockBudget(d time.Duration) Option {
	return func(o *Options) { o.RunWallClockBudget = d }
}

// WithMetrics enables Prometheus metrics collection.
func WithMetrics(m *EngineMetrics) Option {
	return func(o *Options) { o.Metrics = m }
}

// WithSignals installs the signal bus the engine publishes on. Use this
// to Connect handlers before Execute runs.
func WithSignals(s *Signals) Option {
	return func(o *Options) { o.Signals = s }
}

// WithStore installs the Execution Store.
func WithStore(s Store) Option {
	return func(o *Options) { o.Store = s }
}

// WithExecutorFactory installs the constructor used to build the
// Executor operation tasks are submitted to.
func WithExecutorFactory(f func(ExecutorNotifications) Executor) Option {
	return func(o *Options) { o.ExecutorFactory = f }
}

// WithPluginWorkdirBase overrides the parent directory for per-plugin
// working directories.
func WithPluginWorkdirBase(path string) Option {
	return func(o *Options) { o.PluginWorkdirBase = path }
}
