// Package watch implements the runtime's state-subscriber hook (spec §4.4
// "watcher", called on every state mutation with (key, ref, old, new)) and
// a couple of concrete watchers grounded on the observability idioms this
// corpus uses elsewhere: the teacher's Observer interface
// (BeforePipeline/BeforeStage/AfterStage/AfterPipeline) collapsed into the
// single callback shape the spec calls for, logged with
// go.uber.org/zap the way the rest of the corpus logs, and a Prometheus
// counter for anyone who wants metrics instead of/alongside logs.
package watch

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Watcher observes every state mutation the runtime makes: key names the
// kind of thing that changed (e.g. "instance.state", "queue.fifo"), ref is
// the affected ident or queue name rendered as a string, and old/new are
// the before/after values.
type Watcher interface {
	OnChange(key, ref string, old, new any)
}

// Noop discards every notification. It is the Runtime default.
type Noop struct{}

func (Noop) OnChange(string, string, any, any) {}

// Multi fans a notification out to every watcher in order, mirroring the
// teacher's never-implemented MultiObserver reference in config/build.go —
// composing multiple observers this way is exactly what that comment
// anticipated, generalized from pipeline Observer hooks to state-watcher
// callbacks.
type Multi []Watcher

func (m Multi) OnChange(key, ref string, old, new any) {
	for _, w := range m {
		w.OnChange(key, ref, old, new)
	}
}

// ZapWatcher logs every state mutation at debug level via a *zap.Logger.
type ZapWatcher struct {
	Logger *zap.Logger
}

// NewZapWatcher wraps logger (or zap.NewNop() if nil) as a Watcher.
func NewZapWatcher(logger *zap.Logger) *ZapWatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapWatcher{Logger: logger}
}

func (w *ZapWatcher) OnChange(key, ref string, old, new any) {
	w.Logger.Debug("state change",
		zap.String("key", key),
		zap.String("ref", ref),
		zap.Any("old", old),
		zap.Any("new", new),
	)
}

// PrometheusWatcher counts state mutations by key, for hosts that want
// metrics instead of (or in addition to) logs. The counter is registered
// against reg when the watcher is constructed; with a nil reg it is left
// unregistered.
type PrometheusWatcher struct {
	mu       sync.Mutex
	reg      prometheus.Registerer
	counter  *prometheus.CounterVec
}

// NewPrometheusWatcher returns a watcher that increments
// flowrt_state_changes_total{key} for every mutation, registered against
// reg (use prometheus.DefaultRegisterer for the global registry).
func NewPrometheusWatcher(reg prometheus.Registerer) *PrometheusWatcher {
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flowrt_state_changes_total",
		Help: "Total number of runtime state mutations observed, by key.",
	}, []string{"key"})
	if reg != nil {
		reg.MustRegister(counter)
	}
	return &PrometheusWatcher{reg: reg, counter: counter}
}

func (w *PrometheusWatcher) OnChange(key, ref string, old, new any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.counter.WithLabelValues(key).Inc()
}
