package observability

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"regexp"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/common/expfmt"
)

// ContentType is the media type of the text exposition served on /metrics.
const ContentType = "text/plain; version=0.0.4; charset=utf-8"

// MetricKind identifies how a metric accumulates observations.
type MetricKind string

const (
	// KindCounter only increases.
	KindCounter MetricKind = "counter"
	// KindHistogram counts observations into cumulative buckets.
	KindHistogram MetricKind = "histogram"
	// KindGauge holds the last value set.
	KindGauge MetricKind = "gauge"
)

// Labels maps label names to values for a single observation.
type Labels map[string]string

// MetricDefinition declares a metric before it can be observed.
type MetricDefinition struct {
	Name       string
	Kind       MetricKind
	Help       string
	LabelNames []string
	Buckets    []float64
}

// metricNamePattern is the classic exposition name grammar, which every
// scraper accepts. Label names use the same grammar without colons.
var (
	metricNamePattern = regexp.MustCompile(`^[a-zA-Z_:][a-zA-Z0-9_:]*$`)
	labelNamePattern  = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
)

type metric struct {
	def       MetricDefinition
	labelSet  map[string]struct{}
	counter   *prometheus.CounterVec
	histogram *prometheus.HistogramVec
	gauge     *prometheus.GaugeVec
}

// Registry holds named metrics and renders them in the Prometheus text format.
//
// Lookups go through a sync.Map and every series accumulates atomically
// inside the Prometheus client, so Observe never takes a registry-wide lock.
// Register is serialised so two definitions of the same name cannot race.
type Registry struct {
	namespace string
	registry  *prometheus.Registry
	metrics   sync.Map // name -> *metric
	mu        sync.Mutex
}

// NewRegistry creates an empty registry. A non-empty namespace is prefixed
// to every metric name on exposition.
func NewRegistry(namespace string) *Registry {
	return &Registry{
		namespace: namespace,
		registry:  prometheus.NewRegistry(),
	}
}

// RegisterRuntimeCollectors attaches the Go runtime and process collectors.
func (r *Registry) RegisterRuntimeCollectors(goMetrics, processMetrics bool) error {
	if goMetrics {
		if err := r.RegisterCollector(collectors.NewGoCollector()); err != nil {
			return err
		}
	}
	if processMetrics {
		if err := r.RegisterCollector(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
			return err
		}
	}
	return nil
}

// RegisterCollector attaches an arbitrary Prometheus collector.
func (r *Registry) RegisterCollector(c prometheus.Collector) error {
	if err := r.registry.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			return fmt.Errorf("%w: collector", ErrDuplicateMetric)
		}
		return fmt.Errorf("failed to register collector: %w", err)
	}
	return nil
}

// Gatherer exposes the underlying registry for scrape handlers and tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// Register adds a metric definition. It fails with ErrDuplicateMetric when the
// name is taken and with a *MetricRegistrationError when the definition is invalid.
func (r *Registry) Register(def MetricDefinition) error {
	if err := validateDefinition(def); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.metrics.Load(def.Name); exists {
		return fmt.Errorf("%w: %s", ErrDuplicateMetric, def.Name)
	}

	m := &metric{
		def:      def,
		labelSet: make(map[string]struct{}, len(def.LabelNames)),
	}
	for _, name := range def.LabelNames {
		m.labelSet[name] = struct{}{}
	}

	var collector prometheus.Collector
	switch def.Kind {
	case KindCounter:
		m.counter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: r.namespace,
			Name:      def.Name,
			Help:      def.Help,
		}, def.LabelNames)
		collector = m.counter
	case KindHistogram:
		buckets := def.Buckets
		if len(buckets) == 0 {
			buckets = prometheus.DefBuckets
		}
		m.histogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: r.namespace,
			Name:      def.Name,
			Help:      def.Help,
			Buckets:   buckets,
		}, def.LabelNames)
		collector = m.histogram
	case KindGauge:
		m.gauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: r.namespace,
			Name:      def.Name,
			Help:      def.Help,
		}, def.LabelNames)
		collector = m.gauge
	}

	if err := r.registry.Register(collector); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			return fmt.Errorf("%w: %s", ErrDuplicateMetric, def.Name)
		}
		return &MetricRegistrationError{Name: def.Name, Reason: "rejected by collector registry", Err: err}
	}

	r.metrics.Store(def.Name, m)
	return nil
}

// MustRegister registers every definition and panics on the first failure.
// It is meant for startup wiring where a bad definition is fatal.
func (r *Registry) MustRegister(defs ...MetricDefinition) {
	for _, def := range defs {
		if err := r.Register(def); err != nil {
			panic(err)
		}
	}
}

// Observe records a value: counters add it, histograms observe it and
// gauges are set to it.
func (r *Registry) Observe(name string, labels Labels, value float64) error {
	m, err := r.lookup(name, labels)
	if err != nil {
		return err
	}

	switch m.def.Kind {
	case KindCounter:
		if err := checkCounterDelta(name, value); err != nil {
			return err
		}
		counter, err := m.counter.GetMetricWith(prometheus.Labels(labels))
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidLabelValue, name, err)
		}
		counter.Add(value)
	case KindHistogram:
		if math.IsNaN(value) {
			return fmt.Errorf("%w: %s", ErrInvalidValue, name)
		}
		histogram, err := m.histogram.GetMetricWith(prometheus.Labels(labels))
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidLabelValue, name, err)
		}
		histogram.Observe(value)
	case KindGauge:
		gauge, err := m.gauge.GetMetricWith(prometheus.Labels(labels))
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidLabelValue, name, err)
		}
		gauge.Set(value)
	}
	return nil
}

// Add increments a counter or moves a gauge by delta.
func (r *Registry) Add(name string, labels Labels, delta float64) error {
	m, err := r.lookup(name, labels)
	if err != nil {
		return err
	}

	switch m.def.Kind {
	case KindCounter:
		if err := checkCounterDelta(name, delta); err != nil {
			return err
		}
		counter, err := m.counter.GetMetricWith(prometheus.Labels(labels))
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidLabelValue, name, err)
		}
		counter.Add(delta)
	case KindGauge:
		gauge, err := m.gauge.GetMetricWith(prometheus.Labels(labels))
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidLabelValue, name, err)
		}
		gauge.Add(delta)
	default:
		return fmt.Errorf("%w: add on %s %s", ErrWrongKind, m.def.Kind, name)
	}
	return nil
}

func checkCounterDelta(name string, delta float64) error {
	if math.IsNaN(delta) || math.IsInf(delta, 0) {
		return fmt.Errorf("%w: %s", ErrInvalidValue, name)
	}
	if delta < 0 {
		return fmt.Errorf("%w: %s", ErrNegativeValue, name)
	}
	return nil
}

// Definition returns the definition a metric was registered with.
func (r *Registry) Definition(name string) (MetricDefinition, bool) {
	value, ok := r.metrics.Load(name)
	if !ok {
		return MetricDefinition{}, false
	}
	return value.(*metric).def, true
}

// Names returns the registered metric names in sorted order.
func (r *Registry) Names() []string {
	var names []string
	r.metrics.Range(func(key, _ any) bool {
		names = append(names, key.(string))
		return true
	})
	sort.Strings(names)
	return names
}

// Render returns the text exposition of every metric. Families are sorted by
// name and series by label values, so two renders with no intervening
// observation are byte-identical.
func (r *Registry) Render() ([]byte, error) {
	var buf bytes.Buffer
	if err := r.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Write streams the text exposition to w.
func (r *Registry) Write(w io.Writer) error {
	families, err := r.registry.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}

	encoder := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, family := range families {
		if err := encoder.Encode(family); err != nil {
			return fmt.Errorf("failed to encode metric family %s: %w", family.GetName(), err)
		}
	}
	return nil
}

func (r *Registry) lookup(name string, labels Labels) (*metric, error) {
	value, ok := r.metrics.Load(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMetric, name)
	}

	m := value.(*metric)
	if len(labels) != len(m.labelSet) {
		return nil, fmt.Errorf("%w: %s expects %v", ErrLabelMismatch, name, m.def.LabelNames)
	}
	for key := range labels {
		if _, ok := m.labelSet[key]; !ok {
			return nil, fmt.Errorf("%w: %s has no label %q", ErrLabelMismatch, name, key)
		}
	}
	return m, nil
}

func validateDefinition(def MetricDefinition) error {
	invalid := func(reason string) error {
		return &MetricRegistrationError{Name: def.Name, Reason: reason}
	}

	if !metricNamePattern.MatchString(def.Name) {
		return invalid("invalid metric name")
	}
	if def.Help == "" {
		return invalid("help text is required")
	}

	switch def.Kind {
	case KindCounter, KindGauge:
		if len(def.Buckets) > 0 {
			return invalid("buckets are only valid for histograms")
		}
	case KindHistogram:
		for i := 1; i < len(def.Buckets); i++ {
			if def.Buckets[i] <= def.Buckets[i-1] {
				return invalid("histogram buckets must be strictly ascending")
			}
		}
	default:
		return invalid(fmt.Sprintf("unknown metric kind %q", def.Kind))
	}

	seen := make(map[string]struct{}, len(def.LabelNames))
	for _, label := range def.LabelNames {
		if !labelNamePattern.MatchString(label) || (label == "le" && def.Kind == KindHistogram) {
			return invalid(fmt.Sprintf("invalid label name %q", label))
		}
		if _, dup := seen[label]; dup {
			return invalid(fmt.Sprintf("duplicate label name %q", label))
		}
		seen[label] = struct{}{}
	}
	return nil
}
