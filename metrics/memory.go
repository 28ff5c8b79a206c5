package metrics

import (
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/saiset-co/sai-backend/types"
)

// MemoryMetrics keeps values in process memory. It backs the "memory" type
// and the disabled configuration, where nothing is exported.
type MemoryMetrics struct {
	mu         sync.Mutex
	counters   map[string]*memoryValue
	gauges     map[string]*memoryValue
	histograms map[string]*MemoryHistogram
	running    int32
}

func NewMemoryMetrics() *MemoryMetrics {
	return &MemoryMetrics{
		counters:   make(map[string]*memoryValue),
		gauges:     make(map[string]*memoryValue),
		histograms: make(map[string]*MemoryHistogram),
	}
}

func (m *MemoryMetrics) Start() error {
	if !atomic.CompareAndSwapInt32(&m.running, 0, 1) {
		return types.ErrServerAlreadyRunning
	}
	return nil
}

func (m *MemoryMetrics) Stop() error {
	if !atomic.CompareAndSwapInt32(&m.running, 1, 0) {
		return types.ErrServerNotRunning
	}
	return nil
}

func (m *MemoryMetrics) IsRunning() bool {
	return atomic.LoadInt32(&m.running) == 1
}

func (m *MemoryMetrics) Counter(name string, labels map[string]string) types.Counter {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := metricKey(name, labels)
	v, ok := m.counters[key]
	if !ok {
		v = &memoryValue{}
		m.counters[key] = v
	}
	return v
}

func (m *MemoryMetrics) Gauge(name string, labels map[string]string) types.Gauge {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := metricKey(name, labels)
	v, ok := m.gauges[key]
	if !ok {
		v = &memoryValue{}
		m.gauges[key] = v
	}
	return v
}

func (m *MemoryMetrics) Histogram(name string, _ []float64, labels map[string]string) types.Histogram {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := metricKey(name, labels)
	h, ok := m.histograms[key]
	if !ok {
		h = &MemoryHistogram{}
		m.histograms[key] = h
	}
	return h
}

func metricKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
	}
	b.WriteByte('}')

	return b.String()
}

type memoryValue struct {
	bits uint64
}

func (v *memoryValue) Get() float64 {
	return math.Float64frombits(atomic.LoadUint64(&v.bits))
}

func (v *memoryValue) Set(value float64) {
	atomic.StoreUint64(&v.bits, math.Float64bits(value))
}

func (v *memoryValue) Add(value float64) {
	for {
		old := atomic.LoadUint64(&v.bits)
		next := math.Float64bits(math.Float64frombits(old) + value)
		if atomic.CompareAndSwapUint64(&v.bits, old, next) {
			return
		}
	}
}

func (v *memoryValue) Sub(value float64) {
	v.Add(-value)
}

func (v *memoryValue) Inc() {
	v.Add(1)
}

func (v *memoryValue) Dec() {
	v.Add(-1)
}

type MemoryHistogram struct {
	mu    sync.Mutex
	count uint64
	sum   float64
}

func (h *MemoryHistogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
}

func (h *MemoryHistogram) ObserveDuration(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

func (h *MemoryHistogram) GetCount() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

func (h *MemoryHistogram) GetSum() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sum
}
