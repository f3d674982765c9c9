/*
Package monitor samples host resource usage on a fixed interval and keeps
rolling windows of the readings.  The series can be scraped over HTTP as
Prometheus gauges.
*/
package monitor

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"
)

// DefaultInterval is the sampling interval used when none is given
const DefaultInterval = time.Second

// windowSize is the number of samples kept per series
const windowSize = 100

// Series names accepted by Window and WindowStats
const (
	MetricCPUPercent = "cpu_percent"
	MetricMemPercent = "memory_percent"
	MetricDiskRead   = "disk_read_mbs"
	MetricDiskWrite  = "disk_write_mbs"
	MetricNetSent    = "net_sent_mbs"
	MetricNetRecv    = "net_recv_mbs"
)

// Snapshot is the most recent set of sampled values.  IO values are rates
// in MB per second computed between consecutive samples.
type Snapshot struct {
	Timestamp    time.Time
	CPUPercent   float64
	CPUCount     int
	CPUFreqMHz   float64
	MemUsedGB    float64
	MemTotalGB   float64
	MemPercent   float64
	DiskPercent  float64
	DiskReadMBs  float64
	DiskWriteMBs float64
	NetSentMBs   float64
	NetRecvMBs   float64
}

// ioTotals holds cumulative IO counters from the previous sample so rates
// can be derived
type ioTotals struct {
	when      time.Time
	diskRead  uint64
	diskWrite uint64
	netSent   uint64
	netRecv   uint64
}

// Sampler collects host resource readings on an interval
type Sampler struct {
	interval time.Duration
	logger   *zap.Logger
	registry *prometheus.Registry

	// prev is only touched by the sampling loop
	prev ioTotals

	mu       sync.RWMutex
	snapshot Snapshot
	windows  map[string][]float64
}

// NewSampler returns a sampler collecting at the given interval.  An
// interval of zero or less uses DefaultInterval, a nil logger disables
// logging.  Call Start to run the sampling loop.
func NewSampler(interval time.Duration, logger *zap.Logger) *Sampler {

	if interval <= 0 {
		interval = DefaultInterval
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Sampler{
		interval: interval,
		logger:   logger,
		registry: prometheus.NewRegistry(),
		windows:  make(map[string][]float64),
	}

	s.registerGauges()

	return s
}

// Start runs the sampling loop until the context is cancelled
func (s *Sampler) Start(ctx context.Context) {

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("performance sampler started",
		zap.Duration("interval", s.interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("performance sampler stopped")
			return

		case now := <-ticker.C:
			s.update(now)
		}
	}
}

// Snapshot returns the latest sampled values
func (s *Sampler) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.snapshot
}

// Window returns a copy of the rolling window for the given series name,
// oldest sample first
func (s *Sampler) Window(metric string) []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w := s.windows[metric]

	out := make([]float64, len(w))
	copy(out, w)

	return out
}

// WindowStats returns the rolling mean and sample standard deviation of
// the given series
func (s *Sampler) WindowStats(metric string) (mean, stddev float64) {

	w := s.Window(metric)

	if len(w) == 0 {
		return 0, 0
	}

	mean = stat.Mean(w, nil)

	if len(w) > 1 {
		stddev = stat.StdDev(w, nil)
	}

	return mean, stddev
}

// Handler returns an HTTP handler serving the sampled series in Prometheus
// exposition format
func (s *Sampler) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// update collects one sample and folds it into the snapshot and windows
func (s *Sampler) update(now time.Time) {

	snap := s.collect(now)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshot = snap

	s.push(MetricCPUPercent, snap.CPUPercent)
	s.push(MetricMemPercent, snap.MemPercent)
	s.push(MetricDiskRead, snap.DiskReadMBs)
	s.push(MetricDiskWrite, snap.DiskWriteMBs)
	s.push(MetricNetSent, snap.NetSentMBs)
	s.push(MetricNetRecv, snap.NetRecvMBs)
}

// push appends a value to a series, trimming to the window size.  Caller
// holds the lock.
func (s *Sampler) push(metric string, v float64) {

	w := append(s.windows[metric], v)

	if len(w) > windowSize {
		w = w[len(w)-windowSize:]
	}

	s.windows[metric] = w
}

// collect reads the host counters.  Failed readings are left at zero so one
// unavailable subsystem does not take down the rest of the sample.
func (s *Sampler) collect(now time.Time) Snapshot {

	snap := Snapshot{Timestamp: now}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		snap.CPUPercent = percents[0]
	} else if err != nil {
		s.logger.Debug("cpu percent unavailable", zap.Error(err))
	}

	if count, err := cpu.Counts(true); err == nil {
		snap.CPUCount = count
	}

	if infos, err := cpu.Info(); err == nil && len(infos) > 0 {
		snap.CPUFreqMHz = infos[0].Mhz
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		snap.MemUsedGB = float64(vm.Used) / (1 << 30)
		snap.MemTotalGB = float64(vm.Total) / (1 << 30)
		snap.MemPercent = vm.UsedPercent
	} else {
		s.logger.Debug("virtual memory unavailable", zap.Error(err))
	}

	if du, err := disk.Usage("/"); err == nil {
		snap.DiskPercent = du.UsedPercent
	}

	cur := ioTotals{when: now}

	if counters, err := disk.IOCounters(); err == nil {
		for _, c := range counters {
			cur.diskRead += c.ReadBytes
			cur.diskWrite += c.WriteBytes
		}
	}

	if counters, err := net.IOCounters(false); err == nil && len(counters) > 0 {
		cur.netSent = counters[0].BytesSent
		cur.netRecv = counters[0].BytesRecv
	}

	// convert cumulative counters to rates against the previous sample
	if !s.prev.when.IsZero() {
		elapsed := now.Sub(s.prev.when).Seconds()

		if elapsed > 0 {
			snap.DiskReadMBs = rateMB(cur.diskRead, s.prev.diskRead, elapsed)
			snap.DiskWriteMBs = rateMB(cur.diskWrite, s.prev.diskWrite, elapsed)
			snap.NetSentMBs = rateMB(cur.netSent, s.prev.netSent, elapsed)
			snap.NetRecvMBs = rateMB(cur.netRecv, s.prev.netRecv, elapsed)
		}
	}

	s.prev = cur

	return snap
}

// rateMB converts a counter delta to MB per second.  Counter resets yield
// zero rather than a negative rate.
func rateMB(cur, prev uint64, elapsed float64) float64 {

	if cur < prev {
		return 0
	}

	return float64(cur-prev) / (1 << 20) / elapsed
}

// registerGauges registers the sampled series on the private registry
func (s *Sampler) registerGauges() {

	s.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "roadsense_cpu_percent",
			Help: "CPU utilization percent",
		},
		func() float64 { return s.Snapshot().CPUPercent },
	))

	s.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "roadsense_cpu_count",
			Help: "Logical CPU count",
		},
		func() float64 { return float64(s.Snapshot().CPUCount) },
	))

	s.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "roadsense_cpu_freq_mhz",
			Help: "CPU frequency in MHz",
		},
		func() float64 { return s.Snapshot().CPUFreqMHz },
	))

	s.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "roadsense_memory_used_gb",
			Help: "Virtual memory used in GB",
		},
		func() float64 { return s.Snapshot().MemUsedGB },
	))

	s.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "roadsense_memory_total_gb",
			Help: "Virtual memory total in GB",
		},
		func() float64 { return s.Snapshot().MemTotalGB },
	))

	s.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "roadsense_memory_percent",
			Help: "Virtual memory used percent",
		},
		func() float64 { return s.Snapshot().MemPercent },
	))

	s.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "roadsense_disk_used_percent",
			Help: "Root filesystem used percent",
		},
		func() float64 { return s.Snapshot().DiskPercent },
	))

	s.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "roadsense_disk_read_mb_per_s",
			Help: "Disk read rate in MB per second",
		},
		func() float64 { return s.Snapshot().DiskReadMBs },
	))

	s.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "roadsense_disk_write_mb_per_s",
			Help: "Disk write rate in MB per second",
		},
		func() float64 { return s.Snapshot().DiskWriteMBs },
	))

	s.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "roadsense_net_sent_mb_per_s",
			Help: "Network send rate in MB per second",
		},
		func() float64 { return s.Snapshot().NetSentMBs },
	))

	s.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "roadsense_net_recv_mb_per_s",
			Help: "Network receive rate in MB per second",
		},
		func() float64 { return s.Snapshot().NetRecvMBs },
	))
}
