package monitor

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/t77yq/scash-manager/internal/model"
)

// Metrics exposes worker and host state as Prometheus metrics
type Metrics struct {
	running    prometheus.Gauge
	uptime     prometheus.Gauge
	hashrate   *prometheus.GaugeVec
	restarts   prometheus.Gauge
	logLines   prometheus.Counter
	hostCPU    prometheus.Gauge
	hostMemory prometheus.Gauge
	workerCPU  prometheus.Gauge
	workerRSS  prometheus.Gauge
	needsSetup prometheus.Gauge
	registry   *prometheus.Registry
}

// NewMetrics creates the metrics in their own registry
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "scash"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.running = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "worker_running",
		Help:      "Whether the mining worker is running (1) or not (0)",
	})

	m.uptime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "worker_uptime_seconds",
		Help:      "Uptime of the current worker process",
	})

	m.hashrate = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "hashrate_hashes_per_second",
		Help:      "Hash rate reported by the worker",
	}, []string{"kind"})

	m.restarts = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "worker_restarts",
		Help:      "Automatic restarts performed by the watchdog since startup",
	})

	m.logLines = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "log_lines_total",
		Help:      "Total number of log records ingested",
	})

	m.hostCPU = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "host_cpu_usage_percent",
		Help:      "Host CPU usage",
	})

	m.hostMemory = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "host_memory_usage_percent",
		Help:      "Host memory usage",
	})

	m.workerCPU = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "worker_cpu_usage_percent",
		Help:      "CPU usage of the worker process",
	})

	m.workerRSS = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "worker_memory_rss_bytes",
		Help:      "Resident memory of the worker process",
	})

	m.needsSetup = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "needs_setup",
		Help:      "Whether wallet or pool URL is missing",
	})

	m.registry.MustRegister(
		m.running,
		m.uptime,
		m.hashrate,
		m.restarts,
		m.logLines,
		m.hostCPU,
		m.hostMemory,
		m.workerCPU,
		m.workerRSS,
		m.needsSetup,
	)

	return m
}

// Registry returns the registry holding the metrics
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// IncLogLines counts one ingested log record
func (m *Metrics) IncLogLines() {
	m.logLines.Inc()
}

// Observe updates the gauges from a status snapshot
func (m *Metrics) Observe(snapshot model.StatusSnapshot) {
	status := snapshot.Miner

	m.running.Set(boolToFloat(status.Running))
	m.needsSetup.Set(boolToFloat(status.NeedsSetup))
	m.uptime.Set(status.Uptime.Seconds())
	m.restarts.Set(float64(status.RestartCount))

	setOptional(m.hashrate.WithLabelValues("latest"), status.HashrateHS)
	setOptional(m.hashrate.WithLabelValues("mean"), status.HashrateAvgHS)
	setOptional(m.hashrate.WithLabelValues("ewma"), status.HashrateEWMAHS)

	m.hostCPU.Set(snapshot.Host.CPUUsage)
	m.hostMemory.Set(snapshot.Host.MemoryUsage)
	m.workerCPU.Set(snapshot.Host.WorkerCPU)
	m.workerRSS.Set(float64(snapshot.Host.WorkerRSS))
}

func setOptional(g prometheus.Gauge, v *float64) {
	if v == nil {
		g.Set(0)
		return
	}
	g.Set(*v)
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
