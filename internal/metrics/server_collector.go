package metrics

import (
	"errors"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// ServerCollector reports CPU, memory, thread and fd usage of the supervised
// server, sampled at scrape time. Nothing is emitted while no server runs.
type ServerCollector struct {
	pid     func() int
	cpu     *prometheus.Desc
	rss     *prometheus.Desc
	threads *prometheus.Desc
	fds     *prometheus.Desc
}

// NewServerCollector builds a collector for the server named name. pid
// returns the current server PID, or 0 when it is not running.
func NewServerCollector(name string, pid func() int) *ServerCollector {
	labels := prometheus.Labels{"name": name}
	desc := func(metric, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName("tidwatch", "server", metric), help, nil, labels)
	}
	return &ServerCollector{
		pid:     pid,
		cpu:     desc("cpu_percent", "CPU usage percentage of the server process."),
		rss:     desc("memory_rss_bytes", "Resident memory of the server process."),
		threads: desc("num_threads", "Number of threads of the server process."),
		fds:     desc("num_fds", "Number of open file descriptors of the server process (Unix only)."),
	}
}

func (c *ServerCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.cpu
	ch <- c.rss
	ch <- c.threads
	if runtime.GOOS != "windows" {
		ch <- c.fds
	}
}

func (c *ServerCollector) Collect(ch chan<- prometheus.Metric) {
	pid := c.pid()
	if pid <= 0 {
		return
	}
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return
	}
	if v, err := p.CPUPercent(); err == nil {
		ch <- prometheus.MustNewConstMetric(c.cpu, prometheus.GaugeValue, v)
	}
	if mi, err := p.MemoryInfo(); err == nil && mi != nil {
		ch <- prometheus.MustNewConstMetric(c.rss, prometheus.GaugeValue, float64(mi.RSS))
	}
	if n, err := p.NumThreads(); err == nil {
		ch <- prometheus.MustNewConstMetric(c.threads, prometheus.GaugeValue, float64(n))
	}
	if runtime.GOOS != "windows" {
		if n, err := p.NumFDs(); err == nil {
			ch <- prometheus.MustNewConstMetric(c.fds, prometheus.GaugeValue, float64(n))
		}
	}
}

// RegisterServerCollector registers a ServerCollector, tolerating a previous
// registration of the same metrics.
func RegisterServerCollector(r prometheus.Registerer, name string, pid func() int) error {
	err := r.Register(NewServerCollector(name, pid))
	var are prometheus.AlreadyRegisteredError
	if err != nil && !errors.As(err, &are) {
		return err
	}
	return nil
}
