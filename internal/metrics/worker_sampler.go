package metrics

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// SamplerConfig holds configuration for worker resource sampling.
type SamplerConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// WorkerSampler periodically samples CPU and memory of the managed worker
// while the agent is resident. One-shot CLI runs never start it.
type WorkerSampler struct {
	enabled  bool
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	cpuPercent *prometheus.GaugeVec
	memoryMB   *prometheus.GaugeVec
	numThreads *prometheus.GaugeVec
	numFDs     *prometheus.GaugeVec
}

// NewWorkerSampler creates a sampler; it does nothing until Start.
func NewWorkerSampler(config SamplerConfig) *WorkerSampler {
	interval := config.Interval
	if interval == 0 {
		interval = 5 * time.Second
	}

	return &WorkerSampler{
		enabled:  config.Enabled,
		interval: interval,
		stopCh:   make(chan struct{}),
		cpuPercent: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "redeployr",
				Subsystem: "worker",
				Name:      "cpu_percent",
				Help:      "CPU usage percentage of the managed worker.",
			}, []string{"worker"},
		),
		memoryMB: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "redeployr",
				Subsystem: "worker",
				Name:      "memory_mb",
				Help:      "Resident memory in MB of the managed worker.",
			}, []string{"worker"},
		),
		numThreads: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "redeployr",
				Subsystem: "worker",
				Name:      "num_threads",
				Help:      "Number of threads of the managed worker.",
			}, []string{"worker"},
		),
		numFDs: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "redeployr",
				Subsystem: "worker",
				Name:      "num_fds",
				Help:      "Number of open file descriptors of the managed worker (Unix only).",
			}, []string{"worker"},
		),
	}
}

// RegisterMetrics registers the sampler gauges with the provided registerer.
func (s *WorkerSampler) RegisterMetrics(r prometheus.Registerer) error {
	if !s.enabled {
		return nil
	}

	collectors := []prometheus.Collector{s.cpuPercent, s.memoryMB, s.numThreads}
	if runtime.GOOS != "windows" {
		collectors = append(collectors, s.numFDs)
	}

	for _, collector := range collectors {
		if err := r.Register(collector); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Start begins periodic sampling. currentPID reports the worker's recorded
// pid, or 0 when no instance is running.
func (s *WorkerSampler) Start(ctx context.Context, worker string, currentPID func() int) {
	if !s.enabled {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.sample(worker, currentPID())
			}
		}
	}()
}

// Stop stops sampling and waits for the loop to exit.
func (s *WorkerSampler) Stop() {
	if !s.enabled {
		return
	}
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()
}

func (s *WorkerSampler) sample(worker string, pid int) {
	if pid <= 0 {
		s.cpuPercent.WithLabelValues(worker).Set(0)
		s.memoryMB.WithLabelValues(worker).Set(0)
		s.numThreads.WithLabelValues(worker).Set(0)
		if runtime.GOOS != "windows" {
			s.numFDs.WithLabelValues(worker).Set(0)
		}
		return
	}

	p, err := process.NewProcess(int32(pid))
	if err != nil {
		slog.Debug("worker sampler: process lookup failed", "pid", pid, "error", err)
		return
	}

	if cpu, err := p.CPUPercent(); err == nil {
		s.cpuPercent.WithLabelValues(worker).Set(cpu)
	}
	if mem, err := p.MemoryInfo(); err == nil && mem != nil {
		s.memoryMB.WithLabelValues(worker).Set(float64(mem.RSS) / 1024 / 1024)
	}
	if threads, err := p.NumThreads(); err == nil {
		s.numThreads.WithLabelValues(worker).Set(float64(threads))
	}
	if runtime.GOOS != "windows" {
		if fds, err := p.NumFDs(); err == nil {
			s.numFDs.WithLabelValues(worker).Set(float64(fds))
		}
	}
}
