package monitor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"time"

	"CascadeDetServer/cascade"
	"CascadeDetServer/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

var (
	memUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "memory_usage_Megabytes",
		Help: "Memory usage in Megabytes",
	})
	cpuUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cpu_usage_percent",
		Help: "CPU usage in percent",
	})
	GRPCTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "grpc_requests_total",
		Help: "Total number of gRPC requests processed",
	})
	HTTPTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP and websocket requests processed",
	}, []string{"route"})
	tasksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cascade_tasks_total",
		Help: "Sub-model tasks by sub-model and outcome",
	}, []string{"sub_model", "outcome"})
	tasksInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cascade_tasks_in_flight",
		Help: "Sub-model tasks currently running",
	})
	taskSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cascade_task_duration_seconds",
		Help:    "Sub-model task latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"sub_model"})
	predictSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cascade_predict_duration_seconds",
		Help:    "Full cascade latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"status"})
)

// NewRegistry returns a prometheus registry holding every collector of this
// package.
func NewRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(memUsage, cpuUsage, GRPCTotal, HTTPTotal,
		tasksTotal, tasksInFlight, taskSeconds, predictSeconds)
	return registry
}

// CascadeMetrics feeds cascade dispatch events into the collectors.
type CascadeMetrics struct{}

var _ cascade.Metrics = CascadeMetrics{}

func (CascadeMetrics) TaskStarted() {
	tasksInFlight.Inc()
}

func (CascadeMetrics) TaskDone(subModel string, outcome cascade.Outcome, elapsed time.Duration) {
	tasksInFlight.Dec()
	tasksTotal.WithLabelValues(subModel, string(outcome)).Inc()
	taskSeconds.WithLabelValues(subModel).Observe(elapsed.Seconds())
}

func (CascadeMetrics) PredictDone(elapsed time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	predictSeconds.WithLabelValues(status).Observe(elapsed.Seconds())
}

func checkProcessInfo(p *process.Process) {
	memInfo, err := p.MemoryInfo()
	if err == nil {
		memUsage.Set(float64(memInfo.RSS / 1024 / 1024))
	}
	cpuPercent, err := p.CPUPercent()
	if err == nil {
		cpuUsage.Set(math.Round(cpuPercent*100) / 100)
	}
}

// StartMon serves /metrics on port and samples this process every 500ms
// until ctx is done.
func StartMon(ctx context.Context, port int) error {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return fmt.Errorf("open process: %w", err)
	}
	registry := NewRegistry()
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log().Error("Prometheus server ListenAndServe error", zap.Error(err))
		}
	}()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
checkPcs:
	for {
		select {
		case <-ctx.Done():
			break checkPcs
		case <-ticker.C:
			checkProcessInfo(p)
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
