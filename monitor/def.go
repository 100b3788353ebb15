package monitor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"time"

	"LaneDetServer/lane"
	"LaneDetServer/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

var (
	PID      process.Process
	Registry = prometheus.NewRegistry()

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
		Help: "Total number of HTTP API requests processed",
	}, []string{"route", "code"})

	FramesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lane_frames_total",
		Help: "Frames run through a lane tracker",
	})
	DetectErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lane_detect_errors_total",
		Help: "Frames that failed to decode or extract",
	})
	DetectLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "lane_detect_seconds",
		Help:    "Time spent in one tracker step",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
	})
	Sessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lane_sessions",
		Help: "Open tracking sessions",
	})
	sideMisses = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lane_side_misses",
		Help: "Consecutive frames without a fresh candidate",
	}, []string{"session", "side"})
	sideLocked = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lane_side_locked",
		Help: "1 when the side has locked on a line",
	}, []string{"session", "side"})
	roiWidth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lane_roi_width_pixels",
		Help: "Width of the last search region",
	}, []string{"session"})
)

func init() {
	Registry.MustRegister(memUsage, cpuUsage, GRPCTotal, HTTPTotal,
		FramesTotal, DetectErrors, DetectLatency, Sessions,
		sideMisses, sideLocked, roiWidth)
}

// ObserveFrame records one successful tracker step of a session.
func ObserveFrame(session string, st lane.State, roiW int, elapsed time.Duration) {
	FramesTotal.Inc()
	DetectLatency.Observe(elapsed.Seconds())
	roiWidth.WithLabelValues(session).Set(float64(roiW))
	for _, side := range lane.Sides {
		s := st.Side(side)
		sideMisses.WithLabelValues(session, side.String()).Set(float64(s.Misses))
		locked := 0.0
		if s.Locked {
			locked = 1
		}
		sideLocked.WithLabelValues(session, side.String()).Set(locked)
	}
}

func ObserveError() {
	DetectErrors.Inc()
}

// Forget drops the per-session series once a session is closed.
func Forget(session string) {
	roiWidth.DeleteLabelValues(session)
	for _, side := range lane.Sides {
		sideMisses.DeleteLabelValues(session, side.String())
		sideLocked.DeleteLabelValues(session, side.String())
	}
}

func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

var srv *http.Server

func prom(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log().Error("prometheus server stopped", zap.Error(err))
		}
	}()
}

func CheckProcessInfo() {
	memInfo, err := PID.MemoryInfo()
	if err == nil {
		memUsage.Set(float64(memInfo.RSS / 1024 / 1024))
	}
	cpuPercent, err := PID.CPUPercent()
	if err == nil {
		cpuUsage.Set(math.Round(cpuPercent*100) / 100)
	}
}

func GotPID() {
	PID.Pid = int32(os.Getpid())
}

// StartMon serves /metrics on port and samples process usage until ctx is
// done.
func StartMon(port int, ctx context.Context) {
	PID = process.Process{}
	GotPID()
	prom(port)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
checkPcs:
	for {
		select {
		case <-ctx.Done():
			break checkPcs
		case <-ticker.C:
			CheckProcessInfo()
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log().Error("prometheus server shutdown", zap.Error(err))
	}
}
