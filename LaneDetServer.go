package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	adhoc "LaneDetServer/Adhoc"
	"LaneDetServer/config"
	"LaneDetServer/engine"
	backend "LaneDetServer/gRPC"
	iface "LaneDetServer/interface"
	"LaneDetServer/logger"
	"LaneDetServer/monitor"
	"LaneDetServer/session"
	"LaneDetServer/web"

	"go.uber.org/zap"
)

func GetOutboundIP() (string, error) {
	// no packet is sent; dialing udp only resolves the outbound route
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)

	return localAddr.IP.String(), nil
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the yaml config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Println("Failed to load config:", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Println("Invalid config:", err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.LogMode); err != nil {
		fmt.Println("Failed to init logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ip, err := GetOutboundIP()
	if err != nil {
		logger.Log().Warn("failed to get outbound IP, using loopback", zap.Error(err))
		ip = "127.0.0.1"
	}

	fmt.Println(strings.Repeat("#", 64))
	CPUNum := runtime.NumCPU()
	fmt.Printf("CPU Cores: %d\n", CPUNum)
	fmt.Println(" Outbound IP:", ip)
	fmt.Println(" gRPC   Port:", cfg.RPCPort)
	fmt.Println(" HTTP   Port:", cfg.HTTPPort)
	fmt.Println(" Metric Port:", cfg.MetricsPort)
	fmt.Println("Configured Workers Num:", cfg.WorkersNum)
	fmt.Println("Max Sessions:", cfg.MaxSessions)
	fmt.Println(strings.Repeat("#", 64))
	fmt.Println("")
	if cfg.WorkersNum <= 0 {
		cfg.WorkersNum = 1
		fmt.Println(strings.Repeat("!", 64))
		fmt.Println("Invalid workersNum in config, defaulting to 1")
		fmt.Println(strings.Repeat("!", 64))
	} else if cfg.WorkersNum > CPUNum {
		fmt.Println(strings.Repeat("!", 64))
		fmt.Println("Please note that workersNum exceeds CPU cores, which may lead to performance degradation.")
		fmt.Println(strings.Repeat("!", 64))
	}

	registry := session.NewRegistry(func(id string) iface.Backend {
		return engine.New(id)
	}, cfg.MaxSessions)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		monitor.StartMon(cfg.MetricsPort, ctx)
	}()

	if cfg.UseRegServer {
		var reg adhoc.RegServerConfig
		reg.SetAddress(cfg.RegServerHost, cfg.RegServerPort)
		hb := adhoc.NewHeartbeat(reg, adhoc.Instance{
			IP:       ip,
			RPCPort:  cfg.RPCPort,
			HTTPPort: cfg.HTTPPort,
			Capacity: cfg.MaxSessions,
			Sessions: registry.Len,
		})
		wg.Add(1)
		go hb.Run(ctx, &wg)
	} else {
		fmt.Println("UseRegServer is set to false, skipping registration")
	}

	rpc := backend.NewServer(registry, cfg.Engine(), cfg.WorkersNum)
	rpc.StartWorker(cfg.WorkersNum)
	fmt.Println("Starting gRPC Server")
	grpcServer, _, err := backend.StartGRPCServer(cfg.RPCPort, rpc)
	if err != nil {
		logger.Log().Error("failed to start gRPC server", zap.Error(err))
		cancel()
		wg.Wait()
		os.Exit(1)
	}

	httpSrv := web.NewServer(registry, cfg.Engine(), time.Duration(cfg.IdleTimeoutMs)*time.Millisecond)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: httpSrv.Router(),
	}
	go func() {
		logger.Log().Info("HTTP server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log().Error("HTTP server stopped", zap.Error(err))
			cancel()
		}
	}()

	select {
	case <-ctx.Done():
		logger.Log().Warn("signal received, shutting down")
	case <-rpc.Done():
		logger.Log().Warn("shutdown requested over gRPC")
	}
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 3*time.Second)
	defer stop()
	httpSrv.CloseAll()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Log().Error("HTTP server shutdown", zap.Error(err))
	}
	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		// open streams outlived the deadline
		grpcServer.Stop()
	}
	registry.CloseAll()
	fmt.Println("Done")
	wg.Wait()
	fmt.Println("Safely exited")
}
