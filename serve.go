package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"
	"sync"
	"time"

	"CascadeDetServer/Adhoc"
	"CascadeDetServer/api"
	"CascadeDetServer/cascade"
	"CascadeDetServer/config"
	"CascadeDetServer/engine"
	proto "CascadeDetServer/gRPC"
	"CascadeDetServer/imaging/cv"
	"CascadeDetServer/logger"
	"CascadeDetServer/monitor"
	"CascadeDetServer/registry"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var requestTimeout time.Duration

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Load every model and serve predictions over gRPC, HTTP and websocket",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().DurationVar(&requestTimeout, "request-timeout", 30*time.Second, "upper bound for one HTTP or websocket prediction")
}

// setup reads the config and loads every model of the cascade.
func setup(ctx context.Context) (*config.Server, *cascade.Cascade, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if err := logger.Init(cfg.LogLevel); err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	loader, err := engine.NewLoader(cfg.InferenceBackend)
	if err != nil {
		return nil, nil, err
	}
	reg, err := registry.Load(ctx, cfg.Cascade, loader)
	if err != nil {
		return nil, nil, err
	}
	return cfg, cascade.New(reg, cascade.WithMetrics(monitor.CascadeMetrics{})), nil
}

func banner(cfg *config.Server) {
	fmt.Println(strings.Repeat("#", 64))
	fmt.Printf("CPU Cores: %d\n", runtime.NumCPU())
	fmt.Println(" gRPC  Port:", cfg.RPCPort)
	fmt.Println(" HTTP  Port:", cfg.HTTPPort)
	fmt.Println(" Mon   Port:", cfg.MonitorPort)
	fmt.Println("Max Concurrent Requests:", cfg.Cascade.MaxConcurrentRequests)
	fmt.Println("Inference Backend:", cfg.InferenceBackend.Kind, cfg.InferenceBackend.URL)
	fmt.Println(strings.Repeat("#", 64))
	fmt.Println("")
}

func serve(ctx context.Context) error {
	cfg, c, err := setup(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Registry().Close(); err != nil {
			logger.Log().Warn("Closing models", zap.Error(err))
		}
	}()
	banner(cfg)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup

	if cfg.UseRegServer {
		ip, err := GetOutboundIP()
		if err != nil {
			return fmt.Errorf("get outbound IP: %w", err)
		}
		fmt.Println("Outbound IP:", ip)
		regCfg := Adhoc.RegServerConfig{}
		regCfg.SetAddress(cfg.RegServerHost, cfg.RegServerPort)
		wg.Add(1)
		go Adhoc.SendAliveMessage(ctx, regCfg, Adhoc.Announcement{
			IP:       ip,
			Port:     cfg.RPCPort,
			HTTPPort: cfg.HTTPPort,
			Labels:   c.Registry().Labels(),
		}, &wg)
	} else {
		fmt.Println("UseRegServer is set to false, skipping registration")
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := monitor.StartMon(ctx, cfg.MonitorPort); err != nil {
			logger.Log().Error("Monitor stopped", zap.Error(err))
		}
	}()

	fmt.Println("Starting gRPC Server")
	grpcServer, err := proto.StartGRPCServer(cfg.RPCPort, proto.NewServer(c, cv.Decode))
	if err != nil {
		cancel()
		wg.Wait()
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	handler := api.NewHandler(c, cv.Decode)
	handler.Timeout = requestTimeout
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: handler.Router(),
	}
	httpErr := make(chan error, 1)
	go func() {
		fmt.Println("Starting HTTP Server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- err
		}
		close(httpErr)
	}()

	select {
	case <-ctx.Done():
	case err = <-httpErr:
	}
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Log().Warn("HTTP server shutdown", zap.Error(err))
	}
	grpcServer.GracefulStop()
	fmt.Println("Done")
	wg.Wait()
	fmt.Println("Safely exited")
	return err
}
