// internal/pkg/bootstrap/app.go
package bootstrap

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"serialstock/internal/pkg/config"
	"serialstock/internal/pkg/logger"
	"serialstock/internal/pkg/nacos"
	"serialstock/internal/tracing"
)

// AppCtx 传给业务方的注册回调
type AppCtx struct {
	Mux    *http.ServeMux
	Config *config.Config
}

// AppInfo 包含启动一个服务所需的全部特定信息
type AppInfo struct {
	ServiceName string
	// RegisterHandlers 允许每个服务注册自己的 HTTP 路由
	RegisterHandlers func(appCtx AppCtx)
	// Background 是可选的长期任务（如过期清扫），随服务生命周期启停
	Background func(ctx context.Context) error
}

// StartService 封装所有服务的通用启动和优雅关停逻辑：
// 配置加载、日志、链路、Nacos 注册、HTTP 服务、后台任务、信号处理。
func StartService(info AppInfo) {
	logger.Init(info.ServiceName)

	cfg, err := config.Load("")
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("failed to load config")
	}

	tp, err := tracing.InitTracerProvider(info.ServiceName, cfg.Infra.Jaeger.Endpoint)
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("failed to initialize tracer provider")
	}

	// Nacos 未配置时跳过注册，本地开发不强依赖注册中心
	var naming *nacos.Client
	var ip string
	if cfg.Infra.Nacos.ServerAddrs != "" {
		naming, err = nacos.NewClient(cfg.Infra.Nacos.ServerAddrs, cfg.Infra.Nacos.Namespace, cfg.Infra.Nacos.Group)
		if err != nil {
			logger.Logger.Fatal().Err(err).Msg("failed to initialize nacos client")
		}
		ip, err = outboundIP()
		if err != nil {
			logger.Logger.Fatal().Err(err).Msg("failed to get outbound ip")
		}
		if err := naming.Register(info.ServiceName, ip, cfg.App.Port); err != nil {
			logger.Logger.Fatal().Err(err).Msg("failed to register with nacos")
		}
	}

	mux := http.NewServeMux()
	if info.RegisterHandlers != nil {
		info.RegisterHandlers(AppCtx{Mux: mux, Config: cfg})
	}
	server := &http.Server{Addr: ":" + strconv.Itoa(cfg.App.Port), Handler: mux}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(rootCtx)
	g.Go(func() error {
		logger.Logger.Info().Str("addr", server.Addr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	if info.Background != nil {
		g.Go(func() error { return info.Background(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// 关停顺序：先摘流量，再关服务器，最后冲刷链路数据
		if naming != nil {
			if err := naming.Deregister(info.ServiceName, ip, cfg.App.Port); err != nil {
				logger.Logger.Error().Err(err).Msg("error deregistering from nacos")
			}
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Logger.Error().Err(err).Msg("error shutting down http server")
		}
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Logger.Error().Err(err).Msg("error shutting down tracer provider")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Logger.Error().Err(err).Msg("service exited with error")
		os.Exit(1)
	}
	logger.Logger.Info().Str("service", info.ServiceName).Msg("service gracefully shut down")
}

// outboundIP 通过一次不发包的 UDP 连接探测本机对外地址
func outboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}
