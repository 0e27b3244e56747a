// internal/pkg/bootstrap/app.go
package bootstrap

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"fraudguard/internal/pkg/nacos"
	"fraudguard/internal/pkg/tracing"
)

// AppCtx 是注册路由和后台任务时可用的公共组件。Nacos 未启用时为 nil。
type AppCtx struct {
	Ctx   context.Context // 收到退出信号时取消
	Mux   *http.ServeMux
	Nacos *nacos.Client
}

// AppInfo 包含了启动一个微服务所需的所有特定信息。
type AppInfo struct {
	ServiceName      string
	Port             int
	RegisterHandlers func(appCtx AppCtx) // 一个函数，允许每个服务注册自己独特的 HTTP 路由
	// OnShutdown 在 HTTP 服务关闭之后、Tracer 关闭之前执行，用于关闭服务自己的连接。
	OnShutdown func(ctx context.Context)
}

// StartService 封装了所有微服务的通用启动和优雅关停逻辑。
func StartService(info AppInfo) {
	cfg := GetCurrentConfig()

	// 1. Tracer
	tp, err := tracing.InitTracerProvider(info.ServiceName, cfg.Infra.Jaeger.Endpoint, cfg.Infra.Jaeger.SampleRatio)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize tracer provider")
	}

	// 2. Nacos 服务注册（可选）
	var (
		nacosClient *nacos.Client
		ip          string
	)
	if cfg.Infra.Nacos.Enabled {
		nacosClient, err = nacos.NewClient(cfg.Infra.Nacos.Config)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize nacos client")
		}
		ip, err = nacos.GetOutboundIP()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to get outbound IP address")
		}
		if err := nacosClient.RegisterServiceInstance(info.ServiceName, ip, info.Port); err != nil {
			log.Fatal().Err(err).Msg("failed to register service with nacos")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. 创建并启动 HTTP Server
	mux := http.NewServeMux()
	if info.RegisterHandlers != nil {
		info.RegisterHandlers(AppCtx{Ctx: ctx, Mux: mux, Nacos: nacosClient})
	}
	server := &http.Server{
		Addr:              ":" + strconv.Itoa(info.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Int("port", info.Port).Msgf("%s listening", info.ServiceName)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Str("addr", server.Addr).Msg("could not listen")
		}
	}()

	// 4. 阻塞主 goroutine，直到接收到退出信号
	<-ctx.Done()
	log.Info().Msgf("Shutting down service %s...", info.ServiceName)

	timeout := cfg.App.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// 按顺序执行清理操作：先摘流量，再停服务，最后刷出 trace
	if nacosClient != nil {
		if err := nacosClient.DeregisterServiceInstance(info.ServiceName, ip, info.Port); err != nil {
			log.Error().Err(err).Msg("Error deregistering from Nacos")
		}
		nacosClient.Close()
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error shutting down http server")
	} else {
		log.Info().Msg("HTTP server shut down.")
	}

	if info.OnShutdown != nil {
		info.OnShutdown(shutdownCtx)
	}

	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error shutting down tracer provider")
	} else {
		log.Info().Msg("Tracer provider shut down.")
	}

	log.Info().Msgf("Service %s gracefully shut down.", info.ServiceName)
}

// WatchRemoteConfig 从 Nacos 读取一次配置并持续监听变化。apply 返回错误时保留旧配置。
func WatchRemoteConfig(client *nacos.Client, dataID string, apply func(content string) error) error {
	content, err := client.GetConfig(dataID)
	if err != nil {
		return err
	}
	if content != "" {
		if err := apply(content); err != nil {
			return err
		}
		log.Info().Str("dataId", dataID).Msg("remote config applied")
	}
	return client.ListenConfig(dataID, func(content string) {
		if err := apply(content); err != nil {
			log.Error().Err(err).Str("dataId", dataID).Msg("rejected remote config update, keeping previous")
			return
		}
		log.Info().Str("dataId", dataID).Msg("remote config reloaded")
	})
}
