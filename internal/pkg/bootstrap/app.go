// internal/pkg/bootstrap/app.go
package bootstrap

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/sdk/trace"

	"swapflow/internal/pkg/logger"
	"swapflow/internal/pkg/nacos"
	"swapflow/internal/tracing"
)

const shutdownTimeout = 15 * time.Second

type AppCtx struct {
	Mux    *http.ServeMux
	Nacos  *nacos.Client
	Config *Config
}

// Runner 是随服务一起启动和关停的后台组件 (队列 worker、消费者、巡检任务等)
type Runner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context)
}

// AppInfo 包含了启动一个微服务所需的所有特定信息。
type AppInfo struct {
	ServiceName      string
	Port             int
	RegisterHandlers func(appCtx AppCtx) // 一个函数，允许每个服务注册自己独特的 HTTP 路由
	Runners          []Runner            // 按顺序启动, 逆序关停
	Closers          []func() error      // 在所有 Runner 停止之后执行
}

// StartService 封装了通用启动和优雅关停逻辑。阻塞直到收到退出信号。
func StartService(info AppInfo) error {
	cfg := GetCurrentConfig()
	log := logger.L()

	// 1. Tracer
	var tp *trace.TracerProvider
	if cfg.Infra.Jaeger.Enabled {
		var err error
		tp, err = tracing.InitTracerProvider(info.ServiceName, cfg.Infra.Jaeger.Endpoint)
		if err != nil {
			return err
		}
	} else {
		tracing.InitPropagator()
	}

	// 2. 服务注册
	var (
		namingClient *nacos.Client
		ip           string
	)
	if cfg.Infra.Nacos.Enabled {
		var err error
		namingClient, err = nacos.NewNacosClient(cfg.Infra.Nacos.ServerAddrs, cfg.Infra.Nacos.Namespace, cfg.Infra.Nacos.Group)
		if err != nil {
			return err
		}
		ip, err = getOutboundIP()
		if err != nil {
			return err
		}
		if err := namingClient.RegisterServiceInstance(info.ServiceName, ip, info.Port); err != nil {
			return err
		}
	}

	// 3. 后台组件
	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	started := make([]Runner, 0, len(info.Runners))
	for _, r := range info.Runners {
		if err := r.Start(runCtx); err != nil {
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			stopRunners(stopCtx, started)
			cancel()
			return err
		}
		started = append(started, r)
	}

	// 4. HTTP Server
	mux := http.NewServeMux()
	if info.RegisterHandlers != nil {
		info.RegisterHandlers(AppCtx{Mux: mux, Nacos: namingClient, Config: cfg})
	}
	server := &http.Server{
		Addr:              ":" + strconv.Itoa(info.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Info().Msgf("✅ %s listening on :%d", info.ServiceName, info.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// 5. 优雅关停
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	var runErr error
	select {
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msgf("Shutting down service %s...", info.ServiceName)
	case runErr = <-serveErr:
		log.Error().Err(runErr).Msg("http server stopped unexpectedly")
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// a. 先从注册中心摘除, 不再接收新流量
	if namingClient != nil {
		if err := namingClient.DeregisterServiceInstance(info.ServiceName, ip, info.Port); err != nil {
			log.Error().Err(err).Msg("Error deregistering from Nacos")
		}
	}

	// b. 关闭 HTTP 服务器
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Error shutting down http server")
	}

	// c. 停止后台组件 (后进先出)
	cancelRun()
	stopRunners(ctx, started)

	for _, closeFn := range info.Closers {
		if err := closeFn(); err != nil {
			log.Error().Err(err).Msg("Error closing resource")
		}
	}

	// d. 关闭 Tracer Provider，确保所有缓冲的 trace 都被发送出去
	if tp != nil {
		if err := tp.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("Error shutting down tracer provider")
		}
	}

	log.Info().Msgf("🛑 Service %s gracefully shut down.", info.ServiceName)
	return runErr
}

func stopRunners(ctx context.Context, runners []Runner) {
	for i := len(runners) - 1; i >= 0; i-- {
		runners[i].Stop(ctx)
	}
}

// getOutboundIP 获取本机对外通信使用的 IP, 用于服务注册
func getOutboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}
