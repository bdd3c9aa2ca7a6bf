package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ald-reactor/internal/actuator"
	"ald-reactor/internal/config"
	"ald-reactor/internal/engine"
	"ald-reactor/internal/event"
	"ald-reactor/internal/handlers"
	"ald-reactor/internal/logging"
	"ald-reactor/internal/persistence"
	"ald-reactor/internal/recipe"
	"ald-reactor/internal/types"
	"ald-reactor/internal/web"

	"github.com/spf13/cobra"
)

// shutdownTimeout 是停机时等待 HTTP 请求结束的时长
const shutdownTimeout = 5 * time.Second

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the recipe engine and the operator API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), *configPath)
		},
	}
}

func serve(parent context.Context, configPath string) error {
	if parent == nil {
		parent = context.Background()
	}

	// 1. 初始化核心组件
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	logger, _, err := logging.New(os.Stdout, logging.Options{Level: cfg.Log.Level, Journal: cfg.Log.Journal})
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := web.NewHub(logger)
	go hub.Run(ctx)
	stateTracker := web.NewStateTracker(hub)

	eventBus := event.NewBus()

	// 2. 注册事件处理器
	handlers.RegisterEventHandlers(eventBus, stateTracker, logger)

	// 3. 初始化执行器和引擎
	act, closeAct, err := buildActuator(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeAct()

	runLog := persistence.NewRunLog(cfg.RunLogDir)
	defer runLog.Close()

	eng := engine.New(engine.ReactorContext{
		Actuator: act,
		Sink:     event.NewSink(eventBus),
		RunLog:   runLog,
		Logger:   logger,
		Policy: engine.Policy{
			AbortOnActuatorFailure: cfg.Policy.AbortOnActuatorFailure,
			ActuatorTimeout:        cfg.Actuator.Timeout(),
		},
	})
	ctl := engine.NewController(eng, cfg.Defaults.Params(), waitSettings(cfg))
	stateTracker.SetSelection("", ctl.Parameters(), nil)

	// 4. 检查上次未正常结束的运行
	reportInterrupted(cfg.RunLogDir, stateTracker, logger)

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           web.NewServer(ctl, stateTracker, hub, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("API 和前端服务器启动", "addr", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	logger.Info("=== 沉积反应腔配方控制系统启动 ===", "actuator", cfg.Actuator.Driver, "carrier", cfg.Carrier.Driver)

	// 5. 优雅停机
	select {
	case <-ctx.Done():
		logger.Info("接收到停机信号，正在优雅关闭...")
	case err = <-serverErr:
		if err != nil {
			logger.Error("API 服务器启动失败", "error", err)
		}
	}
	waitForShutdown(server, ctl, logger)
	return err
}

// buildActuator 按配置组装执行器，返回的 close 函数释放串口
func buildActuator(ctx context.Context, cfg *config.Config, logger *slog.Logger) (actuator.Actuator, func(), error) {
	var base actuator.Actuator
	switch cfg.Actuator.Driver {
	case "remote":
		remote := actuator.NewRemote(cfg.Actuator.RemoteAddr, cfg.Actuator.Timeout(), logger)
		checkCtx, cancel := context.WithTimeout(ctx, cfg.Actuator.Timeout())
		if err := remote.Health(checkCtx); err != nil {
			// 网关稍后可能上线，命令失败会在运行中告警
			logger.Warn("relay-gateway 健康检查失败", "error", err)
		}
		cancel()
		base = remote
	default:
		sim, err := actuator.NewSimulated(cfg.Actuator.Lines, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("actuator.lines: %w", err)
		}
		base = sim
	}

	closeFn := func() {}
	overrides := map[types.Line]actuator.GasSetter{}
	switch cfg.Carrier.Driver {
	case "mks":
		mks, err := actuator.OpenMKS(cfg.Carrier.SerialPort, cfg.Actuator.Timeout(), logger)
		if err != nil {
			return nil, nil, err
		}
		overrides[types.LineCarrier] = &actuator.MKSLine{MKS: mks, Channel: cfg.Carrier.Channel}
		closeFn = func() {
			if err := mks.Close(); err != nil {
				logger.Warn("关闭 MKS 串口失败", "error", err)
			}
		}
	case "none":
		overrides[types.LineCarrier] = actuator.NoopGas{}
	}
	if len(overrides) == 0 {
		return base, closeFn, nil
	}
	return actuator.NewRouter(base, overrides), closeFn, nil
}

// waitSettings 将配置中的按配方预等待转换为控制器使用的形式
func waitSettings(cfg *config.Config) map[recipe.Kind]engine.WaitSetting {
	waits := make(map[recipe.Kind]engine.WaitSetting, len(cfg.Recipes))
	for kind, rc := range cfg.Recipes {
		waits[kind] = engine.WaitSetting{Wait: rc.Wait(), IncludeInEstimate: rc.IncludeWaitInEstimate}
	}
	return waits
}

// reportInterrupted 进程上次退出时正在运行的配方只能由操作员确认，这里只报告不恢复
func reportInterrupted(dir string, st *web.StateTracker, logger *slog.Logger) {
	records, err := persistence.ScanInterrupted(dir)
	if err != nil {
		logger.Warn("扫描运行日志失败", "dir", dir, "error", err)
		return
	}
	for _, rec := range records {
		cycles, _ := rec.CyclesDone()
		logger.Warn("发现未正常结束的运行", "run_id", rec.RunID(), "recipe", rec.Recipe(), "cycles_done", cycles, "path", rec.Path)
		st.AddAlert(fmt.Errorf("run %s (%s) did not finish, last checkpoint: cycle %d", rec.RunID(), rec.Recipe(), cycles))
	}
}

// waitForShutdown 停止当前运行 (安全关断执行器)，再关闭 HTTP 服务
func waitForShutdown(server *http.Server, ctl *engine.Controller, logger *slog.Logger) {
	if ctl.Stop() {
		logger.Warn("停机时有配方在运行，已请求强制结束")
	}
	ctl.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("HTTP 服务关闭失败", "error", err)
	}
	logger.Info("系统已安全退出")
}
