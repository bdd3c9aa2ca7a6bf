package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ald-reactor/internal/actuator"
	"ald-reactor/internal/recipe"
	"ald-reactor/internal/types"
	"ald-reactor/internal/util"
)

// WaitSetting 覆盖配方默认的运行前等待 (来自配置文件)
type WaitSetting struct {
	Wait              time.Duration
	IncludeInEstimate bool
}

// Controller 是操作员命令面：选择配方、设置参数、GO / STOP、测试等离子体连接
// 每次 GO 在独立的 goroutine 中运行，STOP 通过取消 context 实现
type Controller struct {
	engine   *Engine
	actuator actuator.Actuator
	sink     Sink
	waits    map[recipe.Kind]WaitSetting
	timeout  time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	selected *recipe.Recipe
	params   types.Params
	current  *Run               // 当前后台运行，空闲时为 nil
	cancel   context.CancelFunc // 当前运行的取消函数
	last     *types.Result
	wg       sync.WaitGroup // 等待组，用于优雅停机
}

// NewController 创建控制器，defaults 为初始参数，waits 为按配方覆盖的预等待
func NewController(e *Engine, defaults types.Params, waits map[recipe.Kind]WaitSetting) *Controller {
	if waits == nil {
		waits = make(map[recipe.Kind]WaitSetting)
	}
	return &Controller{
		engine:   e,
		actuator: e.rc.Actuator,
		sink:     e.rc.Sink,
		waits:    waits,
		timeout:  e.rc.Policy.ActuatorTimeout,
		logger:   e.rc.Logger.With("component", "controller"),
		params:   defaults,
	}
}

// Engine 返回底层引擎
func (c *Controller) Engine() *Engine {
	return c.engine
}

// SelectRecipe 按类型 ID 或显示名称选择配方
func (c *Controller) SelectRecipe(name string) error {
	r, err := recipe.Lookup(name)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selected = r
	c.logger.Info("选择配方", "recipe", r.Name)
	return nil
}

// Selected 返回当前选择的配方，未选择时为 nil
func (c *Controller) Selected() *recipe.Recipe {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected
}

// SetParameters 校验并保存参数，正在运行的配方不受影响
func (c *Controller) SetParameters(p types.Params) error {
	if err := recipe.Validate(p); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.params = p
	return nil
}

// Parameters 返回当前参数
func (c *Controller) Parameters() types.Params {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.params
}

// Plan 按当前选择和参数解析运行计划，用于 GO 之前显示步骤和预计时长
func (c *Controller) Plan() (*recipe.Plan, error) {
	c.mu.Lock()
	r, params := c.selected, c.params
	c.mu.Unlock()
	return c.resolve(r, params)
}

func (c *Controller) resolve(r *recipe.Recipe, params types.Params) (*recipe.Plan, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: no recipe selected", types.ErrUnknownRecipe)
	}
	var opts []recipe.Option
	if w, ok := c.waits[r.Kind]; ok {
		opts = append(opts, recipe.WithWait(w.Wait, w.IncludeInEstimate))
	}
	return r.Resolve(params, opts...)
}

// Go 在后台启动当前配方并立即返回运行 ID
// 参数非法时运行不会启动；已有运行时返回 ErrRunActive
// ctx 只提供 trace 等上下文值，它的取消不会影响运行，停止运行请调用 Stop
func (c *Controller) Go(ctx context.Context) (string, error) {
	plan, err := c.Plan()
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	run, err := c.engine.Start(plan)
	if err != nil {
		if errors.Is(err, types.ErrRunActive) {
			c.logger.Warn("已有配方在运行，GO 被拒绝")
		}
		return "", err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if _, ok := util.TraceIDFromContext(runCtx); !ok {
		runCtx = util.ContextWithTraceID(runCtx, util.NewTraceID())
	}
	c.current, c.cancel = run, cancel
	c.wg.Add(1)

	go func() {
		defer c.wg.Done()
		defer cancel()

		res := run.Execute(runCtx)

		c.mu.Lock()
		c.last = &res
		if c.current == run {
			c.current, c.cancel = nil, nil
		}
		c.mu.Unlock()
	}()
	return run.ID(), nil
}

// Stop 请求停止当前运行，空闲时什么也不做
// 返回是否确实有运行被请求停止
func (c *Controller) Stop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	// 运行已释放运行槽但 goroutine 尚未清理 cancel 时，视为空闲
	if c.cancel == nil || !c.engine.Busy() {
		return false
	}
	c.logger.Warn("操作员请求停止运行")
	c.cancel()
	return true
}

// Wait 等待后台运行结束，用于优雅停机和测试
func (c *Controller) Wait() {
	c.wg.Wait()
}

// LastResult 返回最近一次运行的结果
func (c *Controller) LastResult() (types.Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return types.Result{}, false
	}
	return *c.last, true
}

// TestPlasmaConnection 以当前参数的功率设定值测试射频电源连接
// 运行期间射频电源归运行独占，测试被拒绝
func (c *Controller) TestPlasmaConnection(ctx context.Context) error {
	if c.engine.Busy() {
		return types.ErrRunActive
	}
	watts := c.Parameters().PlasmaPowerW

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.actuator.SetPlasmaPower(callCtx, watts); err != nil {
		aerr := &types.ActuatorError{Op: actuator.OpPower, Err: err}
		c.logger.Error("等离子体连接测试失败", "error", err)
		c.sink.OnAlert(aerr)
		return aerr
	}
	c.logger.Info("等离子体连接正常", "power_w", watts)
	return nil
}
