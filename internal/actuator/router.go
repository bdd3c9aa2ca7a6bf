package actuator

import (
	"context"

	"ald-reactor/internal/types"
)

// Router 按气路分发 SetGas，其余调用交给 Base
// 典型用法: 前驱体阀门走继电器板，载气走 MKS 控制器
type Router struct {
	Base  Actuator
	Lines map[types.Line]GasSetter
}

// NewRouter 创建路由，overrides 中未列出的气路由 base 处理
func NewRouter(base Actuator, overrides map[types.Line]GasSetter) *Router {
	return &Router{Base: base, Lines: overrides}
}

func (r *Router) SetGas(ctx context.Context, line types.Line, on bool) error {
	if g, ok := r.Lines[line]; ok {
		return g.SetGas(ctx, line, on)
	}
	return r.Base.SetGas(ctx, line, on)
}

func (r *Router) SetRF(ctx context.Context, on bool) error {
	return r.Base.SetRF(ctx, on)
}

func (r *Router) SetPlasmaPower(ctx context.Context, watts float64) error {
	return r.Base.SetPlasmaPower(ctx, watts)
}

// NoopGas 忽略开关命令，用于没有接线的气路 (carrier.driver=none)
type NoopGas struct{}

func (NoopGas) SetGas(context.Context, types.Line, bool) error { return nil }
