package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"ald-reactor/internal/engine"
	"ald-reactor/internal/recipe"
	"ald-reactor/internal/types"
	"ald-reactor/internal/util"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RecipeInfo 是配方目录中一条配方的对外描述
type RecipeInfo struct {
	ID      recipe.Kind `json:"id"`
	Name    string      `json:"name"`
	Formula string      `json:"formula"`
	Cyclic  bool        `json:"cyclic"`
	Plasma  bool        `json:"plasma"`
}

// ParamsRequest 是参数表单，t1 以毫秒输入
type ParamsRequest struct {
	Pulse1Ms     float64 `json:"t1_ms"`
	Purge1       float64 `json:"p1"`
	Pulse2       float64 `json:"t2"`
	Purge2       float64 `json:"p2"`
	Cycles       int     `json:"n"`
	InnerRepeats int     `json:"n2"`
	PlasmaPowerW float64 `json:"plasma_w"`
	Precursor1   string  `json:"precursor1"`
	Precursor2   string  `json:"precursor2"`
	CutCarrier   bool    `json:"cut_carrier"`
}

// Params 将表单转换为配方参数
func (r ParamsRequest) Params() types.Params {
	return types.Params{
		Pulse1:                 types.PulseFromMillis(r.Pulse1Ms),
		Purge1:                 r.Purge1,
		Pulse2:                 r.Pulse2,
		Purge2:                 r.Purge2,
		Cycles:                 r.Cycles,
		InnerRepeats:           r.InnerRepeats,
		PlasmaPowerW:           r.PlasmaPowerW,
		Precursor1:             r.Precursor1,
		Precursor2:             r.Precursor2,
		CutCarrierDuringPulse2: r.CutCarrier,
	}
}

// PlanView 是选择配方或修改参数后返回的运行计划摘要
type PlanView struct {
	Recipe    string   `json:"recipe"`
	Labels    []string `json:"labels"`
	TotalS    float64  `json:"total_s"`
	EstimateS float64  `json:"estimate_s"`
	WaitS     float64  `json:"wait_s"`
}

// Server 是操作员命令面的 HTTP 入口
type Server struct {
	ctl    *engine.Controller
	st     *StateTracker
	hub    *Hub
	logger *slog.Logger
}

// NewServer 创建 HTTP 服务
func NewServer(ctl *engine.Controller, st *StateTracker, hub *Hub, logger *slog.Logger) *Server {
	return &Server{ctl: ctl, st: st, hub: hub, logger: logger.With("component", "api")}
}

// Handler 注册全部路由
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if s.hub != nil {
		mux.HandleFunc("/ws", s.hub.ServeWs)
	}
	mux.HandleFunc("GET /api/recipes", s.handleRecipes)
	mux.HandleFunc("POST /api/recipe", s.handleSelect)
	mux.HandleFunc("POST /api/params", s.handleParams)
	mux.HandleFunc("POST /api/go", s.handleGo)
	mux.HandleFunc("POST /api/stop", s.handleStop)
	mux.HandleFunc("POST /api/plasma/test", s.handlePlasmaTest)
	mux.HandleFunc("GET /api/state", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.st.GetStateSnapshot())
	})
	return mux
}

func (s *Server) handleRecipes(w http.ResponseWriter, r *http.Request) {
	var out []RecipeInfo
	for _, rc := range recipe.Catalog() {
		out = append(out, RecipeInfo{ID: rc.Kind, Name: rc.Name, Formula: rc.Formula, Cyclic: rc.Cyclic, Plasma: rc.Plasma})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Recipe string `json:"recipe"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.logger.Warn("解析选择配方请求失败", "error", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.ctl.SelectRecipe(req.Recipe); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	s.respondPlan(w)
}

func (s *Server) handleParams(w http.ResponseWriter, r *http.Request) {
	var req ParamsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.logger.Warn("解析参数请求失败", "error", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.ctl.SetParameters(req.Params()); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	s.respondPlan(w)
}

// respondPlan 返回当前选择的计划摘要并同步到显示状态
// 尚未选择配方时只同步参数
func (s *Server) respondPlan(w http.ResponseWriter) {
	params := s.ctl.Parameters()
	plan, err := s.ctl.Plan()
	if errors.Is(err, types.ErrUnknownRecipe) {
		s.st.SetSelection("", params, nil)
		writeJSON(w, http.StatusOK, PlanView{})
		return
	}
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	s.st.SetSelection(plan.Recipe.Name, params, plan.Labels)
	writeJSON(w, http.StatusOK, PlanView{
		Recipe:    plan.Recipe.Name,
		Labels:    plan.Labels,
		TotalS:    plan.Total,
		EstimateS: plan.Estimate().Seconds(),
		WaitS:     plan.Wait.Seconds(),
	})
}

func (s *Server) handleGo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	// 从 HTTP Header 中提取 Trace ID，用于链路追踪
	if traceID := r.Header.Get("X-Trace-ID"); traceID != "" {
		ctx = util.ContextWithTraceID(ctx, traceID)
	}
	runID, err := s.ctl.Go(ctx)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "run_id": runID})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"stopped": s.ctl.Stop()})
}

func (s *Server) handlePlasmaTest(w http.ResponseWriter, r *http.Request) {
	if err := s.ctl.TestPlasmaConnection(r.Context()); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// statusFor 将领域错误映射为 HTTP 状态码
func statusFor(err error) int {
	var aerr *types.ActuatorError
	switch {
	case errors.Is(err, types.ErrRunActive):
		return http.StatusConflict
	case errors.Is(err, types.ErrInvalidParameter), errors.Is(err, types.ErrUnknownRecipe):
		return http.StatusBadRequest
	case errors.As(err, &aerr):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
