package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"ald-reactor/internal/actuator"
)

// main 是继电器网关服务的入口
// 网关在继电器板和射频电源所在的主机上运行，通过 HTTP 接收引擎的命令
func main() {
	addr := envOr("RELAY_GATEWAY_ADDR", ":9090")
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", "relay-gateway")
	slog.SetDefault(logger)

	board, err := actuator.NewSimulated(nil, logger)
	if err != nil {
		logger.Error("初始化继电器板失败", "error", err)
		os.Exit(1)
	}
	// 故障注入，用于演示执行器告警
	if v, err := strconv.ParseFloat(os.Getenv("RELAY_FAIL_RATE"), 64); err == nil {
		board.FailRate = v
	}
	if v, err := time.ParseDuration(os.Getenv("RELAY_LATENCY")); err == nil {
		board.Latency = v
	}

	logger.Info("=== 继电器网关服务启动 ===", "addr", addr, "fail_rate", board.FailRate)
	if err := http.ListenAndServe(addr, newHandler(board, logger)); err != nil {
		logger.Error("服务启动失败", "error", err)
		os.Exit(1)
	}
}

// newHandler 注册 /gas /rf /power /health /state
func newHandler(board *actuator.Simulated, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /gas", func(w http.ResponseWriter, r *http.Request) {
		var req actuator.GasRequest
		if !decode(w, r, &req, logger) {
			return
		}
		reqLogger(r, logger).Info("气路命令", "line", req.Line, "on", req.On)
		respond(w, board.SetGas(r.Context(), req.Line, req.On))
	})
	mux.HandleFunc("POST /rf", func(w http.ResponseWriter, r *http.Request) {
		var req actuator.RFRequest
		if !decode(w, r, &req, logger) {
			return
		}
		reqLogger(r, logger).Info("射频命令", "on", req.On)
		respond(w, board.SetRF(r.Context(), req.On))
	})
	mux.HandleFunc("POST /power", func(w http.ResponseWriter, r *http.Request) {
		var req actuator.PowerRequest
		if !decode(w, r, &req, logger) {
			return
		}
		reqLogger(r, logger).Info("射频功率设定", "watts", req.Watts)
		respond(w, board.SetPlasmaPower(r.Context(), req.Watts))
	})
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /state", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(board.State())
	})
	return mux
}

// reqLogger 从 HTTP Header 中提取 Trace ID，用于链路追踪
func reqLogger(r *http.Request, logger *slog.Logger) *slog.Logger {
	if traceID := r.Header.Get("X-Trace-ID"); traceID != "" {
		return logger.With("trace_id", traceID)
	}
	return logger
}

func decode(w http.ResponseWriter, r *http.Request, v any, logger *slog.Logger) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		logger.Warn("解析请求失败", "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// respond 设备错误以 success=false 返回，由客户端转换为执行器错误
func respond(w http.ResponseWriter, err error) {
	resp := actuator.GatewayResponse{Success: err == nil}
	if err != nil {
		resp.Error = err.Error()
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
