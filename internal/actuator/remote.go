package actuator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"ald-reactor/internal/types"
	"ald-reactor/internal/util"
)

// GasRequest 是 relay-gateway /gas 端点的请求体
type GasRequest struct {
	Line types.Line `json:"line"`
	On   bool       `json:"on"`
}

// RFRequest 是 /rf 端点的请求体
type RFRequest struct {
	On bool `json:"on"`
}

// PowerRequest 是 /power 端点的请求体
type PowerRequest struct {
	Watts float64 `json:"watts"`
}

// GatewayResponse 是 relay-gateway 所有端点的响应体
type GatewayResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Remote 通过 HTTP 调用 relay-gateway 服务驱动继电器板和射频电源
// 它实现了 Actuator 接口，引擎可以像对待本地板卡一样对待它
type Remote struct {
	Endpoint string       // 网关地址 (e.g., http://localhost:9090)
	Client   *http.Client // HTTP 客户端
	logger   *slog.Logger
}

// NewRemote 创建网关客户端，timeout 为单次请求的 I/O 超时
func NewRemote(endpoint string, timeout time.Duration, logger *slog.Logger) *Remote {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Remote{
		Endpoint: endpoint,
		Client:   &http.Client{Timeout: timeout},
		logger:   logger.With("component", "relay_gateway_client", "endpoint", endpoint),
	}
}

func (r *Remote) SetGas(ctx context.Context, line types.Line, on bool) error {
	return r.post(ctx, "/gas", GasRequest{Line: line, On: on})
}

func (r *Remote) SetRF(ctx context.Context, on bool) error {
	return r.post(ctx, "/rf", RFRequest{On: on})
}

func (r *Remote) SetPlasmaPower(ctx context.Context, watts float64) error {
	return r.post(ctx, "/power", PowerRequest{Watts: watts})
}

// Health 检查网关是否可达
func (r *Remote) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.Endpoint+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := r.Client.Do(req)
	if err != nil {
		return fmt.Errorf("网关不可达: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("网关状态异常: %s", resp.Status)
	}
	return nil
}

func (r *Remote) post(ctx context.Context, path string, body any) error {
	logger := r.logger
	traceID, hasTrace := util.TraceIDFromContext(ctx)
	if hasTrace {
		logger = logger.With("trace_id", traceID)
	}

	reqBody, err := json.Marshal(body)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.Endpoint+path, bytes.NewReader(reqBody))
	if err != nil {
		logger.Error("创建网关请求失败", "path", path, "error", err)
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	// 将 Trace ID 放入 HTTP Header 中，实现跨服务追踪
	if hasTrace {
		httpReq.Header.Set("X-Trace-ID", traceID)
	}

	resp, err := r.Client.Do(httpReq)
	if err != nil {
		logger.Error("网关调用失败", "path", path, "error", err)
		return fmt.Errorf("网关调用失败: %w", err)
	}
	defer resp.Body.Close()

	var gResp GatewayResponse
	if err := json.NewDecoder(resp.Body).Decode(&gResp); err != nil {
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("网关错误: %s", resp.Status)
		}
		logger.Error("解析网关响应失败", "path", path, "error", err)
		return fmt.Errorf("解析响应失败: %w", err)
	}
	if !gResp.Success {
		logger.Warn("网关执行失败", "path", path, "remote_error", gResp.Error)
		if gResp.Error == "" {
			return fmt.Errorf("网关错误: %s", resp.Status)
		}
		return errors.New(gResp.Error)
	}
	return nil
}
