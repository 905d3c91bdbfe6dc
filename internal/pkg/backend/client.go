package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/3Eeeecho/go-uploadpipe/internal/config"
	"github.com/3Eeeecho/go-uploadpipe/internal/pkg/logger"
	"github.com/3Eeeecho/go-uploadpipe/internal/pkg/xerr"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// Client 封装了内容后端 API：分片会话、直传和服务端 URL 抓取
// 所有请求都携带外层应用下发的 Bearer 凭证
type Client struct {
	http    *retryablehttp.Client
	baseURL string
	token   string
}

// NewClient 创建后端 API 客户端
func NewClient(cfg *config.BackendConfig) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.RetryMax
	rc.Logger = nil // 统一走 zap，关掉库自带的日志
	rc.HTTPClient.Timeout = cfg.RequestTimeout
	return &Client{
		http:    rc,
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
	}
}

// apiResponse 后端统一响应信封
type apiResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// doJSON 发送一次请求并解析响应信封，out 为 nil 时丢弃 data
func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("backend client: marshal request: %w", err)
		}
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, raw)
	if err != nil {
		return fmt.Errorf("backend client: build request: %w", err)
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.token))
	if raw != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("backend client: %s %s: %w", method, path, err)
	}
	defer closeBody(resp.Body)

	return decodeEnvelope(resp, out)
}

// decodeEnvelope 解析统一响应信封，业务码非成功时带上服务端消息
func decodeEnvelope(resp *http.Response, out any) error {
	var envelope apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		if resp.StatusCode >= 300 {
			return fmt.Errorf("backend returned status %d", resp.StatusCode)
		}
		return fmt.Errorf("backend client: decode response: %w", err)
	}
	if resp.StatusCode >= 300 || envelope.Code != xerr.SuccessCode {
		return fmt.Errorf("backend rejected request (code %d): %s", envelope.Code, envelope.Message)
	}
	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("backend client: decode data: %w", err)
		}
	}
	return nil
}

func closeBody(body io.ReadCloser) {
	if err := body.Close(); err != nil {
		logger.Warn("backend client: failed to close response body", zap.Error(err))
	}
}

// InitSession 请求创建一个新的分片上传会话
func (c *Client) InitSession(ctx context.Context, meta SessionMeta) (*SessionInfo, error) {
	var info SessionInfo
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/uploads/sessions", meta, &info); err != nil {
		return nil, xerr.WrapCode(xerr.SessionInitErrorCode, xerr.ErrSessionInit, err)
	}
	return &info, nil
}

// UploadChunk 上传一个分片。服务端按索引幂等接收，重发已确认分片不会破坏合并结果
// ctx 取消时在一次往返内中止
func (c *Client) UploadChunk(ctx context.Context, uploadID string, index int, data []byte) error {
	path := fmt.Sprintf("/api/v1/uploads/sessions/%s/chunks/%d", uploadID, index)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+path, data)
	if err != nil {
		return xerr.WrapCode(xerr.ChunkTransferErrorCode, xerr.ErrChunkTransfer, err)
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.token))
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		// 协作取消不算传输失败，保留 context 错误供调用方识别
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return xerr.WrapCode(xerr.ChunkTransferErrorCode, xerr.ErrChunkTransfer, err)
	}
	defer closeBody(resp.Body)

	if err := decodeEnvelope(resp, nil); err != nil {
		return xerr.WrapCode(xerr.ChunkTransferErrorCode, xerr.ErrChunkTransfer, err)
	}
	return nil
}

// SessionStatus 查询服务端已持有的分片，会话不存在时返回 (nil, nil)
func (c *Client) SessionStatus(ctx context.Context, uploadID string) (*SessionState, error) {
	var state SessionState
	err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/api/v1/uploads/sessions/%s", uploadID), nil, &state)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		// 会话可能已被服务端 TTL 清理，调用方走全新会话即可
		return nil, nil
	}
	return &state, nil
}

// Complete 通知服务端合并所有分片，任一分片缺失时失败
func (c *Client) Complete(ctx context.Context, uploadID string) (*CompleteResult, error) {
	var result CompleteResult
	path := fmt.Sprintf("/api/v1/uploads/sessions/%s/complete", uploadID)
	if err := c.doJSON(ctx, http.MethodPost, path, nil, &result); err != nil {
		return nil, xerr.WrapCode(xerr.IncompleteUploadCode, xerr.ErrIncompleteUpload, err)
	}
	return &result, nil
}

// Abort 尽力清理服务端的半成品会话，失败只记录日志
// 对调用方而言取消永远成功
func (c *Client) Abort(ctx context.Context, uploadID string) error {
	path := fmt.Sprintf("/api/v1/uploads/sessions/%s", uploadID)
	if err := c.doJSON(ctx, http.MethodDelete, path, nil, nil); err != nil {
		logger.Warn("Abort: failed to clean up upload session on backend",
			zap.String("uploadID", uploadID), zap.Error(err))
	}
	return nil
}

// UploadDirect 小文件单请求直传（不超过一个分片大小的资产走这里）
func (c *Client) UploadDirect(ctx context.Context, filename, contentType string, data []byte) (*CompleteResult, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, xerr.WrapCode(xerr.ChunkTransferErrorCode, xerr.ErrChunkTransfer, err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, xerr.WrapCode(xerr.ChunkTransferErrorCode, xerr.ErrChunkTransfer, err)
	}
	if contentType != "" {
		_ = w.WriteField("content_type", contentType)
	}
	if err := w.Close(); err != nil {
		return nil, xerr.WrapCode(xerr.ChunkTransferErrorCode, xerr.ErrChunkTransfer, err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/media", buf.Bytes())
	if err != nil {
		return nil, xerr.WrapCode(xerr.ChunkTransferErrorCode, xerr.ErrChunkTransfer, err)
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.token))
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, xerr.WrapCode(xerr.ChunkTransferErrorCode, xerr.ErrChunkTransfer, err)
	}
	defer closeBody(resp.Body)

	var result CompleteResult
	if err := decodeEnvelope(resp, &result); err != nil {
		return nil, xerr.WrapCode(xerr.ChunkTransferErrorCode, xerr.ErrChunkTransfer, err)
	}
	return &result, nil
}
