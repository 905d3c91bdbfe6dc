package backend

import (
	"context"
	"fmt"
	"net/http"

	"github.com/3Eeeecho/go-uploadpipe/internal/pkg/logger"
	"github.com/3Eeeecho/go-uploadpipe/internal/pkg/xerr"
	"go.uber.org/zap"
)

// 服务端 URL 抓取：字节传输发生在后端，客户端只能观察到粗粒度进度

type remoteFetchRequest struct {
	URL string `json:"url"`
}

type remoteFetchTask struct {
	TaskID string `json:"task_id"`
}

// StartRemoteFetch 请求后端抓取远端 URL，立即返回任务 ID
func (c *Client) StartRemoteFetch(ctx context.Context, sourceURL string) (string, error) {
	var task remoteFetchTask
	err := c.doJSON(ctx, http.MethodPost, "/api/v1/media/fetch", remoteFetchRequest{URL: sourceURL}, &task)
	if err != nil {
		return "", xerr.WrapCode(xerr.RemoteFetchErrorCode, xerr.ErrRemoteFetch, err)
	}
	return task.TaskID, nil
}

// RemoteFetchStatus 查询抓取任务状态
func (c *Client) RemoteFetchStatus(ctx context.Context, taskID string) (*RemoteFetchState, error) {
	var state RemoteFetchState
	err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/api/v1/media/fetch/%s", taskID), nil, &state)
	if err != nil {
		return nil, xerr.WrapCode(xerr.RemoteFetchErrorCode, xerr.ErrRemoteFetch, err)
	}
	return &state, nil
}

// CancelRemoteFetch 通知后端停止抓取，失败只记录日志
func (c *Client) CancelRemoteFetch(ctx context.Context, taskID string) error {
	if err := c.doJSON(ctx, http.MethodDelete, fmt.Sprintf("/api/v1/media/fetch/%s", taskID), nil, nil); err != nil {
		logger.Warn("CancelRemoteFetch: failed to cancel remote fetch on backend",
			zap.String("taskID", taskID), zap.Error(err))
	}
	return nil
}
