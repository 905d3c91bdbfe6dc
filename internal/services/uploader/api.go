package uploader

import (
	"context"

	"github.com/3Eeeecho/go-uploadpipe/internal/pkg/backend"
)

// TransferAPI 抽象内容后端的传输能力，便于测试时替换
// 生产实现为 backend.Client
type TransferAPI interface {
	// 分片会话
	InitSession(ctx context.Context, meta backend.SessionMeta) (*backend.SessionInfo, error)
	UploadChunk(ctx context.Context, uploadID string, index int, data []byte) error
	SessionStatus(ctx context.Context, uploadID string) (*backend.SessionState, error)
	Complete(ctx context.Context, uploadID string) (*backend.CompleteResult, error)
	Abort(ctx context.Context, uploadID string) error

	// 小文件直传
	UploadDirect(ctx context.Context, filename, contentType string, data []byte) (*backend.CompleteResult, error)

	// 服务端 URL 抓取
	StartRemoteFetch(ctx context.Context, sourceURL string) (string, error)
	RemoteFetchStatus(ctx context.Context, taskID string) (*backend.RemoteFetchState, error)
	CancelRemoteFetch(ctx context.Context, taskID string) error
}

var _ TransferAPI = (*backend.Client)(nil)
