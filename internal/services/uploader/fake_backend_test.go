package uploader

import (
	"context"
	"fmt"
	"sync"

	"github.com/3Eeeecho/go-uploadpipe/internal/pkg/backend"
)

// fakeBackend 是 TransferAPI 的受控实现，直接在进程内记录调用
type fakeBackend struct {
	mu sync.Mutex

	initCalls     int
	chunkSends    []int         // 成功取得发送窗口的分片索引，按发送顺序
	chunkErr      map[int]error // 指定分片一次性返回错误
	completeCalls int
	abortCalls    []string
	statusCalls   int
	directFiles   []string

	fetchStarts  []string
	fetchCancels []string
	fetchState   backend.RemoteFetchState

	// 非 nil 时每次分片发送都要先取得一个令牌，便于构造暂停/取消窗口
	chunkTokens chan struct{}
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{chunkErr: make(map[int]error)}
}

func (f *fakeBackend) InitSession(ctx context.Context, meta backend.SessionMeta) (*backend.SessionInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initCalls++
	return &backend.SessionInfo{
		UploadID:    fmt.Sprintf("upload-%d", f.initCalls),
		TotalChunks: meta.TotalChunks,
	}, nil
}

func (f *fakeBackend) UploadChunk(ctx context.Context, uploadID string, index int, data []byte) error {
	if f.chunkTokens != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.chunkTokens:
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunkSends = append(f.chunkSends, index)
	if err, ok := f.chunkErr[index]; ok {
		delete(f.chunkErr, index)
		return err
	}
	return nil
}

func (f *fakeBackend) SessionStatus(ctx context.Context, uploadID string) (*backend.SessionState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	return nil, nil
}

func (f *fakeBackend) Complete(ctx context.Context, uploadID string) (*backend.CompleteResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completeCalls++
	return &backend.CompleteResult{URL: "https://cdn.example.com/" + uploadID, Size: 0}, nil
}

func (f *fakeBackend) Abort(ctx context.Context, uploadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.abortCalls = append(f.abortCalls, uploadID)
	return nil
}

func (f *fakeBackend) UploadDirect(ctx context.Context, filename, contentType string, data []byte) (*backend.CompleteResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.directFiles = append(f.directFiles, filename)
	return &backend.CompleteResult{URL: "https://cdn.example.com/direct/" + filename, Size: int64(len(data))}, nil
}

func (f *fakeBackend) StartRemoteFetch(ctx context.Context, sourceURL string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchStarts = append(f.fetchStarts, sourceURL)
	return fmt.Sprintf("fetch-%d", len(f.fetchStarts)), nil
}

func (f *fakeBackend) RemoteFetchStatus(ctx context.Context, taskID string) (*backend.RemoteFetchState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state := f.fetchState
	return &state, nil
}

func (f *fakeBackend) CancelRemoteFetch(ctx context.Context, taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCancels = append(f.fetchCancels, taskID)
	return nil
}

func (f *fakeBackend) setFetchState(state backend.RemoteFetchState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchState = state
}

func (f *fakeBackend) sentChunks() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.chunkSends...)
}

func (f *fakeBackend) aborted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.abortCalls...)
}

func (f *fakeBackend) startedFetches() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.fetchStarts...)
}

func (f *fakeBackend) cancelledFetches() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.fetchCancels...)
}

func (f *fakeBackend) directUploads() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.directFiles...)
}

func (f *fakeBackend) completes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completeCalls
}

func (f *fakeBackend) inits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.initCalls
}
