package uploader

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/3Eeeecho/go-uploadpipe/internal/config"
	"github.com/3Eeeecho/go-uploadpipe/internal/models"
	"github.com/3Eeeecho/go-uploadpipe/internal/pkg/backend"
	"github.com/3Eeeecho/go-uploadpipe/internal/pkg/xerr"
	"github.com/3Eeeecho/go-uploadpipe/internal/repositories"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testChunkSize = 2 * 1024 * 1024

func testConfig() *config.Config {
	return &config.Config{
		Backend: config.BackendConfig{
			ChunkSize: testChunkSize,
		},
		Uploader: config.UploaderConfig{
			PollInterval:     5 * time.Millisecond,
			SuccessRetention: time.Hour,
			SweepInterval:    time.Hour,
		},
	}
}

func newTestManager(t *testing.T, fb *fakeBackend) *Manager {
	t.Helper()
	m := NewManager(testConfig(), repositories.NewMemoryRecordRepository(), fb, false)
	require.NoError(t, m.Reconcile(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		m.Shutdown(ctx)
	})
	return m
}

// relaunchWhenSettled 重试控制消息直到前一个驱动循环完全退出：
// 终态/暂停写入与循环退出之间存在极短窗口，窗口内的重新启动会得到冲突
func relaunchWhenSettled(t *testing.T, op func() error) {
	t.Helper()
	var last error
	require.Eventually(t, func() bool {
		last = op()
		return !errors.Is(last, xerr.ErrTaskConflict)
	}, 3*time.Second, 5*time.Millisecond)
	require.NoError(t, last)
}

func waitForStatus(t *testing.T, m *Manager, id string, want models.UploadStatus) *models.UploadRecord {
	t.Helper()
	var rec *models.UploadRecord
	require.Eventually(t, func() bool {
		r, err := m.getRepo().FindByID(context.Background(), id)
		if err != nil {
			return false
		}
		rec = r
		return r.Status == want
	}, 3*time.Second, 5*time.Millisecond, "record %s never reached status %s", id, want)
	return rec
}

func TestChunkedUploadSendsEveryChunkThenCompletes(t *testing.T) {
	fb := newFakeBackend()
	m := newTestManager(t, fb)

	// 10 MiB 文件，2 MiB 分片 → 正好 5 个分片
	data := make([]byte, 10*1024*1024)
	id, err := m.StartFile(context.Background(), "video.mp4", "video/mp4", int64(len(data)), bytes.NewReader(data))
	require.NoError(t, err)

	rec := waitForStatus(t, m, id, models.StatusSuccess)

	assert.Equal(t, []int{0, 1, 2, 3, 4}, fb.sentChunks())
	assert.Equal(t, 1, fb.completes())
	assert.Equal(t, 1, fb.inits())
	assert.NotEmpty(t, rec.URL)
	assert.Equal(t, 100, rec.Percent())
	assert.Equal(t, rec.TotalBytes, rec.UploadedBytes)
}

func TestSmallFileGoesThroughDirectUpload(t *testing.T) {
	fb := newFakeBackend()
	m := newTestManager(t, fb)

	data := []byte("tiny asset")
	id, err := m.StartFile(context.Background(), "avatar.png", "image/png", int64(len(data)), bytes.NewReader(data))
	require.NoError(t, err)

	rec := waitForStatus(t, m, id, models.StatusSuccess)

	assert.Equal(t, []string{"avatar.png"}, fb.directUploads())
	assert.Zero(t, fb.inits())
	assert.Empty(t, fb.sentChunks())
	assert.NotEmpty(t, rec.URL)
}

func TestChunkFailureStopsLoopAndPreservesProgress(t *testing.T) {
	fb := newFakeBackend()
	fb.chunkErr[3] = errors.New("boom")
	m := newTestManager(t, fb)

	data := make([]byte, 10*1024*1024)
	id, err := m.StartFile(context.Background(), "big.bin", "", int64(len(data)), bytes.NewReader(data))
	require.NoError(t, err)

	rec := waitForStatus(t, m, id, models.StatusError)
	assert.Equal(t, models.ChunkSet{0, 1, 2}, rec.UploadedChunks)
	assert.NotEmpty(t, rec.Error)
	assert.Zero(t, fb.completes())
	// 单个任务失败不影响管理器接受新任务
	_, err = m.StartFile(context.Background(), "other.bin", "", 10, bytes.NewReader(make([]byte, 10)))
	assert.NoError(t, err)
}

func TestRetryAfterErrorSkipsAcknowledgedChunks(t *testing.T) {
	fb := newFakeBackend()
	fb.chunkErr[3] = errors.New("transient")
	m := newTestManager(t, fb)

	data := make([]byte, 10*1024*1024)
	id, err := m.StartFile(context.Background(), "big.bin", "", int64(len(data)), bytes.NewReader(data))
	require.NoError(t, err)
	waitForStatus(t, m, id, models.StatusError)

	before := len(fb.sentChunks())
	relaunchWhenSettled(t, func() error { return m.Retry(context.Background(), id) })
	waitForStatus(t, m, id, models.StatusSuccess)

	// 重试只补发未确认的分片
	resent := fb.sentChunks()[before:]
	assert.Equal(t, []int{3, 4}, resent)
	assert.Equal(t, 1, fb.inits(), "retry must reuse the existing session")
}

func TestPauseAndResume(t *testing.T) {
	fb := newFakeBackend()
	fb.chunkTokens = make(chan struct{}, 16)
	m := newTestManager(t, fb)

	data := make([]byte, 10*1024*1024)
	id, err := m.StartFile(context.Background(), "big.bin", "", int64(len(data)), bytes.NewReader(data))
	require.NoError(t, err)

	// 放行前三个分片后暂停
	for i := 0; i < 3; i++ {
		fb.chunkTokens <- struct{}{}
	}
	require.Eventually(t, func() bool {
		return len(fb.sentChunks()) == 3
	}, 3*time.Second, 5*time.Millisecond)

	require.NoError(t, m.Pause(context.Background(), id))
	rec := waitForStatus(t, m, id, models.StatusPaused)
	assert.Equal(t, models.ChunkSet{0, 1, 2}, rec.UploadedChunks)

	relaunchWhenSettled(t, func() error { return m.Resume(context.Background(), id) })
	for i := 0; i < 8; i++ {
		fb.chunkTokens <- struct{}{}
	}
	waitForStatus(t, m, id, models.StatusSuccess)

	// 已确认的分片绝不重发
	assert.Equal(t, []int{0, 1, 2, 3, 4}, fb.sentChunks())
}

func TestResumeRequiresPausedStatus(t *testing.T) {
	fb := newFakeBackend()
	m := newTestManager(t, fb)

	data := []byte("x")
	id, err := m.StartFile(context.Background(), "a.txt", "", 1, bytes.NewReader(data))
	require.NoError(t, err)
	waitForStatus(t, m, id, models.StatusSuccess)

	err = m.Resume(context.Background(), id)
	assert.True(t, errors.Is(err, xerr.ErrTaskStateInvalid))
}

func TestCancelDeletesRecordAndStopsSends(t *testing.T) {
	fb := newFakeBackend()
	fb.chunkTokens = make(chan struct{}, 16)
	m := newTestManager(t, fb)

	data := make([]byte, 10*1024*1024)
	id, err := m.StartFile(context.Background(), "big.bin", "", int64(len(data)), bytes.NewReader(data))
	require.NoError(t, err)

	fb.chunkTokens <- struct{}{}
	fb.chunkTokens <- struct{}{}
	require.Eventually(t, func() bool {
		return len(fb.sentChunks()) == 2
	}, 3*time.Second, 5*time.Millisecond)

	require.NoError(t, m.Cancel(context.Background(), id))

	// 记录已从存储删除
	_, err = m.getRepo().FindByID(context.Background(), id)
	assert.True(t, errors.Is(err, xerr.ErrTaskNotFound))
	// 服务端半成品被尽力清理
	assert.NotEmpty(t, fb.aborted())

	// 取消落定后即使放行令牌也不会再有分片发送
	for i := 0; i < 8; i++ {
		fb.chunkTokens <- struct{}{}
	}
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []int{0, 1}, fb.sentChunks())
	records, err := m.Records(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestURLDownloadReachesSuccess(t *testing.T) {
	fb := newFakeBackend()
	m := newTestManager(t, fb)

	id, err := m.StartURL(context.Background(), "https://example.com/assets/movie.mkv")
	require.NoError(t, err)

	waitForStatus(t, m, id, models.StatusDownloading)
	// 让估算进度先走几拍
	require.Eventually(t, func() bool {
		rec, err := m.getRepo().FindByID(context.Background(), id)
		return err == nil && rec.Percent() > 0
	}, 3*time.Second, 5*time.Millisecond)

	fb.setFetchState(backend.RemoteFetchState{
		Done: true, URL: "https://cdn.example.com/movie.mkv", Filename: "movie.mkv", Size: 123456,
	})
	rec := waitForStatus(t, m, id, models.StatusSuccess)

	assert.Equal(t, "https://cdn.example.com/movie.mkv", rec.URL)
	assert.Equal(t, int64(123456), rec.TotalBytes)
	assert.Equal(t, int64(123456), rec.UploadedBytes)
	assert.Equal(t, 100, rec.Percent())
}

func TestURLDownloadEstimateIsMonotonicAndCapped(t *testing.T) {
	fb := newFakeBackend()
	m := newTestManager(t, fb)

	id, err := m.StartURL(context.Background(), "https://example.com/big.iso")
	require.NoError(t, err)
	waitForStatus(t, m, id, models.StatusDownloading)

	last := -1
	for i := 0; i < 30; i++ {
		rec, err := m.getRepo().FindByID(context.Background(), id)
		require.NoError(t, err)
		p := rec.Percent()
		assert.GreaterOrEqual(t, p, last, "estimated progress must be non-decreasing")
		assert.Less(t, p, 100, "estimate never reaches 100 before confirmation")
		last = p
		time.Sleep(5 * time.Millisecond)
	}
}

func TestURLDownloadFailureCarriesServerMessage(t *testing.T) {
	fb := newFakeBackend()
	m := newTestManager(t, fb)

	id, err := m.StartURL(context.Background(), "https://example.com/gone.zip")
	require.NoError(t, err)
	waitForStatus(t, m, id, models.StatusDownloading)

	fb.setFetchState(backend.RemoteFetchState{Error: "remote returned 404"})
	rec := waitForStatus(t, m, id, models.StatusError)
	assert.Contains(t, rec.Error, "remote returned 404")
}

func TestCancelURLDownloadCancelsServerFetch(t *testing.T) {
	fb := newFakeBackend()
	m := newTestManager(t, fb)

	id, err := m.StartURL(context.Background(), "https://example.com/movie.mkv")
	require.NoError(t, err)
	waitForStatus(t, m, id, models.StatusDownloading)
	require.Eventually(t, func() bool {
		return len(fb.startedFetches()) > 0
	}, 3*time.Second, 5*time.Millisecond)

	require.NoError(t, m.Cancel(context.Background(), id))
	assert.NotEmpty(t, fb.cancelledFetches())
	records, err := m.Records(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestDismissRemovesRecordFromStoreAndObservers(t *testing.T) {
	fb := newFakeBackend()
	m := newTestManager(t, fb)

	id, err := m.StartFile(context.Background(), "a.txt", "", 3, bytes.NewReader([]byte("abc")))
	require.NoError(t, err)
	waitForStatus(t, m, id, models.StatusSuccess)

	ch, cancel := m.Subscribe()
	defer cancel()
	first := <-ch
	require.Len(t, first, 1)

	require.NoError(t, m.Dismiss(context.Background(), id))

	require.Eventually(t, func() bool {
		select {
		case records, ok := <-ch:
			return ok && len(records) == 0
		default:
			return false
		}
	}, 3*time.Second, 5*time.Millisecond)

	records, err := m.Records(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestDismissRejectsActiveRecord(t *testing.T) {
	fb := newFakeBackend()
	fb.chunkTokens = make(chan struct{}, 1)
	m := newTestManager(t, fb)

	data := make([]byte, 10*1024*1024)
	id, err := m.StartFile(context.Background(), "big.bin", "", int64(len(data)), bytes.NewReader(data))
	require.NoError(t, err)
	waitForStatus(t, m, id, models.StatusUploading)

	err = m.Dismiss(context.Background(), id)
	assert.True(t, errors.Is(err, xerr.ErrTaskStateInvalid))
}

func TestUploadedBytesNeverExceedTotalBytes(t *testing.T) {
	fb := newFakeBackend()
	m := newTestManager(t, fb)

	ch, cancel := m.Subscribe()
	defer cancel()

	data := make([]byte, 10*1024*1024)
	id, err := m.StartFile(context.Background(), "big.bin", "", int64(len(data)), bytes.NewReader(data))
	require.NoError(t, err)

	deadline := time.After(3 * time.Second)
	for {
		select {
		case records := <-ch:
			done := false
			for i := range records {
				rec := &records[i]
				if rec.TotalBytes > 0 {
					assert.LessOrEqual(t, rec.UploadedBytes, rec.TotalBytes)
				}
				if rec.Status == models.StatusSuccess {
					assert.Equal(t, 100, rec.Percent())
					done = true
				} else {
					assert.NotEqual(t, 100, rec.Percent())
				}
			}
			if done {
				return
			}
		case <-deadline:
			t.Fatalf("upload %s never finished", id)
		}
	}
}

func TestControlMessagesRejectedBeforeReconcile(t *testing.T) {
	fb := newFakeBackend()
	m := NewManager(testConfig(), repositories.NewMemoryRecordRepository(), fb, false)

	_, err := m.StartFile(context.Background(), "a.txt", "", 1, bytes.NewReader([]byte("x")))
	assert.True(t, errors.Is(err, xerr.ErrNotReady))
	_, err = m.StartURL(context.Background(), "https://example.com/a")
	assert.True(t, errors.Is(err, xerr.ErrNotReady))
}

func TestStartFileValidation(t *testing.T) {
	fb := newFakeBackend()
	m := newTestManager(t, fb)

	_, err := m.StartFile(context.Background(), "", "", 1, bytes.NewReader([]byte("x")))
	assert.True(t, errors.Is(err, xerr.ErrFileNameInvalid))
	_, err = m.StartFile(context.Background(), "../evil", "", 1, bytes.NewReader([]byte("x")))
	assert.True(t, errors.Is(err, xerr.ErrFileNameInvalid))
	_, err = m.StartURL(context.Background(), "ftp://example.com/a")
	assert.True(t, errors.Is(err, xerr.ErrSourceURLInvalid))
}

// gatedSaveRepo 允许测试拦住下一次 Save，构造持久化写入在途的窗口
type gatedSaveRepo struct {
	repositories.RecordRepository
	mu   sync.Mutex
	gate chan struct{}
}

// armGate 拦截下一次 Save，返回的通道关闭后放行
func (r *gatedSaveRepo) armGate() chan struct{} {
	g := make(chan struct{})
	r.mu.Lock()
	r.gate = g
	r.mu.Unlock()
	return g
}

func (r *gatedSaveRepo) Save(ctx context.Context, rec *models.UploadRecord) error {
	r.mu.Lock()
	gate := r.gate
	r.gate = nil
	r.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return r.RecordRepository.Save(ctx, rec)
}

func TestSecondResumeWhileLoopStartingIsConflict(t *testing.T) {
	fb := newFakeBackend()
	fb.chunkTokens = make(chan struct{}, 16)
	repo := &gatedSaveRepo{RecordRepository: repositories.NewMemoryRecordRepository()}
	m := NewManager(testConfig(), repo, fb, false)
	require.NoError(t, m.Reconcile(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		m.Shutdown(ctx)
	})

	data := make([]byte, 10*1024*1024)
	id, err := m.StartFile(context.Background(), "big.bin", "", int64(len(data)), bytes.NewReader(data))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		fb.chunkTokens <- struct{}{}
	}
	require.Eventually(t, func() bool {
		return len(fb.sentChunks()) == 3
	}, 3*time.Second, 5*time.Millisecond)
	require.NoError(t, m.Pause(context.Background(), id))
	waitForStatus(t, m, id, models.StatusPaused)

	// 拦住恢复后的第一次状态写入：存储里的状态仍是 paused，
	// 但活动循环已经存在，第二次 Resume 必须吃到冲突
	gate := repo.armGate()
	relaunchWhenSettled(t, func() error { return m.Resume(context.Background(), id) })
	errCh := make(chan error, 1)
	go func() { errCh <- m.Resume(context.Background(), id) }()
	time.Sleep(20 * time.Millisecond)
	close(gate)

	select {
	case err := <-errCh:
		assert.True(t, errors.Is(err, xerr.ErrTaskConflict), "second resume: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("second resume never returned")
	}

	for i := 0; i < 8; i++ {
		fb.chunkTokens <- struct{}{}
	}
	waitForStatus(t, m, id, models.StatusSuccess)

	// 只有一个循环在跑：没有重发，也只合并一次
	assert.Equal(t, []int{0, 1, 2, 3, 4}, fb.sentChunks())
	assert.Equal(t, 1, fb.completes())
	assert.Equal(t, 1, fb.inits())
}

func TestCancelDuringInFlightPersistLeavesNoGhostRecord(t *testing.T) {
	fb := newFakeBackend()
	fb.chunkTokens = make(chan struct{}, 16)
	repo := &gatedSaveRepo{RecordRepository: repositories.NewMemoryRecordRepository()}
	m := NewManager(testConfig(), repo, fb, false)
	require.NoError(t, m.Reconcile(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		m.Shutdown(ctx)
	})

	data := make([]byte, 10*1024*1024)
	id, err := m.StartFile(context.Background(), "big.bin", "", int64(len(data)), bytes.NewReader(data))
	require.NoError(t, err)

	// 等会话初始化写入落库，再拦住下一次写入（分片 0 的进度持久化）
	require.Eventually(t, func() bool {
		rec, err := m.getRepo().FindByID(context.Background(), id)
		return err == nil && rec.UploadID != ""
	}, 3*time.Second, 5*time.Millisecond)
	gate := repo.armGate()
	fb.chunkTokens <- struct{}{}
	require.Eventually(t, func() bool {
		return len(fb.sentChunks()) == 1
	}, 3*time.Second, 5*time.Millisecond)

	// 进度写入滞留在途期间执行取消
	done := make(chan error, 1)
	go func() { done <- m.Cancel(context.Background(), id) }()
	time.Sleep(20 * time.Millisecond)
	close(gate)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("cancel never returned")
	}

	// 取消落定后记录必须保持删除，在途写入不能把它插回存储
	time.Sleep(20 * time.Millisecond)
	_, err = m.getRepo().FindByID(context.Background(), id)
	assert.True(t, errors.Is(err, xerr.ErrTaskNotFound))
	records, err := m.Records(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestJanitorSweepsExpiredSuccessRecords(t *testing.T) {
	fb := newFakeBackend()
	m := newTestManager(t, fb)
	m.cfg.Uploader.SuccessRetention = 0 // 立即过期

	id, err := m.StartFile(context.Background(), "a.txt", "", 3, bytes.NewReader([]byte("abc")))
	require.NoError(t, err)
	waitForStatus(t, m, id, models.StatusSuccess)

	time.Sleep(5 * time.Millisecond)
	m.sweepOnce(context.Background())

	records, err := m.Records(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}
