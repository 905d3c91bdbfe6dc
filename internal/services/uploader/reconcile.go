package uploader

import (
	"context"
	"errors"

	"github.com/3Eeeecho/go-uploadpipe/internal/models"
	"github.com/3Eeeecho/go-uploadpipe/internal/pkg/logger"
	"github.com/3Eeeecho/go-uploadpipe/internal/pkg/xerr"
	"go.uber.org/zap"
)

// Reconcile 进程激活时的状态恢复：扫描存储中的全部记录，
// 把上一个进程生命周期遗留的"进行中"状态降级为对应的打断态。
// 文件字节不进持久化存储，所以普通上传一律不可恢复（interrupted）；
// URL 下载只依赖存储里的源地址，可以重试（interrupted_url）。
//
// 必须在控制 API 接受任何消息之前执行完，避免出现"死任务看起来还活着"的窗口。
// 每次激活只执行一次，重复调用是空操作。
func (m *Manager) Reconcile(ctx context.Context) error {
	if m.ready.Load() {
		return nil
	}

	records, err := m.getRepo().FindAll(ctx)
	if err != nil {
		if errors.Is(err, xerr.ErrStorageUnavailable) {
			// 存储不可用：降级到内存模式，空状态起步
			m.degrade()
			m.ready.Store(true)
			return nil
		}
		return err
	}

	downgraded := 0
	for i := range records {
		rec := &records[i]
		if !rec.Status.IsActive() {
			continue
		}
		if rec.IsURLDownload && rec.SourceURL != "" {
			rec.Status = models.StatusInterruptedURL
		} else {
			rec.Status = models.StatusInterrupted
		}
		rec.EstimatedPercent = 0
		if err := m.getRepo().Save(ctx, rec); err != nil {
			logger.Error("Reconcile: failed to downgrade record",
				zap.String("id", rec.ID), zap.Error(err))
			continue
		}
		downgraded++
	}

	m.ready.Store(true)
	m.broadcast()
	if downgraded > 0 {
		logger.Info("Reconcile: 已降级上一进程遗留的进行中任务", zap.Int("count", downgraded))
	}
	return nil
}
