package uploader

import (
	"context"
	"time"

	"github.com/3Eeeecho/go-uploadpipe/internal/models"
	"github.com/3Eeeecho/go-uploadpipe/internal/pkg/logger"
	"go.uber.org/zap"
)

// StartJanitor 启动过期记录清理后台循环：
// success 记录在保留窗口结束后自动移除，其余终态记录保留到用户显式清除
func (m *Manager) StartJanitor() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.cfg.Uploader.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-m.rootCtx.Done():
				return
			case <-ticker.C:
				m.sweepOnce(context.Background())
			}
		}
	}()
}

func (m *Manager) sweepOnce(ctx context.Context) {
	records, err := m.getRepo().FindAll(ctx)
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-m.cfg.Uploader.SuccessRetention)
	removed := 0
	for i := range records {
		rec := &records[i]
		if rec.Status != models.StatusSuccess || rec.UpdatedAt.After(cutoff) {
			continue
		}
		if err := m.getRepo().Delete(ctx, rec.ID); err != nil {
			continue
		}
		removed++
	}
	if removed > 0 {
		m.broadcast()
		logger.Debug("janitor: 已清理过期的成功记录", zap.Int("count", removed))
	}
}
