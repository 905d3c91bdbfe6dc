package uploader

import (
	"context"
	"errors"
	"time"

	"github.com/3Eeeecho/go-uploadpipe/internal/models"
	"github.com/3Eeeecho/go-uploadpipe/internal/pkg/backend"
	"github.com/3Eeeecho/go-uploadpipe/internal/pkg/logger"
	"github.com/3Eeeecho/go-uploadpipe/internal/pkg/xerr"
	"go.uber.org/zap"
)

// 估算进度参数：真实传输字节数在后端，客户端只能给出单调不减、
// 确认完成前永远小于 100 的估算值
const (
	estimateStep = 5
	estimateCap  = 95
)

// runURLDownload URL 下载驱动循环：发起服务端抓取后轮询进度直到完成
func (m *Manager) runURLDownload(sess *session) {
	defer m.wg.Done()

	rec := m.loadRecord(sess.id)
	if rec == nil {
		m.removeSession(sess.id)
		return
	}
	rec.Status = models.StatusDownloading
	rec.Error = ""
	m.persist(sess.ctx, rec)

	if sess.remoteTask() == "" {
		taskID, err := m.api.StartRemoteFetch(sess.ctx, rec.SourceURL)
		if err != nil {
			if sess.ctx.Err() != nil {
				m.handleURLStop(sess, rec)
				return
			}
			m.fail(sess, rec, err)
			return
		}
		sess.setRemoteTask(taskID)
	}

	ticker := time.NewTicker(m.cfg.Uploader.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sess.ctx.Done():
			m.handleURLStop(sess, rec)
			return
		case <-ticker.C:
			state, err := m.api.RemoteFetchStatus(sess.ctx, sess.remoteTask())
			if err != nil {
				if sess.ctx.Err() != nil {
					m.handleURLStop(sess, rec)
					return
				}
				m.fail(sess, rec, err)
				return
			}
			if state.Error != "" {
				m.fail(sess, rec, xerr.WrapCode(xerr.RemoteFetchErrorCode, xerr.ErrRemoteFetch, errors.New(state.Error)))
				return
			}
			if state.Done {
				m.succeed(sess, rec, &backend.CompleteResult{
					URL:      state.URL,
					Size:     state.Size,
					Filename: state.Filename,
				})
				return
			}
			// 进行中：推进估算进度
			if rec.EstimatedPercent < estimateCap {
				rec.EstimatedPercent += estimateStep
				if rec.EstimatedPercent > estimateCap {
					rec.EstimatedPercent = estimateCap
				}
				m.persist(sess.ctx, rec)
			}
		}
	}
}

// handleURLStop URL 驱动循环被打断后的收尾
// 暂停会同时通知后端停止抓取，恢复时重新发起
func (m *Manager) handleURLStop(sess *session, rec *models.UploadRecord) {
	switch sess.stopReason() {
	case stopPause:
		if taskID := sess.remoteTask(); taskID != "" {
			_ = m.api.CancelRemoteFetch(context.Background(), taskID)
			sess.setRemoteTask("")
		}
		rec.Status = models.StatusPaused
		m.persist(context.Background(), rec)
		logger.Info("URL 下载已暂停", zap.String("id", rec.ID))
	case stopCancel, stopNone:
	}
}
