package uploader

import (
	"context"
	"errors"
	"io"

	"github.com/3Eeeecho/go-uploadpipe/internal/models"
	"github.com/3Eeeecho/go-uploadpipe/internal/pkg/backend"
	"github.com/3Eeeecho/go-uploadpipe/internal/pkg/logger"
	"github.com/3Eeeecho/go-uploadpipe/internal/pkg/xerr"
	"go.uber.org/zap"
)

// runFileUpload 文件上传驱动循环：不超过一个分片大小的文件走单请求直传，
// 其余文件初始化分片会话后按索引顺序逐片上传
func (m *Manager) runFileUpload(sess *session) {
	defer m.wg.Done()

	rec := m.loadRecord(sess.id)
	if rec == nil {
		m.removeSession(sess.id)
		return
	}
	rec.Status = models.StatusUploading
	rec.Error = ""
	m.persist(sess.ctx, rec)

	if rec.TotalBytes <= m.cfg.Backend.ChunkSize {
		m.runDirectUpload(sess, rec)
		return
	}

	// 初始化（或复用）分片会话
	if rec.UploadID == "" {
		totalChunks := int((rec.TotalBytes + m.cfg.Backend.ChunkSize - 1) / m.cfg.Backend.ChunkSize)
		info, err := m.api.InitSession(sess.ctx, backend.SessionMeta{
			Filename:    rec.Filename,
			Size:        rec.TotalBytes,
			TotalChunks: totalChunks,
			ContentType: sess.contentType,
		})
		if err != nil {
			if sess.ctx.Err() != nil {
				m.handleFileStop(sess, rec)
				return
			}
			m.fail(sess, rec, err)
			return
		}
		rec.UploadID = info.UploadID
		rec.TotalChunks = info.TotalChunks
		m.persist(sess.ctx, rec)
	} else {
		// 恢复已有会话时向服务端核对已确认分片，合并到本地集合
		if state, err := m.api.SessionStatus(sess.ctx, rec.UploadID); err == nil && state != nil {
			for _, idx := range state.UploadedChunks {
				rec.UploadedChunks = rec.UploadedChunks.Add(idx)
			}
		}
	}

	m.chunkLoop(sess, rec)
}

// chunkLoop 按递增顺序逐片上传，跳过已确认分片；每片确认后立即持久化进度
// 单片失败即停，保留 UploadedChunks 供显式重试续传
func (m *Manager) chunkLoop(sess *session, rec *models.UploadRecord) {
	chunkSize := m.cfg.Backend.ChunkSize

	for idx := 0; idx < rec.TotalChunks; idx++ {
		if rec.UploadedChunks.Contains(idx) {
			continue
		}
		if sess.ctx.Err() != nil {
			m.handleFileStop(sess, rec)
			return
		}

		offset := int64(idx) * chunkSize
		length := chunkSize
		if offset+length > rec.TotalBytes {
			length = rec.TotalBytes - offset
		}
		buf := make([]byte, length)
		if _, err := sess.src.ReadAt(buf, offset); err != nil && !errors.Is(err, io.EOF) {
			m.fail(sess, rec, err)
			return
		}

		if err := m.api.UploadChunk(sess.ctx, rec.UploadID, idx, buf); err != nil {
			if sess.ctx.Err() != nil {
				m.handleFileStop(sess, rec)
				return
			}
			m.fail(sess, rec, err)
			return
		}

		rec.UploadedChunks = rec.UploadedChunks.Add(idx)
		rec.UploadedBytes += length
		if sess.ctx.Err() != nil {
			// 取消已落定时不再写库，避免复活已删除的记录
			m.handleFileStop(sess, rec)
			return
		}
		m.persist(sess.ctx, rec)
	}

	result, err := m.api.Complete(sess.ctx, rec.UploadID)
	if err != nil {
		if sess.ctx.Err() != nil {
			m.handleFileStop(sess, rec)
			return
		}
		m.fail(sess, rec, err)
		return
	}
	m.succeed(sess, rec, result)
}

// runDirectUpload 小文件单请求直传
func (m *Manager) runDirectUpload(sess *session, rec *models.UploadRecord) {
	buf := make([]byte, rec.TotalBytes)
	if rec.TotalBytes > 0 {
		if _, err := sess.src.ReadAt(buf, 0); err != nil && !errors.Is(err, io.EOF) {
			m.fail(sess, rec, err)
			return
		}
	}

	result, err := m.api.UploadDirect(sess.ctx, rec.Filename, sess.contentType, buf)
	if err != nil {
		if sess.ctx.Err() != nil {
			m.handleFileStop(sess, rec)
			return
		}
		m.fail(sess, rec, err)
		return
	}
	m.succeed(sess, rec, result)
}

// handleFileStop 驱动循环被打断后的收尾：
// 暂停保留进度，取消时记录已删除无需处理，进程退出时什么都不写
func (m *Manager) handleFileStop(sess *session, rec *models.UploadRecord) {
	switch sess.stopReason() {
	case stopPause:
		rec.Status = models.StatusPaused
		m.persist(context.Background(), rec)
		logger.Info("上传已暂停", zap.String("id", rec.ID),
			zap.Int("uploadedChunks", len(rec.UploadedChunks)))
	case stopCancel, stopNone:
		// 取消：Cancel 已删除记录并清理服务端
		// 进程退出：状态留在存储里，由下次激活的恢复流程降级
	}
}

// succeed 终态迁移：记录最终地址并释放会话
func (m *Manager) succeed(sess *session, rec *models.UploadRecord, result *backend.CompleteResult) {
	rec.Status = models.StatusSuccess
	rec.URL = result.URL
	rec.Error = ""
	if result.Size > 0 {
		rec.TotalBytes = result.Size
	}
	rec.UploadedBytes = rec.TotalBytes
	if result.Filename != "" {
		rec.Filename = result.Filename
	}
	m.persist(context.Background(), rec)
	m.removeSession(rec.ID)
	logger.Info("上传完成", zap.String("id", rec.ID), zap.String("url", rec.URL))
}

// fail 终态迁移：保留错误消息和已确认分片，会话留在内存中等待显式重试
// 单个任务的失败绝不影响管理器或其他任务
func (m *Manager) fail(sess *session, rec *models.UploadRecord, err error) {
	rec.Status = models.StatusError
	rec.Error = err.Error()
	m.persist(context.Background(), rec)
	logger.Error("上传失败", zap.String("id", rec.ID),
		zap.Int("code", xerr.CodeOf(err)), zap.Error(err))
}
