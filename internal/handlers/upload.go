package handlers

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	"github.com/3Eeeecho/go-uploadpipe/internal/models"
	"github.com/3Eeeecho/go-uploadpipe/internal/pkg/mapper"
	"github.com/3Eeeecho/go-uploadpipe/internal/pkg/xerr"
	"github.com/3Eeeecho/go-uploadpipe/internal/services/uploader"
	"github.com/gin-gonic/gin"
)

// StartUploadHandler 处理文件上传任务创建请求
// @Summary 创建文件上传任务
// @Description 接收文件并在后台启动分片上传，立即返回任务 ID
// @Tags 上传任务
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "待上传文件"
// @Success 200 {object} xerr.Response "任务已创建"
// @Failure 400 {object} xerr.Response "参数错误"
// @Failure 500 {object} xerr.Response "内部服务器错误"
// @Router /api/v1/uploads [post]
func StartUploadHandler(m *uploader.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		fileHeader, err := c.FormFile("file")
		if err != nil {
			xerr.AbortWithError(c, http.StatusBadRequest, xerr.InvalidParamsCode, "Upload file not found")
			return
		}

		file, err := fileHeader.Open()
		if err != nil {
			xerr.AbortWithError(c, http.StatusInternalServerError, xerr.InternalServerErrorCode, "Failed to open upload file")
			return
		}
		defer file.Close()

		// 把字节读进内存：请求结束后 multipart 临时文件会被清理，
		// 会话必须持有自己的字节源（字节只驻留内存，绝不落盘）
		data, err := io.ReadAll(file)
		if err != nil {
			xerr.AbortWithError(c, http.StatusInternalServerError, xerr.InternalServerErrorCode, "Failed to read upload file")
			return
		}

		contentType := fileHeader.Header.Get("Content-Type")
		id, err := m.StartFile(c, fileHeader.Filename, contentType, int64(len(data)), bytes.NewReader(data))
		if err != nil {
			respondServiceError(c, err)
			return
		}
		xerr.Success(c, http.StatusOK, "Upload task created", models.StartResponse{ID: id})
	}
}

// StartURLDownloadHandler 处理 URL 下载任务创建请求
// @Summary 创建 URL 下载任务
// @Description 请求后端抓取远端 URL，立即返回任务 ID
// @Tags 上传任务
// @Accept json
// @Produce json
// @Param request body models.StartURLRequest true "下载源 URL"
// @Success 200 {object} xerr.Response "任务已创建"
// @Failure 400 {object} xerr.Response "参数错误"
// @Router /api/v1/uploads/url [post]
func StartURLDownloadHandler(m *uploader.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.StartURLRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			xerr.AbortWithError(c, http.StatusBadRequest, xerr.InvalidParamsCode, "Invalid request body")
			return
		}
		id, err := m.StartURL(c, req.URL)
		if err != nil {
			respondServiceError(c, err)
			return
		}
		xerr.Success(c, http.StatusOK, "Download task created", models.StartResponse{ID: id})
	}
}

// ListUploadsHandler 返回全部任务的当前投影
// @Summary 任务列表
// @Produce json
// @Success 200 {object} xerr.Response "任务列表"
// @Router /api/v1/uploads [get]
func ListUploadsHandler(m *uploader.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		records, err := m.Records(c)
		if err != nil {
			respondServiceError(c, err)
			return
		}
		resp := models.UploadListResponse{
			Uploads:         mapper.RecordsToViews(records),
			StorageDegraded: m.StorageDegraded(),
		}
		xerr.Success(c, http.StatusOK, "ok", resp)
	}
}

// WatchUploadsHandler 以 SSE 推送任务列表快照
// 连接建立时立即发送当前全量快照，之后每次状态迁移推送一次
// @Summary 订阅任务状态流
// @Produce text/event-stream
// @Router /api/v1/uploads/events [get]
func WatchUploadsHandler(m *uploader.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		ch, cancel := m.Subscribe()
		defer cancel()

		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Stream(func(w io.Writer) bool {
			select {
			case records, ok := <-ch:
				if !ok {
					return false
				}
				c.SSEvent("uploads", models.UploadListResponse{
					Uploads:         mapper.RecordsToViews(records),
					StorageDegraded: m.StorageDegraded(),
				})
				return true
			case <-c.Request.Context().Done():
				return false
			}
		})
	}
}

// PauseUploadHandler 暂停任务
// @Summary 暂停任务
// @Produce json
// @Param id path string true "任务 ID"
// @Router /api/v1/uploads/{id}/pause [post]
func PauseUploadHandler(m *uploader.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := m.Pause(c, c.Param("id")); err != nil {
			respondServiceError(c, err)
			return
		}
		xerr.Success(c, http.StatusOK, "Upload paused", nil)
	}
}

// ResumeUploadHandler 恢复已暂停的任务
// @Summary 恢复任务
// @Produce json
// @Param id path string true "任务 ID"
// @Router /api/v1/uploads/{id}/resume [post]
func ResumeUploadHandler(m *uploader.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := m.Resume(c, c.Param("id")); err != nil {
			respondServiceError(c, err)
			return
		}
		xerr.Success(c, http.StatusOK, "Upload resumed", nil)
	}
}

// RetryUploadHandler 重试 error 态任务（分片续传）或 interrupted_url 任务（重新抓取）
// @Summary 重试任务
// @Produce json
// @Param id path string true "任务 ID"
// @Router /api/v1/uploads/{id}/retry [post]
func RetryUploadHandler(m *uploader.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		err := m.Retry(c, id)
		if err != nil && xerr.Is(err, xerr.ErrTaskStateInvalid) {
			// error 态之外再尝试 interrupted_url 的恢复路径
			err = m.RetryURLDownload(c, id)
		}
		if err != nil {
			respondServiceError(c, err)
			return
		}
		xerr.Success(c, http.StatusOK, "Upload retried", nil)
	}
}

// CancelUploadHandler 取消一个未完成任务并删除其记录
// @Summary 取消任务
// @Produce json
// @Param id path string true "任务 ID"
// @Router /api/v1/uploads/{id} [delete]
func CancelUploadHandler(m *uploader.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := m.Cancel(c, c.Param("id")); err != nil {
			respondServiceError(c, err)
			return
		}
		xerr.Success(c, http.StatusOK, "Upload cancelled", nil)
	}
}

// DismissUploadHandler 清除一条终态记录
// @Summary 清除终态记录
// @Produce json
// @Param id path string true "任务 ID"
// @Router /api/v1/uploads/{id}/record [delete]
func DismissUploadHandler(m *uploader.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := m.Dismiss(c, c.Param("id")); err != nil {
			respondServiceError(c, err)
			return
		}
		xerr.Success(c, http.StatusOK, "Upload dismissed", nil)
	}
}

// respondServiceError 把服务层错误映射为 HTTP 响应
func respondServiceError(c *gin.Context, err error) {
	code := xerr.CodeOf(err)
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, xerr.ErrTaskNotFound):
		status = http.StatusNotFound
	case errors.Is(err, xerr.ErrTaskStateInvalid), errors.Is(err, xerr.ErrTaskConflict),
		errors.Is(err, xerr.ErrTaskUnrecoverable):
		status = http.StatusConflict
	case errors.Is(err, xerr.ErrInvalidParams), errors.Is(err, xerr.ErrFileNameInvalid),
		errors.Is(err, xerr.ErrSourceURLInvalid):
		status = http.StatusBadRequest
	case errors.Is(err, xerr.ErrNotReady):
		status = http.StatusServiceUnavailable
	}
	xerr.Error(c, status, code, err.Error())
}
