package mapper

import (
	"github.com/3Eeeecho/go-uploadpipe/internal/models"
	"github.com/3Eeeecho/go-uploadpipe/internal/pkg/utils"
)

// RecordToView 将持久化记录转换为 UI 投影
func RecordToView(rec *models.UploadRecord) models.UploadView {
	return models.UploadView{
		ID:            rec.ID,
		Filename:      rec.Filename,
		TotalBytes:    rec.TotalBytes,
		UploadedBytes: rec.UploadedBytes,
		Percent:       rec.Percent(),
		Status:        rec.Status,
		IsURLDownload: rec.IsURLDownload,
		SourceURL:     rec.SourceURL,
		SizeLabel:     utils.FormatProgress(rec.UploadedBytes, rec.TotalBytes),
		URL:           rec.URL,
		Error:         rec.Error,
		Timestamp:     rec.CreatedAt.UnixMilli(),
	}
}

// RecordsToViews 批量转换，保持输入顺序
func RecordsToViews(recs []models.UploadRecord) []models.UploadView {
	views := make([]models.UploadView, 0, len(recs))
	for i := range recs {
		views = append(views, RecordToView(&recs[i]))
	}
	return views
}
