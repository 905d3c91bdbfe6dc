package models

// StartURLRequest 提交 URL 下载任务的请求体
type StartURLRequest struct {
	URL string `json:"url" binding:"required"`
}

// StartResponse 创建任务后的响应体
type StartResponse struct {
	ID string `json:"id"`
}

// UploadView 是推送给 UI 的任务投影
type UploadView struct {
	ID            string       `json:"id"`
	Filename      string       `json:"filename"`
	TotalBytes    int64        `json:"total_bytes"`
	UploadedBytes int64        `json:"uploaded_bytes"`
	Percent       int          `json:"percent"`
	Status        UploadStatus `json:"status"`
	IsURLDownload bool         `json:"is_url_download"`
	SourceURL     string       `json:"source_url,omitempty"`
	SizeLabel     string       `json:"size_label"` // 例如 "3MiB / 10MiB"
	URL           string       `json:"url,omitempty"`
	Error         string       `json:"error,omitempty"`
	Timestamp     int64        `json:"timestamp"`
}

// UploadListResponse 任务列表响应，StorageDegraded 表示本地存储不可用、
// 当前仅内存态运行（进程退出后任务状态不被保留）
type UploadListResponse struct {
	Uploads         []UploadView `json:"uploads"`
	StorageDegraded bool         `json:"storage_degraded"`
}
