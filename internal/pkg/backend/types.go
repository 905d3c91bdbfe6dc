package backend

// SessionMeta 初始化分片会话时上报的文件元数据
type SessionMeta struct {
	Filename    string `json:"filename"`
	Size        int64  `json:"size"`
	TotalChunks int    `json:"total_chunks"`
	ContentType string `json:"content_type"`
}

// SessionInfo 服务端分配的分片会话
type SessionInfo struct {
	UploadID    string `json:"upload_id"`
	TotalChunks int    `json:"total_chunks"`
}

// SessionState 服务端视角的会话进度，用于恢复时跳过已确认分片
type SessionState struct {
	UploadedChunks []int `json:"uploaded_chunks"`
	TotalChunks    int   `json:"total_chunks"`
}

// CompleteResult 合并完成（或直传完成）后服务端返回的最终对象信息
type CompleteResult struct {
	URL      string `json:"url"`
	Size     int64  `json:"size"`
	Filename string `json:"filename"`
}

// RemoteFetchState 服务端 URL 抓取任务的状态快照
type RemoteFetchState struct {
	Done     bool   `json:"done"`
	URL      string `json:"url,omitempty"`
	Filename string `json:"filename,omitempty"`
	Size     int64  `json:"size,omitempty"`
	Error    string `json:"error,omitempty"`
}
