package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"
)

// UploadStatus 上传任务状态
type UploadStatus string

const (
	StatusPending        UploadStatus = "pending"
	StatusUploading      UploadStatus = "uploading"
	StatusDownloading    UploadStatus = "downloading"
	StatusPaused         UploadStatus = "paused"
	StatusSuccess        UploadStatus = "success"
	StatusError          UploadStatus = "error"
	StatusCancelled      UploadStatus = "cancelled"
	StatusInterrupted    UploadStatus = "interrupted"     // 进程重启后字节数据丢失，不可恢复
	StatusInterruptedURL UploadStatus = "interrupted_url" // 进程重启打断的 URL 下载，可重试
)

// IsActive 判断状态是否表示存在（或应当存在）进行中的传输
func (s UploadStatus) IsActive() bool {
	switch s {
	case StatusPending, StatusUploading, StatusDownloading, StatusPaused:
		return true
	}
	return false
}

// IsTerminal 判断状态是否为终态（只能被 dismiss 或显式重试）
func (s UploadStatus) IsTerminal() bool {
	switch s {
	case StatusSuccess, StatusError, StatusCancelled, StatusInterrupted, StatusInterruptedURL:
		return true
	}
	return false
}

// Known 判断是否为已知状态。未知状态按不可恢复处理
func (s UploadStatus) Known() bool {
	return s.IsActive() || s.IsTerminal()
}

// ChunkSet 已被服务端确认的分片索引集合，升序存储
// 以 JSON 数组形式持久化到 TEXT 列
type ChunkSet []int

// Contains 判断分片索引是否已确认
func (s ChunkSet) Contains(index int) bool {
	i := sort.SearchInts(s, index)
	return i < len(s) && s[i] == index
}

// Add 返回加入指定索引后的集合，保持升序且去重
func (s ChunkSet) Add(index int) ChunkSet {
	if s.Contains(index) {
		return s
	}
	out := append(ChunkSet{}, s...)
	out = append(out, index)
	sort.Ints(out)
	return out
}

// Value 实现 driver.Valuer
func (s ChunkSet) Value() (driver.Value, error) {
	if len(s) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal([]int(s))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan 实现 sql.Scanner
func (s *ChunkSet) Scan(value any) error {
	if value == nil {
		*s = ChunkSet{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("chunk set: unsupported column type %T", value)
	}
	if len(data) == 0 {
		*s = ChunkSet{}
		return nil
	}
	var out []int
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("chunk set: %w", err)
	}
	sort.Ints(out)
	*s = out
	return nil
}

// UploadRecord 对应 upload_records 表，一条记录代表一个文件上传或 URL 下载任务
// 注意：文件的原始字节永远不会落到该表，只持久化元数据
type UploadRecord struct {
	ID               string       `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Filename         string       `gorm:"type:varchar(255);not null" json:"filename"`
	TotalBytes       int64        `gorm:"not null;default:0" json:"total_bytes"`    // URL 下载期间可能为 0（未知）
	UploadedBytes    int64        `gorm:"not null;default:0" json:"uploaded_bytes"` // 已确认字节数，不超过 TotalBytes
	Status           UploadStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	IsURLDownload    bool         `gorm:"not null;default:false" json:"is_url_download"`
	SourceURL        string       `gorm:"type:varchar(2048)" json:"source_url,omitempty"` // 仅 URL 下载任务携带
	UploadID         string       `gorm:"type:varchar(64);index" json:"upload_id,omitempty"`
	TotalChunks      int          `gorm:"not null;default:0" json:"total_chunks,omitempty"`
	UploadedChunks   ChunkSet     `gorm:"type:text" json:"uploaded_chunks,omitempty"`
	EstimatedPercent int          `gorm:"not null;default:0" json:"-"` // URL 下载的估算进度，单调不减且 <100
	URL              string       `gorm:"type:varchar(2048)" json:"url,omitempty"`   // 仅 success 时设置
	Error            string       `gorm:"type:varchar(1024)" json:"error,omitempty"` // 仅 error 时设置
	CreatedAt        time.Time    `gorm:"autoCreateTime;index" json:"timestamp"`
	UpdatedAt        time.Time    `gorm:"autoUpdateTime" json:"-"`
}

// TableName 指定 GORM 使用的表名
func (UploadRecord) TableName() string {
	return "upload_records"
}

// Percent 计算展示用进度，范围 [0,100]，只有 success 取到 100
func (r *UploadRecord) Percent() int {
	if r.Status == StatusSuccess {
		return 100
	}
	var p int
	if r.TotalBytes > 0 {
		p = int(math.Round(100 * float64(r.UploadedBytes) / float64(r.TotalBytes)))
	} else if r.IsURLDownload {
		// 服务端抓取的真实字节数不可见，使用估算进度
		p = r.EstimatedPercent
	}
	if p < 0 {
		p = 0
	}
	if p > 99 {
		p = 99
	}
	return p
}

// Normalize 将未知状态归一为 interrupted，保证向前兼容（未知状态按终态处理）
func (r *UploadRecord) Normalize() {
	if !r.Status.Known() {
		r.Status = StatusInterrupted
	}
}
