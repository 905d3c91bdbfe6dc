package utils

import (
	"fmt"

	"github.com/docker/go-units"
)

// FormatBytes 将字节数格式化为人类可读的字符串，例如 "2MiB"
func FormatBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return units.BytesSize(float64(n))
}

// FormatProgress 生成 "已传 / 总量" 形式的展示文本
// 总量未知时（例如 URL 下载尚未上报大小）只展示已传部分
func FormatProgress(uploadedBytes, totalBytes int64) string {
	if totalBytes <= 0 {
		return FormatBytes(uploadedBytes)
	}
	return fmt.Sprintf("%s / %s", FormatBytes(uploadedBytes), FormatBytes(totalBytes))
}
