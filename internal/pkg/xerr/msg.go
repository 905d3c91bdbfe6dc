package xerr

import "errors"

var (
	// 通用错误
	ErrInternalServer = errors.New("服务器内部错误")

	// 客户端请求错误
	ErrInvalidParams    = errors.New("无效的请求参数")
	ErrValidationFailed = errors.New("参数验证失败")
	ErrFileTooLarge     = errors.New("上传文件过大，超出限制")
	ErrFileNameInvalid  = errors.New("文件名包含非法字符")
	ErrSourceURLInvalid = errors.New("下载源 URL 无效")

	// 资源未找到错误
	ErrTaskNotFound = errors.New("上传任务不存在")

	// 业务逻辑冲突
	ErrTaskConflict      = errors.New("该任务已存在活动的传输会话")
	ErrTaskStateInvalid  = errors.New("任务当前状态不允许该操作")
	ErrTaskUnrecoverable = errors.New("文件数据已随进程重启丢失，请重新选择文件")

	// 存储与传输错误
	ErrStorageUnavailable = errors.New("本地持久化存储不可用")
	ErrSessionInit        = errors.New("后端拒绝初始化上传会话")
	ErrChunkTransfer      = errors.New("分片上传失败")
	ErrIncompleteUpload   = errors.New("部分上传分片丢失，无法完成合并")
	ErrRemoteFetch        = errors.New("服务端 URL 抓取失败")
	ErrNotReady           = errors.New("上传管理器尚未完成状态恢复")
)
