package xerr

// 定义了统一的业务错误码
const (
	SuccessCode = 20000 // 通用成功码

	// --- 客户端请求错误系列 (400xx) ---
	InvalidParamsCode    = 40000 // 无效的请求参数
	ValidationFailedCode = 40001 // 参数验证失败
	FileTooLargeCode     = 40002 // 文件过大
	FileNameInvalidCode  = 40003 // 文件名无效
	SourceURLInvalidCode = 40004 // 下载源 URL 无效

	// --- 资源未找到错误系列 (404xx) ---
	NotFoundCode     = 40400 // 通用资源未找到
	TaskNotFoundCode = 40401 // 上传任务不存在

	// --- 业务逻辑冲突系列 (409xx) ---
	TaskConflictCode      = 40900 // 同一任务已存在活动会话
	TaskStateInvalidCode  = 40901 // 任务当前状态不允许该操作
	TaskUnrecoverableCode = 40902 // 任务数据已丢失，无法恢复

	// --- 服务器内部错误系列 (500xx) ---
	InternalServerErrorCode = 50000 // 服务器内部通用错误
	StorageUnavailableCode  = 50001 // 本地持久化存储不可用
	SessionInitErrorCode    = 50002 // 后端拒绝初始化上传会话
	ChunkTransferErrorCode  = 50003 // 单个分片上传失败
	IncompleteUploadCode    = 50004 // 分片缺失，无法完成合并
	RemoteFetchErrorCode    = 50005 // 服务端 URL 抓取失败
	NotReadyCode            = 50006 // 持久化状态尚未完成恢复
)
