package api

import "errors"

// 错误类别哨兵，贯穿各推理阶段与解析器，调用方通过 errors.Is 判别
var (
	// ErrInvalidArgument 入参为空或类型不符、配置缺失、任务参数名不匹配
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrInvalidFormat 输入 JSON 或包元数据无法解析
	ErrInvalidFormat = errors.New("invalid format")
	// ErrFileNotFound 字典、嵌入向量或模型文件不存在
	ErrFileNotFound = errors.New("file not found")
	// ErrFileNotOpen 文件存在但无法打开或读取
	ErrFileNotOpen = errors.New("file not open")
	// ErrSession 后端会话打开/运行/停止失败、张量构建失败、必需参数缺失等
	ErrSession = errors.New("session error")
	// ErrFeatureNotSupported 请求的执行后端不可用、不支持的包格式
	ErrFeatureNotSupported = errors.New("feature not supported")
	// ErrNotImplemented 尚未实现的能力（异步启动）
	ErrNotImplemented = errors.New("not implemented")
)
