package core

import "fmt"

// DomainError 是领域层的统一错误类型。
//
// 设计原则：
//   - 所有领域层错误都使用此类型，提供错误代码（Code）和消息（Message）
//   - 调用方通过 IsXXX 检查错误类别，而不是比较 error 实例
//
// 错误分类：
//   - NOT_FOUND：未知用户/物品/实验，调用方直接返回，无需重试
//   - INVALID_CONFIG：创建期拒绝的配置错误（split_ratio 越界、重名实验等）
//   - UNAVAILABLE：缓存/计数存储暂不可达，链路降级为实时计算
//   - NOT_SUPPORTED：存储后端不支持某操作
type DomainError struct {
	Code    string
	Message string
	Module  string // store / recall / abtest / rule ...
}

func (e *DomainError) Error() string {
	return e.Message
}

// 错误代码常量
const (
	ErrorCodeNotFound      = "NOT_FOUND"
	ErrorCodeInvalidConfig = "INVALID_CONFIG"
	ErrorCodeUnavailable   = "UNAVAILABLE"
	ErrorCodeNotSupported  = "NOT_SUPPORTED"
	ErrorCodeInternalError = "INTERNAL_ERROR"
)

// 模块名称常量
const (
	ModuleStore    = "store"
	ModuleRecall   = "recall"
	ModuleRule     = "rule"
	ModuleABTest   = "abtest"
	ModuleRealtime = "realtime"
	ModuleFeature  = "feature"
	ModuleEngine   = "engine"
)

// NewDomainError 创建新的领域错误。
func NewDomainError(module, code, message string) *DomainError {
	return &DomainError{Module: module, Code: code, Message: message}
}

// NewDomainErrorf 创建带格式化消息的领域错误。
func NewDomainErrorf(module, code, format string, args ...any) *DomainError {
	return &DomainError{Module: module, Code: code, Message: fmt.Sprintf(format, args...)}
}

// GetDomainError 获取 DomainError，如果不是则返回 nil。
func GetDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	if domainErr, ok := err.(*DomainError); ok {
		return domainErr
	}
	return nil
}

func hasCode(err error, code string) bool {
	if domainErr := GetDomainError(err); domainErr != nil {
		return domainErr.Code == code
	}
	return false
}

// IsNotFound 检查错误是否为 NOT_FOUND。
func IsNotFound(err error) bool { return hasCode(err, ErrorCodeNotFound) }

// IsInvalidConfig 检查错误是否为 INVALID_CONFIG。
func IsInvalidConfig(err error) bool { return hasCode(err, ErrorCodeInvalidConfig) }

// IsUnavailable 检查错误是否为 UNAVAILABLE（可降级的存储故障）。
func IsUnavailable(err error) bool { return hasCode(err, ErrorCodeUnavailable) }

// IsNotSupported 检查错误是否为 NOT_SUPPORTED。
func IsNotSupported(err error) bool { return hasCode(err, ErrorCodeNotSupported) }
