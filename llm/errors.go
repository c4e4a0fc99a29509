// Package llm 定义网络型组件（嵌入、重排序、远程索引）共享的错误模型。
//
// 所有对外暴露的失败都收敛为 *Error：组件边界捕获原始 Provider 错误并
// 转换为带错误码的类型化错误，原始异常不会越过网关泄露给调用方。
package llm

import (
	"errors"
	"fmt"
)

// ErrorCode 统一错误码，用于对齐 HTTP 状态、可重试性与降级策略。
type ErrorCode string

const (
	ErrInvalidRequest    ErrorCode = "RAG_INVALID_REQUEST"    // 参数/输入校验失败，永不重试
	ErrUnauthorized      ErrorCode = "RAG_UNAUTHORIZED"       // 密钥失效或未授权
	ErrForbidden         ErrorCode = "RAG_FORBIDDEN"          // 权限或内容策略拒绝
	ErrRateLimited       ErrorCode = "RAG_RATE_LIMITED"       // 上游或本地限流
	ErrUpstreamTimeout   ErrorCode = "RAG_UPSTREAM_TIMEOUT"   // 上游超时（可重试）
	ErrUpstreamError     ErrorCode = "RAG_UPSTREAM_ERROR"     // 上游 5xx/网络错误
	ErrProviderExhausted ErrorCode = "RAG_PROVIDER_EXHAUSTED" // 所有 Provider 重试后仍失败（终态）
	ErrIndexUnavailable  ErrorCode = "RAG_INDEX_UNAVAILABLE"  // 向量/词法索引后端不可用
)

// Error 是组件边界的类型化错误。
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Provider   string    `json:"provider,omitempty"`
}

func (e *Error) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s: %s (provider=%s)", e.Code, e.Message, e.Provider)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is 支持 errors.Is 按错误码比较。
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// IsRetryable 判断错误是否可重试。非 *Error 的错误一律视为可重试的
// 瞬时故障（网络层错误通常没有结构化信息）。
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return err != nil
}

// CodeOf 提取错误码；非类型化错误返回空串。
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Invalid 构造一个校验错误（不重试）。
func Invalid(msg string) *Error {
	return &Error{Code: ErrInvalidRequest, Message: msg, HTTPStatus: 400, Retryable: false}
}

// Exhausted 构造 Provider 链耗尽的终态错误，附带最后一个底层错误信息。
func Exhausted(provider string, last error) *Error {
	msg := "all providers exhausted"
	if last != nil {
		msg = fmt.Sprintf("all providers exhausted, last error: %v", last)
	}
	return &Error{Code: ErrProviderExhausted, Message: msg, HTTPStatus: 502, Retryable: false, Provider: provider}
}
