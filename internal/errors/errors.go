// Package errors 定义带错误码的应用错误。
//
// 设备通信、数据库和配置各占一个号段，调用方用 Is 判断类别，
// 用 IsCritical 判断当前会话是否还能继续使用。
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrorCode 错误码类型
type ErrorCode int

const (
	// 通用 (1000-1999)
	ErrUnknown      ErrorCode = 1000
	ErrInvalidParam ErrorCode = 1001

	// 设备通信 (3000-3999)
	ErrTransportUnavailable ErrorCode = 3000
	ErrTransportIO          ErrorCode = 3001
	ErrProtocolFraming      ErrorCode = 3002
	ErrPromptTimeout        ErrorCode = 3003

	// 数据库 (5000-5999)
	ErrDatabaseConnect ErrorCode = 5000
	ErrDatabaseQuery   ErrorCode = 5001
	ErrDatabaseInsert  ErrorCode = 5002

	// 配置 (6000-6999)
	ErrConfigLoad     ErrorCode = 6000
	ErrConfigParse    ErrorCode = 6001
	ErrConfigValidate ErrorCode = 6002
)

var messages = map[ErrorCode]string{
	ErrUnknown:      "未知错误",
	ErrInvalidParam: "无效的参数",

	ErrTransportUnavailable: "设备连接不可用",
	ErrTransportIO:          "设备读写失败",
	ErrProtocolFraming:      "设备响应帧格式错误",
	ErrPromptTimeout:        "等待设备提示符超时",

	ErrDatabaseConnect: "数据库连接失败",
	ErrDatabaseQuery:   "数据库查询失败",
	ErrDatabaseInsert:  "数据库插入失败",

	ErrConfigLoad:     "配置加载失败",
	ErrConfigParse:    "配置解析失败",
	ErrConfigValidate: "配置验证失败",
}

// Message 错误码对应的类别描述，未登记的错误码按未知错误处理
func Message(code ErrorCode) string {
	if msg, ok := messages[code]; ok {
		return msg
	}
	return messages[ErrUnknown]
}

// AppError 应用错误
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"` // 类别描述
	Details string    `json:"details"` // 本次出错的具体情况
	Cause   error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Details == "" {
		return fmt.Sprintf("[%d] %s", e.Code, e.Message)
	}
	return fmt.Sprintf("[%d] %s: %s", e.Code, e.Message, e.Details)
}

// Unwrap 返回底层错误
func (e *AppError) Unwrap() error {
	return e.Cause
}

// New 创建应用错误，多段详情用 "; " 连接
func New(code ErrorCode, details ...string) *AppError {
	return &AppError{
		Code:    code,
		Message: Message(code),
		Details: strings.Join(details, "; "),
	}
}

// Newf 创建格式化详情的应用错误
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap 把底层错误包装成应用错误
//
// err 已经是 AppError 时保留它的错误码，只把 details 加到原详情前面。
func Wrap(err error, code ErrorCode, details ...string) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if stderrors.As(err, &appErr) {
		if len(details) > 0 {
			prefix := strings.Join(details, "; ")
			if appErr.Details != "" {
				prefix += "; " + appErr.Details
			}
			appErr.Details = prefix
		}
		return appErr
	}

	wrapped := New(code, details...)
	wrapped.Cause = err
	if wrapped.Details == "" {
		wrapped.Details = err.Error()
	}
	return wrapped
}

// Wrapf 包装底层错误，详情为格式化字符串
func Wrapf(err error, code ErrorCode, format string, args ...interface{}) *AppError {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// Is 错误链中是否有指定错误码的 AppError
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr) && appErr.Code == code
}

// GetCode 取错误码，nil 返回 0，普通错误返回 ErrUnknown
func GetCode(err error) ErrorCode {
	if err == nil {
		return 0
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrUnknown
}

// IsCritical 是否为严重错误（会话应被丢弃）
//
// 连接断开、读写失败、帧格式错误或等待提示符超时之后，
// 无法确定设备输出停在哪里。
func IsCritical(err error) bool {
	switch GetCode(err) {
	case ErrTransportUnavailable,
		ErrTransportIO,
		ErrProtocolFraming,
		ErrPromptTimeout:
		return true
	}
	return false
}
