package errors

import (
	"errors"
	"fmt"

	"quantflow/pkg/errors/ecode"
)

// 带错误码的error，组件边界统一用错误码区分错误类别，
// response包根据错误码决定HTTP状态

type codedError struct {
	code  int
	msg   string
	cause error
}

func (e *codedError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.cause)
	}
	return e.msg
}

func (e *codedError) Unwrap() error {
	return e.cause
}

// New 创建一个带错误码的error
func New(code int, msg string) error {
	if msg == "" {
		msg = ecode.Message(code)
	}
	return &codedError{code: code, msg: msg}
}

// Newf 创建一个带错误码的error（格式化消息）
func Newf(code int, format string, args ...interface{}) error {
	return &codedError{code: code, msg: fmt.Sprintf(format, args...)}
}

// Wrap 在已有错误上附加错误码和上下文
func Wrap(err error, code int, msg string) error {
	if err == nil {
		return nil
	}
	if msg == "" {
		msg = ecode.Message(code)
	}
	return &codedError{code: code, msg: msg, cause: err}
}

// Code 取错误的错误码；非codedError返回InternalErr
func Code(err error) int {
	if err == nil {
		return ecode.Success
	}
	var ce *codedError
	if errors.As(err, &ce) {
		return ce.code
	}
	return ecode.InternalErr
}

// IsCode 判断错误是否属于某个错误码
func IsCode(err error, code int) bool {
	return Code(err) == code
}

// DecodeErr 解析错误为 (code, message)，供响应层使用
func DecodeErr(err error) (int, string) {
	if err == nil {
		return ecode.Success, ecode.Message(ecode.Success)
	}
	var ce *codedError
	if errors.As(err, &ce) {
		return ce.code, ce.Error()
	}
	return ecode.InternalErr, err.Error()
}
