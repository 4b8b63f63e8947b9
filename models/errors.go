package models

import (
	"errors"
	"fmt"
)

// ErrorKind 错误分类，路由层据此映射 HTTP 状态码
type ErrorKind string

const (
	KindValidation         ErrorKind = "validation"
	KindNotFound           ErrorKind = "not_found"
	KindUnauthorized       ErrorKind = "unauthorized"
	KindUnauthenticated    ErrorKind = "unauthenticated"
	KindConflict           ErrorKind = "conflict"
	KindServiceUnavailable ErrorKind = "service_unavailable"
	KindUpstream           ErrorKind = "upstream"
	KindStorage            ErrorKind = "storage"
	KindDatabase           ErrorKind = "database"
	KindInternal           ErrorKind = "internal"
)

// Error is the single error type shared by the stores, the AI clients and the coordinator.
type Error struct {
	Kind ErrorKind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Op == "" {
		return msg
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind, so errors.Is(err, &Error{Kind: KindNotFound}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Msg == ""
}

func NewError(kind ErrorKind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

func WrapError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Validation(op, msg string) *Error   { return NewError(KindValidation, op, msg) }
func NotFound(op, msg string) *Error     { return NewError(KindNotFound, op, msg) }
func Unauthorized(op, msg string) *Error { return NewError(KindUnauthorized, op, msg) }
func Conflict(op, msg string) *Error     { return NewError(KindConflict, op, msg) }

// KindOf 返回错误链上第一个 *Error 的分类，非 *Error 视为 internal
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}
