// internal/service/order/domain/errors.go
package domain

import (
	"errors"
	"fmt"
)

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrInvalidPayload    = errors.New("invalid order payload")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrUnknownState      = errors.New("unknown order state")
	ErrDuplicateAttempt  = errors.New("execution attempt already exists")
	ErrRejectedByPolicy  = errors.New("order rejected by admission policy")
	ErrUnknownVenue      = errors.New("unknown venue")
	ErrNoQuotes          = errors.New("no venue quotes available")
)

// ErrorKind 是处理步骤错误的分类标签
type ErrorKind int

const (
	// KindRetriable 瞬时错误, 交由任务队列退避重试
	KindRetriable ErrorKind = iota + 1
	// KindFatal 业务规则违反, 订单直接进入 failed, 不再重投
	KindFatal
)

func (k ErrorKind) String() string {
	switch k {
	case KindFatal:
		return "fatal"
	case KindRetriable:
		return "retriable"
	default:
		return "unknown"
	}
}

// StepError 携带错误分类的错误值
type StepError struct {
	Kind ErrorKind
	Err  error
}

func (e *StepError) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Err.Error()
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Fatal 将 err 标记为不可重试
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &StepError{Kind: KindFatal, Err: err}
}

func Fatalf(format string, args ...any) error {
	return Fatal(fmt.Errorf(format, args...))
}

// Retriable 将 err 标记为可重试
func Retriable(err error) error {
	if err == nil {
		return nil
	}
	return &StepError{Kind: KindRetriable, Err: err}
}

func Retriablef(format string, args ...any) error {
	return Retriable(fmt.Errorf(format, args...))
}

// KindOf 返回错误链中最外层的分类; 未标记的错误视为可重试。
func KindOf(err error) ErrorKind {
	var se *StepError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindRetriable
}

func IsFatal(err error) bool {
	return err != nil && KindOf(err) == KindFatal
}
