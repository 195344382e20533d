package task

import (
	"errors"
	"fmt"
)

// 对外错误分类。除此之外的内部错误（存储、通知）不会以独立类型暴露。
var (
	// ErrUnauthorized 请求未携带有效身份。
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotFound 任务不存在或不属于请求者。两种情况刻意不作区分，
	// 避免向非所有者泄露任务是否存在。
	ErrNotFound = errors.New("task not found")
)

// MissingFieldError 表示必填输入缺失、为空或格式非法。
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing or empty field: %s", e.Field)
}

// ExternalServiceError 表示外部依赖（文本补全）调用失败。
// 只有 Recommend 路径会把它透给调用方。
type ExternalServiceError struct {
	Service string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Service, e.Err)
}

func (e *ExternalServiceError) Unwrap() error {
	return e.Err
}
