// internal/service/inventory/domain/errors.go
package domain

import (
	"errors"
	"fmt"
)

// 可重试的瞬时错误，调用方可整体重试本次调用
var (
	ErrConcurrentModification = errors.New("unit was concurrently modified")
	ErrLockTimeout            = errors.New("timed out acquiring variant lock")
)

// 不可重试的业务错误
var (
	ErrUnitNotFound    = errors.New("unit not found")
	ErrDuplicateSerial = errors.New("serial value already exists")
)

// InsufficientStockError 表示某变体的可用量不满足聚合请求量。
// 携带请求数与实际可用数，供上层渲染可操作的提示。
type InsufficientStockError struct {
	VariantID uint64
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for variant %d: requested %d, available %d",
		e.VariantID, e.Requested, e.Available)
}

// OwnershipMismatchError 表示确认/释放时单元的预留订单与调用方订单不一致
type OwnershipMismatchError struct {
	UnitID      uint64
	UnitOrderID string
	CallerOrder string
}

func (e *OwnershipMismatchError) Error() string {
	return fmt.Sprintf("unit %d is held by order %q, not order %q",
		e.UnitID, e.UnitOrderID, e.CallerOrder)
}

// InvalidTransitionError 表示状态机不允许的流转
type InvalidTransitionError struct {
	UnitID uint64
	From   Status
	To     Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("unit %d cannot transition from %s to %s", e.UnitID, e.From, e.To)
}

// IsRetryable 判断错误是否属于调用方可重试的瞬时失败
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification) || errors.Is(err, ErrLockTimeout)
}
