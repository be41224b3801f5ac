// internal/service/inventory/domain/unit.go
package domain

import (
	"fmt"
	"time"
)

// Status 定义了序列化库存单元的生命周期状态
type Status string

const (
	StatusAvailable Status = "AVAILABLE" // 在库可售
	StatusReserved  Status = "RESERVED"  // 已被订单临时锁定
	StatusSold      Status = "SOLD"      // 已售出
	StatusDefective Status = "DEFECTIVE" // 质检不合格（仅管理通道可达）
	StatusReturned  Status = "RETURNED"  // 已退回（仅管理通道可达）
)

// Valid 判断状态值是否属于已定义的闭集
func (s Status) Valid() bool {
	switch s {
	case StatusAvailable, StatusReserved, StatusSold, StatusDefective, StatusReturned:
		return true
	}
	return false
}

// Channel 是发起预留的销售渠道标识
type Channel string

const (
	ChannelPOS    Channel = "POS"
	ChannelOnline Channel = "ONLINE"
	ChannelOrder  Channel = "ORDER"
)

// VariantSpec 是商品变体的规格属性，用于同规格替代判定。
// 全部属性同时相等（或同时为空）才视为同规格。
type VariantSpec struct {
	Color   string
	CPU     string
	RAM     string
	Storage string
	GPU     string
}

// Empty 判断规格是否完全未设置
func (s VariantSpec) Empty() bool {
	return s == VariantSpec{}
}

// Matches 判断两个规格是否可互相替代
func (s VariantSpec) Matches(other VariantSpec) bool {
	if s.Empty() && other.Empty() {
		return true
	}
	return s == other
}

// Unit 是单个物理库存单元的聚合根。
// 每一台实物对应一行记录，而不是按 SKU 计数。
type Unit struct {
	ID        uint64
	Serial    string // 人类可读的序列号，全局唯一
	VariantID uint64
	ProductID uint64
	Spec      VariantSpec
	Status    Status

	// 预留元数据，仅在 RESERVED 状态下有值
	ReservedAt      *time.Time
	ReservedChannel Channel
	OrderID         string

	// 批次溯源信息，预留协议本身不使用
	BatchID      string
	Supplier     string
	WarrantyFrom *time.Time
	WarrantyTo   *time.Time

	// Version 是乐观并发令牌，每次保存自增
	Version int64

	Deleted   bool // 软删除标记，被订单引用的单元不允许物理删除
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Reserve 将单元从 AVAILABLE 流转到 RESERVED，并盖上预留元数据。
// 状态机的每个流转点都做穷尽匹配，新增状态时编译期就会暴露遗漏。
func (u *Unit) Reserve(at time.Time, channel Channel, orderID string) error {
	switch u.Status {
	case StatusAvailable:
		// 允许流转
	case StatusReserved, StatusSold, StatusDefective, StatusReturned:
		return &InvalidTransitionError{UnitID: u.ID, From: u.Status, To: StatusReserved}
	default:
		return fmt.Errorf("unit %d has unknown status %q", u.ID, u.Status)
	}
	u.Status = StatusReserved
	u.ReservedAt = &at
	u.ReservedChannel = channel
	u.OrderID = orderID
	u.UpdatedAt = at
	return nil
}

// ConfirmSale 将单元从 RESERVED 流转到 SOLD。
// 调用方必须先通过 BelongsToOrder 校验归属，防止确认他人的预留。
func (u *Unit) ConfirmSale(at time.Time) error {
	switch u.Status {
	case StatusReserved:
		// 允许流转
	case StatusAvailable, StatusSold, StatusDefective, StatusReturned:
		return &InvalidTransitionError{UnitID: u.ID, From: u.Status, To: StatusSold}
	default:
		return fmt.Errorf("unit %d has unknown status %q", u.ID, u.Status)
	}
	u.Status = StatusSold
	// 售出后清除预留痕迹，保留订单号用于售后追溯
	u.ReservedAt = nil
	u.ReservedChannel = ""
	u.UpdatedAt = at
	return nil
}

// Release 将单元从 RESERVED 还原为 AVAILABLE，清空全部预留元数据。
// 对已经是 AVAILABLE 的单元调用是幂等空操作：
// 过期清扫和显式取消可能并发触达同一单元，二者都不应失败。
func (u *Unit) Release(at time.Time) (changed bool, err error) {
	switch u.Status {
	case StatusAvailable:
		return false, nil
	case StatusReserved:
		// 允许流转
	case StatusSold, StatusDefective, StatusReturned:
		return false, &InvalidTransitionError{UnitID: u.ID, From: u.Status, To: StatusAvailable}
	default:
		return false, fmt.Errorf("unit %d has unknown status %q", u.ID, u.Status)
	}
	u.Status = StatusAvailable
	u.ReservedAt = nil
	u.ReservedChannel = ""
	u.OrderID = ""
	u.UpdatedAt = at
	return true, nil
}

// TransitionTo 是批量管理操作使用的通用流转入口。
// 预留协议不走这里；DEFECTIVE/RETURNED 只能通过本方法到达。
func (u *Unit) TransitionTo(target Status, at time.Time) error {
	if !target.Valid() {
		return fmt.Errorf("unknown target status %q", target)
	}
	switch target {
	case StatusAvailable:
		switch u.Status {
		case StatusReserved, StatusReturned:
			_, err := u.releaseForce(at)
			return err
		case StatusAvailable:
			return nil
		case StatusSold, StatusDefective:
			return &InvalidTransitionError{UnitID: u.ID, From: u.Status, To: target}
		}
	case StatusReserved:
		// 预留只能通过 Reserve 携带元数据完成
		return &InvalidTransitionError{UnitID: u.ID, From: u.Status, To: target}
	case StatusSold:
		return u.ConfirmSale(at)
	case StatusDefective, StatusReturned:
		switch u.Status {
		case StatusAvailable, StatusReserved, StatusSold, StatusReturned:
			u.Status = target
			u.ReservedAt = nil
			u.ReservedChannel = ""
			u.UpdatedAt = at
			return nil
		case StatusDefective:
			return &InvalidTransitionError{UnitID: u.ID, From: u.Status, To: target}
		}
	}
	return fmt.Errorf("unit %d has unknown status %q", u.ID, u.Status)
}

// releaseForce 与 Release 相同，但允许从 RETURNED 回到 AVAILABLE（质检通过后重新上架）
func (u *Unit) releaseForce(at time.Time) (bool, error) {
	if u.Status == StatusReturned {
		u.Status = StatusReserved // 借用 Release 的清理路径
	}
	return u.Release(at)
}

// BelongsToOrder 校验单元当前的预留归属
func (u *Unit) BelongsToOrder(orderID string) bool {
	return u.Status == StatusReserved && u.OrderID == orderID
}

// ExpiredBy 判断预留是否在给定时刻之前已超时
func (u *Unit) ExpiredBy(deadline time.Time) bool {
	return u.Status == StatusReserved && u.ReservedAt != nil && u.ReservedAt.Before(deadline)
}
