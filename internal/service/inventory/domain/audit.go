// internal/service/inventory/domain/audit.go
package domain

import "time"

// Action 是审计条目的动作标签
type Action string

const (
	ActionCreate       Action = "CREATE"
	ActionUpdate       Action = "UPDATE"
	ActionStatusChange Action = "STATUS_CHANGE"
	ActionReserve      Action = "RESERVE"
	ActionConfirmSale  Action = "CONFIRM_SALE"
	ActionRelease      Action = "RELEASE"
	ActionDelete       Action = "DELETE"
)

// SystemActor 是系统自发动作（如过期清扫）的审计署名
const SystemActor = "system"

// AuditEntry 是一条不可变的历史记录，每次状态流转写一行。
// UnitID 只是查询用的回指，不构成所有权关联。
type AuditEntry struct {
	ID        uint64
	UnitID    uint64
	Action    Action
	Actor     string
	Reason    string
	Before    string // 变更前快照，JSON 序列化
	After     string // 变更后快照，JSON 序列化
	BatchID   string
	OrderID   string
	Channel   Channel
	CreatedAt time.Time
}

// UnitSnapshot 是写入审计快照的结构化视图
type UnitSnapshot struct {
	Status          Status     `json:"status"`
	ReservedAt      *time.Time `json:"reservedAt,omitempty"`
	ReservedChannel Channel    `json:"reservedChannel,omitempty"`
	OrderID         string     `json:"orderId,omitempty"`
	Version         int64      `json:"version"`
}

// Snapshot 提取单元的可审计状态
func Snapshot(u *Unit) UnitSnapshot {
	return UnitSnapshot{
		Status:          u.Status,
		ReservedAt:      u.ReservedAt,
		ReservedChannel: u.ReservedChannel,
		OrderID:         u.OrderID,
		Version:         u.Version,
	}
}
