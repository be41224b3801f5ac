// internal/service/inventory/domain/repository.go
package domain

import (
	"context"
	"time"
)

// UnitRepository 定义了库存单元的持久化接口。
// 它位于领域层，由基础设施层实现。
// Save 必须应用乐观版本校验：版本不匹配时返回 ErrConcurrentModification。
type UnitRepository interface {
	// FindByID 按主键查找单元（含软删除过滤）
	FindByID(ctx context.Context, id uint64) (*Unit, error)

	// FindByIDs 按主键集合查找，缺失的 id 不报错，由调用方比对
	FindByIDs(ctx context.Context, ids []uint64) ([]*Unit, error)

	// FindAvailableByVariant 按创建时间升序（FIFO）返回某变体最多 limit 个 AVAILABLE 单元
	FindAvailableByVariant(ctx context.Context, variantID uint64, limit int) ([]*Unit, error)

	// FindAvailableBySpec 返回同商品下、规格与 spec 完全一致的其它变体的 AVAILABLE 单元，
	// 排除 excludeVariantID 本身，按创建时间升序，最多 limit 个
	FindAvailableBySpec(ctx context.Context, productID uint64, spec VariantSpec, excludeVariantID uint64, limit int) ([]*Unit, error)

	// FindVariant 返回变体的商品归属和规格属性，供替代判定使用
	FindVariant(ctx context.Context, variantID uint64) (*Variant, error)

	// CountAvailable 返回某变体当前 AVAILABLE 单元数。
	// 计数永远即时查询，进程内缓存不作为分配依据。
	CountAvailable(ctx context.Context, variantID uint64) (int, error)

	// Save 带版本校验地保存单元；成功后 unit.Version 自增
	Save(ctx context.Context, unit *Unit) error

	// Create 插入新单元；序列号唯一键冲突时返回 ErrDuplicateSerial
	Create(ctx context.Context, unit *Unit) error

	// CreateBatch 在单个事务内插入一批单元，任一序列号冲突则整批回滚
	CreateBatch(ctx context.Context, units []*Unit) error

	// ExistsSerial 判断序列号是否已被占用
	ExistsSerial(ctx context.Context, serial string) (bool, error)

	// ReleaseExpired 用一条集合更新把 reservedAt 早于 deadline 的 RESERVED 单元
	// 批量还原为 AVAILABLE 并清空预留元数据，返回被清扫单元还原前的快照
	ReleaseExpired(ctx context.Context, deadline time.Time) ([]*Unit, error)
}

// AuditRepository 定义了审计历史的持久化接口。
// 条目只追加，写入后不可变。
type AuditRepository interface {
	Append(ctx context.Context, entry *AuditEntry) error
	AppendBatch(ctx context.Context, entries []*AuditEntry) error

	// FindByUnit 按时间升序返回某单元的全部历史
	FindByUnit(ctx context.Context, unitID uint64) ([]*AuditEntry, error)
}

// Locker 是按变体串行化预留的互斥原语。
// 生产环境用 ZooKeeper/Redis 实现，测试替换为进程内互斥锁。
type Locker interface {
	// Acquire 阻塞获取 key 对应的锁，超时返回 ErrLockTimeout；
	// 成功时返回释放函数，调用方必须在临界区结束后调用
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// SubstitutionPolicy 决定缺口是否允许用同规格兄弟变体补齐
type SubstitutionPolicy interface {
	AllowFallback(ctx context.Context, input PolicyInput) (bool, error)
}

// PolicyInput 是替代策略的求值事实
type PolicyInput struct {
	Channel   Channel
	VariantID uint64
	Requested int
	Shortfall int
}

// StockEvent 是对外广播的状态流转事件
type StockEvent struct {
	UnitID    uint64    `json:"unitId"`
	Serial    string    `json:"serial"`
	VariantID uint64    `json:"variantId"`
	Action    Action    `json:"action"`
	Status    Status    `json:"status"`
	OrderID   string    `json:"orderId,omitempty"`
	Channel   Channel   `json:"channel,omitempty"`
	Actor     string    `json:"actor"`
	At        time.Time `json:"at"`
}

// EventPublisher 把状态流转事件广播给下游（Kafka 等）。
// 发布失败只记日志，不影响本次调用的正确性。
type EventPublisher interface {
	Publish(ctx context.Context, event *StockEvent) error
}
