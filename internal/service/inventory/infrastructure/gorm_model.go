// internal/service/inventory/infrastructure/gorm_model.go
package infrastructure

import (
	"database/sql"
	"time"
)

// UnitModel 对应数据库中的 stock_unit 表
type UnitModel struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	Serial    string `gorm:"uniqueIndex;size:64"`
	VariantID uint64 `gorm:"index:idx_variant_status"`
	Status    string `gorm:"index:idx_variant_status;size:16"`

	ReservedAt      sql.NullTime   `gorm:"index"`
	ReservedChannel sql.NullString `gorm:"size:16"`
	OrderID         sql.NullString `gorm:"size:64;index"`

	BatchID      sql.NullString `gorm:"size:64;index"`
	Supplier     sql.NullString `gorm:"size:128"`
	WarrantyFrom sql.NullTime
	WarrantyTo   sql.NullTime

	Version int64 `gorm:"not null;default:0"`
	Deleted bool  `gorm:"not null;default:false"`

	CreatedAt time.Time `gorm:"index"`
	UpdatedAt time.Time
}

// TableName 指定 GORM 应该使用的表名
func (UnitModel) TableName() string {
	return "stock_unit"
}

// VariantModel 对应 product_variant 表，引擎只读取归属与规格列
type VariantModel struct {
	ID        uint64 `gorm:"primaryKey"`
	ProductID uint64 `gorm:"index"`
	Code      string `gorm:"uniqueIndex;size:64"`
	Color     string `gorm:"size:32"`
	CPU       string `gorm:"column:cpu;size:64"`
	RAM       string `gorm:"column:ram;size:32"`
	Storage   string `gorm:"size:32"`
	GPU       string `gorm:"column:gpu;size:64"`
}

// TableName 指定 GORM 应该使用的表名
func (VariantModel) TableName() string {
	return "product_variant"
}

// AuditModel 对应 stock_audit 表，只追加
type AuditModel struct {
	ID        uint64         `gorm:"primaryKey;autoIncrement"`
	UnitID    uint64         `gorm:"index"`
	Action    string         `gorm:"size:32"`
	Actor     string         `gorm:"size:64"`
	Reason    string         `gorm:"size:255"`
	Before    string         `gorm:"type:text"`
	After     string         `gorm:"type:text"`
	BatchID   sql.NullString `gorm:"size:64;index"`
	OrderID   sql.NullString `gorm:"size:64;index"`
	Channel   sql.NullString `gorm:"size:16"`
	CreatedAt time.Time      `gorm:"index"`
}

// TableName 指定 GORM 应该使用的表名
func (AuditModel) TableName() string {
	return "stock_audit"
}
