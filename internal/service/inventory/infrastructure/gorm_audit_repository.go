// internal/service/inventory/infrastructure/gorm_audit_repository.go
package infrastructure

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"serialstock/internal/service/inventory/domain"
)

// GormAuditRepository 是 domain.AuditRepository 的 GORM 实现。
// 表只追加，没有任何 UPDATE/DELETE 路径。
type GormAuditRepository struct {
	db *gorm.DB
}

// NewGormAuditRepository 创建一个新的审计仓储实例
func NewGormAuditRepository(db *gorm.DB) *GormAuditRepository {
	return &GormAuditRepository{db: db}
}

func (r *GormAuditRepository) Append(ctx context.Context, entry *domain.AuditEntry) error {
	model := ToAuditModel(entry)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return errors.Wrap(err, "append audit entry")
	}
	entry.ID = model.ID
	return nil
}

func (r *GormAuditRepository) AppendBatch(ctx context.Context, entries []*domain.AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}
	models := make([]*AuditModel, len(entries))
	for i, e := range entries {
		models[i] = ToAuditModel(e)
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&models).Error
	})
	if err != nil {
		return errors.Wrap(err, "append audit batch")
	}
	for i, m := range models {
		entries[i].ID = m.ID
	}
	return nil
}

func (r *GormAuditRepository) FindByUnit(ctx context.Context, unitID uint64) ([]*domain.AuditEntry, error) {
	var models []AuditModel
	err := r.db.WithContext(ctx).
		Where("unit_id = ?", unitID).
		Order("created_at ASC, id ASC").
		Find(&models).Error
	if err != nil {
		return nil, errors.Wrap(err, "find audit trail")
	}
	entries := make([]*domain.AuditEntry, len(models))
	for i := range models {
		entries[i] = ToDomainAudit(&models[i])
	}
	return entries, nil
}
