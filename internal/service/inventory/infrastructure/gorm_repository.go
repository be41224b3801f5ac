// internal/service/inventory/infrastructure/gorm_repository.go
package infrastructure

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"serialstock/internal/service/inventory/domain"
)

// GormUnitRepository 是 domain.UnitRepository 的 GORM 实现。
// 乐观并发体现在 Save 的 WHERE version = ? 谓词上，而不是藏在框架行为里。
type GormUnitRepository struct {
	db *gorm.DB
}

// NewGormUnitRepository 创建一个新的 GORM 仓储实例
func NewGormUnitRepository(db *gorm.DB) *GormUnitRepository {
	return &GormUnitRepository{db: db}
}

func (r *GormUnitRepository) FindByID(ctx context.Context, id uint64) (*domain.Unit, error) {
	var model UnitModel
	err := r.db.WithContext(ctx).
		Where("id = ? AND deleted = false", id).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrUnitNotFound
		}
		return nil, errors.Wrap(err, "find unit by id")
	}
	return ToDomainUnit(&model), nil
}

func (r *GormUnitRepository) FindByIDs(ctx context.Context, ids []uint64) ([]*domain.Unit, error) {
	var models []UnitModel
	err := r.db.WithContext(ctx).
		Where("id IN ? AND deleted = false", ids).
		Find(&models).Error
	if err != nil {
		return nil, errors.Wrap(err, "find units by ids")
	}
	return toDomainUnits(models), nil
}

// FindAvailableByVariant 按创建时间升序取货，最老的库存先出
func (r *GormUnitRepository) FindAvailableByVariant(ctx context.Context, variantID uint64, limit int) ([]*domain.Unit, error) {
	var models []UnitModel
	err := r.db.WithContext(ctx).
		Where("variant_id = ? AND status = ? AND deleted = false", variantID, string(domain.StatusAvailable)).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, errors.Wrap(err, "find available units")
	}
	return toDomainUnits(models), nil
}

// FindAvailableBySpec 跨兄弟变体选同规格候选。
// 规格五个属性全部相等（或全部为空）才算同规格。
func (r *GormUnitRepository) FindAvailableBySpec(ctx context.Context, productID uint64, spec domain.VariantSpec, excludeVariantID uint64, limit int) ([]*domain.Unit, error) {
	var models []UnitModel
	err := r.db.WithContext(ctx).
		Joins("JOIN product_variant pv ON pv.id = stock_unit.variant_id").
		Where("pv.product_id = ? AND pv.id <> ?", productID, excludeVariantID).
		Where("pv.color = ? AND pv.cpu = ? AND pv.ram = ? AND pv.storage = ? AND pv.gpu = ?",
			spec.Color, spec.CPU, spec.RAM, spec.Storage, spec.GPU).
		Where("stock_unit.status = ? AND stock_unit.deleted = false", string(domain.StatusAvailable)).
		Order("stock_unit.created_at ASC, stock_unit.id ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, errors.Wrap(err, "find same-spec units")
	}
	return toDomainUnits(models), nil
}

func (r *GormUnitRepository) FindVariant(ctx context.Context, variantID uint64) (*domain.Variant, error) {
	var model VariantModel
	err := r.db.WithContext(ctx).Where("id = ?", variantID).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrapf(domain.ErrUnitNotFound, "variant %d", variantID)
		}
		return nil, errors.Wrap(err, "find variant")
	}
	return ToDomainVariant(&model), nil
}

func (r *GormUnitRepository) CountAvailable(ctx context.Context, variantID uint64) (int, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&UnitModel{}).
		Where("variant_id = ? AND status = ? AND deleted = false", variantID, string(domain.StatusAvailable)).
		Count(&count).Error
	if err != nil {
		return 0, errors.Wrap(err, "count available units")
	}
	return int(count), nil
}

// Save 应用乐观版本校验：UPDATE ... WHERE id = ? AND version = ?。
// RowsAffected 为 0 即版本不匹配，返回 ErrConcurrentModification。
func (r *GormUnitRepository) Save(ctx context.Context, unit *domain.Unit) error {
	model := ToUnitModel(unit)
	expected := unit.Version
	model.Version = expected + 1
	model.UpdatedAt = time.Now()

	// Select 显式列出全部可变列，零值（如清空的预留元数据）才会被写入
	result := r.db.WithContext(ctx).Model(&UnitModel{}).
		Where("id = ? AND version = ?", model.ID, expected).
		Select("status", "reserved_at", "reserved_channel", "order_id",
			"batch_id", "supplier", "warranty_from", "warranty_to",
			"version", "deleted", "updated_at").
		Updates(model)
	if result.Error != nil {
		return errors.Wrap(result.Error, "save unit")
	}
	if result.RowsAffected == 0 {
		return domain.ErrConcurrentModification
	}
	unit.Version = expected + 1
	unit.UpdatedAt = model.UpdatedAt
	return nil
}

func (r *GormUnitRepository) Create(ctx context.Context, unit *domain.Unit) error {
	model := ToUnitModel(unit)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isDuplicateKey(err) {
			return errors.Wrapf(domain.ErrDuplicateSerial, "serial %q", unit.Serial)
		}
		return errors.Wrap(err, "create unit")
	}
	unit.ID = model.ID
	return nil
}

// CreateBatch 单事务整批插入，任一序列号冲突整批回滚
func (r *GormUnitRepository) CreateBatch(ctx context.Context, units []*domain.Unit) error {
	models := make([]*UnitModel, len(units))
	for i, u := range units {
		models[i] = ToUnitModel(u)
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&models).Error
	})
	if err != nil {
		if isDuplicateKey(err) {
			return domain.ErrDuplicateSerial
		}
		return errors.Wrap(err, "create unit batch")
	}
	for i, m := range models {
		units[i].ID = m.ID
	}
	return nil
}

func (r *GormUnitRepository) ExistsSerial(ctx context.Context, serial string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&UnitModel{}).
		Where("serial = ?", serial).
		Count(&count).Error
	if err != nil {
		return false, errors.Wrap(err, "check serial")
	}
	return count > 0, nil
}

// ReleaseExpired 先在事务内锁定过期行取还原前快照，再用一条集合更新批量还原，
// 避免逐行往返，清扫成本与过期行数解耦于请求流量。
func (r *GormUnitRepository) ReleaseExpired(ctx context.Context, deadline time.Time) ([]*domain.Unit, error) {
	var snapshots []UnitModel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("status = ? AND reserved_at < ? AND deleted = false", string(domain.StatusReserved), deadline).
			Find(&snapshots).Error; err != nil {
			return err
		}
		if len(snapshots) == 0 {
			return nil
		}
		return tx.Model(&UnitModel{}).
			Where("status = ? AND reserved_at < ? AND deleted = false", string(domain.StatusReserved), deadline).
			Updates(map[string]interface{}{
				"status":           string(domain.StatusAvailable),
				"reserved_at":      nil,
				"reserved_channel": nil,
				"order_id":         nil,
				"version":          gorm.Expr("version + 1"),
				"updated_at":       time.Now(),
			}).Error
	})
	if err != nil {
		return nil, errors.Wrap(err, "release expired units")
	}
	return toDomainUnits(snapshots), nil
}

func toDomainUnits(models []UnitModel) []*domain.Unit {
	units := make([]*domain.Unit, len(models))
	for i := range models {
		units[i] = ToDomainUnit(&models[i])
	}
	return units
}

// isDuplicateKey 识别 MySQL 唯一键冲突（1062）
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "Duplicate entry")
}
