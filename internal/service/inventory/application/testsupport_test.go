package application

import (
	"context"
	"sort"
	"sync"
	"time"

	"serialstock/internal/service/inventory/domain"
)

// memUnitRepo 是带版本校验的内存仓储，行为对齐 GORM 实现
type memUnitRepo struct {
	mu       sync.Mutex
	units    map[uint64]*domain.Unit
	variants map[uint64]*domain.Variant
	nextID   uint64

	// availQueries 统计候选查询次数，聚合不变式的断言依据
	availQueries int
	specQueries  int

	// saveHook 在 Save 前调用，用于注入版本冲突
	saveHook func(*domain.Unit) error
}

func newMemUnitRepo() *memUnitRepo {
	return &memUnitRepo{
		units:    make(map[uint64]*domain.Unit),
		variants: make(map[uint64]*domain.Variant),
	}
}

func cloneUnit(u *domain.Unit) *domain.Unit {
	c := *u
	if u.ReservedAt != nil {
		t := *u.ReservedAt
		c.ReservedAt = &t
	}
	return &c
}

func (r *memUnitRepo) addVariant(v *domain.Variant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.variants[v.ID] = v
}

func (r *memUnitRepo) seedUnit(u *domain.Unit) *domain.Unit {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	u.ID = r.nextID
	if u.Status == "" {
		u.Status = domain.StatusAvailable
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().Add(-time.Duration(r.nextID) * time.Minute)
	}
	r.units[u.ID] = cloneUnit(u)
	return u
}

func (r *memUnitRepo) get(id uint64) *domain.Unit {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneUnit(r.units[id])
}

func (r *memUnitRepo) FindByID(_ context.Context, id uint64) (*domain.Unit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.units[id]
	if !ok || u.Deleted {
		return nil, domain.ErrUnitNotFound
	}
	return cloneUnit(u), nil
}

func (r *memUnitRepo) FindByIDs(_ context.Context, ids []uint64) ([]*domain.Unit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Unit
	for _, id := range ids {
		if u, ok := r.units[id]; ok && !u.Deleted {
			out = append(out, cloneUnit(u))
		}
	}
	return out, nil
}

func (r *memUnitRepo) FindAvailableByVariant(_ context.Context, variantID uint64, limit int) ([]*domain.Unit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.availQueries++
	var out []*domain.Unit
	for _, u := range r.units {
		if u.VariantID == variantID && u.Status == domain.StatusAvailable && !u.Deleted {
			out = append(out, cloneUnit(u))
		}
	}
	sortFIFO(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memUnitRepo) FindAvailableBySpec(_ context.Context, productID uint64, spec domain.VariantSpec, excludeVariantID uint64, limit int) ([]*domain.Unit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specQueries++
	var out []*domain.Unit
	for _, u := range r.units {
		v, ok := r.variants[u.VariantID]
		if !ok || v.ID == excludeVariantID || v.ProductID != productID {
			continue
		}
		if !v.Spec.Matches(spec) {
			continue
		}
		if u.Status == domain.StatusAvailable && !u.Deleted {
			out = append(out, cloneUnit(u))
		}
	}
	sortFIFO(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memUnitRepo) FindVariant(_ context.Context, variantID uint64) (*domain.Variant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.variants[variantID]
	if !ok {
		return nil, domain.ErrUnitNotFound
	}
	c := *v
	return &c, nil
}

func (r *memUnitRepo) CountAvailable(_ context.Context, variantID uint64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, u := range r.units {
		if u.VariantID == variantID && u.Status == domain.StatusAvailable && !u.Deleted {
			count++
		}
	}
	return count, nil
}

func (r *memUnitRepo) Save(_ context.Context, unit *domain.Unit) error {
	if r.saveHook != nil {
		if err := r.saveHook(unit); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.units[unit.ID]
	if !ok {
		return domain.ErrUnitNotFound
	}
	if stored.Version != unit.Version {
		return domain.ErrConcurrentModification
	}
	unit.Version++
	r.units[unit.ID] = cloneUnit(unit)
	return nil
}

func (r *memUnitRepo) Create(_ context.Context, unit *domain.Unit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.units {
		if u.Serial == unit.Serial {
			return domain.ErrDuplicateSerial
		}
	}
	r.nextID++
	unit.ID = r.nextID
	r.units[unit.ID] = cloneUnit(unit)
	return nil
}

func (r *memUnitRepo) CreateBatch(_ context.Context, units []*domain.Unit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]bool)
	for _, u := range r.units {
		seen[u.Serial] = true
	}
	for _, u := range units {
		if seen[u.Serial] {
			return domain.ErrDuplicateSerial
		}
		seen[u.Serial] = true
	}
	for _, u := range units {
		r.nextID++
		u.ID = r.nextID
		r.units[u.ID] = cloneUnit(u)
	}
	return nil
}

func (r *memUnitRepo) ExistsSerial(_ context.Context, serial string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.units {
		if u.Serial == serial {
			return true, nil
		}
	}
	return false, nil
}

func (r *memUnitRepo) ReleaseExpired(_ context.Context, deadline time.Time) ([]*domain.Unit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var snapshots []*domain.Unit
	for _, u := range r.units {
		if u.ExpiredBy(deadline) && !u.Deleted {
			snapshots = append(snapshots, cloneUnit(u))
			u.Status = domain.StatusAvailable
			u.ReservedAt = nil
			u.ReservedChannel = ""
			u.OrderID = ""
			u.Version++
		}
	}
	return snapshots, nil
}

func sortFIFO(units []*domain.Unit) {
	sort.Slice(units, func(i, j int) bool {
		if units[i].CreatedAt.Equal(units[j].CreatedAt) {
			return units[i].ID < units[j].ID
		}
		return units[i].CreatedAt.Before(units[j].CreatedAt)
	})
}

// memAuditRepo 是只追加的内存审计仓储
type memAuditRepo struct {
	mu      sync.Mutex
	entries []*domain.AuditEntry
}

func newMemAuditRepo() *memAuditRepo {
	return &memAuditRepo{}
}

func (r *memAuditRepo) Append(_ context.Context, entry *domain.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := *entry
	e.ID = uint64(len(r.entries) + 1)
	r.entries = append(r.entries, &e)
	return nil
}

func (r *memAuditRepo) AppendBatch(ctx context.Context, entries []*domain.AuditEntry) error {
	for _, e := range entries {
		if err := r.Append(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (r *memAuditRepo) FindByUnit(_ context.Context, unitID uint64) ([]*domain.AuditEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.AuditEntry
	for _, e := range r.entries {
		if e.UnitID == unitID {
			c := *e
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r *memAuditRepo) byAction(action domain.Action) []*domain.AuditEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.AuditEntry
	for _, e := range r.entries {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

// allowAllPolicy 恒放行的替代策略
type allowAllPolicy struct{}

func (allowAllPolicy) AllowFallback(context.Context, domain.PolicyInput) (bool, error) {
	return true, nil
}

// denyAllPolicy 恒拒绝的替代策略
type denyAllPolicy struct{}

func (denyAllPolicy) AllowFallback(context.Context, domain.PolicyInput) (bool, error) {
	return false, nil
}
