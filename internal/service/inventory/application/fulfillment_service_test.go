package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace/noop"

	"serialstock/internal/service/inventory/domain"
)

func newTestFulfillmentService(repo *memUnitRepo, audits *memAuditRepo) *FulfillmentService {
	return NewFulfillmentService(repo, audits, nil, noop.NewTracerProvider().Tracer("test"), 3)
}

func seedReserved(repo *memUnitRepo, variantID uint64, serial, orderID string) *domain.Unit {
	at := time.Now().Add(-time.Minute)
	return repo.seedUnit(&domain.Unit{
		Serial:          serial,
		VariantID:       variantID,
		Status:          domain.StatusReserved,
		ReservedAt:      &at,
		ReservedChannel: domain.ChannelOnline,
		OrderID:         orderID,
	})
}

func TestConfirmSale(t *testing.T) {
	repo := newMemUnitRepo()
	audits := newMemAuditRepo()
	a := seedReserved(repo, 6, "SN-A", "ORD-1")
	b := seedReserved(repo, 6, "SN-B", "ORD-1")
	svc := newTestFulfillmentService(repo, audits)

	if err := svc.ConfirmSale(context.Background(), []uint64{a.ID, b.ID}, "ORD-1", "alice"); err != nil {
		t.Fatalf("ConfirmSale: %v", err)
	}
	for _, id := range []uint64{a.ID, b.ID} {
		u := repo.get(id)
		if u.Status != domain.StatusSold {
			t.Fatalf("unit %d status = %s, want SOLD", id, u.Status)
		}
		if u.ReservedAt != nil || u.ReservedChannel != "" {
			t.Fatalf("unit %d keeps reservation residue: %+v", id, u)
		}
		// 订单号保留用于售后追溯
		if u.OrderID != "ORD-1" {
			t.Fatalf("unit %d lost its order reference: %q", id, u.OrderID)
		}
	}
	if got := len(audits.byAction(domain.ActionConfirmSale)); got != 2 {
		t.Fatalf("confirm audit entries = %d, want 2", got)
	}
}

// 任何一个单元归属不符，整个调用中止且零写入
func TestConfirmSaleOwnershipMismatch(t *testing.T) {
	repo := newMemUnitRepo()
	audits := newMemAuditRepo()
	mine := seedReserved(repo, 6, "SN-A", "ORD-1")
	theirs := seedReserved(repo, 6, "SN-B", "ORD-2")
	svc := newTestFulfillmentService(repo, audits)

	err := svc.ConfirmSale(context.Background(), []uint64{mine.ID, theirs.ID}, "ORD-1", "alice")
	var mismatch *domain.OwnershipMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("err = %v, want OwnershipMismatchError", err)
	}
	if mismatch.UnitID != theirs.ID || mismatch.UnitOrderID != "ORD-2" || mismatch.CallerOrder != "ORD-1" {
		t.Fatalf("error payload = %+v", mismatch)
	}
	// 校验先于写入：连归属正确的单元也不能被确认
	if u := repo.get(mine.ID); u.Status != domain.StatusReserved {
		t.Fatalf("unit %d status = %s, want untouched RESERVED", mine.ID, u.Status)
	}
	if len(audits.entries) != 0 {
		t.Fatalf("audit entries = %d, want 0 on rejected call", len(audits.entries))
	}
}

func TestConfirmSaleUnknownUnit(t *testing.T) {
	repo := newMemUnitRepo()
	u := seedReserved(repo, 6, "SN-A", "ORD-1")
	svc := newTestFulfillmentService(repo, newMemAuditRepo())

	err := svc.ConfirmSale(context.Background(), []uint64{u.ID, 999}, "ORD-1", "alice")
	if !errors.Is(err, domain.ErrUnitNotFound) {
		t.Fatalf("err = %v, want ErrUnitNotFound", err)
	}
	if got := repo.get(u.ID); got.Status != domain.StatusReserved {
		t.Fatalf("unit status = %s, want untouched RESERVED", got.Status)
	}
}

func TestReleaseClearsMetadata(t *testing.T) {
	repo := newMemUnitRepo()
	audits := newMemAuditRepo()
	unit := seedReserved(repo, 6, "SN-A", "ORD-1")
	svc := newTestFulfillmentService(repo, audits)

	if err := svc.Release(context.Background(), []uint64{unit.ID}, "customer cancelled", "alice"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	u := repo.get(unit.ID)
	if u.Status != domain.StatusAvailable {
		t.Fatalf("status = %s, want AVAILABLE", u.Status)
	}
	if u.OrderID != "" || u.ReservedAt != nil || u.ReservedChannel != "" {
		t.Fatalf("reservation metadata not cleared: %+v", u)
	}
	entries := audits.byAction(domain.ActionRelease)
	if len(entries) != 1 {
		t.Fatalf("release audit entries = %d, want 1", len(entries))
	}
	// 审计保留被释放预留的订单号
	if entries[0].OrderID != "ORD-1" || entries[0].Reason != "customer cancelled" {
		t.Fatalf("audit entry = %+v", entries[0])
	}
}

// 对 AVAILABLE 单元重复释放是幂等空操作：不报错、不写审计
func TestReleaseIdempotent(t *testing.T) {
	repo := newMemUnitRepo()
	audits := newMemAuditRepo()
	unit := repo.seedUnit(&domain.Unit{Serial: "SN-A", VariantID: 6, Status: domain.StatusAvailable})
	svc := newTestFulfillmentService(repo, audits)

	for i := 0; i < 2; i++ {
		if err := svc.Release(context.Background(), []uint64{unit.ID}, "", "alice"); err != nil {
			t.Fatalf("Release round %d: %v", i+1, err)
		}
	}
	if len(audits.entries) != 0 {
		t.Fatalf("audit entries = %d, want 0 for no-op releases", len(audits.entries))
	}
	if u := repo.get(unit.ID); u.Version != 0 {
		t.Fatalf("no-op release must not bump version, got %d", u.Version)
	}
}

// 释放与过期清扫赛跑：冲突重读发现单元已被清扫还原时，
// 释放按幂等空操作收尾，不再补写版本也不补审计
func TestReleaseLosesRaceToSweep(t *testing.T) {
	repo := newMemUnitRepo()
	audits := newMemAuditRepo()
	unit := seedReserved(repo, 6, "SN-A", "ORD-1")
	svc := newTestFulfillmentService(repo, audits)

	conflicted := false
	repo.saveHook = func(u *domain.Unit) error {
		if conflicted {
			return nil
		}
		conflicted = true
		// 模拟清扫器抢先还原了这条预留
		repo.mu.Lock()
		stored := repo.units[u.ID]
		stored.Status = domain.StatusAvailable
		stored.OrderID = ""
		stored.ReservedAt = nil
		stored.ReservedChannel = ""
		stored.Version++
		repo.mu.Unlock()
		return domain.ErrConcurrentModification
	}

	if err := svc.Release(context.Background(), []uint64{unit.ID}, "customer cancelled", "alice"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	u := repo.get(unit.ID)
	if u.Status != domain.StatusAvailable {
		t.Fatalf("status = %s, want AVAILABLE", u.Status)
	}
	// 清扫器把版本推到 1，败方不得再写
	if u.Version != 1 {
		t.Fatalf("version = %d, want 1 (no write after lost race)", u.Version)
	}
	if len(audits.entries) != 0 {
		t.Fatalf("audit entries = %d, want 0 when another actor released first", len(audits.entries))
	}
}

func TestReleaseSoldUnitRejected(t *testing.T) {
	repo := newMemUnitRepo()
	unit := repo.seedUnit(&domain.Unit{Serial: "SN-A", VariantID: 6, Status: domain.StatusSold, OrderID: "ORD-1"})
	svc := newTestFulfillmentService(repo, newMemAuditRepo())

	err := svc.Release(context.Background(), []uint64{unit.ID}, "", "alice")
	var invalid *domain.InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("err = %v, want InvalidTransitionError", err)
	}
	if u := repo.get(unit.ID); u.Status != domain.StatusSold {
		t.Fatalf("sold unit must stay SOLD, got %s", u.Status)
	}
}
