package application

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace/noop"

	"serialstock/internal/service/inventory/domain"
)

func TestSweepRevertsOnlyExpired(t *testing.T) {
	repo := newMemUnitRepo()
	audits := newMemAuditRepo()
	expiredAt := time.Now().Add(-time.Hour)
	freshAt := time.Now().Add(-time.Minute)
	expired := repo.seedUnit(&domain.Unit{
		Serial: "SN-OLD", VariantID: 6, Status: domain.StatusReserved,
		ReservedAt: &expiredAt, ReservedChannel: domain.ChannelOnline, OrderID: "ORD-1",
	})
	fresh := repo.seedUnit(&domain.Unit{
		Serial: "SN-NEW", VariantID: 6, Status: domain.StatusReserved,
		ReservedAt: &freshAt, ReservedChannel: domain.ChannelPOS, OrderID: "ORD-2",
	})
	available := repo.seedUnit(&domain.Unit{Serial: "SN-FREE", VariantID: 6, Status: domain.StatusAvailable})

	sweeper := NewExpirySweeper(repo, audits, nil, noop.NewTracerProvider().Tracer("test"), 15*time.Minute)
	n, err := sweeper.SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}
	if n != 1 {
		t.Fatalf("swept %d units, want 1", n)
	}

	u := repo.get(expired.ID)
	if u.Status != domain.StatusAvailable {
		t.Fatalf("expired unit status = %s, want AVAILABLE", u.Status)
	}
	if u.ReservedAt != nil || u.ReservedChannel != "" || u.OrderID != "" {
		t.Fatalf("reservation metadata survived the sweep: %+v", u)
	}
	if got := repo.get(fresh.ID); got.Status != domain.StatusReserved || got.OrderID != "ORD-2" {
		t.Fatalf("fresh reservation must be untouched, got %+v", got)
	}
	if got := repo.get(available.ID); got.Version != 0 {
		t.Fatalf("available unit must be untouched, got version %d", got.Version)
	}

	// 每个被清扫的单元恰好一条系统署名的审计
	entries := audits.byAction(domain.ActionRelease)
	if len(entries) != 1 {
		t.Fatalf("release audit entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.UnitID != expired.ID || e.Actor != domain.SystemActor || e.Reason != "reservation expired" {
		t.Fatalf("audit entry = %+v", e)
	}
	if e.OrderID != "ORD-1" || e.Channel != domain.ChannelOnline {
		t.Fatalf("audit entry lost reservation provenance: %+v", e)
	}
}

func TestSweepNothingExpired(t *testing.T) {
	repo := newMemUnitRepo()
	audits := newMemAuditRepo()
	at := time.Now().Add(-time.Minute)
	repo.seedUnit(&domain.Unit{Serial: "SN-A", VariantID: 6, Status: domain.StatusReserved, ReservedAt: &at, OrderID: "ORD-1"})

	sweeper := NewExpirySweeper(repo, audits, nil, noop.NewTracerProvider().Tracer("test"), 15*time.Minute)
	n, err := sweeper.SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}
	if n != 0 {
		t.Fatalf("swept %d units, want 0", n)
	}
	if len(audits.entries) != 0 {
		t.Fatalf("audit entries = %d, want 0 on idle sweep", len(audits.entries))
	}
}

// 清扫后库存回到可分配池，后续预留可以正常拿到
func TestSweepMakesStockReservableAgain(t *testing.T) {
	repo := newMemUnitRepo()
	expiredAt := time.Now().Add(-time.Hour)
	unit := repo.seedUnit(&domain.Unit{
		Serial: "SN-A", VariantID: 6, Status: domain.StatusReserved,
		ReservedAt: &expiredAt, OrderID: "ORD-STALE",
	})

	sweeper := NewExpirySweeper(repo, newMemAuditRepo(), nil, noop.NewTracerProvider().Tracer("test"), 15*time.Minute)
	if _, err := sweeper.SweepOnce(context.Background()); err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}

	svc := newTestReservationService(repo, newMemAuditRepo(), denyAllPolicy{})
	result, err := svc.Reserve(context.Background(), &ReserveCommand{
		OrderID: "ORD-NEW",
		Channel: domain.ChannelPOS,
		Items:   []LineItem{{VariantID: 6, Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("Reserve after sweep: %v", err)
	}
	if result.UnitIDs[0] != unit.ID {
		t.Fatalf("reserved unit %d, want reclaimed unit %d", result.UnitIDs[0], unit.ID)
	}
	if u := repo.get(unit.ID); u.OrderID != "ORD-NEW" {
		t.Fatalf("unit order = %q, want ORD-NEW", u.OrderID)
	}
}
