package application

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace/noop"

	"serialstock/internal/service/inventory/domain"
	"serialstock/internal/service/inventory/infrastructure/adapter"
)

func newTestBulkService(repo *memUnitRepo, audits *memAuditRepo) *BulkService {
	return NewBulkService(repo, audits, adapter.NewLocalLocker(), nil, noop.NewTracerProvider().Tracer("test"), 3)
}

func TestGenerateSequentialSerials(t *testing.T) {
	repo := newMemUnitRepo()
	audits := newMemAuditRepo()
	repo.addVariant(&domain.Variant{ID: 6, ProductID: 100, Code: "V6"})
	svc := newTestBulkService(repo, audits)

	ids, err := svc.Generate(context.Background(), 6, 5, "SN%03d", "alice")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(ids) != 5 {
		t.Fatalf("generated %d units, want 5", len(ids))
	}

	want := []string{"SN001", "SN002", "SN003", "SN004", "SN005"}
	batchID := ""
	for i, id := range ids {
		u := repo.get(id)
		if u.Serial != want[i] {
			t.Fatalf("unit %d serial = %q, want %q", i, u.Serial, want[i])
		}
		if u.Status != domain.StatusAvailable {
			t.Fatalf("unit %q status = %s, want AVAILABLE", u.Serial, u.Status)
		}
		if batchID == "" {
			batchID = u.BatchID
		}
		// 一次生成共享同一个批次 id
		if u.BatchID == "" || u.BatchID != batchID {
			t.Fatalf("unit %q batch id = %q, want shared %q", u.Serial, u.BatchID, batchID)
		}
	}
	creates := audits.byAction(domain.ActionCreate)
	if len(creates) != 5 {
		t.Fatalf("create audit entries = %d, want 5", len(creates))
	}
	for _, e := range creates {
		if e.BatchID != batchID || e.Actor != "alice" {
			t.Fatalf("audit entry = %+v", e)
		}
	}
}

// 任何一个序列号冲突，整批拒绝，不留部分插入
func TestGenerateDuplicateSerialRejectsBatch(t *testing.T) {
	repo := newMemUnitRepo()
	repo.addVariant(&domain.Variant{ID: 6, ProductID: 100})
	repo.seedUnit(&domain.Unit{Serial: "SN003", VariantID: 6})
	svc := newTestBulkService(repo, newMemAuditRepo())

	_, err := svc.Generate(context.Background(), 6, 5, "SN%03d", "alice")
	if !errors.Is(err, domain.ErrDuplicateSerial) {
		t.Fatalf("err = %v, want ErrDuplicateSerial", err)
	}
	if n, _ := repo.CountAvailable(context.Background(), 6); n != 1 {
		t.Fatalf("available count = %d, want only the pre-existing unit", n)
	}
}

func TestGenerateValidation(t *testing.T) {
	repo := newMemUnitRepo()
	repo.addVariant(&domain.Variant{ID: 6, ProductID: 100})
	svc := newTestBulkService(repo, newMemAuditRepo())

	if _, err := svc.Generate(context.Background(), 6, 0, "SN%03d", "alice"); err == nil {
		t.Fatal("zero count should fail")
	}
	if _, err := svc.Generate(context.Background(), 6, 3, "SN-FIXED", "alice"); err == nil {
		t.Fatal("pattern without placeholder should fail")
	}
	if _, err := svc.Generate(context.Background(), 999, 3, "SN%03d", "alice"); !errors.Is(err, domain.ErrUnitNotFound) {
		t.Fatalf("unknown variant err = %v, want ErrUnitNotFound", err)
	}
}

// 批量流转逐项独立：坏行失败不拖垮好行
func TestBulkTransitionPartialSuccess(t *testing.T) {
	repo := newMemUnitRepo()
	audits := newMemAuditRepo()
	good := repo.seedUnit(&domain.Unit{Serial: "SN-A", VariantID: 6, Status: domain.StatusAvailable})
	sold := repo.seedUnit(&domain.Unit{Serial: "SN-B", VariantID: 6, Status: domain.StatusSold})
	svc := newTestBulkService(repo, audits)

	result := svc.Transition(context.Background(), []uint64{good.ID, sold.ID, 999}, domain.StatusDefective, "failed QA", "bob")
	if result.Attempted != 3 || result.Succeeded != 2 || result.Failed != 1 {
		t.Fatalf("result = %+v, want 2 succeeded 1 failed", result)
	}
	if result.Failures[0].UnitID != 999 {
		t.Fatalf("failure = %+v, want unknown unit 999", result.Failures[0])
	}
	if u := repo.get(good.ID); u.Status != domain.StatusDefective {
		t.Fatalf("unit %d status = %s, want DEFECTIVE", good.ID, u.Status)
	}
	if u := repo.get(sold.ID); u.Status != domain.StatusDefective {
		t.Fatalf("sold unit can be flagged defective too, got %s", u.Status)
	}
	if got := len(audits.byAction(domain.ActionStatusChange)); got != 2 {
		t.Fatalf("status change audit entries = %d, want 2", got)
	}
}

func TestBulkTransitionInvalidTarget(t *testing.T) {
	repo := newMemUnitRepo()
	sold := repo.seedUnit(&domain.Unit{Serial: "SN-A", VariantID: 6, Status: domain.StatusSold})
	svc := newTestBulkService(repo, newMemAuditRepo())

	// SOLD 不允许直接回 AVAILABLE
	result := svc.Transition(context.Background(), []uint64{sold.ID}, domain.StatusAvailable, "", "bob")
	if result.Succeeded != 0 || result.Failed != 1 {
		t.Fatalf("result = %+v, want the transition rejected", result)
	}
	if u := repo.get(sold.ID); u.Status != domain.StatusSold {
		t.Fatalf("unit status = %s, want unchanged SOLD", u.Status)
	}
}

func TestImportMixedRows(t *testing.T) {
	repo := newMemUnitRepo()
	audits := newMemAuditRepo()
	repo.addVariant(&domain.Variant{ID: 6, ProductID: 100})
	repo.seedUnit(&domain.Unit{Serial: "SN-DUP", VariantID: 6})
	svc := newTestBulkService(repo, audits)

	input := strings.Join([]string{
		"serial,variant_id,batch_id,supplier,warranty_from,warranty_to",
		"SN-101,6,B1,acme,2026-01-01,2028-01-01",
		"SN-DUP,6,B1,acme,,",       // 序列号已存在
		"SN-102,999,B1,acme,,",     // 未知变体
		"SN-103,6,,acme,bad-date,", // 坏日期
		"SN-104,6,B1,acme,,",
	}, "\n")

	result := svc.Import(context.Background(), strings.NewReader(input), "carol")
	if result.Attempted != 5 {
		t.Fatalf("attempted = %d, want 5", result.Attempted)
	}
	if result.Succeeded != 2 || result.Failed != 3 {
		t.Fatalf("result = %+v, want 2 succeeded 3 failed", result)
	}

	ok, _ := repo.ExistsSerial(context.Background(), "SN-101")
	if !ok {
		t.Fatal("SN-101 was not imported")
	}
	ok, _ = repo.ExistsSerial(context.Background(), "SN-104")
	if !ok {
		t.Fatal("SN-104 was not imported")
	}
	if got := len(audits.byAction(domain.ActionCreate)); got != 2 {
		t.Fatalf("create audit entries = %d, want 2", got)
	}
}

func TestImportExportRoundTrip(t *testing.T) {
	repo := newMemUnitRepo()
	repo.addVariant(&domain.Variant{ID: 6, ProductID: 100})
	svc := newTestBulkService(repo, newMemAuditRepo())

	input := strings.Join([]string{
		"serial,variant_id,batch_id,supplier,warranty_from,warranty_to",
		"SN-201,6,B7,acme,2026-03-01,2028-03-01",
		"SN-202,6,B7,acme,,",
	}, "\n")
	result := svc.Import(context.Background(), strings.NewReader(input), "carol")
	if result.Succeeded != 2 {
		t.Fatalf("import result = %+v", result)
	}

	var ids []uint64
	for _, sn := range []string{"SN-201", "SN-202"} {
		u := findBySerial(t, repo, sn)
		ids = append(ids, u.ID)
	}

	var out bytes.Buffer
	if err := svc.Export(context.Background(), ids, &out); err != nil {
		t.Fatalf("Export: %v", err)
	}
	rows, failures, err := ReadUnitRows(bytes.NewReader(out.Bytes()))
	if err != nil || len(failures) != 0 {
		t.Fatalf("re-parse export: err=%v failures=%v", err, failures)
	}
	if len(rows) != 2 {
		t.Fatalf("exported %d rows, want 2", len(rows))
	}
	if rows[0].Serial != "SN-201" || rows[0].Supplier != "acme" || rows[0].BatchID != "B7" {
		t.Fatalf("row = %+v", rows[0])
	}
	if rows[0].WarrantyFrom == nil || !rows[0].WarrantyFrom.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("warranty_from = %v", rows[0].WarrantyFrom)
	}
	if rows[1].WarrantyFrom != nil || rows[1].WarrantyTo != nil {
		t.Fatalf("empty warranty dates must round-trip as nil, got %+v", rows[1])
	}
}

func findBySerial(t *testing.T, repo *memUnitRepo, serial string) *domain.Unit {
	t.Helper()
	repo.mu.Lock()
	defer repo.mu.Unlock()
	for _, u := range repo.units {
		if u.Serial == serial {
			return cloneUnit(u)
		}
	}
	t.Fatalf("serial %q not found", serial)
	return nil
}
