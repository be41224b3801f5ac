// internal/service/inventory/infrastructure/mapper.go
package infrastructure

import (
	"database/sql"
	"time"

	"serialstock/internal/service/inventory/domain"
)

// ToDomainUnit 把数据库模型转换为领域实体
func ToDomainUnit(m *UnitModel) *domain.Unit {
	u := &domain.Unit{
		ID:              m.ID,
		Serial:          m.Serial,
		VariantID:       m.VariantID,
		Status:          domain.Status(m.Status),
		ReservedChannel: domain.Channel(m.ReservedChannel.String),
		OrderID:         m.OrderID.String,
		BatchID:         m.BatchID.String,
		Supplier:        m.Supplier.String,
		Version:         m.Version,
		Deleted:         m.Deleted,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
	u.ReservedAt = nullTimePtr(m.ReservedAt)
	u.WarrantyFrom = nullTimePtr(m.WarrantyFrom)
	u.WarrantyTo = nullTimePtr(m.WarrantyTo)
	return u
}

// ToUnitModel 把领域实体转换为数据库模型
func ToUnitModel(u *domain.Unit) *UnitModel {
	return &UnitModel{
		ID:              u.ID,
		Serial:          u.Serial,
		VariantID:       u.VariantID,
		Status:          string(u.Status),
		ReservedAt:      ptrNullTime(u.ReservedAt),
		ReservedChannel: nullString(string(u.ReservedChannel)),
		OrderID:         nullString(u.OrderID),
		BatchID:         nullString(u.BatchID),
		Supplier:        nullString(u.Supplier),
		WarrantyFrom:    ptrNullTime(u.WarrantyFrom),
		WarrantyTo:      ptrNullTime(u.WarrantyTo),
		Version:         u.Version,
		Deleted:         u.Deleted,
		CreatedAt:       u.CreatedAt,
		UpdatedAt:       u.UpdatedAt,
	}
}

// ToDomainVariant 把变体模型转换为领域视图
func ToDomainVariant(m *VariantModel) *domain.Variant {
	return &domain.Variant{
		ID:        m.ID,
		ProductID: m.ProductID,
		Code:      m.Code,
		Spec: domain.VariantSpec{
			Color:   m.Color,
			CPU:     m.CPU,
			RAM:     m.RAM,
			Storage: m.Storage,
			GPU:     m.GPU,
		},
	}
}

// ToDomainAudit 把审计模型转换为领域实体
func ToDomainAudit(m *AuditModel) *domain.AuditEntry {
	return &domain.AuditEntry{
		ID:        m.ID,
		UnitID:    m.UnitID,
		Action:    domain.Action(m.Action),
		Actor:     m.Actor,
		Reason:    m.Reason,
		Before:    m.Before,
		After:     m.After,
		BatchID:   m.BatchID.String,
		OrderID:   m.OrderID.String,
		Channel:   domain.Channel(m.Channel.String),
		CreatedAt: m.CreatedAt,
	}
}

// ToAuditModel 把审计实体转换为数据库模型
func ToAuditModel(e *domain.AuditEntry) *AuditModel {
	return &AuditModel{
		ID:        e.ID,
		UnitID:    e.UnitID,
		Action:    string(e.Action),
		Actor:     e.Actor,
		Reason:    e.Reason,
		Before:    e.Before,
		After:     e.After,
		BatchID:   nullString(e.BatchID),
		OrderID:   nullString(e.OrderID),
		Channel:   nullString(string(e.Channel)),
		CreatedAt: e.CreatedAt,
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func ptrNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
