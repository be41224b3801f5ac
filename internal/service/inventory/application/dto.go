// internal/service/inventory/application/dto.go
package application

import "serialstock/internal/service/inventory/domain"

// LineItem 是调用方提交的一行预留请求。
// UnitID 非零表示调用方已钉定具体单元，绕过按量聚合，逐一校验可用性。
type LineItem struct {
	VariantID uint64 `json:"variantId"`
	Quantity  int    `json:"quantity"`
	UnitID    uint64 `json:"unitId,omitempty"`

	// AllowSubstitution 表示该行允许同规格兄弟变体补缺
	AllowSubstitution bool `json:"allowSubstitution,omitempty"`
}

// ReserveCommand 是一次完整预留调用的输入
type ReserveCommand struct {
	Items   []LineItem     `json:"items"`
	Channel domain.Channel `json:"channel"`
	OrderID string         `json:"orderId"`
	Actor   string         `json:"actor"`
}

// ReserveResult 返回本次调用实际持有的单元
type ReserveResult struct {
	OrderID string   `json:"orderId"`
	UnitIDs []uint64 `json:"unitIds"`
}

// ItemFailure 记录批量操作中单个条目的失败原因
type ItemFailure struct {
	UnitID uint64 `json:"unitId,omitempty"`
	Serial string `json:"serial,omitempty"`
	Row    int    `json:"row,omitempty"`
	Reason string `json:"reason"`
}

// BatchResult 汇总批量操作的逐项结果。
// 与全有或全无的预留调用不同，管理类批量编辑容忍部分生效。
type BatchResult struct {
	Attempted int           `json:"attempted"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Failures  []ItemFailure `json:"failures,omitempty"`
}

func (r *BatchResult) fail(f ItemFailure) {
	r.Failed++
	r.Failures = append(r.Failures, f)
}

// variantDemand 是按变体聚合后的需求
type variantDemand struct {
	variantID         uint64
	quantity          int
	allowSubstitution bool
}
