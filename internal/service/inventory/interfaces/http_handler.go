// internal/service/inventory/interfaces/http_handler.go
package interfaces

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"serialstock/internal/pkg/logger"
	"serialstock/internal/service/inventory/application"
	"serialstock/internal/service/inventory/domain"
)

// StockHandler 封装了库存引擎的 HTTP 处理器
type StockHandler struct {
	reservations *application.ReservationService
	fulfillment  *application.FulfillmentService
	bulk         *application.BulkService
	queries      *application.QueryService
}

// NewStockHandler 创建一个新的 HTTP 处理器实例
func NewStockHandler(
	reservations *application.ReservationService,
	fulfillment *application.FulfillmentService,
	bulk *application.BulkService,
	queries *application.QueryService,
) *StockHandler {
	return &StockHandler{
		reservations: reservations,
		fulfillment:  fulfillment,
		bulk:         bulk,
		queries:      queries,
	}
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *StockHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/reserve", h.reserveHandler)
	mux.HandleFunc("/confirm_sale", h.confirmSaleHandler)
	mux.HandleFunc("/release", h.releaseHandler)
	mux.HandleFunc("/available_count", h.availableCountHandler)
	mux.HandleFunc("/audit_trail", h.auditTrailHandler)
	mux.HandleFunc("/bulk/generate", h.bulkGenerateHandler)
	mux.HandleFunc("/bulk/transition", h.bulkTransitionHandler)
	mux.HandleFunc("/bulk/import", h.bulkImportHandler)
	mux.HandleFunc("/bulk/export", h.bulkExportHandler)
}

func (h *StockHandler) reserveHandler(w http.ResponseWriter, r *http.Request) {
	ctx := extract(r)
	var cmd application.ReserveCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	result, err := h.reservations.Reserve(ctx, &cmd)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type confirmSaleRequest struct {
	UnitIDs []uint64 `json:"unitIds"`
	OrderID string   `json:"orderId"`
	Actor   string   `json:"actor"`
}

func (h *StockHandler) confirmSaleHandler(w http.ResponseWriter, r *http.Request) {
	ctx := extract(r)
	var req confirmSaleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.fulfillment.ConfirmSale(ctx, req.UnitIDs, req.OrderID, req.Actor); err != nil {
		writeError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type releaseRequest struct {
	UnitIDs []uint64 `json:"unitIds"`
	Reason  string   `json:"reason"`
	Actor   string   `json:"actor"`
}

func (h *StockHandler) releaseHandler(w http.ResponseWriter, r *http.Request) {
	ctx := extract(r)
	var req releaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.fulfillment.Release(ctx, req.UnitIDs, req.Reason, req.Actor); err != nil {
		writeError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *StockHandler) availableCountHandler(w http.ResponseWriter, r *http.Request) {
	ctx := extract(r)
	variantID, err := strconv.ParseUint(r.URL.Query().Get("variantId"), 10, 64)
	if err != nil {
		http.Error(w, "invalid variantId", http.StatusBadRequest)
		return
	}
	count, err := h.queries.AvailableCount(ctx, variantID)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"variantId": variantID, "available": count})
}

func (h *StockHandler) auditTrailHandler(w http.ResponseWriter, r *http.Request) {
	ctx := extract(r)
	unitID, err := strconv.ParseUint(r.URL.Query().Get("unitId"), 10, 64)
	if err != nil {
		http.Error(w, "invalid unitId", http.StatusBadRequest)
		return
	}
	entries, err := h.queries.AuditTrail(ctx, unitID)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

type bulkGenerateRequest struct {
	VariantID uint64 `json:"variantId"`
	Count     int    `json:"count"`
	Pattern   string `json:"pattern"`
	Actor     string `json:"actor"`
}

func (h *StockHandler) bulkGenerateHandler(w http.ResponseWriter, r *http.Request) {
	ctx := extract(r)
	var req bulkGenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	ids, err := h.bulk.Generate(ctx, req.VariantID, req.Count, req.Pattern, req.Actor)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"unitIds": ids})
}

type bulkTransitionRequest struct {
	UnitIDs      []uint64 `json:"unitIds"`
	TargetStatus string   `json:"targetStatus"`
	Reason       string   `json:"reason"`
	Actor        string   `json:"actor"`
}

func (h *StockHandler) bulkTransitionHandler(w http.ResponseWriter, r *http.Request) {
	ctx := extract(r)
	var req bulkTransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	target := domain.Status(req.TargetStatus)
	if !target.Valid() {
		http.Error(w, "unknown target status", http.StatusBadRequest)
		return
	}
	result := h.bulk.Transition(ctx, req.UnitIDs, target, req.Reason, req.Actor)
	writeJSON(w, http.StatusOK, result)
}

func (h *StockHandler) bulkImportHandler(w http.ResponseWriter, r *http.Request) {
	ctx := extract(r)
	actor := r.URL.Query().Get("actor")
	result := h.bulk.Import(ctx, r.Body, actor)
	writeJSON(w, http.StatusOK, result)
}

func (h *StockHandler) bulkExportHandler(w http.ResponseWriter, r *http.Request) {
	ctx := extract(r)
	ids, err := parseIDList(r.URL.Query().Get("ids"))
	if err != nil {
		http.Error(w, "invalid ids", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="units.csv"`)
	if err := h.bulk.Export(ctx, ids, w); err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("export failed mid-stream")
	}
}

func parseIDList(raw string) ([]uint64, error) {
	if raw == "" {
		return nil, errors.New("empty id list")
	}
	parts := strings.Split(raw, ",")
	ids := make([]uint64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseUint(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// extract 从请求头恢复上游传播的追踪上下文
func extract(r *http.Request) context.Context {
	propagator := otel.GetTextMapPropagator()
	return propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError 把引擎的错误分类映射为 HTTP 状态码，瞬时错误给 503 提示重试
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	var insufficient *domain.InsufficientStockError
	var ownership *domain.OwnershipMismatchError
	var transition *domain.InvalidTransitionError
	switch {
	case errors.As(err, &insufficient):
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"error":     "insufficient_stock",
			"variantId": insufficient.VariantID,
			"requested": insufficient.Requested,
			"available": insufficient.Available,
		})
	case errors.As(err, &ownership):
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"error":  "ownership_mismatch",
			"unitId": ownership.UnitID,
		})
	case errors.As(err, &transition):
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"error":  "invalid_transition",
			"unitId": transition.UnitID,
			"from":   transition.From,
			"to":     transition.To,
		})
	case errors.Is(err, domain.ErrUnitNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrDuplicateSerial):
		http.Error(w, err.Error(), http.StatusConflict)
	case domain.IsRetryable(err):
		// 冲突重试额度耗尽或锁等待超时，调用方可整体重试
		http.Error(w, "transient failure, retry the call", http.StatusServiceUnavailable)
	default:
		logger.Ctx(ctx).Error().Err(err).Msg("request failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
