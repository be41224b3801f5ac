// internal/service/inventory/domain/variant.go
package domain

// Variant 是商品变体的只读视图。
// 预留引擎只需要它的归属商品和规格属性来做同规格替代。
type Variant struct {
	ID        uint64
	ProductID uint64
	Code      string
	Spec      VariantSpec
}
