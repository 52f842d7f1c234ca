package engine

import (
	"context"
	"fmt"
	"math"

	"stockwatch/internal/domain"
	"stockwatch/internal/templatefmt"
)

// evaluation is outcome of one rule check.
type evaluation struct {
	triggered bool
	message   string
	data      any
}

// evaluate checks one rule against data source.
// Params: context and rule snapshot.
// Returns: evaluation outcome or data source error.
func (e *Engine) evaluate(ctx context.Context, rule domain.Rule) (evaluation, error) {
	switch rule.Condition {
	case domain.ConditionStockBelow:
		products, err := e.source.QueryLowStock(ctx, rule.Threshold)
		if err != nil {
			return evaluation{}, fmt.Errorf("query low stock: %w", err)
		}
		matched := filterProducts(products, rule.ProductID, func(p domain.Product) bool {
			return p.Stock > 0 && p.Stock < rule.Threshold
		})
		if len(matched) == 0 {
			return evaluation{}, nil
		}
		return evaluation{
			triggered: true,
			message:   fmt.Sprintf("%d product(s) have stock below %s units", len(matched), templatefmt.FormatNumber(rule.Threshold)),
			data:      domain.StockPayload{Products: matched, Count: len(matched), Threshold: rule.Threshold},
		}, nil
	case domain.ConditionStockEquals:
		products, err := e.source.QueryOutOfStock(ctx)
		if err != nil {
			return evaluation{}, fmt.Errorf("query out of stock: %w", err)
		}
		matched := filterProducts(products, rule.ProductID, func(p domain.Product) bool {
			return p.Stock == 0
		})
		if len(matched) == 0 {
			return evaluation{}, nil
		}
		return evaluation{
			triggered: true,
			message:   fmt.Sprintf("%d product(s) are out of stock", len(matched)),
			data:      domain.StockPayload{Products: matched, Count: len(matched), Threshold: rule.Threshold},
		}, nil
	case domain.ConditionInventoryValueAbove, domain.ConditionInventoryValueBelow:
		value, err := e.source.ComputeInventoryValue(ctx)
		if err != nil {
			return evaluation{}, fmt.Errorf("compute inventory value: %w", err)
		}
		above := rule.Condition == domain.ConditionInventoryValueAbove
		if (above && !(value > rule.Threshold)) || (!above && !(value < rule.Threshold)) {
			return evaluation{}, nil
		}
		verb := "exceeds"
		if !above {
			verb = "is below"
		}
		return evaluation{
			triggered: true,
			message: fmt.Sprintf("Inventory value (%s) %s threshold (%s)",
				templatefmt.FormatMoney(value), verb, templatefmt.FormatMoney(rule.Threshold)),
			data: domain.ValuePayload{
				CurrentValue: value,
				Threshold:    rule.Threshold,
				Difference:   math.Abs(value - rule.Threshold),
			},
		}, nil
	default:
		return evaluation{}, fmt.Errorf("unsupported condition %q", rule.Condition)
	}
}

// filterProducts re-applies condition predicate and optional product scope.
// Params: port records, scope product id (empty = all), and predicate.
// Returns: matching products in port order.
func filterProducts(products []domain.Product, productID string, keep func(domain.Product) bool) []domain.Product {
	out := make([]domain.Product, 0, len(products))
	for _, product := range products {
		if productID != "" && product.ID != productID {
			continue
		}
		if keep(product) {
			out = append(out, product)
		}
	}
	return out
}
