package datasource

import (
	"context"
	"sort"
	"sync"

	"stockwatch/internal/domain"
)

// Memory keeps product records in process memory.
// Params: products guarded by RWMutex, keyed by id.
// Returns: Port implementation for tests and small deployments.
type Memory struct {
	mu       sync.RWMutex
	products map[string]domain.Product
}

// NewMemory creates in-memory source seeded with products.
// Params: initial product records (later duplicates replace earlier ones).
// Returns: memory source.
func NewMemory(products []domain.Product) *Memory {
	m := &Memory{products: make(map[string]domain.Product, len(products))}
	for _, product := range products {
		m.products[product.ID] = product
	}
	return m
}

// Upsert stores or replaces one product.
// Params: product record.
// Returns: none.
func (m *Memory) Upsert(product domain.Product) {
	m.mu.Lock()
	m.products[product.ID] = product
	m.mu.Unlock()
}

// SetStock updates stock for an existing product.
// Params: product id and new stock quantity.
// Returns: false when product is unknown.
func (m *Memory) SetStock(id string, stock float64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	product, ok := m.products[id]
	if !ok {
		return false
	}
	product.Stock = stock
	m.products[id] = product
	return true
}

// Products returns all products ordered by id.
// Params: none.
// Returns: product snapshot.
func (m *Memory) Products() []domain.Product {
	return m.filter(func(domain.Product) bool { return true })
}

// QueryLowStock returns products with 0 < stock < threshold, lowest stock first.
func (m *Memory) QueryLowStock(ctx context.Context, threshold float64) ([]domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := m.filter(func(p domain.Product) bool { return p.Stock > 0 && p.Stock < threshold })
	sort.SliceStable(out, func(i, j int) bool { return out[i].Stock < out[j].Stock })
	return out, nil
}

// QueryOutOfStock returns products with zero stock.
func (m *Memory) QueryOutOfStock(ctx context.Context) ([]domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.filter(func(p domain.Product) bool { return p.Stock == 0 }), nil
}

// ComputeInventoryValue returns sum(price*stock) across all products, accumulated in id order.
func (m *Memory) ComputeInventoryValue(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var total float64
	for _, product := range m.Products() {
		total += product.Price * product.Stock
	}
	return total, nil
}

// Ping always succeeds for memory source.
func (m *Memory) Ping(context.Context) error {
	return nil
}

// Close is a no-op for memory source.
func (m *Memory) Close() {}

func (m *Memory) filter(keep func(domain.Product) bool) []domain.Product {
	m.mu.RLock()
	out := make([]domain.Product, 0, len(m.products))
	for _, product := range m.products {
		if keep(product) {
			out = append(out, product)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
