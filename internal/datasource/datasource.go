package datasource

import (
	"context"
	"fmt"
	"log/slog"

	"stockwatch/internal/config"
	"stockwatch/internal/domain"
)

// Port is the read side of the product store consumed by the rule engine.
// Params: context bounds each query.
// Returns: filtered product records or aggregate inventory value.
type Port interface {
	QueryLowStock(ctx context.Context, threshold float64) ([]domain.Product, error)
	QueryOutOfStock(ctx context.Context) ([]domain.Product, error)
	ComputeInventoryValue(ctx context.Context) (float64, error)
}

// Source is a Port with lifecycle.
type Source interface {
	Port
	Ping(ctx context.Context) error
	Close()
}

// Open builds data source for configured backend.
// Params: context for connection setup, datasource config, and logger.
// Returns: ready source or setup error.
func Open(ctx context.Context, cfg config.DataSourceConfig, logger *slog.Logger) (Source, error) {
	switch cfg.Kind {
	case config.DataSourceMemory, "":
		products := make([]domain.Product, 0, len(cfg.Product))
		for _, product := range cfg.Product {
			products = append(products, domain.Product{
				ID:    product.ID,
				Name:  product.Name,
				Price: product.Price,
				Stock: product.Stock,
			})
		}
		logger.Info("datasource ready", "kind", config.DataSourceMemory, "products", len(products))
		return NewMemory(products), nil
	case config.DataSourcePostgres:
		source, err := OpenPostgres(ctx, cfg)
		if err != nil {
			return nil, err
		}
		logger.Info("datasource ready", "kind", config.DataSourcePostgres, "table", cfg.Table)
		return source, nil
	default:
		return nil, fmt.Errorf("unsupported datasource kind %q", cfg.Kind)
	}
}
