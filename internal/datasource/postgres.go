package datasource

import (
	"context"
	"fmt"
	"strings"
	"time"

	"stockwatch/internal/config"
	"stockwatch/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres reads products from a PostgreSQL table `(id, name, price, stock)`.
// Params: connection pool, table name, and per-query timeout.
// Returns: Port implementation backed by pgx.
type Postgres struct {
	pool    *pgxpool.Pool
	queries postgresQueries
	timeout time.Duration
}

type postgresQueries struct {
	lowStock       string
	outOfStock     string
	inventoryValue string
}

// OpenPostgres connects pool and verifies connectivity.
// Params: context for dial, datasource config with dsn/table/timeout.
// Returns: postgres source or connection error.
func OpenPostgres(ctx context.Context, cfg config.DataSourceConfig) (*Postgres, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	source := &Postgres{
		pool:    pool,
		queries: buildQueries(cfg.Table),
		timeout: cfg.QueryTimeout(),
	}
	if err := source.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return source, nil
}

// buildQueries renders SQL for one validated table identifier.
// Params: table name (validated by config).
// Returns: prepared query strings.
func buildQueries(table string) postgresQueries {
	ident := pgx.Identifier(splitQualified(table)).Sanitize()
	columns := "id::text, name, price::float8, stock::float8"
	return postgresQueries{
		lowStock:       fmt.Sprintf("SELECT %s FROM %s WHERE stock > 0 AND stock < $1 ORDER BY stock ASC, id ASC", columns, ident),
		outOfStock:     fmt.Sprintf("SELECT %s FROM %s WHERE stock = 0 ORDER BY id ASC", columns, ident),
		inventoryValue: fmt.Sprintf("SELECT COALESCE(SUM(price * stock), 0)::float8 FROM %s", ident),
	}
}

func splitQualified(table string) []string {
	if schema, name, ok := strings.Cut(table, "."); ok {
		return []string{schema, name}
	}
	return []string{table}
}

// QueryLowStock returns products with 0 < stock < threshold.
func (p *Postgres) QueryLowStock(ctx context.Context, threshold float64) ([]domain.Product, error) {
	return p.queryProducts(ctx, p.queries.lowStock, threshold)
}

// QueryOutOfStock returns products with zero stock.
func (p *Postgres) QueryOutOfStock(ctx context.Context) ([]domain.Product, error) {
	return p.queryProducts(ctx, p.queries.outOfStock)
}

// ComputeInventoryValue returns sum(price*stock) over the table.
func (p *Postgres) ComputeInventoryValue(ctx context.Context) (float64, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	var total float64
	if err := p.pool.QueryRow(ctx, p.queries.inventoryValue).Scan(&total); err != nil {
		return 0, fmt.Errorf("compute inventory value: %w", err)
	}
	return total, nil
}

// Ping checks database connectivity.
func (p *Postgres) Ping(ctx context.Context) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	if err := p.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close releases pool connections.
func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) queryProducts(ctx context.Context, query string, args ...any) ([]domain.Product, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	products, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Product, error) {
		var product domain.Product
		err := row.Scan(&product.ID, &product.Name, &product.Price, &product.Stock)
		return product, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan products: %w", err)
	}
	if products == nil {
		products = []domain.Product{}
	}
	return products, nil
}

func (p *Postgres) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.timeout)
}
