package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"stockwatch/internal/domain"
)

// ProductSink receives validated product updates from ingest feeds.
// Params: product record to insert or replace.
// Returns: none.
type ProductSink interface {
	Upsert(product domain.Product)
}

// decodeProducts auto-detects batch vs single product payload.
// Params: raw JSON bytes with one object or array.
// Returns: validated products or decode error.
func decodeProducts(raw []byte) ([]domain.Product, error) {
	payload := bytes.TrimSpace(raw)
	if len(payload) == 0 {
		return nil, errors.New("empty payload")
	}
	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.DisallowUnknownFields()

	var products []domain.Product
	if payload[0] == '[' {
		if err := decoder.Decode(&products); err != nil {
			return nil, fmt.Errorf("decode product batch: %w", err)
		}
		if len(products) == 0 {
			return nil, errors.New("product batch must contain at least one product")
		}
	} else {
		var product domain.Product
		if err := decoder.Decode(&product); err != nil {
			return nil, fmt.Errorf("decode product: %w", err)
		}
		products = []domain.Product{product}
	}
	if err := ensureJSONEOF(decoder); err != nil {
		return nil, err
	}
	for i := range products {
		products[i].ID = strings.TrimSpace(products[i].ID)
		if err := validateProduct(products[i]); err != nil {
			return nil, fmt.Errorf("product[%d]: %w", i, err)
		}
	}
	return products, nil
}

func validateProduct(product domain.Product) error {
	if product.ID == "" {
		return errors.New("id is required")
	}
	if math.IsNaN(product.Price) || product.Price < 0 {
		return fmt.Errorf("price must be >= 0, got %v", product.Price)
	}
	if math.IsNaN(product.Stock) || product.Stock < 0 {
		return fmt.Errorf("stock must be >= 0, got %v", product.Stock)
	}
	return nil
}

// ensureJSONEOF rejects trailing tokens after a decoded JSON payload.
// Params: decoder positioned after primary decode.
// Returns: nil on EOF or error on trailing tokens.
func ensureJSONEOF(decoder *json.Decoder) error {
	var extra json.RawMessage
	err := decoder.Decode(&extra)
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return fmt.Errorf("decode trailing json: %w", err)
	}
	return errors.New("unexpected trailing json tokens")
}

// apply upserts products into sink.
// Params: sink and validated products.
// Returns: none.
func apply(sink ProductSink, products []domain.Product) {
	for _, product := range products {
		sink.Upsert(product)
	}
}
