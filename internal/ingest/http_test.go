package ingest

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"stockwatch/internal/datasource"
	"stockwatch/internal/domain"
)

func TestHTTPHandlerAppliesProductUpdates(t *testing.T) {
	t.Parallel()

	source := datasource.NewMemory([]domain.Product{{ID: "p1", Name: "Widget", Price: 10, Stock: 50}})
	handler := NewHTTPHandler(source, 1<<20, nil)
	payload := `[{"id":"p1","name":"Widget","price":10,"stock":0},{"id":"p2","name":"Gadget","price":4,"stock":7}]`
	request := httptest.NewRequest(http.MethodPost, "/api/products", strings.NewReader(payload))
	response := httptest.NewRecorder()

	handler.ServeHTTP(response, request)
	if response.Code != http.StatusAccepted {
		t.Fatalf("expected status %d, got %d", http.StatusAccepted, response.Code)
	}
	if !strings.Contains(response.Body.String(), `"accepted":2`) {
		t.Fatalf("unexpected body %q", response.Body.String())
	}
	products := source.Products()
	if len(products) != 2 || products[0].Stock != 0 || products[1].ID != "p2" {
		t.Fatalf("unexpected products after ingest %+v", products)
	}
}

func TestHTTPHandlerRejectsInvalidPayload(t *testing.T) {
	t.Parallel()

	source := datasource.NewMemory(nil)
	handler := NewHTTPHandler(source, 1<<20, nil)
	request := httptest.NewRequest(http.MethodPost, "/api/products", strings.NewReader(`{"id":"p1","stock":-2}`))
	response := httptest.NewRecorder()

	handler.ServeHTTP(response, request)
	if response.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, response.Code)
	}
	if len(source.Products()) != 0 {
		t.Fatalf("expected no products after rejected update")
	}
}

func TestHTTPHandlerRejectsOversizedBodyAndWrongMethod(t *testing.T) {
	t.Parallel()

	source := datasource.NewMemory(nil)
	handler := NewHTTPHandler(source, 16, nil)

	request := httptest.NewRequest(http.MethodPost, "/api/products", strings.NewReader(`{"id":"p1","name":"a very long product name"}`))
	response := httptest.NewRecorder()
	handler.ServeHTTP(response, request)
	if response.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d for oversized body, got %d", http.StatusBadRequest, response.Code)
	}

	request = httptest.NewRequest(http.MethodGet, "/api/products", nil)
	response = httptest.NewRecorder()
	handler.ServeHTTP(response, request)
	if response.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status %d, got %d", http.StatusMethodNotAllowed, response.Code)
	}
}
