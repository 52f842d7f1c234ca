package ingest

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"stockwatch/internal/metrics"
)

const sourceHTTP = "http"

// HTTPHandler decodes JSON product updates and applies them to sink.
// Params: sink receives validated products, max body limits payload size.
// Returns: HTTP handler for product update endpoint.
type HTTPHandler struct {
	sink        ProductSink
	maxBodySize int64
	logger      *slog.Logger
}

// NewHTTPHandler creates product update HTTP handler.
// Params: sink, max request body size in bytes, and optional logger.
// Returns: configured handler.
func NewHTTPHandler(sink ProductSink, maxBodySize int64, logger *slog.Logger) *HTTPHandler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &HTTPHandler{sink: sink, maxBodySize: maxBodySize, logger: logger}
}

// ServeHTTP handles one product update request.
// Params: HTTP request/response writer pair.
// Returns: 202 with accepted count, 400 on invalid payload.
func (h *HTTPHandler) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		writer.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	request.Body = http.MaxBytesReader(writer, request.Body, h.maxBodySize)
	defer request.Body.Close()
	body, err := io.ReadAll(request.Body)
	if err != nil {
		metrics.ProductUpdatesTotal.WithLabelValues(sourceHTTP, "rejected").Inc()
		writer.WriteHeader(http.StatusBadRequest)
		return
	}

	products, err := decodeProducts(body)
	if err != nil {
		metrics.ProductUpdatesTotal.WithLabelValues(sourceHTTP, "rejected").Inc()
		h.logger.Debug("product update rejected", "error", err.Error())
		writer.Header().Set("Content-Type", "application/json")
		writer.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(writer).Encode(map[string]string{"error": err.Error()})
		return
	}

	apply(h.sink, products)
	metrics.ProductUpdatesTotal.WithLabelValues(sourceHTTP, "applied").Add(float64(len(products)))
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(writer).Encode(map[string]int{"accepted": len(products)})
}
