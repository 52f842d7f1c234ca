package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"stockwatch/internal/app"
	"stockwatch/internal/domain"
)

const defaultMaxBodySize = 1 << 20

// Commands is the manager surface exposed over HTTP.
type Commands interface {
	CreateAlertFromNaturalLanguage(text string) app.CreateResult
	ListRules() []domain.Rule
	ToggleAlertRule(id string, enabled bool) (domain.Rule, bool)
	RemoveAlertRule(id string) bool
	CheckAlertsNow(ctx context.Context) []domain.Alert
	AlertHistory(limit int) []domain.Alert
	AcknowledgeAlert(id string) (domain.Alert, bool)
	InAppNotifications(limit int, unreadOnly bool) []domain.InAppNotification
	MarkNotificationAsRead(id string) bool
	DismissNotification(id string) bool
	SystemStatus() app.SystemStatus
	RecentActivity(limit int) app.Activity
}

// Handler serves JSON command API.
// Params: command surface, logger, and request body limit.
// Returns: http.Handler with all /api routes.
type Handler struct {
	commands    Commands
	logger      *slog.Logger
	maxBodySize int64
	mux         *http.ServeMux
}

type naturalLanguageRequest struct {
	Text string `json:"text"`
}

type toggleRequest struct {
	Enabled *bool `json:"enabled"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewHandler creates API handler.
// Params: command surface, logger, and max request body size in bytes (<=0 uses 1 MiB).
// Returns: handler wrapped with recovery and metrics middleware.
func NewHandler(commands Commands, logger *slog.Logger, maxBodySize int64) http.Handler {
	if maxBodySize <= 0 {
		maxBodySize = defaultMaxBodySize
	}
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		commands:    commands,
		logger:      logger.With("component", "api"),
		maxBodySize: maxBodySize,
		mux:         http.NewServeMux(),
	}
	h.routes()
	return Chain(h.mux, Recovery(h.logger), Observe(h.logger))
}

func (h *Handler) routes() {
	h.mux.HandleFunc("POST /api/rules/natural-language", h.createRule)
	h.mux.HandleFunc("GET /api/rules", h.listRules)
	h.mux.HandleFunc("POST /api/rules/{id}/toggle", h.toggleRule)
	h.mux.HandleFunc("DELETE /api/rules/{id}", h.removeRule)
	h.mux.HandleFunc("POST /api/alerts/check", h.checkAlerts)
	h.mux.HandleFunc("GET /api/alerts", h.listAlerts)
	h.mux.HandleFunc("POST /api/alerts/{id}/ack", h.acknowledgeAlert)
	h.mux.HandleFunc("GET /api/notifications", h.listNotifications)
	h.mux.HandleFunc("POST /api/notifications/{id}/read", h.markRead)
	h.mux.HandleFunc("POST /api/notifications/{id}/dismiss", h.dismiss)
	h.mux.HandleFunc("GET /api/status", h.status)
	h.mux.HandleFunc("GET /api/activity", h.activity)
}

func (h *Handler) createRule(writer http.ResponseWriter, request *http.Request) {
	var body naturalLanguageRequest
	if err := h.decode(writer, request, &body); err != nil {
		writeError(writer, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(body.Text) == "" {
		writeError(writer, http.StatusBadRequest, "text is required")
		return
	}
	result := h.commands.CreateAlertFromNaturalLanguage(body.Text)
	if !result.Success {
		writeJSON(writer, http.StatusUnprocessableEntity, result)
		return
	}
	writeJSON(writer, http.StatusCreated, result)
}

func (h *Handler) listRules(writer http.ResponseWriter, _ *http.Request) {
	writeJSON(writer, http.StatusOK, h.commands.ListRules())
}

func (h *Handler) toggleRule(writer http.ResponseWriter, request *http.Request) {
	var body toggleRequest
	if err := h.decode(writer, request, &body); err != nil {
		writeError(writer, http.StatusBadRequest, err.Error())
		return
	}
	if body.Enabled == nil {
		writeError(writer, http.StatusBadRequest, "enabled is required")
		return
	}
	rule, ok := h.commands.ToggleAlertRule(request.PathValue("id"), *body.Enabled)
	if !ok {
		writeError(writer, http.StatusNotFound, "rule not found")
		return
	}
	writeJSON(writer, http.StatusOK, rule)
}

func (h *Handler) removeRule(writer http.ResponseWriter, request *http.Request) {
	if !h.commands.RemoveAlertRule(request.PathValue("id")) {
		writeError(writer, http.StatusNotFound, "rule not found")
		return
	}
	writer.WriteHeader(http.StatusNoContent)
}

func (h *Handler) checkAlerts(writer http.ResponseWriter, request *http.Request) {
	alerts := h.commands.CheckAlertsNow(request.Context())
	writeJSON(writer, http.StatusOK, map[string]any{
		"count":  len(alerts),
		"alerts": alerts,
	})
}

func (h *Handler) listAlerts(writer http.ResponseWriter, request *http.Request) {
	limit, err := queryLimit(request)
	if err != nil {
		writeError(writer, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(writer, http.StatusOK, h.commands.AlertHistory(limit))
}

func (h *Handler) acknowledgeAlert(writer http.ResponseWriter, request *http.Request) {
	alert, ok := h.commands.AcknowledgeAlert(request.PathValue("id"))
	if !ok {
		writeError(writer, http.StatusNotFound, "alert not found")
		return
	}
	writeJSON(writer, http.StatusOK, alert)
}

func (h *Handler) listNotifications(writer http.ResponseWriter, request *http.Request) {
	limit, err := queryLimit(request)
	if err != nil {
		writeError(writer, http.StatusBadRequest, err.Error())
		return
	}
	unreadOnly := false
	if raw := request.URL.Query().Get("unread"); raw != "" {
		unreadOnly, err = strconv.ParseBool(raw)
		if err != nil {
			writeError(writer, http.StatusBadRequest, "unread must be a boolean")
			return
		}
	}
	writeJSON(writer, http.StatusOK, h.commands.InAppNotifications(limit, unreadOnly))
}

func (h *Handler) markRead(writer http.ResponseWriter, request *http.Request) {
	if !h.commands.MarkNotificationAsRead(request.PathValue("id")) {
		writeError(writer, http.StatusNotFound, "notification not found")
		return
	}
	writer.WriteHeader(http.StatusNoContent)
}

func (h *Handler) dismiss(writer http.ResponseWriter, request *http.Request) {
	if !h.commands.DismissNotification(request.PathValue("id")) {
		writeError(writer, http.StatusNotFound, "notification not found")
		return
	}
	writer.WriteHeader(http.StatusNoContent)
}

func (h *Handler) status(writer http.ResponseWriter, _ *http.Request) {
	writeJSON(writer, http.StatusOK, h.commands.SystemStatus())
}

func (h *Handler) activity(writer http.ResponseWriter, request *http.Request) {
	limit, err := queryLimit(request)
	if err != nil {
		writeError(writer, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(writer, http.StatusOK, h.commands.RecentActivity(limit))
}

// decode reads bounded JSON body into target.
func (h *Handler) decode(writer http.ResponseWriter, request *http.Request, target any) error {
	request.Body = http.MaxBytesReader(writer, request.Body, h.maxBodySize)
	defer request.Body.Close()
	decoder := json.NewDecoder(request.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return errors.New("request body too large")
		case errors.Is(err, io.EOF):
			return errors.New("request body is empty")
		default:
			return errors.New("invalid JSON body: " + err.Error())
		}
	}
	return nil
}

// queryLimit parses optional non-negative `limit` query parameter.
func queryLimit(request *http.Request) (int, error) {
	raw := request.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, errors.New("limit must be a non-negative integer")
	}
	return limit, nil
}

func writeJSON(writer http.ResponseWriter, status int, payload any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	_ = json.NewEncoder(writer).Encode(payload)
}

func writeError(writer http.ResponseWriter, status int, message string) {
	writeJSON(writer, status, errorResponse{Error: message})
}
