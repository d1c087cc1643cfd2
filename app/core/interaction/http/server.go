package http

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"leadrouter/app/core/crm/routing"
	"leadrouter/app/core/crm/store"
	"leadrouter/app/core/interaction/gateway"
	"leadrouter/app/pkg/logger"
	"leadrouter/app/pkg/types"

	"github.com/google/uuid"
)

const maxBodyBytes = 1 << 20

// ContactRouter is the dispatch surface the contact endpoint calls.
type ContactRouter interface {
	Route(ctx context.Context, req types.ContactRequest) (routing.Result, error)
	Health() gateway.HealthStatus
}

type Channel struct {
	id              string
	port            int
	server          *http.Server
	store           *store.Store
	router          ContactRouter
	shutdownTimeout time.Duration
}

func NewChannel(port int, st *store.Store, router ContactRouter) *Channel {
	return &Channel{
		id:              "http",
		port:            port,
		store:           st,
		router:          router,
		shutdownTimeout: 5 * time.Second,
	}
}

func (c *Channel) ID() string {
	return c.id
}

func (c *Channel) SetShutdownTimeout(timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	c.shutdownTimeout = timeout
}

func (c *Channel) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/operators", c.handleOperators)
	mux.HandleFunc("/api/operators/", c.handleOperatorByID)
	mux.HandleFunc("/api/sources", c.handleSources)
	mux.HandleFunc("/api/sources/", c.handleSourceWeights)
	mux.HandleFunc("/api/contacts/", c.handleCreateContact)
	mux.HandleFunc("/api/leads/", c.handleLeadContacts)
	mux.HandleFunc("/api/reports/operators", c.handleOperatorReport)
	mux.HandleFunc("/api/reports/sources", c.handleSourceReport)
	mux.HandleFunc("/health", c.handleHealth)

	c.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", c.port),
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), c.shutdownTimeout)
		defer cancel()
		if err := c.server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown error: %v", err)
		}
	}()

	logger.Info("http listening on port %d", c.port)
	if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// ---------------------------------------------------------------------------
// Operators
// ---------------------------------------------------------------------------

type operatorCreateRequest struct {
	Name          string `json:"name"`
	IsActive      *bool  `json:"is_active"`
	MaxConcurrent *int   `json:"max_concurrent"`
}

type operatorUpdateRequest struct {
	Name          *string `json:"name"`
	IsActive      *bool   `json:"is_active"`
	MaxConcurrent *int    `json:"max_concurrent"`
}

func (c *Channel) handleOperators(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req operatorCreateRequest
		if !decodeBody(w, r, &req) {
			return
		}
		isActive := true
		if req.IsActive != nil {
			isActive = *req.IsActive
		}
		maxConcurrent := 5
		if req.MaxConcurrent != nil {
			maxConcurrent = *req.MaxConcurrent
		}
		op, err := c.store.CreateOperator(r.Context(), req.Name, isActive, maxConcurrent)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusCreated, op)
	case http.MethodGet:
		ops, err := c.store.ListOperators(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, ops)
	default:
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
	}
}

func (c *Channel) handleOperatorByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPatch {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	id, ok := pathID(w, r.URL.Path, "/api/operators/")
	if !ok {
		return
	}
	var req operatorUpdateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	op, err := c.store.UpdateOperator(r.Context(), id, req.Name, req.IsActive, req.MaxConcurrent)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, fmt.Errorf("operator not found: %d", id))
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, op)
}

// ---------------------------------------------------------------------------
// Sources and weights
// ---------------------------------------------------------------------------

type sourceCreateRequest struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (c *Channel) handleSources(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req sourceCreateRequest
		if !decodeBody(w, r, &req) {
			return
		}
		src, err := c.store.CreateSource(r.Context(), req.Code, req.Name, req.Description)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusCreated, src)
	case http.MethodGet:
		sources, err := c.store.ListSources(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, sources)
	default:
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
	}
}

// PUT /api/sources/{id}/weights replaces the full weight set for the
// source; callers resend every row each time.
func (c *Channel) handleSourceWeights(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/sources/")
	idText, tail, found := strings.Cut(rest, "/")
	if !found || tail != "weights" {
		writeError(w, http.StatusNotFound, fmt.Errorf("not found"))
		return
	}
	if r.Method != http.MethodPut {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	sourceID, err := strconv.ParseInt(idText, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid source id: %s", idText))
		return
	}
	if _, err := c.store.GetSource(r.Context(), sourceID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, fmt.Errorf("source not found: %d", sourceID))
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	var rows []store.WeightRow
	if !decodeBody(w, r, &rows) {
		return
	}
	if err := c.store.ReplaceWeights(r.Context(), sourceID, rows); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "ok"})
}

// ---------------------------------------------------------------------------
// Contacts
// ---------------------------------------------------------------------------

type contactCreateRequest struct {
	ExternalID string          `json:"external_id"`
	Phone      string          `json:"phone"`
	Email      string          `json:"email"`
	Payload    json.RawMessage `json:"payload"`
}

type contactResponse struct {
	Contact  store.Contact   `json:"contact"`
	Lead     store.Lead      `json:"lead"`
	Source   store.Source    `json:"source"`
	Operator *store.Operator `json:"operator,omitempty"`
}

func (c *Channel) handleCreateContact(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	sourceCode := strings.TrimPrefix(r.URL.Path, "/api/contacts/")
	if sourceCode == "" || strings.Contains(sourceCode, "/") {
		writeError(w, http.StatusNotFound, fmt.Errorf("not found"))
		return
	}
	var req contactCreateRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := c.router.Route(r.Context(), types.ContactRequest{
		SourceCode:    sourceCode,
		ExternalID:    req.ExternalID,
		Phone:         req.Phone,
		Email:         req.Email,
		Payload:       req.Payload,
		ChannelID:     c.id,
		CorrelationID: uuid.NewString(),
	})
	if err != nil {
		var notFound *routing.SourceNotFoundError
		switch {
		case errors.As(err, &notFound):
			writeError(w, http.StatusNotFound, err)
		case errors.Is(err, routing.ErrAnonymousLead):
			writeError(w, http.StatusBadRequest, err)
		default:
			logger.Error("route contact for source %s: %v", sourceCode, err)
			writeError(w, http.StatusInternalServerError, fmt.Errorf("storage failure"))
		}
		return
	}
	writeJSON(w, http.StatusCreated, contactResponse{
		Contact:  result.Contact,
		Lead:     result.Lead,
		Source:   result.Source,
		Operator: result.Operator,
	})
}

func (c *Channel) handleLeadContacts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/leads/")
	idText, tail, found := strings.Cut(rest, "/")
	if !found || tail != "contacts" {
		writeError(w, http.StatusNotFound, fmt.Errorf("not found"))
		return
	}
	leadID, err := strconv.ParseInt(idText, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid lead id: %s", idText))
		return
	}
	contacts, err := c.store.ContactsForLead(r.Context(), leadID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, contacts)
}

// ---------------------------------------------------------------------------
// Reports and health
// ---------------------------------------------------------------------------

func (c *Channel) handleOperatorReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	counts, err := c.store.CountContactsByOperator(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (c *Channel) handleSourceReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	counts, err := c.store.CountContactsBySource(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (c *Channel) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, c.router.Health())
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func pathID(w http.ResponseWriter, path, prefix string) (int64, bool) {
	idText := strings.TrimPrefix(path, prefix)
	if idText == "" || strings.Contains(idText, "/") {
		writeError(w, http.StatusNotFound, fmt.Errorf("not found"))
		return 0, false
	}
	id, err := strconv.ParseInt(idText, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid id: %s", idText))
		return 0, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("read body: %w", err))
		return false
	}
	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("empty body"))
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
