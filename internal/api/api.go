// CLAUDE:SUMMARY HTTP API — token issuance for configured clients, playbook
// snapshot/delta/revisions/context/feedback endpoints
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/hazyhaar/aceplaybook/internal/auth"
	"github.com/hazyhaar/aceplaybook/internal/config"
	"github.com/hazyhaar/aceplaybook/internal/db"
	"github.com/hazyhaar/aceplaybook/internal/delta"
	"github.com/hazyhaar/aceplaybook/internal/playbook"
)

// maxBodySize is the maximum HTTP body size for delta submissions.
const maxBodySize = 512 * 1024 // 512KB

// maxRevisionLimit caps the ?limit parameter on the revisions endpoint.
const maxRevisionLimit = 200

type API struct {
	db           *db.DB
	auth         *auth.Auth
	engine       *playbook.Engine
	builder      *playbook.Builder
	orchestrator *playbook.Orchestrator
	clients      []config.ClientConfig
	logger       *slog.Logger
}

func New(database *db.DB, a *auth.Auth, engine *playbook.Engine,
	builder *playbook.Builder, orchestrator *playbook.Orchestrator,
	clients []config.ClientConfig, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		db:           database,
		auth:         a,
		engine:       engine,
		builder:      builder,
		orchestrator: orchestrator,
		clients:      clients,
		logger:       logger,
	}
}

func (a *API) RegisterRoutes(mux *http.ServeMux) {
	// Auth
	mux.HandleFunc("POST /api/token", a.handleToken)

	// Playbook
	mux.HandleFunc("GET /api/playbook", a.handleGetPlaybook)
	mux.HandleFunc("POST /api/playbook/delta", a.handleApplyDelta)
	mux.HandleFunc("GET /api/playbook/revisions", a.handleListRevisions)
	mux.HandleFunc("GET /api/playbook/context", a.handleGetContext)
	mux.HandleFunc("POST /api/playbook/feedback", a.handleFeedback)

	// Health
	mux.HandleFunc("GET /api/health", a.handleHealth)
}

func (a *API) handleToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var client *config.ClientConfig
	for i := range a.clients {
		if a.clients[i].ID == req.ClientID {
			client = &a.clients[i]
			break
		}
	}
	if client == nil || !auth.CheckSecret(client.SecretHash, req.ClientSecret) {
		jsonError(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	token, err := a.auth.GenerateToken(client.ID)
	if err != nil {
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}

	jsonResp(w, http.StatusOK, map[string]interface{}{
		"client_id": client.ID,
		"token":     token,
	})
}

func (a *API) handleGetPlaybook(w http.ResponseWriter, r *http.Request) {
	var sections []string
	if raw := r.URL.Query().Get("sections"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				sections = append(sections, s)
			}
		}
	}

	snapshot, err := a.builder.Build(r.Context(), sections...)
	if err != nil {
		a.logger.Error("building snapshot", "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	jsonResp(w, http.StatusOK, snapshot)
}

func (a *API) handleApplyDelta(w http.ResponseWriter, r *http.Request) {
	claims := a.auth.ExtractClaims(r)
	if claims == nil {
		jsonError(w, "authentication required", http.StatusUnauthorized)
		return
	}

	var req struct {
		Operations  []delta.Operation `json:"operations"`
		AppliedBy   string            `json:"applied_by"`
		Description string            `json:"description"`
		Metadata    db.Metadata       `json:"metadata"`
	}
	body := http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Operations) == 0 {
		jsonError(w, "operations are required", http.StatusBadRequest)
		return
	}
	for i, op := range req.Operations {
		if err := op.Validate(); err != nil {
			jsonError(w, "operation "+strconv.Itoa(i)+": "+err.Error(), http.StatusBadRequest)
			return
		}
	}

	appliedBy := req.AppliedBy
	if appliedBy == "" {
		appliedBy = claims.ClientID
	}
	metadata := db.Metadata{"source": "api", "client_id": claims.ClientID}
	for k, v := range req.Metadata {
		metadata[k] = v
	}

	result, err := a.engine.Apply(r.Context(), req.Operations, playbook.ApplyOptions{
		AppliedBy:   appliedBy,
		Description: req.Description,
		Metadata:    metadata,
	})
	if err != nil {
		if errors.Is(err, db.ErrDuplicateBullet) {
			jsonError(w, err.Error(), http.StatusConflict)
			return
		}
		a.logger.Error("applying delta batch", "error", err, "client_id", claims.ClientID)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	jsonResp(w, http.StatusOK, result)
}

func (a *API) handleListRevisions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			jsonError(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	if limit > maxRevisionLimit {
		limit = maxRevisionLimit
	}

	revisions, err := a.db.Store().ListRecentRevisions(r.Context(), limit)
	if err != nil {
		a.logger.Error("listing revisions", "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	jsonResp(w, http.StatusOK, map[string]interface{}{"revisions": revisions})
}

func (a *API) handleGetContext(w http.ResponseWriter, r *http.Request) {
	block, err := a.orchestrator.BuildContextBlock(r.Context())
	if err != nil {
		a.logger.Error("building context block", "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	if block == nil {
		jsonResp(w, http.StatusOK, map[string]interface{}{
			"instructions": "",
			"bullet_ids":   []string{},
		})
		return
	}
	jsonResp(w, http.StatusOK, block)
}

func (a *API) handleFeedback(w http.ResponseWriter, r *http.Request) {
	claims := a.auth.ExtractClaims(r)
	if claims == nil {
		jsonError(w, "authentication required", http.StatusUnauthorized)
		return
	}

	var req struct {
		BulletIDs []string `json:"bullet_ids"`
		Success   bool     `json:"success"`
		Reason    string   `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.BulletIDs) == 0 {
		jsonError(w, "bullet_ids are required", http.StatusBadRequest)
		return
	}

	result, err := a.orchestrator.RecordFeedback(r.Context(), req.BulletIDs, req.Success, req.Reason)
	if err != nil {
		a.logger.Error("recording feedback", "error", err, "client_id", claims.ClientID)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	if result == nil {
		result = &playbook.Result{}
	}
	jsonResp(w, http.StatusOK, result)
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := a.db.PingContext(r.Context()); err != nil {
		jsonError(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}
	jsonResp(w, http.StatusOK, map[string]string{"status": "ok"})
}

func jsonResp(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
