package handlers

import (
	"encoding/json"
	"html/template"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/zhaobenny/picost/internal/logger"
	"github.com/zhaobenny/picost/server/internal/auth"
	"github.com/zhaobenny/picost/server/internal/database"
	"go.uber.org/zap"
)

// Handler holds dependencies for HTTP handlers
type Handler struct {
	db         *database.DB
	sessionMgr *scs.SessionManager
	templates  *template.Template
	summaries  *SummaryDebouncer
}

// New creates a new Handler
func New(db *database.DB, sessionMgr *scs.SessionManager, templates *template.Template, summaries *SummaryDebouncer) *Handler {
	return &Handler{
		db:         db,
		sessionMgr: sessionMgr,
		templates:  templates,
		summaries:  summaries,
	}
}

// Index handles the main page
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	userID := auth.SessionUserID(r.Context(), h.sessionMgr)
	if userID == "" {
		h.render(w, r, "index.html", map[string]any{"Content": "auth"})
		return
	}

	user, err := h.db.GetUserByID(userID)
	if err != nil || user == nil {
		h.sessionMgr.Destroy(r.Context())
		h.render(w, r, "index.html", map[string]any{"Content": "auth"})
		return
	}

	data := h.dashboardData(r, user)
	data["Content"] = "dashboard"
	h.render(w, r, "index.html", data)
}

// PartialAuth returns the auth form fragment
func (h *Handler) PartialAuth(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "auth.html", nil)
}

// Login handles user login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderError(w, r, "Invalid form data")
		return
	}

	username := strings.TrimSpace(r.FormValue("username"))
	password := r.FormValue("password")

	if username == "" || password == "" {
		h.renderError(w, r, "Username and password are required")
		return
	}

	user, err := h.db.GetUserByUsername(username)
	if err != nil {
		logger.FromContext(r.Context()).Error("user lookup failed", zap.Error(err))
		h.renderError(w, r, "An error occurred")
		return
	}

	if user == nil || !auth.CheckPassword(password, user.PasswordHash) {
		h.renderError(w, r, "Invalid username or password")
		return
	}

	if err := auth.Login(r.Context(), h.sessionMgr, user.ID); err != nil {
		h.renderError(w, r, "An error occurred")
		return
	}

	h.renderDashboard(w, r, user)
}

// Register handles user registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderError(w, r, "Invalid form data")
		return
	}

	username := strings.TrimSpace(r.FormValue("username"))
	password := r.FormValue("password")

	if username == "" || password == "" {
		h.renderError(w, r, "Username and password are required")
		return
	}

	if len(username) < 3 {
		h.renderError(w, r, "Username must be at least 3 characters")
		return
	}

	if len(password) < 8 {
		h.renderError(w, r, "Password must be at least 8 characters")
		return
	}

	existing, _ := h.db.GetUserByUsername(username)
	if existing != nil {
		h.renderError(w, r, "Username already taken")
		return
	}

	passwordHash, err := auth.HashPassword(password)
	if err != nil {
		h.renderError(w, r, "An error occurred")
		return
	}

	apiKey, err := auth.GenerateAPIKey()
	if err != nil {
		h.renderError(w, r, "An error occurred")
		return
	}

	user := &database.User{
		ID:           auth.GenerateID(),
		Username:     username,
		PasswordHash: passwordHash,
		APIKey:       apiKey,
		CreatedAt:    time.Now(),
	}

	if err := h.db.CreateUser(user); err != nil {
		logger.FromContext(r.Context()).Error("create user failed", zap.Error(err))
		h.renderError(w, r, "Failed to create account")
		return
	}

	if err := auth.Login(r.Context(), h.sessionMgr, user.ID); err != nil {
		h.renderError(w, r, "An error occurred")
		return
	}

	h.renderDashboard(w, r, user)
}

// Logout handles user logout
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.sessionMgr.Destroy(r.Context())
	h.render(w, r, "auth.html", nil)
}

// PartialDashboard returns the dashboard fragment
func (h *Handler) PartialDashboard(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	if user == nil {
		h.render(w, r, "auth.html", nil)
		return
	}
	h.renderDashboard(w, r, user)
}

// PartialCostTable returns the cost tables fragment
func (h *Handler) PartialCostTable(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	if user == nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	h.render(w, r, "cost-table.html", h.dashboardData(r, user))
}

// UpdateResetDate handles reset date updates
func (h *Handler) UpdateResetDate(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	if user == nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if err := r.ParseForm(); err != nil {
		h.renderError(w, r, "Invalid form data")
		return
	}

	resetDate := strings.TrimSpace(r.FormValue("reset_date"))
	if resetDate != "" {
		if _, err := time.Parse("2006-01-02", resetDate); err != nil {
			h.renderError(w, r, "Invalid date format (use YYYY-MM-DD)")
			return
		}
	}

	if err := h.db.UpdateUserResetDate(user.ID, resetDate); err != nil {
		h.renderError(w, r, "Failed to update reset date")
		return
	}
	user.ResetDate = resetDate

	h.render(w, r, "cost-table.html", h.dashboardData(r, user))
}

// SyncRequest represents the incoming sync data
type SyncRequest struct {
	ClientID   string       `json:"client_id"`
	ClientName string       `json:"client_name"`
	Records    []SyncRecord `json:"records"`
}

// SyncRecord is the cost of one model within one session.
// A null model means the log did not name one.
type SyncRecord struct {
	SessionStart string  `json:"session_start"`
	SessionFile  string  `json:"session_file"`
	Model        *string `json:"model"`
	Cost         float64 `json:"cost"`
}

// SyncResponse represents the sync API response
type SyncResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message,omitempty"`
	Upserted int64  `json:"upserted,omitempty"`
	Skipped  int    `json:"skipped,omitempty"`
}

// APISync handles the sync endpoint
func (h *Handler) APISync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	user := auth.GetUser(r.Context())
	if user == nil {
		h.jsonError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	log := logger.FromContext(r.Context()).With(zap.String("user", user.ID))

	var req SyncRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<20)).Decode(&req); err != nil {
		h.jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.ClientID == "" {
		h.jsonError(w, "client_id is required", http.StatusBadRequest)
		return
	}

	if len(req.Records) == 0 {
		h.writeJSON(w, SyncResponse{Success: true, Message: "No records to sync"})
		return
	}

	clientName := req.ClientName
	if clientName == "" {
		clientName = req.ClientID
	}
	if _, err := h.db.GetOrCreateClient(user.ID, req.ClientID, clientName); err != nil {
		log.Error("client registration failed", zap.Error(err))
		h.jsonError(w, "Failed to create client", http.StatusInternalServerError)
		return
	}

	records, days, skipped := toCostRecords(user.ID, req)
	if skipped > 0 {
		log.Warn("skipped sync records with bad session_start", zap.Int("count", skipped))
	}

	result, err := h.db.UpsertCostRecords(records)
	if err != nil {
		log.Error("upsert failed", zap.Error(err))
		h.jsonError(w, "Failed to store records", http.StatusInternalServerError)
		return
	}

	if err := h.db.UpdateClientLastSync(user.ID, req.ClientID, time.Now().UTC()); err != nil {
		log.Warn("failed to record sync time", zap.Error(err))
	}
	// A session whose start moved leaves a stale summary on its old day
	h.summaries.Schedule(user.ID, append(days, result.MovedFrom...))

	log.Info("sync completed",
		zap.String("client", req.ClientID),
		zap.Int("records", len(records)),
		zap.Int64("upserted", result.Changed),
	)

	h.writeJSON(w, SyncResponse{
		Success:  true,
		Message:  "Sync completed",
		Upserted: result.Changed,
		Skipped:  skipped,
	})
}

// toCostRecords converts request records, returning them with the sorted
// set of days they touch and the number rejected for a bad start time
func toCostRecords(userID string, req SyncRequest) ([]database.CostRecord, []string, int) {
	var records []database.CostRecord
	seen := make(map[string]struct{})
	skipped := 0

	for _, rec := range req.Records {
		start, err := time.Parse(time.RFC3339Nano, rec.SessionStart)
		if err != nil || rec.SessionFile == "" {
			skipped++
			continue
		}

		cr := database.CostRecord{
			UserID:       userID,
			ClientID:     req.ClientID,
			SessionStart: start,
			SessionFile:  rec.SessionFile,
			Cost:         rec.Cost,
		}
		if rec.Model != nil {
			cr.Model = *rec.Model
			cr.HasModel = true
		}
		records = append(records, cr)
		seen[start.UTC().Format("2006-01-02")] = struct{}{}
	}

	days := make([]string, 0, len(seen))
	for day := range seen {
		days = append(days, day)
	}
	sort.Strings(days)
	return records, days, skipped
}

// SyncStatusResponse represents the sync status response
type SyncStatusResponse struct {
	LastSyncAt *time.Time `json:"last_sync_at,omitempty"`
}

// APISyncStatus returns the sync status for a client
func (h *Handler) APISyncStatus(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	if user == nil {
		h.jsonError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		h.jsonError(w, "client_id is required", http.StatusBadRequest)
		return
	}

	lastSync, err := h.db.GetClientSyncStatus(user.ID, clientID)
	if err != nil {
		logger.FromContext(r.Context()).Error("sync status lookup failed", zap.Error(err))
		h.jsonError(w, "Failed to get sync status", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, SyncStatusResponse{LastSyncAt: lastSync})
}

// Health handles the health check endpoint
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.db.PingContext(r.Context()); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "unhealthy", "error": "database unavailable"})
		return
	}
	h.writeJSON(w, map[string]string{"status": "healthy"})
}

func (h *Handler) dashboardData(r *http.Request, user *database.User) map[string]any {
	log := logger.FromContext(r.Context())

	days, err := h.db.GetCostByDay(user.ID, user.ResetDate)
	if err != nil {
		log.Error("daily cost query failed", zap.Error(err))
	}
	models, err := h.db.GetCostByModel(user.ID, user.ResetDate)
	if err != nil {
		log.Error("model cost query failed", zap.Error(err))
	}
	total, err := h.db.GetTotalCost(user.ID, user.ResetDate)
	if err != nil {
		log.Error("total cost query failed", zap.Error(err))
		total = &database.CostRow{Key: "Total"}
	}

	return map[string]any{
		"User":      user,
		"Days":      days,
		"Models":    models,
		"Total":     total,
		"ResetDate": user.ResetDate,
	}
}

func (h *Handler) renderDashboard(w http.ResponseWriter, r *http.Request, user *database.User) {
	// Forms target the error div; a successful login swaps the whole content
	w.Header().Set("HX-Retarget", "#content")
	w.Header().Set("HX-Reswap", "innerHTML")
	h.render(w, r, "dashboard.html", h.dashboardData(r, user))
}

func (h *Handler) renderError(w http.ResponseWriter, r *http.Request, message string) {
	h.render(w, r, "error.html", map[string]any{"Error": message})
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.templates.ExecuteTemplate(w, name, data); err != nil {
		logger.FromContext(r.Context()).Error("template render failed", zap.String("template", name), zap.Error(err))
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (h *Handler) jsonError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
