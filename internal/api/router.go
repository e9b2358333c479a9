package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/jkweon/tandem/internal/middleware"
	"github.com/jkweon/tandem/internal/services"
	"github.com/jkweon/tandem/internal/utils"
)

// Router wires the session, result, invitation and matching services to
// their HTTP surface. Identity comes from the auth middleware; everything
// else identifies sessions by (testId, identityKey).
type Router struct {
	registry *services.Registry
	auth     *services.AuthService
	sessions *services.SessionService
	results  *services.ResultService
	invites  *services.InviteService
	matches  *services.MatchService
}

func NewRouter(registry *services.Registry, auth *services.AuthService, sessions *services.SessionService,
	results *services.ResultService, invites *services.InviteService, matches *services.MatchService) *Router {
	return &Router{
		registry: registry,
		auth:     auth,
		sessions: sessions,
		results:  results,
		invites:  invites,
		matches:  matches,
	}
}

func (rt *Router) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/auth/register", rt.handleRegister)
	mux.HandleFunc("/api/auth/login", rt.handleLogin)
	mux.HandleFunc("/api/tests", rt.handleTests)
	mux.HandleFunc("/api/tests/", rt.handleTestScoped)
	mux.HandleFunc("/api/results/", rt.handleResult)
	// issuance needs a signed-in inviter; every invitable test requires auth
	mux.Handle("/api/invitations", middleware.RequireAuth(http.HandlerFunc(rt.handleInvite)))
	mux.HandleFunc("/api/invitations/", rt.handleInviteToken)
	mux.HandleFunc("/api/partner/complete", rt.handlePartnerComplete)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeErr maps service errors onto HTTP statuses. Unknown errors are 500s
// with the message suppressed.
func writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"
	if se, ok := services.AsServiceError(err); ok {
		msg = se.Message
		switch se.Code {
		case services.ErrorInvalid:
			status = http.StatusBadRequest
		case services.ErrorUnauthorized:
			status = http.StatusUnauthorized
		case services.ErrorForbidden:
			status = http.StatusForbidden
		case services.ErrorNotFound:
			status = http.StatusNotFound
		case services.ErrorConflict:
			status = http.StatusConflict
		case services.ErrorTooManyRequests:
			status = http.StatusTooManyRequests
		case services.ErrorBadGateway:
			status = http.StatusBadGateway
		}
	} else {
		switch {
		case errors.Is(err, services.ErrTestNotFound), errors.Is(err, services.ErrResultNotFound):
			status, msg = http.StatusNotFound, err.Error()
		case errors.Is(err, services.ErrInvalidInvitation):
			status, msg = http.StatusBadRequest, err.Error()
		case errors.Is(err, services.ErrIncompleteAnswers):
			status, msg = http.StatusBadRequest, err.Error()
		case errors.Is(err, services.ErrCompletionInFlight):
			status, msg = http.StatusConflict, err.Error()
		}
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func identityFrom(r *http.Request) string {
	if uid := middleware.IdentityFromContext(r.Context()); uid != "" {
		return uid
	}
	return services.AnonymousIdentity
}

// viaInvitation reports whether the request carries a token that still
// resolves. A present-but-invalid token does not open protected tests.
func (rt *Router) viaInvitation(r *http.Request) bool {
	tok := strings.TrimSpace(r.URL.Query().Get("token"))
	if tok == "" {
		return false
	}
	_, err := rt.invites.Resolve(tok)
	return err == nil
}

// POST /api/auth/register {email, password}
func (rt *Router) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	res, err := rt.auth.Register(req.Email, req.Password)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// POST /api/auth/login {email, password}
func (rt *Router) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	res, err := rt.auth.Login(req.Email, req.Password)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type testSummary struct {
	ID              string `json:"id"`
	TitleKey        string `json:"title_key"`
	Questions       int    `json:"questions"`
	RequiresPartner bool   `json:"requires_partner"`
	RequiresAuth    bool   `json:"requires_auth"`
	Category        string `json:"category,omitempty"`
}

// GET /api/tests
func (rt *Router) handleTests(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	out := make([]testSummary, 0)
	for _, id := range rt.registry.List() {
		def := rt.registry.Get(id)
		out = append(out, testSummary{
			ID:              def.ID,
			TitleKey:        def.TitleKey,
			Questions:       len(def.Questions),
			RequiresPartner: def.RequiresPartner,
			RequiresAuth:    def.RequiresAuth,
			Category:        def.Category,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"tests": out})
}

// /api/tests/{id} and /api/tests/{id}/{progress|complete}
func (rt *Router) handleTestScoped(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/tests/")
	parts := strings.SplitN(strings.Trim(rest, "/"), "/", 2)
	testID := parts[0]
	if testID == "" {
		http.NotFound(w, r)
		return
	}
	sub := ""
	if len(parts) == 2 {
		sub = parts[1]
	}
	switch sub {
	case "":
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		rt.handleDefinition(w, r, testID)
	case "progress":
		rt.handleProgress(w, r, testID)
	case "complete":
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		rt.handleComplete(w, r, testID)
	default:
		http.NotFound(w, r)
	}
}

// GET /api/tests/{id}?name=...&token=... — definition, personalized for the
// visiting session when the link carries an inviter name.
func (rt *Router) handleDefinition(w http.ResponseWriter, r *http.Request, testID string) {
	def := rt.registry.Get(testID)
	if def == nil {
		writeErr(w, services.ErrTestNotFound)
		return
	}
	locale := middleware.LocaleFromContext(r.Context())
	questions := def.Questions
	if name := strings.TrimSpace(r.URL.Query().Get("name")); name != "" {
		questions = services.PersonalizeQuestions(def.Questions, utils.FormatDisplayName(locale, name))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":               def.ID,
		"title_key":        def.TitleKey,
		"questions":        questions,
		"requires_partner": def.RequiresPartner,
		"requires_auth":    def.RequiresAuth,
		"category":         def.Category,
	})
}

// GET/POST/DELETE /api/tests/{id}/progress
func (rt *Router) handleProgress(w http.ResponseWriter, r *http.Request, testID string) {
	ctx, prog, err := rt.sessions.Start(testID, identityFrom(r), rt.viaInvitation(r))
	if err != nil {
		writeErr(w, err)
		return
	}
	switch r.Method {
	case http.MethodGet:
		if prog == nil {
			writeJSON(w, http.StatusOK, map[string]any{"resumable": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"resumable": true, "progress": prog})
	case http.MethodPost:
		var req struct {
			QuestionID    string             `json:"question_id"`
			Answer        services.Answer    `json:"answer"`
			Answers       services.AnswerSet `json:"answers"`
			QuestionIndex int                `json:"question_index"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		merged, saved, err := rt.sessions.RecordAnswer(ctx, req.QuestionID, req.Answer, req.Answers, req.QuestionIndex)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"answers": merged, "saved": saved})
	case http.MethodDelete:
		rt.sessions.Restart(ctx)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// POST /api/tests/{id}/complete {answers} — individual completion.
func (rt *Router) handleComplete(w http.ResponseWriter, r *http.Request, testID string) {
	var req struct {
		Answers services.AnswerSet `json:"answers"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ctx, _, err := rt.sessions.Start(testID, identityFrom(r), rt.viaInvitation(r))
	if err != nil {
		writeErr(w, err)
		return
	}
	rec, err := rt.sessions.Complete(ctx, req.Answers)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": rec})
}

// GET /api/results/{id}
func (rt *Router) handleResult(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/results/"), "/")
	rec, err := rt.results.Lookup(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": rec})
}

// POST /api/invitations
func (rt *Router) handleInvite(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		SourceResultID string   `json:"source_result_id"`
		InviterName    string   `json:"inviter_name"`
		InviterEmail   string   `json:"inviter_email"`
		Recipients     []string `json:"recipients"`
		Category       string   `json:"category"`
		Language       string   `json:"language"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Language == "" {
		req.Language = middleware.LocaleFromContext(r.Context())
	}
	if req.InviterEmail == "" {
		req.InviterEmail = middleware.EmailFromContext(r.Context())
	}
	out, err := rt.invites.Invite(services.InviteRequest{
		SourceResultID: req.SourceResultID,
		InviterName:    req.InviterName,
		InviterEmail:   req.InviterEmail,
		Recipients:     req.Recipients,
		Category:       req.Category,
		Language:       req.Language,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invitations": out})
}

// GET /api/invitations/{token} — resolve a token and report match state.
func (rt *Router) handleInviteToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	token := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/invitations/"), "/")
	inv, err := rt.invites.Resolve(token)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"invitation": inv,
		"state":      rt.matches.State(inv.SourceResultID, inv.Recipient),
	})
}

// POST /api/partner/complete?token=...&name=...&testId=...&testResultId=...&email=...&lang=...
// Body carries the invitee's answers; the query carries the link payload.
// Completes the invitee's session, then runs partner correlation.
func (rt *Router) handlePartnerComplete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	link, err := services.ParseInvitationLink(r.URL.Query())
	if err != nil {
		writeErr(w, err)
		return
	}
	// reject expired or unknown tokens before any answers are persisted
	if _, err := rt.invites.Resolve(link.Token); err != nil {
		writeErr(w, err)
		return
	}
	var req struct {
		Answers services.AnswerSet `json:"answers"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ctx, _, err := rt.sessions.Start(link.TestID, identityFrom(r), true)
	if err != nil {
		writeErr(w, err)
		return
	}
	rec, err := rt.sessions.Complete(ctx, req.Answers)
	if err != nil {
		writeErr(w, err)
		return
	}
	outcome, err := rt.matches.HandlePartnerCompletion(link, rec)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"result": rec,
		"state":  outcome.State,
		"joint":  outcome.Joint,
	})
}
