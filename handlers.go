package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/13illydakid/p-lizard-ext/internal/automation"
	"github.com/13illydakid/p-lizard-ext/internal/formstate"
	"github.com/13illydakid/p-lizard-ext/internal/popup"
	"github.com/13illydakid/p-lizard-ext/internal/store"
	"github.com/13illydakid/p-lizard-ext/internal/tabexec"
)

var errUnknownRole = errors.New(`role must be "Annotating" or "Reviewing"`)

// Server holds what the HTTP handlers share.
type Server struct {
	popup         PopupAPI
	tabs          TabsAPI
	cdpURL        string
	storeName     string
	actionTimeout time.Duration
	history       *ActionTracker
	shutdown      func()
	log           *slog.Logger
}

func (s *Server) routes() *http.ServeMux {
	if s.history == nil {
		s.history = NewActionTracker()
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /tabs", s.handleTabs)
	mux.HandleFunc("GET /state", s.handleState)
	mux.HandleFunc("GET /field", s.handleGetField)
	mux.HandleFunc("POST /field", s.handleField)
	mux.HandleFunc("POST /role", s.handleRole)
	mux.HandleFunc("POST /qa", s.handleQA)
	mux.HandleFunc("POST /image", s.handleImage)
	mux.HandleFunc("DELETE /image", s.handleDeleteImage)
	mux.HandleFunc("POST /clear", s.handleClear)
	mux.HandleFunc("POST /fill", s.history.Track(s.handleFill))
	mux.HandleFunc("POST /pull/taskid", s.history.Track(s.handlePullTaskID))
	mux.HandleFunc("POST /pull/qa", s.history.Track(s.handlePullQA))
	mux.HandleFunc("GET /history", s.handleHistory)
	mux.HandleFunc("GET /history/report", s.handleHistoryReport)
	mux.HandleFunc("POST /shutdown", s.handleShutdown)
	return mux
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, tabexec.ErrNoActiveTab):
		return 404
	case errors.Is(err, popup.ErrInvalidQA),
		errors.Is(err, automation.ErrInvalidChoice),
		errors.Is(err, automation.ErrInvalidImage),
		errors.Is(err, errUnknownRole):
		return 400
	case errors.Is(err, automation.ErrElementNotFound):
		return 422
	case errors.Is(err, automation.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return 504
	case errors.Is(err, store.ErrStorageUnavailable):
		return 503
	}
	var xe *tabexec.ScriptExecutionError
	if errors.As(err, &xe) {
		return 502
	}
	return 500
}

// fail logs a user-action error and returns it as JSON.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	s.log.Error("action failed", "path", r.URL.Path, "status", code, "err", err)
	jsonErr(w, code, err)
}

// actionContext bounds a browser action by the configured timeout and the
// client connection.
func (s *Server) actionContext(r *http.Request) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), s.actionTimeout)
	go cancelOnClientDone(r.Context(), cancel)
	return ctx, cancel
}

// ── GET /health ────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok", "cdp": s.cdpURL, "store": s.storeName}
	if s.tabs == nil {
		resp["status"] = "disconnected"
		jsonResp(w, 200, resp)
		return
	}
	tabs, err := s.tabs.ListTabs(r.Context())
	if err != nil {
		resp["status"] = "disconnected"
		resp["error"] = err.Error()
		jsonResp(w, 200, resp)
		return
	}
	resp["tabs"] = len(tabs)
	jsonResp(w, 200, resp)
}

// ── GET /tabs ──────────────────────────────────────────────

func (s *Server) handleTabs(w http.ResponseWriter, r *http.Request) {
	if s.tabs == nil {
		jsonErr(w, 503, fmt.Errorf("no browser connection"))
		return
	}
	tabs, err := s.tabs.ListTabs(r.Context())
	if err != nil {
		jsonErr(w, 500, err)
		return
	}
	resp := map[string]any{"tabs": tabs}
	if active, err := s.tabs.ActiveTab(r.Context()); err == nil {
		resp["active"] = active.ID
	}
	jsonResp(w, 200, resp)
}

// ── GET /state ─────────────────────────────────────────────

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"view": s.popup.View()}
	if r.URL.Query().Get("record") == "true" {
		resp["record"] = s.popup.State()
	}
	jsonResp(w, 200, resp)
}

// ── POST /field ────────────────────────────────────────────

type fieldRequest struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

func (s *Server) handleField(w http.ResponseWriter, r *http.Request) {
	var req fieldRequest
	if err := readJSON(w, r, &req); err != nil {
		jsonErr(w, 400, err)
		return
	}
	switch req.Field {
	case "taskId":
		s.popup.SetTaskID(req.Value)
	case "imageAndPrompt":
		s.popup.SetPrompt(req.Value)
	case "rewriteAnswer":
		s.popup.SetAnswer(req.Value)
	default:
		jsonErr(w, 400, fmt.Errorf("unknown field %q (taskId, imageAndPrompt, rewriteAnswer)", req.Field))
		return
	}
	jsonResp(w, 200, map[string]any{"view": s.popup.View()})
}

func (s *Server) handleGetField(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	v, err := s.popup.Field(name)
	if err != nil {
		jsonErr(w, 400, err)
		return
	}
	jsonResp(w, 200, map[string]string{"field": name, "value": v})
}

// ── POST /role ─────────────────────────────────────────────

func (s *Server) handleRole(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Role string `json:"role"`
	}
	if err := readJSON(w, r, &req); err != nil {
		jsonErr(w, 400, err)
		return
	}
	role := formstate.NormalizeRole(req.Role)
	if role == formstate.RoleNone {
		jsonErr(w, 400, errUnknownRole)
		return
	}
	s.popup.ToggleRole(role)
	jsonResp(w, 200, map[string]any{"view": s.popup.View()})
}

// ── POST /qa ───────────────────────────────────────────────

func (s *Server) handleQA(w http.ResponseWriter, r *http.Request) {
	var req struct {
		QA string `json:"qa"`
	}
	if err := readJSON(w, r, &req); err != nil {
		jsonErr(w, 400, err)
		return
	}
	if err := s.popup.SelectQA(strings.TrimSpace(req.QA)); err != nil {
		s.fail(w, r, err)
		return
	}
	jsonResp(w, 200, map[string]any{"view": s.popup.View()})
}

// ── POST /image, DELETE /image ─────────────────────────────

// handleImage accepts either JSON {"name", "dataUrl"} or the raw file bytes
// with the file name in ?name=.
func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req struct {
			Name    string `json:"name"`
			DataURL string `json:"dataUrl"`
		}
		if err := readJSON(w, r, &req); err != nil {
			jsonErr(w, 400, err)
			return
		}
		if _, err := automation.DecodeDataURL(req.DataURL, req.Name); err != nil {
			s.fail(w, r, err)
			return
		}
		s.popup.SetImage(req.Name, req.DataURL)
		jsonResp(w, 200, map[string]any{"view": s.popup.View()})
		return
	}

	name := filepath.Base(r.URL.Query().Get("name"))
	if name == "." || name == "/" {
		name = ""
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImageSize))
	if err != nil {
		jsonErr(w, 400, fmt.Errorf("read image: %w", err))
		return
	}
	if len(data) == 0 {
		jsonErr(w, 400, fmt.Errorf("empty image body"))
		return
	}
	if name == "" {
		name = "upload"
	}
	s.popup.LoadImageFile(name, data)
	jsonResp(w, 200, map[string]any{"view": s.popup.View()})
}

func (s *Server) handleDeleteImage(w http.ResponseWriter, r *http.Request) {
	s.popup.DeleteImage()
	jsonResp(w, 200, map[string]any{"view": s.popup.View()})
}

// ── POST /clear ────────────────────────────────────────────

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Target string `json:"target"`
	}
	if r.ContentLength != 0 {
		if err := readJSON(w, r, &req); err != nil {
			jsonErr(w, 400, err)
			return
		}
	}
	switch req.Target {
	case "", "all":
		if err := s.popup.Clear(r.Context()); err != nil {
			s.fail(w, r, err)
			return
		}
	case "imageAndPrompt", "prompt":
		s.popup.ClearPrompt()
	case "rewriteAnswer", "answer":
		s.popup.ClearAnswer()
	default:
		jsonErr(w, 400, fmt.Errorf("unknown clear target %q (all, prompt, answer)", req.Target))
		return
	}
	jsonResp(w, 200, map[string]any{"view": s.popup.View()})
}

// ── POST /fill ─────────────────────────────────────────────

func (s *Server) handleFill(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.actionContext(r)
	defer cancel()

	start := time.Now()
	if err := s.popup.FillAndSubmit(ctx); err != nil {
		resp := map[string]any{"error": err.Error()}
		var se *automation.StepError
		if errors.As(err, &se) {
			resp["step"] = se.Step
			resp["stepName"] = se.Name
		}
		code := statusFor(err)
		s.log.Error("action failed", "path", r.URL.Path, "status", code, "err", err)
		jsonResp(w, code, resp)
		return
	}
	jsonResp(w, 200, map[string]any{"status": "submitted", "ms": time.Since(start).Milliseconds()})
}

// ── POST /pull/taskid, POST /pull/qa ───────────────────────

func (s *Server) handlePullTaskID(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.actionContext(r)
	defer cancel()

	id, err := s.popup.PullTaskID(ctx)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	jsonResp(w, 200, map[string]any{"taskId": id, "found": id != "", "view": s.popup.View()})
}

func (s *Server) handlePullQA(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.actionContext(r)
	defer cancel()

	got, found, err := s.popup.PullQA(ctx)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	jsonResp(w, 200, map[string]any{
		"prompt": got.Prompt,
		"answer": got.Answer,
		"found":  found,
		"view":   s.popup.View(),
	})
}

// ── POST /shutdown ─────────────────────────────────────────

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, 200, map[string]string{"status": "shutting down"})
	if s.shutdown != nil {
		go s.shutdown()
	}
}
