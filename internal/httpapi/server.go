package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"presale_sniper/internal/config"
	"presale_sniper/internal/logbus"
	"presale_sniper/internal/model"
	"presale_sniper/internal/scheduler"
	"presale_sniper/internal/worker"
	"presale_sniper/internal/ws"
)

const maxBodyBytes = 1 << 20

// Accounts is the account registry the API reads and writes.
type Accounts interface {
	ListAccounts(ctx context.Context) ([]model.Account, error)
	GetAccount(ctx context.Context, id string) (model.Account, error)
	UpsertAccount(ctx context.Context, acc model.Account) (model.Account, error)
	DeleteAccount(ctx context.Context, id string) error
	FetchAccounts(ctx context.Context, ids []string) ([]model.Account, error)
}

type Options struct {
	Cfg       config.Config
	Bus       *logbus.Bus
	Scheduler *scheduler.Scheduler
	Accounts  Accounts
	Pool      *worker.Pool
}

type Server struct {
	cfg       config.Config
	bus       *logbus.Bus
	scheduler *scheduler.Scheduler
	accounts  Accounts
	pool      *worker.Pool
	ws        *ws.Handler
	started   time.Time
}

func New(opts Options) *Server {
	return &Server{
		cfg:       opts.Cfg,
		bus:       opts.Bus,
		scheduler: opts.Scheduler,
		accounts:  opts.Accounts,
		pool:      opts.Pool,
		ws:        ws.NewHandler(opts.Bus, opts.Cfg.Server.Cors.AllowOrigins),
		started:   time.Now(),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/ws", s.ws)

	api := http.NewServeMux()
	api.HandleFunc("/api/v1/tasks", s.handleTasks)
	api.HandleFunc("/api/v1/tasks/cancel", s.handleTaskCancel)
	api.HandleFunc("/api/v1/accounts", s.handleAccounts)
	api.HandleFunc("/api/", func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})

	mux.Handle("/api/", corsMiddleware(s.cfg.Server.Cors, api))
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{
		"ok":       true,
		"uptimeMs": time.Since(s.started).Milliseconds(),
	}
	if s.pool != nil {
		body["workers"] = s.pool.Stats()
	}
	writeJSON(w, http.StatusOK, body)
}

// AccountRef names a task account for display.
type AccountRef struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Found bool   `json:"found"`
}

// TaskView is a task enriched with the names of its accounts.
type TaskView struct {
	model.Task
	Accounts []AccountRef `json:"accounts"`
}

// AccountView never carries the token.
type AccountView struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	HasToken  bool      `json:"hasToken"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	switch r.Method {
	case http.MethodGet:
		if saleID := strings.TrimSpace(r.URL.Query().Get("saleId")); saleID != "" {
			task, err := s.scheduler.Get(ctx, saleID)
			if err != nil {
				writeErr(w, err)
				return
			}
			views, err := s.viewTasks(ctx, []model.Task{task})
			if err != nil {
				writeErr(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"data": views[0]})
			return
		}
		tasks, err := s.scheduler.List(ctx)
		if err != nil {
			writeErr(w, err)
			return
		}
		views, err := s.viewTasks(ctx, tasks)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": views})
	case http.MethodPost:
		var req scheduler.ScheduleRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		task, err := s.scheduler.Schedule(ctx, req)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"data": task})
	case http.MethodPut:
		id := strings.TrimSpace(r.URL.Query().Get("id"))
		if id == "" {
			writeError(w, http.StatusBadRequest, "id is required")
			return
		}
		var upd scheduler.TaskUpdate
		if err := readJSON(r, &upd); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		task, err := s.scheduler.Update(ctx, id, upd)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": task})
	case http.MethodDelete:
		id := strings.TrimSpace(r.URL.Query().Get("id"))
		if id == "" {
			writeError(w, http.StatusBadRequest, "id is required")
			return
		}
		if err := s.scheduler.Delete(ctx, id); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"id": id, "deleted": true}})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleTaskCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	if err := s.scheduler.Cancel(r.Context(), id); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"id": id, "cancelled": true}})
}

func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if id := strings.TrimSpace(r.URL.Query().Get("id")); id != "" {
			acc, err := s.accounts.GetAccount(r.Context(), id)
			if err != nil {
				writeErr(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"data": accountView(acc)})
			return
		}
		accounts, err := s.accounts.ListAccounts(r.Context())
		if err != nil {
			writeErr(w, err)
			return
		}
		out := make([]AccountView, 0, len(accounts))
		for _, acc := range accounts {
			out = append(out, accountView(acc))
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": out})
	case http.MethodPost:
		var body struct {
			ID    string `json:"id,omitempty"`
			Name  string `json:"name"`
			Token string `json:"token"`
		}
		if err := readJSON(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if strings.TrimSpace(body.Name) == "" {
			writeError(w, http.StatusBadRequest, "name is required")
			return
		}
		acc, err := s.accounts.UpsertAccount(r.Context(), model.Account{
			ID:    strings.TrimSpace(body.ID),
			Name:  body.Name,
			Token: strings.TrimSpace(body.Token),
		})
		if err != nil {
			writeErr(w, err)
			return
		}
		if s.bus != nil {
			s.bus.Log("info", "account saved", map[string]any{"accountId": acc.ID, "hasToken": acc.HasToken()})
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": accountView(acc)})
	case http.MethodDelete:
		id := strings.TrimSpace(r.URL.Query().Get("id"))
		if id == "" {
			writeError(w, http.StatusBadRequest, "id is required")
			return
		}
		if err := s.accounts.DeleteAccount(r.Context(), id); err != nil {
			writeErr(w, err)
			return
		}
		if s.bus != nil {
			s.bus.Log("info", "account deleted", map[string]any{"accountId": id})
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"id": id, "deleted": true}})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) viewTasks(ctx context.Context, tasks []model.Task) ([]TaskView, error) {
	var ids []string
	seen := map[string]struct{}{}
	for _, t := range tasks {
		for _, id := range t.AccountIDs {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}
	names := map[string]string{}
	if len(ids) > 0 {
		accounts, err := s.accounts.FetchAccounts(ctx, ids)
		if err != nil {
			return nil, err
		}
		for _, acc := range accounts {
			names[acc.ID] = acc.Name
		}
	}

	views := make([]TaskView, 0, len(tasks))
	for _, t := range tasks {
		refs := make([]AccountRef, 0, len(t.AccountIDs))
		for _, id := range t.AccountIDs {
			name, ok := names[id]
			refs = append(refs, AccountRef{ID: id, Name: name, Found: ok})
		}
		views = append(views, TaskView{Task: t, Accounts: refs})
	}
	return views, nil
}

func accountView(acc model.Account) AccountView {
	return AccountView{
		ID:        acc.ID,
		Name:      acc.Name,
		HasToken:  acc.HasToken(),
		CreatedAt: acc.CreatedAt,
		UpdatedAt: acc.UpdatedAt,
	}
}

func statusFor(err error) int {
	var te *model.TransportError
	switch {
	case errors.Is(err, model.ErrDuplicateTask), errors.Is(err, model.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrInvalidOptions):
		return http.StatusBadRequest
	case errors.As(err, &te):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeErr(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func readJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return fmt.Errorf("invalid json: %w", err)
	}
	return nil
}
