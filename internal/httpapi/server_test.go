package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"presale_sniper/internal/config"
	"presale_sniper/internal/logbus"
	"presale_sniper/internal/model"
	"presale_sniper/internal/scheduler"
	"presale_sniper/internal/store/sqlite"
)

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error"`
}

func newTestServer(t *testing.T) (*httptest.Server, *sqlite.Store) {
	t.Helper()
	st, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("sqlite.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	cfg := config.Default()
	cfg.Server.Cors.AllowOrigins = []string{"http://localhost:5173"}
	bus := logbus.New(50)
	srv := New(Options{
		Cfg:       cfg,
		Bus:       bus,
		Scheduler: scheduler.New(scheduler.Options{Store: st, Bus: bus, LeadTime: 10 * time.Second}),
		Accounts:  st,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, st
}

func do(t *testing.T, method, url string, body any) (int, envelope) {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, rdr)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode %s %s: %v", method, url, err)
	}
	return resp.StatusCode, env
}

func TestTaskEndpoints(t *testing.T) {
	ts, _ := newTestServer(t)

	status, env := do(t, http.MethodPost, ts.URL+"/api/v1/accounts", map[string]any{"name": "alice", "token": "secret"})
	if status != http.StatusOK {
		t.Fatalf("create account: %d %s", status, env.Error)
	}
	var acc AccountView
	_ = json.Unmarshal(env.Data, &acc)
	if acc.ID == "" || !acc.HasToken || strings.Contains(string(env.Data), "secret") {
		t.Fatalf("account view = %s", env.Data)
	}

	start := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	req := map[string]any{"saleId": "X", "accountIds": []string{acc.ID, "ghost"}, "saleStart": start}
	status, env = do(t, http.MethodPost, ts.URL+"/api/v1/tasks", req)
	if status != http.StatusCreated {
		t.Fatalf("schedule: %d %s", status, env.Error)
	}
	var task model.Task
	_ = json.Unmarshal(env.Data, &task)
	if !task.FireAt.Equal(start.Add(-10 * time.Second)) {
		t.Errorf("fireAt = %v", task.FireAt)
	}

	if status, env = do(t, http.MethodPost, ts.URL+"/api/v1/tasks", req); status != http.StatusConflict {
		t.Errorf("duplicate schedule: %d %s", status, env.Error)
	}

	status, env = do(t, http.MethodGet, ts.URL+"/api/v1/tasks?saleId=X", nil)
	if status != http.StatusOK {
		t.Fatalf("get: %d %s", status, env.Error)
	}
	var view TaskView
	_ = json.Unmarshal(env.Data, &view)
	if len(view.Accounts) != 2 || view.Accounts[0].Name != "alice" || view.Accounts[1].Found {
		t.Errorf("accounts = %+v", view.Accounts)
	}

	status, env = do(t, http.MethodPut, ts.URL+"/api/v1/tasks?id="+task.ID, map[string]any{"accountIds": []string{acc.ID}})
	if status != http.StatusOK {
		t.Fatalf("update: %d %s", status, env.Error)
	}

	if status, _ = do(t, http.MethodPost, ts.URL+"/api/v1/tasks/cancel?id="+task.ID, nil); status != http.StatusOK {
		t.Errorf("cancel: %d", status)
	}
	if status, _ = do(t, http.MethodGet, ts.URL+"/api/v1/tasks?saleId=X", nil); status != http.StatusNotFound {
		t.Errorf("get after cancel: %d", status)
	}
	if status, _ = do(t, http.MethodDelete, ts.URL+"/api/v1/tasks?id="+task.ID, nil); status != http.StatusNotFound {
		t.Errorf("delete missing: %d", status)
	}
}

func TestAccountEndpoints(t *testing.T) {
	ts, _ := newTestServer(t)
	base := ts.URL + "/api/v1/accounts"

	status, env := do(t, http.MethodPost, base, map[string]any{"id": "acc-9", "name": "bob", "token": "secret"})
	if status != http.StatusOK {
		t.Fatalf("create account: %d %s", status, env.Error)
	}

	status, env = do(t, http.MethodGet, base+"?id=acc-9", nil)
	if status != http.StatusOK {
		t.Fatalf("get account: %d %s", status, env.Error)
	}
	var acc AccountView
	_ = json.Unmarshal(env.Data, &acc)
	if acc.ID != "acc-9" || acc.Name != "bob" || !acc.HasToken || strings.Contains(string(env.Data), "secret") {
		t.Errorf("account view = %s", env.Data)
	}

	if status, env = do(t, http.MethodDelete, base, nil); status != http.StatusBadRequest {
		t.Errorf("delete without id: %d %s", status, env.Error)
	}
	if status, env = do(t, http.MethodDelete, base+"?id=acc-9", nil); status != http.StatusOK {
		t.Fatalf("delete account: %d %s", status, env.Error)
	}
	if status, _ = do(t, http.MethodGet, base+"?id=acc-9", nil); status != http.StatusNotFound {
		t.Errorf("get deleted account: %d", status)
	}
	if status, _ = do(t, http.MethodDelete, base+"?id=acc-9", nil); status != http.StatusNotFound {
		t.Errorf("delete missing account: %d", status)
	}

	status, env = do(t, http.MethodGet, base, nil)
	if status != http.StatusOK {
		t.Fatalf("list accounts: %d %s", status, env.Error)
	}
	var all []AccountView
	_ = json.Unmarshal(env.Data, &all)
	if len(all) != 0 {
		t.Errorf("accounts after delete = %+v", all)
	}
}

func TestScheduleValidationIsBadRequest(t *testing.T) {
	ts, _ := newTestServer(t)
	status, env := do(t, http.MethodPost, ts.URL+"/api/v1/tasks", map[string]any{"saleId": "X"})
	if status != http.StatusBadRequest || env.Error == "" {
		t.Errorf("status = %d, error = %q", status, env.Error)
	}
}

func TestListTasksEmpty(t *testing.T) {
	ts, _ := newTestServer(t)
	status, env := do(t, http.MethodGet, ts.URL+"/api/v1/tasks", nil)
	if status != http.StatusOK || string(env.Data) != "[]" {
		t.Errorf("status = %d, data = %s", status, env.Data)
	}
}

func TestCorsPreflight(t *testing.T) {
	ts, _ := newTestServer(t)

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/api/v1/tasks", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("allow origin = %q", got)
	}

	req, _ = http.NewRequest(http.MethodOptions, ts.URL+"/api/v1/tasks", nil)
	req.Header.Set("Origin", "http://evil.example")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("foreign origin allowed: %q", got)
	}
}

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{model.ErrDuplicateTask, http.StatusConflict},
		{model.ErrInvalidState, http.StatusConflict},
		{model.ErrNotFound, http.StatusNotFound},
		{model.ErrInvalidOptions, http.StatusBadRequest},
		{&model.TransportError{Op: "product", Err: model.ErrNotFound}, http.StatusNotFound},
		{&model.TransportError{Op: "product", Status: 500, Err: context.DeadlineExceeded}, http.StatusBadGateway},
		{&model.PersistenceError{Op: "x", Err: context.Canceled}, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Errorf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
