package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"tasktracker/internal/api/auth"
	"tasktracker/internal/config"
	"tasktracker/internal/model"
	"tasktracker/internal/store"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

type mockTaskStore struct {
	insertFunc    func(ctx context.Context, name string, priority model.Priority, ownerID uint) (*model.Task, error)
	listFunc      func(ctx context.Context, ownerID uint) ([]model.Task, error)
	updateFunc    func(ctx context.Context, id uint, name string, priority model.Priority, ownerID uint) (bool, error)
	deleteFunc    func(ctx context.Context, id uint, ownerID uint) (bool, error)
	searchFunc    func(ctx context.Context, substring string, ownerID uint) ([]model.Task, error)
	aggregateFunc func(ctx context.Context, ownerID uint) (*model.DashboardSnapshot, error)
	calls         int
}

func (m *mockTaskStore) Insert(ctx context.Context, name string, priority model.Priority, ownerID uint) (*model.Task, error) {
	m.calls++
	return m.insertFunc(ctx, name, priority, ownerID)
}

func (m *mockTaskStore) ListAll(ctx context.Context, ownerID uint) ([]model.Task, error) {
	m.calls++
	return m.listFunc(ctx, ownerID)
}

func (m *mockTaskStore) Update(ctx context.Context, id uint, name string, priority model.Priority, ownerID uint) (bool, error) {
	m.calls++
	return m.updateFunc(ctx, id, name, priority, ownerID)
}

func (m *mockTaskStore) Delete(ctx context.Context, id uint, ownerID uint) (bool, error) {
	m.calls++
	return m.deleteFunc(ctx, id, ownerID)
}

func (m *mockTaskStore) SearchByName(ctx context.Context, substring string, ownerID uint) ([]model.Task, error) {
	m.calls++
	return m.searchFunc(ctx, substring, ownerID)
}

func (m *mockTaskStore) Aggregate(ctx context.Context, ownerID uint) (*model.DashboardSnapshot, error) {
	m.calls++
	return m.aggregateFunc(ctx, ownerID)
}

type mockCache struct {
	snap        *model.DashboardSnapshot
	gen         int64
	sets        int
	invalidated []uint
}

func (m *mockCache) Get(ctx context.Context, ownerID uint) (*model.DashboardSnapshot, int64, bool, error) {
	if m.snap == nil {
		return nil, m.gen, false, nil
	}
	return m.snap, m.gen, true, nil
}

func (m *mockCache) Set(ctx context.Context, ownerID uint, gen int64, snap *model.DashboardSnapshot) (bool, error) {
	if gen != m.gen {
		return false, nil
	}
	m.sets++
	m.snap = snap
	return true, nil
}

func (m *mockCache) Invalidate(ctx context.Context, ownerID uint) error {
	m.invalidated = append(m.invalidated, ownerID)
	m.gen++
	m.snap = nil
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sqliteConfig(t *testing.T) config.DatabaseConfig {
	t.Helper()
	return config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "api.db") + "?_pragma=foreign_keys(1)&_time_format=sqlite",
	}
}

// newMockServer 组装使用 mock 任务存储的 Server，并返回一个有效令牌及其用户 ID。
func newMockServer(t *testing.T, tasks TaskStore, cache DashboardCache) (*Server, string, uint) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := discardLogger()

	db, err := store.Open(sqliteConfig(t))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	svc := auth.NewService(db.Users(), nil, auth.Options{Secret: "test-secret", BcryptCost: bcrypt.MinCost}, logger)
	ctx := context.Background()
	id, err := svc.Register(ctx, "alice", "", "pw")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	token, _, err := svc.Authenticate(ctx, "alice", "pw")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}

	s := &Server{
		cfg:     &config.Config{},
		logger:  logger,
		db:      db,
		authSvc: svc,
		auth:    auth.NewHandler(svc, nil, nil, logger),
		tasks:   tasks,
	}
	if cache != nil {
		s.cache = cache
	}
	s.buildRouter()
	return s, token, id
}

func doRequest(t *testing.T, h http.Handler, method, path string, body any, token string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var resp map[string]any
	if w.Body.Len() > 0 && bytes.HasPrefix(bytes.TrimSpace(w.Body.Bytes()), []byte("{")) {
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode %q: %v", w.Body.String(), err)
		}
	}
	return w, resp
}

func sampleTask(id uint, name string, p model.Priority, owner uint) *model.Task {
	return &model.Task{
		ID:        id,
		Name:      name,
		Priority:  p,
		DateAdded: time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC),
		OwnerID:   owner,
	}
}

func TestProtectedRoutes_RejectBeforeStoreAccess(t *testing.T) {
	tasks := &mockTaskStore{}
	s, _, _ := newMockServer(t, tasks, nil)

	routes := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/dashboard"},
		{http.MethodGet, "/api/getAll"},
		{http.MethodPost, "/api/insert"},
		{http.MethodPatch, "/api/update"},
		{http.MethodDelete, "/api/delete/1"},
		{http.MethodGet, "/api/search/milk"},
		{http.MethodPost, "/api/logout"},
	}
	for _, rt := range routes {
		w, resp := doRequest(t, s.Router(), rt.method, rt.path, nil, "")
		if w.Code != http.StatusUnauthorized || resp["message"] != "Authentication required" {
			t.Fatalf("%s %s without token: status=%d body=%s", rt.method, rt.path, w.Code, w.Body.String())
		}
		w, resp = doRequest(t, s.Router(), rt.method, rt.path, nil, "forged.token.value")
		if w.Code != http.StatusForbidden || resp["message"] != "Invalid token" {
			t.Fatalf("%s %s with bad token: status=%d body=%s", rt.method, rt.path, w.Code, w.Body.String())
		}
	}
	if tasks.calls != 0 {
		t.Fatalf("store must not be touched on auth failure, got %d calls", tasks.calls)
	}
}

func TestInsertTask(t *testing.T) {
	var gotOwner uint
	var gotPriority model.Priority
	tasks := &mockTaskStore{
		insertFunc: func(ctx context.Context, name string, priority model.Priority, ownerID uint) (*model.Task, error) {
			gotOwner, gotPriority = ownerID, priority
			return sampleTask(7, name, priority, ownerID), nil
		},
	}
	cache := &mockCache{}
	s, token, uid := newMockServer(t, tasks, cache)

	w, resp := doRequest(t, s.Router(), http.MethodPost, "/api/insert", gin.H{"name": " Buy milk ", "priority": "very-important"}, token)
	if w.Code != http.StatusOK || resp["success"] != true {
		t.Fatalf("insert: status=%d body=%s", w.Code, w.Body.String())
	}
	data, _ := resp["data"].(map[string]any)
	if data["id"] != float64(7) || data["name"] != "Buy milk" || data["priority"] != "very important" {
		t.Fatalf("unexpected task: %v", data)
	}
	if data["date_added"] != "2026-10-14T09:30:00Z" {
		t.Fatalf("unexpected date_added: %v", data["date_added"])
	}
	if gotOwner != uid || gotPriority != model.PriorityVeryImportant {
		t.Fatalf("store got owner=%d priority=%q", gotOwner, gotPriority)
	}
	if len(cache.invalidated) != 1 || cache.invalidated[0] != uid {
		t.Fatalf("insert should invalidate the dashboard cache: %v", cache.invalidated)
	}
}

func TestInsertTask_Validation(t *testing.T) {
	tasks := &mockTaskStore{}
	s, token, _ := newMockServer(t, tasks, nil)

	for name, body := range map[string]any{
		"malformed json": "{",
		"empty name":     gin.H{"name": "   ", "priority": "important"},
		"bad priority":   gin.H{"name": "x", "priority": "urgent"},
	} {
		w, resp := doRequest(t, s.Router(), http.MethodPost, "/api/insert", body, token)
		if w.Code != http.StatusBadRequest || resp["success"] != false {
			t.Fatalf("%s: expected 400, got %d body=%s", name, w.Code, w.Body.String())
		}
	}
	if tasks.calls != 0 {
		t.Fatalf("invalid input must not reach the store")
	}
}

func TestUpdateTask_AcceptsStringID(t *testing.T) {
	var gotID uint
	tasks := &mockTaskStore{
		updateFunc: func(ctx context.Context, id uint, name string, priority model.Priority, ownerID uint) (bool, error) {
			gotID = id
			return id == 5, nil
		},
	}
	s, token, _ := newMockServer(t, tasks, nil)

	w, resp := doRequest(t, s.Router(), http.MethodPatch, "/api/update", gin.H{"id": "5", "name": "Buy bread", "priority": "not important"}, token)
	if w.Code != http.StatusOK || resp["data"] != true || gotID != 5 {
		t.Fatalf("update: status=%d body=%s id=%d", w.Code, w.Body.String(), gotID)
	}

	w, resp = doRequest(t, s.Router(), http.MethodPatch, "/api/update", gin.H{"id": 6, "name": "Buy bread", "priority": "important"}, token)
	if w.Code != http.StatusOK || resp["success"] != true || resp["data"] != false {
		t.Fatalf("update miss should answer data=false: status=%d body=%s", w.Code, w.Body.String())
	}

	before := tasks.calls
	for _, body := range []gin.H{
		{"name": "x"},
		{"id": "abc", "name": "x"},
		{"id": 5, "name": ""},
		{"id": 5, "name": "x", "priority": "nope"},
	} {
		if w, _ := doRequest(t, s.Router(), http.MethodPatch, "/api/update", body, token); w.Code != http.StatusBadRequest {
			t.Fatalf("body %v: expected 400, got %d", body, w.Code)
		}
	}
	if tasks.calls != before {
		t.Fatalf("invalid update must not reach the store")
	}
}

func TestUpdateTask_RequiresPriority(t *testing.T) {
	tasks := &mockTaskStore{
		updateFunc: func(ctx context.Context, id uint, name string, priority model.Priority, ownerID uint) (bool, error) {
			t.Fatalf("update without priority must not reach the store, got %q", priority)
			return false, nil
		},
	}
	s, token, _ := newMockServer(t, tasks, nil)

	for _, body := range []gin.H{
		{"id": 5, "name": "B"},
		{"id": 5, "name": "B", "priority": ""},
		{"id": 5, "name": "B", "priority": "   "},
	} {
		w, resp := doRequest(t, s.Router(), http.MethodPatch, "/api/update", body, token)
		if w.Code != http.StatusBadRequest || resp["message"] != "Invalid priority" {
			t.Fatalf("body %v: expected 400 Invalid priority, got %d body=%s", body, w.Code, w.Body.String())
		}
	}
}

func TestDeleteTask(t *testing.T) {
	tasks := &mockTaskStore{
		deleteFunc: func(ctx context.Context, id uint, ownerID uint) (bool, error) {
			return id == 3, nil
		},
	}
	s, token, _ := newMockServer(t, tasks, nil)

	if w, resp := doRequest(t, s.Router(), http.MethodDelete, "/api/delete/3", nil, token); w.Code != http.StatusOK || resp["data"] != true {
		t.Fatalf("delete: status=%d body=%s", w.Code, w.Body.String())
	}
	if w, resp := doRequest(t, s.Router(), http.MethodDelete, "/api/delete/4", nil, token); w.Code != http.StatusOK || resp["data"] != false {
		t.Fatalf("delete miss: status=%d body=%s", w.Code, w.Body.String())
	}
	calls := tasks.calls
	if w, _ := doRequest(t, s.Router(), http.MethodDelete, "/api/delete/abc", nil, token); w.Code != http.StatusBadRequest {
		t.Fatalf("bad id: expected 400, got %d", w.Code)
	}
	if tasks.calls != calls {
		t.Fatalf("bad id must not reach the store")
	}
}

func TestStoreFailureAnswers500(t *testing.T) {
	boom := errors.New("connection refused")
	tasks := &mockTaskStore{
		listFunc: func(ctx context.Context, ownerID uint) ([]model.Task, error) { return nil, boom },
		searchFunc: func(ctx context.Context, substring string, ownerID uint) ([]model.Task, error) {
			return nil, boom
		},
		aggregateFunc: func(ctx context.Context, ownerID uint) (*model.DashboardSnapshot, error) { return nil, boom },
	}
	s, token, _ := newMockServer(t, tasks, nil)

	for path, message := range map[string]string{
		"/api/getAll":      "Error retrieving data",
		"/api/search/milk": "Error searching data",
		"/api/dashboard":   "Error fetching dashboard data",
	} {
		w, resp := doRequest(t, s.Router(), http.MethodGet, path, nil, token)
		if w.Code != http.StatusInternalServerError {
			t.Fatalf("%s: expected 500, got %d", path, w.Code)
		}
		if resp["success"] != false || resp["message"] != message || resp["error"] != "connection refused" {
			t.Fatalf("%s: unexpected body %v", path, resp)
		}
	}
}

func TestListAndSearch_EmptyIsArray(t *testing.T) {
	var gotSubstring string
	tasks := &mockTaskStore{
		listFunc: func(ctx context.Context, ownerID uint) ([]model.Task, error) { return nil, nil },
		searchFunc: func(ctx context.Context, substring string, ownerID uint) ([]model.Task, error) {
			gotSubstring = substring
			return nil, nil
		},
	}
	s, token, _ := newMockServer(t, tasks, nil)

	w, _ := doRequest(t, s.Router(), http.MethodGet, "/api/getAll", nil, token)
	if w.Code != http.StatusOK || !bytes.Contains(w.Body.Bytes(), []byte(`"data":[]`)) {
		t.Fatalf("empty list should be [], got %s", w.Body.String())
	}
	w, _ = doRequest(t, s.Router(), http.MethodGet, "/api/search/50%25%20off", nil, token)
	if w.Code != http.StatusOK || gotSubstring != "50% off" {
		t.Fatalf("search should receive decoded substring, got %q (status %d)", gotSubstring, w.Code)
	}
}

func TestDashboard_UsesCache(t *testing.T) {
	aggregates := 0
	tasks := &mockTaskStore{
		aggregateFunc: func(ctx context.Context, ownerID uint) (*model.DashboardSnapshot, error) {
			aggregates++
			return &model.DashboardSnapshot{
				TotalTasks:    2,
				PendingTasks:  2,
				TasksOverTime: model.TasksOverTime{Dates: []string{}, Counts: []int64{}},
				RecentTasks:   []model.RecentTask{},
			}, nil
		},
		deleteFunc: func(ctx context.Context, id uint, ownerID uint) (bool, error) { return true, nil },
	}
	cache := &mockCache{}
	s, token, _ := newMockServer(t, tasks, cache)

	for i := 0; i < 2; i++ {
		w, resp := doRequest(t, s.Router(), http.MethodGet, "/api/dashboard", nil, token)
		if w.Code != http.StatusOK || resp["success"] != true {
			t.Fatalf("dashboard: status=%d body=%s", w.Code, w.Body.String())
		}
		data, _ := resp["data"].(map[string]any)
		if data["totalTasks"] != float64(2) || data["pendingTasks"] != float64(2) {
			t.Fatalf("unexpected snapshot: %v", data)
		}
	}
	if aggregates != 1 || cache.sets != 1 {
		t.Fatalf("second dashboard call should be served from cache: aggregates=%d sets=%d", aggregates, cache.sets)
	}

	doRequest(t, s.Router(), http.MethodDelete, "/api/delete/1", nil, token)
	doRequest(t, s.Router(), http.MethodGet, "/api/dashboard", nil, token)
	if aggregates != 2 {
		t.Fatalf("write should invalidate the cache, aggregates=%d", aggregates)
	}
}

func TestDashboard_SkipsCacheFillAfterConcurrentWrite(t *testing.T) {
	cache := &mockCache{}
	tasks := &mockTaskStore{
		aggregateFunc: func(ctx context.Context, ownerID uint) (*model.DashboardSnapshot, error) {
			// 聚合完成后、写入缓存前发生一次写操作
			_ = cache.Invalidate(ctx, ownerID)
			return &model.DashboardSnapshot{TasksOverTime: model.TasksOverTime{Dates: []string{}, Counts: []int64{}}, RecentTasks: []model.RecentTask{}}, nil
		},
	}
	s, token, _ := newMockServer(t, tasks, cache)

	if w, _ := doRequest(t, s.Router(), http.MethodGet, "/api/dashboard", nil, token); w.Code != http.StatusOK {
		t.Fatalf("dashboard: status=%d body=%s", w.Code, w.Body.String())
	}
	if cache.sets != 0 || cache.snap != nil {
		t.Fatalf("snapshot computed across a write must not be cached: sets=%d", cache.sets)
	}
}

func TestHealthz(t *testing.T) {
	s, _, _ := newMockServer(t, &mockTaskStore{}, nil)
	w, resp := doRequest(t, s.Router(), http.MethodGet, "/healthz", nil, "")
	if w.Code != http.StatusOK || resp["status"] != "ok" {
		t.Fatalf("healthz: status=%d body=%s", w.Code, w.Body.String())
	}

	s.db = nil
	if w, _ := doRequest(t, s.Router(), http.MethodGet, "/healthz", nil, ""); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("healthz without db: expected 503, got %d", w.Code)
	}
}
