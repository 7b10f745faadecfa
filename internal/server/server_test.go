package server

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"

	v1 "boqbalance/internal/api/v1"
	"boqbalance/internal/config"
	"boqbalance/internal/model"
	"boqbalance/internal/service/project"
	"boqbalance/internal/service/session"
	"boqbalance/internal/store"
)

func newTestServer(t *testing.T, devMode bool) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	st, err := store.New(filepath.Join(dir, "boqbalance.db"))
	if err != nil {
		t.Fatalf("init store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	registry := session.NewRegistry(model.OptimizeParams{Bounds: model.Bounds{Min: 0.5, Max: 1.5}, Lambda: 10})
	projects, err := project.NewManager(dir, registry, st, nil)
	if err != nil {
		t.Fatalf("init projects: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.Server.DevMode = devMode
	h := v1.NewHandler(v1.Options{Projects: projects, Sessions: registry, Store: st})
	return NewServer(cfg, h, projects)
}

// TestServerRoutes 测试 CORS、API 路由与未知路由
func TestServerRoutes(t *testing.T) {
	srv := newTestServer(t, false)

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodOptions, "/api/v1/sessions", http.StatusNoContent},
		{http.MethodGet, "/api/v1/status", http.StatusOK},
		{http.MethodGet, "/api/v1/sessions", http.StatusOK},
		{http.MethodGet, "/nope", http.StatusNotFound},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))
		if w.Code != tt.want {
			t.Errorf("%s %s = %d, want %d", tt.method, tt.path, w.Code, tt.want)
		}
		if w.Header().Get("Access-Control-Allow-Origin") != "*" {
			t.Errorf("%s %s missing CORS header", tt.method, tt.path)
		}
	}
	if err := srv.SaveNow(); err != nil {
		t.Fatalf("SaveNow: %v", err)
	}
}

// TestServerDevModeRedirect 测试开发模式下转发到前端开发服务器
func TestServerDevModeRedirect(t *testing.T) {
	srv := newTestServer(t, true)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/sessions", nil))
	if w.Code != http.StatusTemporaryRedirect {
		t.Fatalf("status = %d, want 307", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "http://localhost:5173/sessions" {
		t.Fatalf("location = %q", loc)
	}
}
