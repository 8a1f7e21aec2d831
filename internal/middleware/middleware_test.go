package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"

	"github.com/paiban/planrules/internal/config"
	"github.com/paiban/planrules/internal/metrics"
)

func TestRequestLogger_RecordsRoutePattern(t *testing.T) {
	reg := metrics.NewRegistry()
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(RequestLogger(reg))
	r.Get("/api/planning/fatigue/{userId}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	for _, id := range []string{"u1", "u2"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/planning/fatigue/"+id, nil))
		assert.Equal(t, http.StatusTeapot, rec.Code)
	}

	c := reg.GetCounter(metrics.HTTPRequestsTotal)
	assert.Equal(t, 2.0, c.Value("GET", "/api/planning/fatigue/{userId}", "418"))
}

func TestCORS(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	tests := []struct {
		name   string
		cfg    config.CORSConfig
		origin string
		method string
		want   string
		code   int
	}{
		{"wildcard", config.CORSConfig{Enabled: true, Origins: []string{"*"}}, "https://a.example", http.MethodGet, "*", http.StatusOK},
		{"listed", config.CORSConfig{Enabled: true, Origins: []string{"https://a.example"}}, "https://a.example", http.MethodGet, "https://a.example", http.StatusOK},
		{"not listed", config.CORSConfig{Enabled: true, Origins: []string{"https://a.example"}}, "https://b.example", http.MethodGet, "", http.StatusOK},
		{"preflight", config.CORSConfig{Enabled: true, Origins: []string{"*"}}, "https://a.example", http.MethodOptions, "*", http.StatusNoContent},
		{"disabled", config.CORSConfig{Enabled: false, Origins: []string{"*"}}, "https://a.example", http.MethodGet, "", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/", nil)
			req.Header.Set("Origin", tt.origin)
			rec := httptest.NewRecorder()
			CORS(tt.cfg)(ok).ServeHTTP(rec, req)

			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, tt.want, rec.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}
