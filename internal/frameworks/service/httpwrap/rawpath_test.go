package httpwrap

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestClearRawPath_RoutesEncodedID(t *testing.T) {
	var got string
	r := chi.NewRouter()
	r.Get("/sponsorships/{id}", func(w http.ResponseWriter, r *http.Request) {
		got = chi.URLParam(r, "id")
	})

	req := httptest.NewRequest(http.MethodGet, "/sponsorships/abc%2Ddef", nil)
	if req.URL.RawPath == "" {
		t.Fatal("test setup error: RawPath should be set")
	}
	rec := httptest.NewRecorder()
	ClearRawPath(r).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || got != "abc-def" {
		t.Errorf("status = %d, id = %q", rec.Code, got)
	}
}

func TestMaxBody(t *testing.T) {
	h := MaxBody(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		body string
		want int
	}{
		{"12345678", http.StatusOK},
		{"123456789", http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body)))
		if rec.Code != tt.want {
			t.Errorf("body %q: status = %d, want %d", tt.body, rec.Code, tt.want)
		}
	}
}
