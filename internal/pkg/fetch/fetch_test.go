package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte("vaxtatafla"))
	}))
	defer srv.Close()

	c := NewClient(zap.NewNop())
	body, err := c.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "vaxtatafla", string(body))
}

func TestGetRejectsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(zap.NewNop())
	_, err := c.Get(context.Background(), srv.URL)
	assert.Error(t, err)
}

func TestGetHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body><h1>Vextir</h1></body></html>`))
	}))
	defer srv.Close()

	c := NewClient(zap.NewNop())
	doc, err := c.GetHTML(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.NotNil(t, doc)
}

func TestAbsoluteURL(t *testing.T) {
	tests := []struct {
		base string
		href string
		want string
	}{
		{"https://bank.is/vextir/", "/skjol/tafla.pdf", "https://bank.is/skjol/tafla.pdf"},
		{"https://bank.is/vextir/", "tafla.pdf", "https://bank.is/vextir/tafla.pdf"},
		{"https://bank.is/", "https://cdn.bank.is/tafla.pdf", "https://cdn.bank.is/tafla.pdf"},
		// A path whose first segment starts with "http" is still relative.
		{"https://bank.is/", "httpx/skjol/tafla.pdf", "https://bank.is/httpx/skjol/tafla.pdf"},
		{"https://bank.is/", "//cdn.bank.is/tafla.pdf", "https://cdn.bank.is/tafla.pdf"},
		{"https://bank.is/", "", ""},
		{"https://bank.is/", "   ", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, AbsoluteURL(tt.base, tt.href), "base=%s href=%q", tt.base, tt.href)
	}
}
