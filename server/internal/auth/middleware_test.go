package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
})

func call(t *testing.T, mw func(http.Handler) http.Handler, header, key string) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", nil)
	if key != "" {
		req.Header.Set(header, key)
	}
	rr := httptest.NewRecorder()
	mw(okHandler).ServeHTTP(rr, req)
	return rr.Code
}

func TestAPIKey(t *testing.T) {
	cases := []struct {
		name   string
		mode   string
		key    string
		header string
		sent   string
		want   int
	}{
		{"mode none passes", "none", "secret", "x-api-key", "", http.StatusNoContent},
		{"empty mode passes", "", "secret", "x-api-key", "", http.StatusNoContent},
		{"unconfigured key passes", "apikey", "", "x-api-key", "", http.StatusNoContent},
		{"correct key", "apikey", "supersecret", "x-api-key", "supersecret", http.StatusNoContent},
		{"wrong key", "apikey", "supersecret", "x-api-key", "nope", http.StatusUnauthorized},
		{"missing key", "apikey", "supersecret", "x-api-key", "", http.StatusUnauthorized},
		{"prefix of key", "apikey", "supersecret", "x-api-key", "super", http.StatusUnauthorized},
		{"custom header", "apikey", "k", "x-echo-key", "k", http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := call(t, APIKey(tc.mode, tc.header, tc.key), tc.header, tc.sent); got != tc.want {
				t.Errorf("status: got %d, want %d", got, tc.want)
			}
		})
	}
}

func TestAPIKey_HeaderIsCaseInsensitive(t *testing.T) {
	mw := APIKey("apikey", "X-Api-Key", "k")
	if got := call(t, mw, "x-api-key", "k"); got != http.StatusNoContent {
		t.Errorf("status: got %d, want 204", got)
	}
}

func TestAPIKey_WrongHeaderName(t *testing.T) {
	mw := APIKey("apikey", "x-api-key", "k")
	if got := call(t, mw, "authorization", "k"); got != http.StatusUnauthorized {
		t.Errorf("status: got %d, want 401", got)
	}
}
