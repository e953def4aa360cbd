package platform

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClient_Call_StatusMapping(t *testing.T) {
	cases := []struct {
		name       string
		statusCode int
		wantOK     bool
		wantErr    bool
		wantKind   APIErrorKind
	}{
		{"ok with body", http.StatusOK, true, false, 0},
		{"accepted no body", http.StatusAccepted, true, false, 0},
		{"not modified", http.StatusNotModified, false, false, 0},
		{"bad request", http.StatusBadRequest, false, true, KindBadRequest},
		{"not found", http.StatusNotFound, false, true, KindNotFound},
		{"server error", http.StatusInternalServerError, false, true, KindInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.statusCode)
				if tc.statusCode < 300 && tc.statusCode != http.StatusAccepted && tc.statusCode != http.StatusNoContent {
					w.Write([]byte(`{}`))
				}
			}))
			defer srv.Close()

			c := NewClient(srv.URL, "token")
			var out map[string]any
			ok, err := c.Call(context.Background(), Command{Verb: GET, Endpoint: "/x"}, 0, &out)

			if ok != tc.wantOK {
				t.Errorf("ok = %v, want %v", ok, tc.wantOK)
			}
			if tc.wantErr {
				apiErr, isAPIErr := err.(*APIError)
				if !isAPIErr {
					t.Fatalf("expected *APIError, got %T (%v)", err, err)
				}
				if apiErr.Kind != tc.wantKind {
					t.Errorf("kind = %v, want %v", apiErr.Kind, tc.wantKind)
				}
			} else if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestClient_Call_SudoHeader(t *testing.T) {
	var gotSudo string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSudo = r.Header.Get("SUDO")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "token")
	if _, err := c.Call(context.Background(), Command{Verb: POST, Endpoint: "/approve"}, 42, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotSudo != "42" {
		t.Errorf("SUDO header = %q, want %q", gotSudo, "42")
	}
}
