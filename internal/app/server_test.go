package app

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/PuertOcho/puertocho-intent/internal/orchestrate"
	"github.com/PuertOcho/puertocho-intent/internal/tools"
)

func newTestServer(t *testing.T) (*Server, *fakeInvoker) {
	t.Helper()
	invoker := &fakeInvoker{
		handler: func(action tools.Action, args map[string]any) (map[string]any, error) {
			return map[string]any{"lugar": args["lugar"], "estado": "encendida"}, nil
		},
	}
	p, _ := newTestPipeline(t,
		`{"intent":"encender_luz","confidence":0.95,"entities":{"lugar":"salón"},"reasoning":"orden directa"}`,
		invoker)
	return NewServer(p, "127.0.0.1:0"), invoker
}

func postUtterance(t *testing.T, srv *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/utterance", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.srv.Handler.ServeHTTP(rec, req)
	return rec
}

func TestServer_Utterance(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	rec := postUtterance(t, srv, `{"session_id":"sess-1","user_id":"user-1","text":"enciende la luz del salón"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}

	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.IntentID != "encender_luz" || resp.Message != "Hecho." {
		t.Errorf("response = %+v", resp)
	}
	if resp.TrackerID == "" {
		t.Fatal("no tracker id in response")
	}

	// The tracker id from the response must be queryable.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/progress/"+resp.TrackerID, nil)
	prec := httptest.NewRecorder()
	srv.srv.Handler.ServeHTTP(prec, req)
	if prec.Code != http.StatusOK {
		t.Fatalf("progress status = %d, body = %s", prec.Code, prec.Body)
	}
	var snap orchestrate.Snapshot
	if err := json.Unmarshal(prec.Body.Bytes(), &snap); err != nil {
		t.Fatal(err)
	}
	if snap.Counts.Completed != 1 || snap.OverallPercent != 100 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestServer_UtteranceBadRequests(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"missing session id", `{"text":"enciende la luz"}`},
		{"blank text", `{"session_id":"sess-1","text":"   "}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if rec := postUtterance(t, srv, tt.body); rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, body = %s", rec.Code, rec.Body)
			}
		})
	}
}

func TestServer_ProgressNotFound(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/progress/nope", nil)
	rec := httptest.NewRecorder()
	srv.srv.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, body = %s", rec.Code, rec.Body)
	}
}

func TestServer_Health(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.srv.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}
