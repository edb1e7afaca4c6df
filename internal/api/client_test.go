package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"reelvault/internal/api"
)

func TestNewClientRequiresBind(t *testing.T) {
	if _, err := api.NewClient("  "); err == nil {
		t.Fatal("expected error for empty bind")
	}
}

func TestNewClientRewritesWildcardHost(t *testing.T) {
	client, err := api.NewClient("0.0.0.0:7490")
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}
	if got := client.BaseURL(); got != "http://127.0.0.1:7490" {
		t.Fatalf("unexpected base url %q", got)
	}
}

func TestClientUploadSendsRawBody(t *testing.T) {
	var (
		gotQuery url.Values
		gotType  string
		gotBody  string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/files" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotQuery = r.URL.Query()
		gotType = r.Header.Get("Content-Type")
		data, _ := io.ReadAll(r.Body)
		gotBody = string(data)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(api.UploadResponse{ID: "abc", URL: "/files/abc", Transcoding: true})
	}))
	defer srv.Close()

	client, err := api.NewClient(srv.URL)
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}
	resp, err := client.Upload(context.Background(), api.UploadRequest{
		Name:        "clip.mp4",
		SetName:     "trip",
		ContentType: "video/mp4",
		Size:        5,
		Body:        strings.NewReader("hello"),
	})
	if err != nil {
		t.Fatalf("Upload error: %v", err)
	}
	if resp.ID != "abc" || !resp.Transcoding {
		t.Fatalf("unexpected response %+v", resp)
	}
	if gotQuery.Get("name") != "clip.mp4" || gotQuery.Get("set") != "trip" {
		t.Fatalf("unexpected query %v", gotQuery)
	}
	if gotType != "video/mp4" {
		t.Fatalf("unexpected content type %q", gotType)
	}
	if gotBody != "hello" {
		t.Fatalf("unexpected body %q", gotBody)
	}
}

func TestClientDecodesErrorPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: "file not found"})
	}))
	defer srv.Close()

	client, err := api.NewClient(srv.URL)
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}
	_, err = client.GetFile(context.Background(), "missing")
	var apiErr *api.Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *api.Error, got %v", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Message != "file not found" {
		t.Fatalf("unexpected error %+v", apiErr)
	}
	if api.StatusCode(err) != http.StatusNotFound {
		t.Fatalf("StatusCode = %d", api.StatusCode(err))
	}
}

func TestClientAssociateAndHistoryQuery(t *testing.T) {
	var (
		gotAssociate api.AssociateRequest
		gotHistory   url.Values
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/associate":
			_ = json.NewDecoder(r.Body).Decode(&gotAssociate)
			_ = json.NewEncoder(w).Encode(api.AssociateResponse{Updated: len(gotAssociate.IDs)})
		case "/api/history":
			gotHistory = r.URL.Query()
			_ = json.NewEncoder(w).Encode(api.HistoryResponse{Entries: []api.HistoryEntry{{ID: 1, FileID: "f1"}}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client, err := api.NewClient(srv.URL)
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}
	updated, err := client.Associate(context.Background(), []string{"a", "b"}, "trip")
	if err != nil {
		t.Fatalf("Associate error: %v", err)
	}
	if updated != 2 || gotAssociate.SetName != "trip" {
		t.Fatalf("unexpected associate result %d %+v", updated, gotAssociate)
	}

	entries, err := client.History(context.Background(), "f1", 5)
	if err != nil {
		t.Fatalf("History error: %v", err)
	}
	if len(entries) != 1 || entries[0].FileID != "f1" {
		t.Fatalf("unexpected entries %+v", entries)
	}
	if gotHistory.Get("file") != "f1" || gotHistory.Get("limit") != "5" {
		t.Fatalf("unexpected history query %v", gotHistory)
	}
}

func TestClientDeleteAcceptsNoContent(t *testing.T) {
	var gotScope string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("unexpected method %s", r.Method)
		}
		gotScope = r.URL.Query().Get("scope")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client, err := api.NewClient(srv.URL)
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}
	if err := client.Delete(context.Background(), "f1", "derived"); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if gotScope != "derived" {
		t.Fatalf("unexpected scope %q", gotScope)
	}
}

func TestIsAPIUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	addr := srv.URL
	srv.Close()

	client, err := api.NewClient(addr)
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}
	err = client.Health(context.Background())
	if !api.IsAPIUnavailable(err) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
	if api.IsAPIUnavailable(nil) {
		t.Fatal("nil error should not be unavailable")
	}
}
