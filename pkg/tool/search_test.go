package tool

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/zen-systems/toolcascade/pkg/schema"
)

func newSearchServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("failed to listen for httptest server: %v", err)
	}
	server := httptest.NewUnstartedServer(handler)
	server.Listener = listener
	server.Start()
	t.Cleanup(server.Close)
	return server
}

func TestSearchToolInvoke(t *testing.T) {
	server := newSearchServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/search" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("missing bearer token")
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req["query"] != "capital of france" {
			t.Errorf("query = %v", req["query"])
		}
		if req["include_answer"] != false {
			t.Errorf("include_answer should be false")
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{
				{"title": "Paris", "url": "https://example.com/paris", "content": "Paris is the capital.", "score": 0.91},
				{"title": "France", "url": "https://example.com/fr", "content": "France facts.", "score": 0.55},
			},
		})
	})

	search := NewSearchTool(WithSearchAPIKey("test-key"), WithSearchBaseURL(server.URL+"/"))
	out, err := search.Invoke(context.Background(), schema.NewTask("ignored"), map[string]string{
		ParamQuery: "capital of france",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Confidence != 0.91 {
		t.Fatalf("confidence = %v, want top score", out.Confidence)
	}
	if !strings.HasPrefix(out.Content, "Paris is the capital.") {
		t.Fatalf("unexpected content %q", out.Content)
	}
	if out.Metadata["top"] != "https://example.com/paris" {
		t.Fatalf("top url = %q", out.Metadata["top"])
	}
}

func TestSearchToolFailures(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusTooManyRequests)
	server := newSearchServer(t, func(w http.ResponseWriter, r *http.Request) {
		if code := int(status.Load()); code != http.StatusOK {
			w.WriteHeader(code)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results":[]}`))
	})
	search := NewSearchTool(WithSearchAPIKey("k"), WithSearchBaseURL(server.URL))
	task := schema.NewTask("anything")

	_, err := search.Invoke(context.Background(), task, nil)
	if !IsTransient(err) {
		t.Fatalf("429 should be transient, got %v", err)
	}

	status.Store(http.StatusOK)
	_, err = search.Invoke(context.Background(), task, nil)
	var toolErr *Error
	if !errors.As(err, &toolErr) || IsTransient(err) {
		t.Fatalf("empty results should be a permanent tool error, got %v", err)
	}
}

func TestSearchToolWithoutKey(t *testing.T) {
	search := NewSearchTool(WithSearchAPIKey(""))
	if search.Available() {
		t.Fatalf("search should be unavailable without a key")
	}
	if _, err := search.Invoke(context.Background(), schema.NewTask("q"), nil); err == nil {
		t.Fatalf("expected error without key")
	}
}

func TestMergeParams(t *testing.T) {
	base := map[string]string{"a": "1", "b": "2"}
	merged := MergeParams(base, map[string]string{"b": "3", "c": "", "d": "4"})
	if merged["a"] != "1" || merged["b"] != "3" || merged["d"] != "4" {
		t.Fatalf("unexpected merge: %v", merged)
	}
	if _, ok := merged["c"]; ok {
		t.Fatalf("empty override should be skipped")
	}
	if base["b"] != "2" {
		t.Fatalf("base modified")
	}
}
