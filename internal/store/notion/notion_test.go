package notion

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jomei/notionapi"
)

// queryBody and commentBody are the parts of Notion request bodies the
// tests inspect.
type queryBody struct {
	Sorts []struct {
		Property  string `json:"property"`
		Direction string `json:"direction"`
	} `json:"sorts"`
	StartCursor string `json:"start_cursor"`
	PageSize    int    `json:"page_size"`
}

type commentBody struct {
	Parent struct {
		Type   string `json:"type"`
		PageID string `json:"page_id"`
	} `json:"parent"`
	RichText []struct {
		Text struct {
			Content string `json:"content"`
		} `json:"text"`
	} `json:"rich_text"`
}

func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	c, err := New(ClientOpts{APIKey: "secret_x", DatabaseID: "db1", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func checkHeaders(t *testing.T, r *http.Request) {
	t.Helper()
	if r.Header.Get("Authorization") != "Bearer secret_x" {
		t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
	}
	if r.Header.Get("Notion-Version") != "2022-06-28" {
		t.Errorf("Notion-Version = %q", r.Header.Get("Notion-Version"))
	}
}

func titlePage(id, name string) map[string]any {
	return map[string]any{
		"object": "page",
		"id":     id,
		"properties": map[string]any{
			"Name": map[string]any{
				"type":  "title",
				"title": []any{map[string]any{"plain_text": name}},
			},
		},
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(ClientOpts{DatabaseID: "db"}); err == nil {
		t.Error("expected error without api key")
	}
	if _, err := New(ClientOpts{APIKey: "k"}); err == nil {
		t.Error("expected error without database id")
	}
	if _, err := New(ClientOpts{APIKey: "k", DatabaseID: "db", BaseURL: "not a url"}); err == nil {
		t.Error("expected error for a base url without host")
	}
}

func TestBaseURLKeepsPathPrefix(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/proxy/v1/pages/p1", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"object":"page","id":"p1","properties":{}}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	c, err := New(ClientOpts{APIKey: "secret_x", DatabaseID: "db1", BaseURL: srv.URL + "/proxy/"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	d, err := c.GetTarget(context.Background(), "p1")
	if err != nil {
		t.Fatalf("GetTarget: %v", err)
	}
	if d == nil || d.ID != "p1" {
		t.Errorf("detail = %+v", d)
	}
}

// --- ListTargets tests ---

func TestListTargets_Paginates(t *testing.T) {
	mux := http.NewServeMux()
	calls := 0
	mux.HandleFunc("/v1/databases/db1/query", func(w http.ResponseWriter, r *http.Request) {
		checkHeaders(t, r)
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		var req queryBody
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Sorts) != 1 || req.Sorts[0].Property != "Name" || req.Sorts[0].Direction != "ascending" {
			t.Errorf("sorts = %+v", req.Sorts)
		}
		calls++
		switch req.StartCursor {
		case "":
			json.NewEncoder(w).Encode(map[string]any{
				"object":      "list",
				"results":     []any{titlePage("p1", "Anna"), titlePage("p2", "Boris")},
				"has_more":    true,
				"next_cursor": "c2",
			})
		case "c2":
			untitled := map[string]any{"object": "page", "id": "p3", "properties": map[string]any{}}
			json.NewEncoder(w).Encode(map[string]any{
				"results":  []any{untitled},
				"has_more": false,
			})
		default:
			t.Errorf("unexpected cursor %q", req.StartCursor)
		}
	})
	c := newTestClient(t, mux)

	targets, err := c.ListTargets(context.Background())
	if err != nil {
		t.Fatalf("ListTargets: %v", err)
	}
	if calls != 2 {
		t.Errorf("query calls = %d, want 2", calls)
	}
	if len(targets) != 3 {
		t.Fatalf("targets = %d, want 3", len(targets))
	}
	if targets[0].ID != "p1" || targets[0].Name != "Anna" {
		t.Errorf("targets[0] = %+v", targets[0])
	}
	if targets[2].Name != "Untitled" {
		t.Errorf("targets[2].Name = %q, want Untitled", targets[2].Name)
	}
}

func TestListTargets_APIError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/databases/db1/query", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"object":"error","status":401,"code":"unauthorized","message":"API token is invalid."}`))
	})
	c := newTestClient(t, mux)

	_, err := c.ListTargets(context.Background())
	var apiErr *notionapi.Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *notionapi.Error", err)
	}
	if apiErr.Status != 401 || apiErr.Code != "unauthorized" {
		t.Errorf("apiErr = %+v", apiErr)
	}
}

// --- GetTarget tests ---

func TestGetTarget_MapsProperties(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/pages/p1", func(w http.ResponseWriter, r *http.Request) {
		checkHeaders(t, r)
		w.Write([]byte(`{
			"object": "page",
			"id": "p1",
			"properties": {
				"Name": {"type": "title", "title": [{"plain_text": "Ivan "}, {"plain_text": "Petrov"}]},
				"status": {"type": "select", "select": {"name": "Interview"}},
				"About in the driver": {"type": "rich_text", "rich_text": [{"plain_text": "10 years OTR"}]},
				"Number": {"type": "rich_text", "rich_text": [{"plain_text": "+1 555 0100"}]},
				"Date": {"type": "date", "date": {"start": "2026-02-03"}},
				"Notes": {"type": "rich_text", "rich_text": []},
				"Trailer": {"type": "checkbox", "checkbox": true}
			}
		}`))
	})
	c := newTestClient(t, mux)

	d, err := c.GetTarget(context.Background(), "p1")
	if err != nil {
		t.Fatalf("GetTarget: %v", err)
	}
	if d == nil {
		t.Fatal("GetTarget returned nil")
	}
	if d.Name != "Ivan Petrov" || d.Status != "Interview" || d.About != "10 years OTR" {
		t.Errorf("detail = %+v", d)
	}
	if d.Number != "+1 555 0100" || d.Date != "2026-02-03" || !d.Trailer {
		t.Errorf("detail = %+v", d)
	}
	if d.Notes != "" {
		t.Errorf("Notes = %q, want empty", d.Notes)
	}
}

func TestGetTarget_ToleratesMissingFields(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/pages/p9", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"p9","properties":{"status":{"type":"select","select":null},"Date":{"type":"date","date":null}}}`))
	})
	c := newTestClient(t, mux)

	d, err := c.GetTarget(context.Background(), "p9")
	if err != nil {
		t.Fatalf("GetTarget: %v", err)
	}
	if d.Name != "Untitled" || d.Status != "" || d.Date != "" || d.Trailer {
		t.Errorf("detail = %+v", d)
	}
}

func TestGetTarget_NotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/pages/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"object":"error","status":404,"code":"object_not_found","message":"Could not find page"}`))
	})
	c := newTestClient(t, mux)

	d, err := c.GetTarget(context.Background(), "gone")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d != nil {
		t.Errorf("detail = %+v, want nil", d)
	}
}

// --- Comments tests ---

func TestListComments(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/comments", func(w http.ResponseWriter, r *http.Request) {
		checkHeaders(t, r)
		if r.URL.Query().Get("block_id") != "p1" {
			t.Errorf("block_id = %q", r.URL.Query().Get("block_id"))
		}
		if r.URL.Query().Get("start_cursor") == "" {
			w.Write([]byte(`{"object":"list","results":[{"object":"comment","id":"c1","created_time":"2026-01-05T10:00:00.000Z","rich_text":[{"plain_text":"first"}]}],"has_more":true,"next_cursor":"n2"}`))
			return
		}
		w.Write([]byte(`{"object":"list","results":[{"object":"comment","id":"c2","created_time":"2026-01-06T10:00:00.000Z","rich_text":[{"plain_text":"sec"},{"plain_text":"ond"}]}],"has_more":false}`))
	})
	c := newTestClient(t, mux)

	comments, err := c.ListComments(context.Background(), "p1")
	if err != nil {
		t.Fatalf("ListComments: %v", err)
	}
	if len(comments) != 2 {
		t.Fatalf("comments = %d, want 2", len(comments))
	}
	if comments[0].Text != "first" || comments[1].Text != "second" {
		t.Errorf("comments = %+v", comments)
	}
	if comments[0].CreatedAt.Day() != 5 {
		t.Errorf("CreatedAt = %v", comments[0].CreatedAt)
	}
}

func TestAppendComment(t *testing.T) {
	var got commentBody
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/comments", func(w http.ResponseWriter, r *http.Request) {
		checkHeaders(t, r)
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"object":"comment","id":"c9"}`))
	})
	c := newTestClient(t, mux)

	if err := c.AppendComment(context.Background(), "p1", "Great candidate, hire"); err != nil {
		t.Fatalf("AppendComment: %v", err)
	}
	if got.Parent.Type != "page_id" || got.Parent.PageID != "p1" {
		t.Errorf("parent = %+v", got.Parent)
	}
	if len(got.RichText) != 1 || got.RichText[0].Text.Content != "Great candidate, hire" {
		t.Errorf("rich_text = %+v", got.RichText)
	}
}

func TestAppendComment_SplitsLongText(t *testing.T) {
	var got commentBody
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/comments", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"object":"comment","id":"c10"}`))
	})
	c := newTestClient(t, mux)

	long := strings.Repeat("я", 4500)
	if err := c.AppendComment(context.Background(), "p1", long); err != nil {
		t.Fatalf("AppendComment: %v", err)
	}
	if len(got.RichText) != 3 {
		t.Fatalf("chunks = %d, want 3", len(got.RichText))
	}
	var joined strings.Builder
	for _, rt := range got.RichText {
		joined.WriteString(rt.Text.Content)
	}
	if joined.String() != long {
		t.Error("chunks do not reassemble to the original text")
	}
}

func TestAppendComment_Failure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/comments", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"object":"error","status":502,"code":"internal_server_error","message":"upstream down"}`))
	})
	c := newTestClient(t, mux)

	err := c.AppendComment(context.Background(), "p1", "x")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "append comment p1") {
		t.Errorf("err = %q", err)
	}
}

func TestFormatDate(t *testing.T) {
	if got := formatDate(time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC)); got != "2026-02-03" {
		t.Errorf("date only = %q", got)
	}
	if got := formatDate(time.Date(2026, 2, 3, 9, 30, 0, 0, time.UTC)); got != "2026-02-03T09:30:00Z" {
		t.Errorf("date time = %q", got)
	}
}
