// Package notion implements store.RecordStore on a Notion database whose
// pages are driver records and whose page comments are operator comments.
package notion

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jomei/notionapi"
	"github.com/zulandar/callsheet/internal/store"
)

const (
	apiVersion = "2022-06-28"
	pageSize   = 100
	// maxTextChunk is Notion's limit for a single rich_text content string.
	maxTextChunk = 2000
)

// Property names in the driver database.
const (
	PropName    = "Name"
	PropStatus  = "status"
	PropAbout   = "About in the driver"
	PropNumber  = "Number"
	PropDate    = "Date"
	PropNotes   = "Notes"
	PropTrailer = "Trailer"
)

// Client is a Notion-backed store.RecordStore.
type Client struct {
	api        *notionapi.Client
	databaseID notionapi.DatabaseID
}

// ClientOpts holds parameters for creating a Client.
type ClientOpts struct {
	APIKey     string
	DatabaseID string
	BaseURL    string // replaces scheme and host of https://api.notion.com
	HTTPClient *http.Client
}

// New creates a Client.
func New(opts ClientOpts) (*Client, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("notion: api key is required")
	}
	if opts.DatabaseID == "" {
		return nil, fmt.Errorf("notion: database id is required")
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	if opts.BaseURL != "" {
		base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
		if err != nil || base.Host == "" {
			return nil, fmt.Errorf("notion: invalid base url %q", opts.BaseURL)
		}
		next := hc.Transport
		if next == nil {
			next = http.DefaultTransport
		}
		clone := *hc
		clone.Transport = &baseURLTransport{base: base, next: next}
		hc = &clone
	}
	return &Client{
		api: notionapi.NewClient(notionapi.Token(opts.APIKey),
			notionapi.WithHTTPClient(hc),
			notionapi.WithVersion(apiVersion)),
		databaseID: notionapi.DatabaseID(opts.DatabaseID),
	}, nil
}

var _ store.RecordStore = (*Client)(nil)

// baseURLTransport sends every request to base instead of the Notion API
// host, keeping the request path below base's own path.
type baseURLTransport struct {
	base *url.URL
	next http.RoundTripper
}

func (t *baseURLTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.URL.Scheme = t.base.Scheme
	r.URL.Host = t.base.Host
	r.URL.Path = t.base.Path + req.URL.Path
	r.URL.RawPath = ""
	r.Host = t.base.Host
	return t.next.RoundTrip(r)
}

// --- RecordStore ---

// ListTargets queries the database sorted by Name, following pagination.
func (c *Client) ListTargets(ctx context.Context) ([]store.Target, error) {
	var targets []store.Target
	req := &notionapi.DatabaseQueryRequest{
		Sorts:    []notionapi.SortObject{{Property: PropName, Direction: notionapi.SortOrderASC}},
		PageSize: pageSize,
	}
	for {
		resp, err := c.api.Database.Query(ctx, c.databaseID, req)
		if err != nil {
			return nil, fmt.Errorf("notion: list targets: %w", err)
		}
		for _, p := range resp.Results {
			targets = append(targets, store.Target{ID: string(p.ID), Name: pageName(p.Properties)})
		}
		if !resp.HasMore || resp.NextCursor == "" {
			break
		}
		req.StartCursor = notionapi.Cursor(resp.NextCursor)
	}
	return targets, nil
}

// GetTarget retrieves one page. A 404 yields nil, nil.
func (c *Client) GetTarget(ctx context.Context, id string) (*store.TargetDetail, error) {
	p, err := c.api.Page.Get(ctx, notionapi.PageID(id))
	if err != nil {
		var apiErr *notionapi.Error
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("notion: get target %s: %w", id, err)
	}
	d := &store.TargetDetail{ID: string(p.ID), Name: pageName(p.Properties)}
	if prop, ok := p.Properties[PropStatus].(*notionapi.SelectProperty); ok {
		d.Status = prop.Select.Name
	}
	d.About = richTextProp(p.Properties, PropAbout)
	d.Number = richTextProp(p.Properties, PropNumber)
	d.Notes = richTextProp(p.Properties, PropNotes)
	if prop, ok := p.Properties[PropDate].(*notionapi.DateProperty); ok && prop.Date != nil && prop.Date.Start != nil {
		d.Date = formatDate(time.Time(*prop.Date.Start))
	}
	if prop, ok := p.Properties[PropTrailer].(*notionapi.CheckboxProperty); ok {
		d.Trailer = prop.Checkbox
	}
	return d, nil
}

// ListComments returns every comment on the page, oldest first.
func (c *Client) ListComments(ctx context.Context, id string) ([]store.Comment, error) {
	var comments []store.Comment
	pagination := &notionapi.Pagination{PageSize: pageSize}
	for {
		resp, err := c.api.Comment.Get(ctx, notionapi.BlockID(id), pagination)
		if err != nil {
			return nil, fmt.Errorf("notion: list comments %s: %w", id, err)
		}
		for _, cm := range resp.Results {
			comments = append(comments, store.Comment{CreatedAt: cm.CreatedTime, Text: plainText(cm.RichText)})
		}
		if !resp.HasMore || resp.NextCursor == "" {
			break
		}
		pagination.StartCursor = notionapi.Cursor(resp.NextCursor)
	}
	return comments, nil
}

// AppendComment posts a page comment. Text longer than Notion's
// per-element limit is split across several rich_text elements.
func (c *Client) AppendComment(ctx context.Context, id, text string) error {
	req := &notionapi.CommentCreateRequest{
		Parent: notionapi.Parent{Type: notionapi.ParentTypePageID, PageID: notionapi.PageID(id)},
	}
	for _, chunk := range splitText(text, maxTextChunk) {
		req.RichText = append(req.RichText, notionapi.RichText{
			Type: notionapi.ObjectTypeText,
			Text: &notionapi.Text{Content: chunk},
		})
	}
	if _, err := c.api.Comment.Create(ctx, req); err != nil {
		return fmt.Errorf("notion: append comment %s: %w", id, err)
	}
	return nil
}

func pageName(props notionapi.Properties) string {
	if prop, ok := props[PropName].(*notionapi.TitleProperty); ok {
		if name := plainText(prop.Title); name != "" {
			return name
		}
	}
	return store.UntitledName
}

func richTextProp(props notionapi.Properties, name string) string {
	prop, ok := props[name].(*notionapi.RichTextProperty)
	if !ok {
		return ""
	}
	return plainText(prop.RichText)
}

func plainText(parts []notionapi.RichText) string {
	var sb strings.Builder
	for _, rt := range parts {
		if rt.PlainText != "" {
			sb.WriteString(rt.PlainText)
		} else if rt.Text != nil {
			sb.WriteString(rt.Text.Content)
		}
	}
	return sb.String()
}

// formatDate renders a date-only value as YYYY-MM-DD and anything with a
// time of day as RFC 3339.
func formatDate(t time.Time) string {
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
		return t.Format(time.DateOnly)
	}
	return t.Format(time.RFC3339)
}

// splitText splits s into chunks of at most n runes. An empty string
// yields a single empty chunk.
func splitText(s string, n int) []string {
	if utf8.RuneCountInString(s) <= n {
		return []string{s}
	}
	var chunks []string
	runes := []rune(s)
	for len(runes) > 0 {
		end := n
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[:end]))
		runes = runes[end:]
	}
	return chunks
}
