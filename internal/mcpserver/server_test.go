package mcpserver

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/othala/internal/document"
	"github.com/starford/othala/internal/issuer/kinds"
	"github.com/starford/othala/internal/render"
	"github.com/starford/othala/internal/templates"
	"github.com/starford/othala/internal/testutil"
)

const invoiceQuery = `{
	"metadata": {"reference": "F-2021-001", "issued_on": "2021-03-24T10:00:00Z", "type": "invoice"},
	"order": {
		"customer": {"name": "Ada", "address": "1 rue de la Paix"},
		"company": "Howard",
		"product": {"name": "Training", "description": "Two days"},
		"amount": {"total": "1200.00", "subtotal": 1000, "vat_amount": 200, "vat": 0.2, "currency": "EUR"},
		"seller": {"address": "2 avenue Foch"}
	}
}`

func testServer(t *testing.T) *Server {
	t.Helper()
	_, store := testutil.TestStore(t)
	reg, err := kinds.Registry(nil)
	if err != nil {
		t.Fatal(err)
	}
	svc := document.New(reg, templates.NewResolver(), render.New(store), store, "/media/",
		document.WithRequestLog(testutil.TestRequests(t)))
	return New(svc, "test")
}

func callTool(t *testing.T, srv *Server, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go has no in-process "call tool" helper, so handlers are called directly.
	var result *mcp.CallToolResult
	var err error

	switch name {
	case "list_kinds":
		result, err = srv.listKinds(ctx, req)
	case "create_document":
		result, err = srv.createDocument(ctx, req)
	case "preview_document":
		result, err = srv.previewDocument(ctx, req)
	case "get_document_url":
		result, err = srv.getDocumentURL(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestListKinds(t *testing.T) {
	srv := testServer(t)
	r := callTool(t, srv, "list_kinds", map[string]any{})
	var infos []document.KindInfo
	if err := json.Unmarshal([]byte(resultText(r)), &infos); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(infos) != 4 {
		t.Fatalf("kinds = %d, want 4", len(infos))
	}
}

func TestCreateDocument(t *testing.T) {
	srv := testServer(t)
	r := callTool(t, srv, "create_document", map[string]any{
		"kind":       "dummy-document",
		"query":      `{"fullname": "Ada Lovelace"}`,
		"identifier": "53ced5ac-d3af-4b08-8ead-096a8cd007a4",
		"host":       "example.org",
	})
	if r.IsError {
		t.Fatalf("create failed: %s", resultText(r))
	}
	var out struct {
		DocumentID string `json:"document_id"`
		RequestID  string `json:"request_id"`
		Path       string `json:"path"`
		URL        string `json:"url"`
	}
	if err := json.Unmarshal([]byte(resultText(r)), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.URL != "https://example.org/media/53ced5ac-d3af-4b08-8ead-096a8cd007a4.pdf" {
		t.Errorf("url = %q", out.URL)
	}
	if out.RequestID == "" || out.RequestID == out.DocumentID {
		t.Errorf("request id = %q", out.RequestID)
	}
	if _, err := os.Stat(out.Path); err != nil {
		t.Errorf("document not written: %v", err)
	}
}

func TestCreateDocument_ObjectQuery(t *testing.T) {
	srv := testServer(t)
	r := callTool(t, srv, "create_document", map[string]any{
		"kind":  kinds.DummyKind,
		"query": map[string]any{"fullname": "Grace Hopper"},
	})
	if r.IsError {
		t.Fatalf("create failed: %s", resultText(r))
	}
}

func TestCreateDocument_ObjectQueryRejectsInexactNumbers(t *testing.T) {
	srv := testServer(t)
	var q map[string]any
	if err := json.Unmarshal([]byte(invoiceQuery), &q); err != nil {
		t.Fatal(err)
	}

	r := callTool(t, srv, "create_document", map[string]any{"kind": "invoice", "query": q})
	if !r.IsError {
		t.Fatal("fractional amounts in an object query should be rejected")
	}
	if !strings.Contains(resultText(r), "query.order.amount.vat") {
		t.Errorf("error should name the field: %q", resultText(r))
	}

	r = callTool(t, srv, "create_document", map[string]any{"kind": "invoice", "query": invoiceQuery})
	if r.IsError {
		t.Fatalf("string query should keep amounts exact: %s", resultText(r))
	}
}

func TestQuery_ExactNumbers(t *testing.T) {
	ok := map[string]any{"a": []any{1.0, map[string]any{"b": -9007199254740992.0}}, "s": "0.1"}
	if err := exactNumbers("query", ok); err != nil {
		t.Errorf("whole numbers should pass: %v", err)
	}
	for _, bad := range []any{0.1, 1e300, []any{1.0, 2.5}} {
		if err := exactNumbers("query", map[string]any{"v": bad}); err == nil {
			t.Errorf("%v should be rejected", bad)
		}
	}
}

func TestJSONResult_EncodeFailure(t *testing.T) {
	r := jsonResult(map[string]any{"ch": make(chan int)})
	if !r.IsError {
		t.Fatal("unencodable result should be a tool error")
	}
	if !strings.Contains(resultText(r), "encode result") {
		t.Errorf("text = %q", resultText(r))
	}
	if r := jsonResult(map[string]int{"n": 1}); r.IsError {
		t.Errorf("plain value should encode: %s", resultText(r))
	}
}

func TestCreateDocument_UnrenderableText(t *testing.T) {
	srv := testServer(t)
	r := callTool(t, srv, "create_document", map[string]any{
		"kind":  kinds.DummyKind,
		"query": `{"fullname": "李小龙"}`,
	})
	if !r.IsError {
		t.Fatal("expected error for characters no font covers")
	}
	if !strings.Contains(resultText(r), "U+674E") {
		t.Errorf("error should name the character: %q", resultText(r))
	}
}

func TestCreateDocument_ValidationError(t *testing.T) {
	srv := testServer(t)
	r := callTool(t, srv, "create_document", map[string]any{
		"kind":  kinds.DummyKind,
		"query": `{}`,
	})
	if !r.IsError {
		t.Fatal("expected error for empty query")
	}
	if !strings.Contains(resultText(r), "fullname: field required") {
		t.Errorf("error should name the missing field: %q", resultText(r))
	}
}

func TestCreateDocument_MissingArguments(t *testing.T) {
	srv := testServer(t)
	if r := callTool(t, srv, "create_document", map[string]any{"kind": "invoice"}); !r.IsError {
		t.Error("expected error without query")
	}
	if r := callTool(t, srv, "create_document", map[string]any{"query": "{}"}); !r.IsError {
		t.Error("expected error without kind")
	}
}

func TestPreviewDocument(t *testing.T) {
	srv := testServer(t)
	r := callTool(t, srv, "preview_document", map[string]any{
		"kind":  "dummy-document",
		"query": `{"fullname": "Ada Lovelace"}`,
	})
	if r.IsError {
		t.Fatalf("preview failed: %s", resultText(r))
	}
	if !strings.Contains(resultText(r), "Hello Ada Lovelace.") {
		t.Errorf("preview missing expanded text: %q", resultText(r))
	}
}

func TestGetDocumentURL(t *testing.T) {
	srv := testServer(t)
	r := callTool(t, srv, "get_document_url", map[string]any{"identifier": "53ced5ac-d3af-4b08-8ead-096a8cd007a4"})
	if got := resultText(r); got != "/media/53ced5ac-d3af-4b08-8ead-096a8cd007a4.pdf" {
		t.Errorf("url = %q", got)
	}

	r = callTool(t, srv, "get_document_url", map[string]any{"identifier": "not-a-uuid"})
	if !r.IsError {
		t.Error("expected error for invalid identifier")
	}
}

func TestKindsResource(t *testing.T) {
	srv := testServer(t)
	contents, err := srv.readKindsResource(context.Background(), mcp.ReadResourceRequest{})
	if err != nil {
		t.Fatalf("read resource: %v", err)
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("unexpected content type %T", contents[0])
	}
	if tc.URI != KindsURI || !strings.Contains(tc.Text, "howard.realisation-certificate") {
		t.Errorf("unexpected resource %+v", tc)
	}
}
