// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the document issuer to LLM clients via stdio transport.
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"

	json "github.com/goccy/go-json"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/othala/internal/apperr"
	"github.com/starford/othala/internal/docpath"
	"github.com/starford/othala/internal/document"
	"github.com/starford/othala/internal/issuer"
	"github.com/starford/othala/internal/render"
)

// KindsURI is the resource listing issuable kinds and their query fields.
const KindsURI = "othala://kinds"

const queryDescription = "Query as a JSON-encoded string. An object is also accepted when every number in it is a whole number; " +
	"amounts with decimals must be sent in a JSON string so they stay exact."

// Server wraps the MCP server with document tools.
type Server struct {
	mcp *server.MCPServer
	svc *document.Service
}

// New creates a new MCP server with all document tools registered.
func New(svc *document.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Othala",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_kinds",
		mcp.WithDescription("List the document kinds that can be issued, with the fields each query accepts."),
	), s.listKinds)

	s.mcp.AddTool(mcp.NewTool("create_document",
		mcp.WithDescription("Validate a query against a document kind, render the PDF and return its identifier, path and URL. "+
			"Read the othala://kinds resource or call list_kinds first to learn the query fields."),
		mcp.WithString("kind", mcp.Required(), mcp.Description("Qualified kind (howard.invoice) or unambiguous short name (invoice)")),
		mcp.WithString("query", mcp.Required(), mcp.Description(queryDescription)),
		mcp.WithString("identifier", mcp.Description("Optional document identifier (UUID); a fresh one is generated otherwise")),
		mcp.WithString("host", mcp.Description("Optional host making the returned URL absolute")),
	), s.createDocument)

	s.mcp.AddTool(mcp.NewTool("preview_document",
		mcp.WithDescription("Validate a query and return the expanded layout and style documents without rendering a PDF."),
		mcp.WithString("kind", mcp.Required(), mcp.Description("Qualified kind or unambiguous short name")),
		mcp.WithString("query", mcp.Required(), mcp.Description(queryDescription)),
	), s.previewDocument)

	s.mcp.AddTool(mcp.NewTool("get_document_url",
		mcp.WithDescription("Return the public URL of a document from its identifier."),
		mcp.WithString("identifier", mcp.Required(), mcp.Description("Document identifier (UUID)")),
		mcp.WithString("host", mcp.Description("Optional host making the URL absolute")),
	), s.getDocumentURL)

	s.mcp.AddResource(
		mcp.NewResource(KindsURI, "Document kinds",
			mcp.WithResourceDescription("Issuable document kinds and the fields their queries accept."),
			mcp.WithMIMEType("application/json"),
		),
		s.readKindsResource,
	)

	return s
}

// Serve speaks the stdio transport over in and out until ctx is cancelled or
// in is closed.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	return server.NewStdioServer(s.mcp).Listen(ctx, in, out)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) listKinds(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.svc.Kinds()), nil
}

// jsonResult encodes v as indented JSON text.
func jsonResult(v any) *mcp.CallToolResult {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode result: %v", err))
	}
	return mcp.NewToolResultText(string(out))
}

// maxExactFloat is the largest magnitude below which every whole float64 is
// an exact integer.
const maxExactFloat = 1 << 53

// query accepts the query either as a JSON string or as an object argument.
// Object arguments arrive with their numbers already decoded as float64, so
// only whole numbers that float64 holds exactly are let through.
func query(req mcp.CallToolRequest) (any, error) {
	v, ok := req.GetArguments()["query"]
	if !ok || v == nil {
		return nil, errors.New(`required argument "query" not found`)
	}
	if _, ok := v.(string); ok {
		return v, nil
	}
	if err := exactNumbers("query", v); err != nil {
		return nil, err
	}
	return v, nil
}

func exactNumbers(path string, v any) error {
	switch x := v.(type) {
	case map[string]any:
		for k, child := range x {
			if err := exactNumbers(path+"."+k, child); err != nil {
				return err
			}
		}
	case []any:
		for i, child := range x {
			if err := exactNumbers(fmt.Sprintf("%s[%d]", path, i), child); err != nil {
				return err
			}
		}
	case float64:
		if x != math.Trunc(x) || math.Abs(x) > maxExactFloat {
			return fmt.Errorf("%s: %v is not exact as a JSON number; send the query as a JSON string", path, x)
		}
	}
	return nil
}

func (s *Server) createDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	kind, err := req.RequireString("kind")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	q, err := query(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var opts []document.CreateOption
	if raw := req.GetString("identifier", ""); raw != "" {
		id, err := issuer.ParseIdentifier(raw)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		opts = append(opts, document.WithIdentifier(id))
	}

	res, err := s.svc.CreateDocument(ctx, kind, q, opts...)
	if err != nil {
		return mcp.NewToolResultError(message(err)), nil
	}
	id := res.Artifact.Identifier
	return jsonResult(map[string]any{
		"request_id":  res.RequestID,
		"document_id": id.String(),
		"path":        res.Artifact.Path,
		"url":         s.svc.GetDocumentURL(id, urlOptions(req)...),
		"metadata":    res.Artifact.Metadata,
	}), nil
}

func (s *Server) previewDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	kind, err := req.RequireString("kind")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	q, err := query(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	p, err := s.svc.Preview(ctx, kind, q)
	if err != nil {
		return mcp.NewToolResultError(message(err)), nil
	}
	return jsonResult(p), nil
}

func (s *Server) getDocumentURL(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := req.RequireString("identifier")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	id, err := issuer.ParseIdentifier(raw)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(s.svc.GetDocumentURL(id, urlOptions(req)...)), nil
}

func (s *Server) readKindsResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	out, err := json.MarshalIndent(s.svc.Kinds(), "", "  ")
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      KindsURI,
			MIMEType: "application/json",
			Text:     string(out),
		},
	}, nil
}

func urlOptions(req mcp.CallToolRequest) []docpath.URLOption {
	if host := req.GetString("host", ""); host != "" {
		return []docpath.URLOption{docpath.WithHost(host)}
	}
	return nil
}

// message keeps validation details and hides opaque render failures.
func message(err error) string {
	var re *apperr.RenderError
	if errors.As(err, &re) {
		if errors.Is(err, render.ErrUnsupportedText) {
			return fmt.Sprintf("rendering %s failed: %v", re.Kind, re.Err)
		}
		if re.Retryable {
			return fmt.Sprintf("rendering %s failed, try again later", re.Kind)
		}
		return fmt.Sprintf("rendering %s failed", re.Kind)
	}
	return err.Error()
}
