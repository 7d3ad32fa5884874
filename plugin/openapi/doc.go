// Package openapi implements dynamic API endpoint resolution: given an
// OpenAPI 3.x document and a free-text query, it selects candidate endpoints,
// synthesizes concrete request URLs, executes them concurrently, and
// summarizes the JSON results in natural language. Several chain-data tools
// are thin wrappers around one Resolver each.
package openapi

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/pkg/errors"
)

// ErrDocUnavailable is returned when the OpenAPI document cannot be fetched
// or parsed, or describes no paths at all. It surfaces as a tool-level error,
// never a turn-level one.
var ErrDocUnavailable = errors.New("openapi: document unavailable")

// Candidate is one {path, method} drawn from the document, with the summary
// string used for selection ranking. Ephemeral within a single resolution.
type Candidate struct {
	Method  string
	Path    string
	Summary string
}

// Document is a dereferenced OpenAPI document flattened to the parts the
// resolver needs.
type Document struct {
	doc *openapi3.T
}

// LoadDocument parses raw YAML or JSON. Internal $ref pointers are resolved
// by the loader. An empty or unparsable document is ErrDocUnavailable.
func LoadDocument(ctx context.Context, data []byte) (*Document, error) {
	loader := openapi3.NewLoader()
	loader.Context = ctx
	doc, err := loader.LoadFromData(data)
	if err != nil {
		return nil, errors.Wrap(ErrDocUnavailable, err.Error())
	}
	if doc.Paths == nil || doc.Paths.Len() == 0 {
		return nil, errors.Wrap(ErrDocUnavailable, "document describes no paths")
	}
	return &Document{doc: doc}, nil
}

// LoadDocumentFromURI fetches and parses the document at uri.
func LoadDocumentFromURI(ctx context.Context, uri string) (*Document, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return nil, errors.Wrap(ErrDocUnavailable, err.Error())
	}
	loader := openapi3.NewLoader()
	loader.Context = ctx
	loader.IsExternalRefsAllowed = true
	doc, err := loader.LoadFromURI(parsed)
	if err != nil {
		return nil, errors.Wrap(ErrDocUnavailable, err.Error())
	}
	if doc.Paths == nil || doc.Paths.Len() == 0 {
		return nil, errors.Wrap(ErrDocUnavailable, "document describes no paths")
	}
	return &Document{doc: doc}, nil
}

// Candidates lists every operation in the document, sorted by path for a
// stable selection prompt.
func (d *Document) Candidates() []Candidate {
	var out []Candidate
	for path, item := range d.doc.Paths.Map() {
		for method, op := range item.Operations() {
			summary := op.Summary
			if summary == "" {
				summary = op.Description
			}
			out = append(out, Candidate{
				Method:  method,
				Path:    path,
				Summary: firstLine(summary),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].Method < out[j].Method
	})
	return out
}

// HasPath reports whether the document declares the given path template. The
// selection step must never accept a path the document does not declare.
func (d *Document) HasPath(path string) bool {
	return d.doc.Paths.Find(path) != nil
}

// OperationDetail renders the parameter schema of every operation on the
// given path as prompt text for the synthesis step.
func (d *Document) OperationDetail(path string) string {
	item := d.doc.Paths.Find(path)
	if item == nil {
		return ""
	}
	var sb strings.Builder
	for method, op := range item.Operations() {
		fmt.Fprintf(&sb, "%s %s", method, path)
		if op.Summary != "" {
			fmt.Fprintf(&sb, " — %s", firstLine(op.Summary))
		}
		sb.WriteString("\n")
		params := append(openapi3.Parameters{}, item.Parameters...)
		params = append(params, op.Parameters...)
		for _, ref := range params {
			p := ref.Value
			if p == nil {
				continue
			}
			typ := "string"
			if p.Schema != nil && p.Schema.Value != nil && p.Schema.Value.Type != nil {
				if slice := p.Schema.Value.Type.Slice(); len(slice) > 0 {
					typ = slice[0]
				}
			}
			required := "optional"
			if p.Required {
				required = "required"
			}
			fmt.Fprintf(&sb, "  - %s (%s, %s, %s): %s\n", p.Name, p.In, typ, required, firstLine(p.Description))
		}
	}
	return sb.String()
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}
