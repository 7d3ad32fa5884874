package openapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/chainchat/chainchat/plugin/llm"
)

const (
	// maxCandidates bounds both selection fan-out and concurrent execution.
	maxCandidates = 5

	// maxBodyBytes caps how much of a provider response is read. Chain
	// explorers can return very large pages; the summary only needs the head.
	maxBodyBytes = 256 * 1024

	// NoEndpointMessage is the non-error result when the model finds no
	// relevant endpoint for the query.
	NoEndpointMessage = "No relevant endpoint found for this query."
)

// Resolver turns a free-text query into concrete requests against one
// provider's API and summarizes the results.
type Resolver struct {
	provider  *Provider
	completer llm.Completer

	mu     sync.Mutex
	doc    *Document
	docURI string
}

// NewResolver binds a dereferenced document, its provider, and the
// single-turn completion capability used for selection, synthesis, and
// summarization.
func NewResolver(doc *Document, provider *Provider, completer llm.Completer) *Resolver {
	return &Resolver{doc: doc, provider: provider, completer: completer}
}

// NewLazyResolver defers document fetching to the first Resolve call, so a
// provider whose spec host is down degrades to a tool-level DocUnavailable
// error instead of failing startup. The document is cached once loaded.
func NewLazyResolver(docURI string, provider *Provider, completer llm.Completer) *Resolver {
	return &Resolver{docURI: docURI, provider: provider, completer: completer}
}

func (r *Resolver) document(ctx context.Context) (*Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.doc != nil {
		return r.doc, nil
	}
	if r.docURI == "" {
		return nil, ErrDocUnavailable
	}
	doc, err := LoadDocumentFromURI(ctx, r.docURI)
	if err != nil {
		return nil, err
	}
	r.doc = doc
	return doc, nil
}

// candidateResult is the outcome of one executed candidate: body or error,
// never both.
type candidateResult struct {
	Path string
	URL  string
	Body string
	Err  error
}

// Resolve runs the full pipeline: select candidate endpoints, synthesize one
// URL per candidate, execute them concurrently, and summarize. An empty
// candidate list is not an error; a missing document is.
func (r *Resolver) Resolve(ctx context.Context, query string) (string, error) {
	doc, err := r.document(ctx)
	if err != nil {
		return "", err
	}

	paths, err := r.selectCandidates(ctx, doc, query)
	if err != nil {
		return "", err
	}
	if len(paths) == 0 {
		return NoEndpointMessage, nil
	}

	results := r.execute(ctx, doc, query, paths)
	return r.summarize(ctx, query, results)
}

// selectCandidates asks the model to rank relevant path templates. Paths the
// document does not declare verbatim are discarded: the model may pick
// endpoints, never invent them.
func (r *Resolver) selectCandidates(ctx context.Context, doc *Document, query string) ([]string, error) {
	candidates := doc.Candidates()
	var sb strings.Builder
	for _, c := range candidates {
		fmt.Fprintf(&sb, "%s %s — %s\n", c.Method, c.Path, c.Summary)
	}
	prompt := fmt.Sprintf(
		`You are given the endpoint list of the %s API and a user question.
Pick the endpoints (at most %d) most likely to answer the question.

Endpoints:
%s
User question: %s

Reply with ONLY a JSON array of path strings copied verbatim from the list
above, most relevant first. Do not modify the path templates. Reply with []
if no endpoint is relevant.`,
		r.provider.Name, maxCandidates, sb.String(), query,
	)

	raw, err := r.completer.Complete(ctx, prompt)
	if err != nil {
		return nil, errors.Wrap(err, "select candidates")
	}
	var picked []string
	if err := json.Unmarshal([]byte(extractJSON(raw)), &picked); err != nil {
		return nil, errors.Wrapf(err, "unparsable candidate selection: %q", raw)
	}

	var valid []string
	for _, p := range picked {
		if doc.HasPath(p) {
			valid = append(valid, p)
		}
		if len(valid) == maxCandidates {
			break
		}
	}
	return valid, nil
}

// synthesizeURL asks the model for one concrete, fully-substituted request
// URL for the given path, consistent with its parameter schema.
func (r *Resolver) synthesizeURL(ctx context.Context, doc *Document, query, path string) (string, error) {
	detail := doc.OperationDetail(path)
	prompt := fmt.Sprintf(
		`Build one concrete GET request URL for this %s API operation that
answers the user question. Substitute every path placeholder and add the
query parameters the schema requires. Base URL: %s

Operation:
%s
User question: %s

Reply with ONLY the URL, nothing else.`,
		r.provider.Name, r.provider.BaseURL, detail, query,
	)
	raw, err := r.completer.Complete(ctx, prompt)
	if err != nil {
		return "", errors.Wrap(err, "synthesize url")
	}
	u := strings.TrimSpace(strings.Trim(strings.TrimSpace(raw), "`\""))
	switch {
	case strings.HasPrefix(u, r.provider.BaseURL):
		return u, nil
	case strings.HasPrefix(u, "/"):
		return strings.TrimRight(r.provider.BaseURL, "/") + u, nil
	default:
		return "", errors.Errorf("synthesized URL %q is outside provider base %s", u, r.provider.BaseURL)
	}
}

// execute synthesizes and issues all candidate requests concurrently. A
// failed candidate records its error and never cancels siblings; the join
// waits for every outcome.
func (r *Resolver) execute(ctx context.Context, doc *Document, query string, paths []string) []candidateResult {
	results := make([]candidateResult, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxCandidates)
	for i, path := range paths {
		g.Go(func() error {
			results[i] = r.executeOne(gctx, doc, query, path)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (r *Resolver) executeOne(ctx context.Context, doc *Document, query, path string) candidateResult {
	res := candidateResult{Path: path}

	u, err := r.synthesizeURL(ctx, doc, query, path)
	if err != nil {
		res.Err = err
		return res
	}
	res.URL = u

	if r.provider.Limiter != nil {
		if err := r.provider.Limiter.Wait(ctx); err != nil {
			res.Err = errors.Wrap(err, "rate limit wait")
			return res
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, r.provider.timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u, nil)
	if err != nil {
		res.Err = err
		return res
	}
	req.Header.Set("Accept", "application/json")
	if r.provider.AuthHeader != "" && r.provider.AuthValue != "" {
		req.Header.Set(r.provider.AuthHeader, r.provider.AuthValue)
	}

	resp, err := r.provider.client().Do(req)
	if err != nil {
		res.Err = errors.Wrapf(err, "GET %s", u)
		return res
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		res.Err = errors.Wrapf(err, "read %s", u)
		return res
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		res.Err = errors.Errorf("GET %s: status %d: %s", u, resp.StatusCode, truncate(string(body), 200))
		return res
	}
	res.Body = string(descaleWei(body))
	return res
}

// summarize feeds every outcome, success or error, back to the model. If all
// candidates failed the model still gets to explain the failure in plain
// language rather than the turn throwing.
func (r *Resolver) summarize(ctx context.Context, query string, results []candidateResult) (string, error) {
	var sb strings.Builder
	for i, res := range results {
		if res.Err != nil {
			fmt.Fprintf(&sb, "[%d] %s — FAILED: %v\n\n", i+1, res.Path, res.Err)
			continue
		}
		fmt.Fprintf(&sb, "[%d] %s\nURL: %s\nResponse: %s\n\n", i+1, res.Path, res.URL, truncate(res.Body, 8000))
	}
	prompt := fmt.Sprintf(
		`Answer the user question using ONLY the API responses below. Do not
invent values that are not present in the responses. Large on-chain integer
amounts have already been divided by 10^18 into token units. If every request
failed, say so and briefly describe the failures.

User question: %s

API responses from %s:
%s`,
		query, r.provider.Name, sb.String(),
	)
	summary, err := r.completer.Complete(ctx, prompt)
	if err != nil {
		return "", errors.Wrap(err, "summarize results")
	}
	return strings.TrimSpace(summary), nil
}

// extractJSON strips markdown code fences some models wrap around JSON.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
	}
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
