// Package gql defines the boundary between the transports in this module and
// the GraphQL engine that actually parses, validates and executes documents.
//
// The engine is an injected collaborator. Transports only need to know
// whether a document contains a subscription, and then either run it once
// (Executor.Execute) or open a stream of results (Executor.Subscribe).
package gql

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vektah/gqlparser/v2/parser"
)

var (
	// ErrNoQuery is returned when a request does not carry a query document.
	ErrNoQuery = errors.New("gql: request has no query")
)

// Request is a single GraphQL operation request as sent by a client.
type Request struct {
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables,omitempty"`
	OperationName string         `json:"operationName,omitempty"`
}

// Params returns the request as a parameter map, omitting absent fields.
func (r Request) Params() map[string]any {
	out := map[string]any{"query": r.Query}
	if r.Variables != nil {
		out["variables"] = r.Variables
	}
	if r.OperationName != "" {
		out["operationName"] = r.OperationName
	}
	return out
}

// RequestFromParams builds a Request from loosely typed parameters, such as
// JSON values decoded from a query string.
func RequestFromParams(params map[string]any) (Request, error) {
	var req Request
	query, ok := params["query"].(string)
	if !ok || query == "" {
		return req, ErrNoQuery
	}
	req.Query = query

	switch v := params["variables"].(type) {
	case nil:
	case map[string]any:
		req.Variables = v
	default:
		return req, fmt.Errorf("gql: 'variables' must be an object, got %T", v)
	}

	switch v := params["operationName"].(type) {
	case nil:
	case string:
		req.OperationName = v
	default:
		return req, fmt.Errorf("gql: 'operationName' must be a string, got %T", v)
	}
	return req, nil
}

// Result is the outcome of executing a GraphQL operation. Errors are passed
// through from the engine verbatim.
type Result struct {
	Data       any            `json:"data"`
	Errors     gqlerror.List  `json:"errors,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

// Payload returns the result shaped for a graphql-ws "data" message: data is
// included only when present and errors only when there are any.
func (r *Result) Payload() map[string]any {
	out := map[string]any{}
	if r.Data != nil {
		out["data"] = r.Data
	}
	if len(r.Errors) > 0 {
		out["errors"] = r.Errors
	}
	if len(r.Extensions) > 0 {
		out["extensions"] = r.Extensions
	}
	return out
}

// ErrorResult returns a result carrying only err as a GraphQL error.
func ErrorResult(err error) *Result {
	return &Result{Errors: gqlerror.List{ExecutionError(err)}}
}

// ExecutionError returns err as a GraphQL-shaped error. Errors that already
// are (or wrap) a *gqlerror.Error are returned unchanged.
func ExecutionError(err error) *gqlerror.Error {
	var gqlErr *gqlerror.Error
	if errors.As(err, &gqlErr) {
		return gqlErr
	}
	return &gqlerror.Error{
		Err:     err,
		Message: "Execution error",
	}
}

// Executor runs GraphQL operations. Implementations wrap a concrete engine.
type Executor interface {
	// Execute runs a query or mutation to completion. It should return
	// promptly once ctx is done.
	Execute(ctx context.Context, req Request) (*Result, error)

	// Subscribe starts a subscription. The returned stream must be closed by
	// the caller once it is no longer consumed.
	Subscribe(ctx context.Context, req Request) (ResultStream, error)
}

// ResultStream is a pull-based sequence of subscription results.
type ResultStream interface {
	// Next blocks until the next result is available. It returns io.EOF once
	// the stream is exhausted and ctx.Err() if ctx is done first.
	Next(ctx context.Context) (*Result, error)

	// Close releases the producer behind the stream. It is safe to call more
	// than once.
	Close() error
}

// ParseQuery parses a GraphQL query document without validating it against a
// schema.
func ParseQuery(query string) (*ast.QueryDocument, error) {
	if query == "" {
		return nil, ErrNoQuery
	}
	doc, err := parser.ParseQuery(&ast.Source{Input: query})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// HasSubscriptionOperation reports whether doc defines at least one
// subscription operation.
func HasSubscriptionOperation(doc *ast.QueryDocument) bool {
	if doc == nil {
		return false
	}
	for _, op := range doc.Operations {
		if op.Operation == ast.Subscription {
			return true
		}
	}
	return false
}

type ctxKey int

const httpRequestKey ctxKey = iota

// WithHTTPRequest attaches the originating HTTP request to ctx so executors
// can inspect headers, cookies and the like.
func WithHTTPRequest(ctx context.Context, r *http.Request) context.Context {
	return context.WithValue(ctx, httpRequestKey, r)
}

// HTTPRequest returns the request attached by WithHTTPRequest, or nil.
func HTTPRequest(ctx context.Context) *http.Request {
	r, _ := ctx.Value(httpRequestKey).(*http.Request)
	return r
}
