// Package graphqlgo runs operations against a github.com/graphql-go/graphql
// schema.
//
// Subscription fields follow graphql-go's convention: Subscribe returns a
// chan interface{} of source events and Resolve maps each event (available
// as p.Source) to the field value.
package graphqlgo

import (
	"context"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/gqlerrors"
	"github.com/panyam/graphqlkit/gql"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
)

// Executor implements gql.Executor over a graphql-go schema.
type Executor struct {
	Schema graphql.Schema

	// RootObject is passed to top level resolvers of queries and mutations.
	RootObject map[string]any
}

// New returns an Executor for schema.
func New(schema graphql.Schema) *Executor {
	return &Executor{Schema: schema}
}

func (e *Executor) params(ctx context.Context, req gql.Request) graphql.Params {
	return graphql.Params{
		Schema:         e.Schema,
		RequestString:  req.Query,
		RootObject:     e.RootObject,
		VariableValues: req.Variables,
		OperationName:  req.OperationName,
		Context:        ctx,
	}
}

// Execute implements gql.Executor. Parse, validation and resolver errors
// are reported in the result, not as an error.
func (e *Executor) Execute(ctx context.Context, req gql.Request) (*gql.Result, error) {
	return convertResult(graphql.Do(e.params(ctx, req))), nil
}

// Subscribe implements gql.Executor. Closing the returned stream cancels the
// subscription's context, which graphql-go watches.
func (e *Executor) Subscribe(ctx context.Context, req gql.Request) (gql.ResultStream, error) {
	ctx, cancel := context.WithCancel(ctx)
	results := graphql.Subscribe(e.params(ctx, req))

	out := make(chan *gql.Result)
	go func() {
		defer close(out)
		for res := range results {
			select {
			case out <- convertResult(res):
			case <-ctx.Done():
				for range results {
				}
				return
			}
		}
	}()
	return gql.NewChanStream(out, cancel), nil
}

func convertResult(res *graphql.Result) *gql.Result {
	if res == nil {
		return &gql.Result{}
	}
	out := &gql.Result{
		Data:       res.Data,
		Extensions: res.Extensions,
	}
	for _, fe := range res.Errors {
		out.Errors = append(out.Errors, convertError(fe))
	}
	return out
}

// convertError keeps the message, locations, path and extensions of a
// graphql-go error.
func convertError(fe gqlerrors.FormattedError) *gqlerror.Error {
	err := &gqlerror.Error{
		Err:        fe.OriginalError(),
		Message:    fe.Message,
		Extensions: fe.Extensions,
	}
	for _, loc := range fe.Locations {
		err.Locations = append(err.Locations, gqlerror.Location{Line: loc.Line, Column: loc.Column})
	}
	for _, elem := range fe.Path {
		switch v := elem.(type) {
		case string:
			err.Path = append(err.Path, ast.PathName(v))
		case int:
			err.Path = append(err.Path, ast.PathIndex(v))
		}
	}
	return err
}
