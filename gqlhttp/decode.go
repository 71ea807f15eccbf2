package gqlhttp

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"

	gohttp "github.com/panyam/graphqlkit/http"
)

// ErrUnsupportedContentType is returned for request bodies in a format the
// /graphql endpoint does not read.
var ErrUnsupportedContentType = errors.New("gqlhttp: content type not supported")

const maxMultipartMemory = 32 << 20

// decodeParams extracts {query, variables, operationName} from a /graphql
// request. GET requests read the query string; POST bodies are read
// according to their Content-Type.
func decodeParams(r *http.Request) (map[string]any, error) {
	if r.Method == http.MethodGet {
		return gohttp.QueryStringToJson(r.URL.Query()), nil
	}

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedContentType, r.Header.Get("Content-Type"))
	}

	var params map[string]any
	switch mediaType {
	case "application/graphql":
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, err
		}
		params = map[string]any{"query": string(body)}
	case "application/json", "text/plain":
		if params, err = decodeJSONBody(r.Body); err != nil {
			return nil, err
		}
	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return nil, err
		}
		params = firstValues(r.PostForm)
	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
			return nil, err
		}
		params = firstValues(r.MultipartForm.Value)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedContentType, mediaType)
	}
	return params, nil
}

func decodeJSONBody(body io.Reader) (map[string]any, error) {
	var params map[string]any
	if err := json.NewDecoder(body).Decode(&params); err != nil {
		return nil, fmt.Errorf("gqlhttp: invalid JSON body: %w", err)
	}
	if params == nil {
		return nil, errors.New("gqlhttp: JSON body must be an object")
	}
	return params, nil
}

// firstValues takes the first value of every form field. Form encodings
// carry variables as JSON text, which is decoded here.
func firstValues(values url.Values) map[string]any {
	out := make(map[string]any, len(values))
	for key, vals := range values {
		if len(vals) > 0 {
			out[key] = vals[0]
		}
	}
	if raw, ok := out["variables"].(string); ok {
		if raw == "" {
			delete(out, "variables")
		} else {
			var vars any
			if err := json.Unmarshal([]byte(raw), &vars); err == nil {
				out["variables"] = vars
			}
		}
	}
	return out
}
