package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"

	gut "github.com/panyam/goutils/utils"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// JsonToQueryString converts a map to a URL query string.
// Keys are sorted alphabetically for deterministic output. Every value is
// JSON encoded so that QueryStringToJson can recover it exactly.
//
// Example:
//
//	params := map[string]any{"query": "{ a }", "variables": map[string]any{"n": 1}}
//	qs := JsonToQueryString(params) // "query=%22%7B+a+%7D%22&variables=%7B%22n%22%3A1%7D"
func JsonToQueryString(json map[string]any) string {
	keys := make([]string, 0, len(json))
	for key := range json {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, url.QueryEscape(key)+"="+url.QueryEscape(jsonString(json[key])))
	}
	return strings.Join(parts, "&")
}

func jsonString(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("cannot JSON encode query parameter", "error", err)
		return "null"
	}
	return string(data)
}

// QueryStringToJson decodes query parameters whose values are JSON encoded,
// taking the first value of each key. A value that is not valid JSON is kept
// as a plain string, so "?query={a}" and "?query=%22{a}%22" both work.
func QueryStringToJson(values url.Values) map[string]any {
	out := make(map[string]any, len(values))
	for key, vals := range values {
		if len(vals) == 0 {
			continue
		}
		var v any
		if err := json.Unmarshal([]byte(vals[0]), &v); err != nil {
			v = vals[0]
		}
		out[key] = v
	}
	return out
}

// SendJsonResponse writes a JSON response to the http.ResponseWriter.
// If err is nil, resp is marshaled to JSON and written with status 200 OK.
// If err is non-nil, an appropriate HTTP error code is set based on the gRPC
// status code (if present), and an error object is returned in the response body.
func SendJsonResponse(writer http.ResponseWriter, resp any, err error) {
	output := resp
	httpCode := ErrorToHttpCode(err)
	if err != nil {
		if er, ok := status.FromError(err); ok {
			output = gut.StrMap{
				"error":   er.Code(),
				"message": er.Message(),
			}
		} else {
			output = gut.StrMap{
				"error": err.Error(),
			}
		}
	}
	jsonResp, err := json.Marshal(output)
	if err != nil {
		slog.Error("JSON marshal of response failed", "error", err)
		SendErrorResponse(writer, err)
		return
	}
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(httpCode)
	writer.Write(jsonResp)
}

// SendErrorResponse writes a plain-text error. Client errors carried as gRPC
// status codes keep their message; everything else is reported as
// "Internal server error" so internals do not leak.
func SendErrorResponse(writer http.ResponseWriter, err error) {
	httpCode := ErrorToHttpCode(err)
	msg := "Internal server error"
	if httpCode != http.StatusInternalServerError {
		if er, ok := status.FromError(err); ok {
			msg = er.Message()
		}
	}
	http.Error(writer, msg, httpCode)
}

// ErrorToHttpCode converts a Go error to an appropriate HTTP status code.
// If err is nil, returns http.StatusOK (200).
// If err contains a gRPC status, maps it to the corresponding HTTP code:
//   - codes.PermissionDenied → 403 Forbidden
//   - codes.NotFound → 404 Not Found
//   - codes.AlreadyExists → 409 Conflict
//   - codes.InvalidArgument → 400 Bad Request
//   - Other errors → 500 Internal Server Error
func ErrorToHttpCode(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if er, ok := status.FromError(err); ok {
		switch er.Code() {
		case codes.PermissionDenied:
			return http.StatusForbidden
		case codes.NotFound:
			return http.StatusNotFound
		case codes.AlreadyExists:
			return http.StatusConflict
		case codes.InvalidArgument:
			return http.StatusBadRequest
		}
	}
	return http.StatusInternalServerError
}

// RequestScheme returns the scheme the client used to reach this server,
// preferring X-Forwarded-Proto when a proxy set it.
func RequestScheme(r *http.Request) string {
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		return strings.TrimSpace(strings.Split(proto, ",")[0])
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

// RequestHost returns the host the client used to reach this server,
// preferring X-Forwarded-Host when a proxy set it.
func RequestHost(r *http.Request) string {
	if host := r.Header.Get("X-Forwarded-Host"); host != "" {
		return strings.TrimSpace(strings.Split(host, ",")[0])
	}
	return r.Host
}

// NormalizeWsUrl converts an HTTP(S) URL to its WebSocket equivalent.
// It performs the following transformations:
//   - Removes trailing slashes
//   - Converts "http:" to "ws:"
//   - Converts "https:" to "wss:"
//
// URLs that are already WebSocket URLs (ws: or wss:) are returned unchanged
// after removing any trailing slash.
//
// Example:
//
//	NormalizeWsUrl("https://example.com/ws/") // "wss://example.com/ws"
func NormalizeWsUrl(httpOrWsUrl string) string {
	httpOrWsUrl = strings.TrimSuffix(httpOrWsUrl, "/")
	if rest, ok := strings.CutPrefix(httpOrWsUrl, "http:"); ok {
		return "ws:" + rest
	}
	if rest, ok := strings.CutPrefix(httpOrWsUrl, "https:"); ok {
		return "wss:" + rest
	}
	return httpOrWsUrl
}
