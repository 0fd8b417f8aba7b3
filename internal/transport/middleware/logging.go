package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/frahmantamala/restaurant-pos/pkg/logger"
)

// maxLoggedBody caps how much of a request body is buffered for the log.
const maxLoggedBody = 4 << 10

// redactedFields never reach the log, matched as substrings of JSON keys.
var redactedFields = []string{
	"password",
	"token",
	"authorization",
	"secret",
	"cookie",
	"credential",
}

// LoggingMiddleware writes one access line per request. API request bodies are
// logged with credentials redacted; page bodies and responses are not, since
// they carry the signed-in user. Guard redirects log the deny reason and API
// errors their error code.
func LoggingMiddleware(lg *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			var reqBody string
			if isAPIRequest(r) && r.Body != nil && strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
				raw, _ := io.ReadAll(io.LimitReader(r.Body, maxLoggedBody))
				r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(raw), r.Body))
				reqBody = redactBody(raw)
			}

			rw := &responseRecorder{ResponseWriter: w}
			next.ServeHTTP(rw, r)

			status := rw.status
			if status == 0 {
				status = http.StatusOK
			}

			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"duration_ms", time.Since(start).Milliseconds(),
				"bytes", rw.written,
				"remote_addr", clientIP(r),
			}
			if reqBody != "" {
				attrs = append(attrs, "body", reqBody)
			}
			if reason := denyReason(rw.Header().Get("Location")); reason != "" {
				attrs = append(attrs, "deny_reason", reason)
			}
			if code := rw.errorCode(); code != "" {
				attrs = append(attrs, "error_code", code)
			}

			level := slog.LevelInfo
			switch {
			case status >= http.StatusInternalServerError:
				level = slog.LevelError
			case status >= http.StatusBadRequest:
				level = slog.LevelWarn
			}

			l := lg
			if l == nil {
				l = logger.From(r.Context())
			}
			l.Log(r.Context(), level, "request completed", append(attrs, requestFields(r)...)...)
		})
	}
}

// responseRecorder keeps the status and, for error responses, the start of the
// body so the error code can be logged.
type responseRecorder struct {
	http.ResponseWriter
	status  int
	written int
	errBody bytes.Buffer
}

func (rw *responseRecorder) WriteHeader(code int) {
	if rw.status == 0 {
		rw.status = code
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseRecorder) Write(b []byte) (int, error) {
	if rw.status == 0 {
		rw.status = http.StatusOK
	}
	if rw.status >= http.StatusBadRequest && rw.errBody.Len() < maxLoggedBody {
		rw.errBody.Write(b)
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.written += n
	return n, err
}

func (rw *responseRecorder) errorCode() string {
	if rw.errBody.Len() == 0 {
		return ""
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rw.errBody.Bytes(), &envelope); err != nil {
		return ""
	}
	return envelope.Error.Code
}

// denyReason extracts the reason from a redirect to the login page.
func denyReason(location string) string {
	if location == "" {
		return ""
	}
	u, err := url.Parse(location)
	if err != nil || u.Path != LoginPath {
		return ""
	}
	return u.Query().Get("reason")
}

// redactBody returns the JSON body with credential fields masked, or a marker
// when it is not JSON.
func redactBody(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var data interface{}
	if err := json.Unmarshal(body, &data); err != nil {
		return "[unparsed]"
	}
	out, err := json.Marshal(redact(data))
	if err != nil {
		return "[unparsed]"
	}
	return string(out)
}

func redact(data interface{}) interface{} {
	switch v := data.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, value := range v {
			if isRedacted(key) {
				out[key] = "[REDACTED]"
				continue
			}
			out[key] = redact(value)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = redact(item)
		}
		return out
	default:
		return v
	}
}

func isRedacted(key string) bool {
	key = strings.ToLower(key)
	for _, field := range redactedFields {
		if strings.Contains(key, field) {
			return true
		}
	}
	return false
}
