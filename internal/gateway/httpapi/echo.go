package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
)

// cannedErrors are the fixed responses served under /e/{code}.
var cannedErrors = map[string]struct {
	code    int
	message string
}{
	"400": {http.StatusBadRequest, "Test bad request"},
	"401": {http.StatusUnauthorized, "Test unauthorized"},
	"403": {http.StatusForbidden, "Test forbidden"},
	"404": {http.StatusNotFound, "Test not found"},
	"500": {http.StatusInternalServerError, "Test internal server error"},
	"502": {http.StatusBadGateway, "Test bad gateway"},
	"503": {http.StatusServiceUnavailable, "Test service unavailable"},
}

// EchoResponse mirrors the incoming request back to the caller.
type EchoResponse struct {
	URL         string            `json:"url"`
	Body        string            `json:"body,omitempty"`
	Method      string            `json:"method"`
	Scheme      string            `json:"scheme"`
	Host        string            `json:"host"`
	Connection  ConnectionInfo    `json:"connection"`
	PathBase    string            `json:"pathBase,omitempty"`
	Path        string            `json:"path"`
	ContentType string            `json:"contentType,omitempty"`
	QueryString string            `json:"queryString,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Form        map[string]string `json:"form,omitempty"`
	Query       map[string]string `json:"query,omitempty"`
}

// ConnectionInfo describes both ends of the underlying connection.
type ConnectionInfo struct {
	ID              string `json:"id"`
	LocalIPAddress  string `json:"localIpAddress,omitempty"`
	LocalPort       int    `json:"localPort"`
	RemoteIPAddress string `json:"remoteIpAddress,omitempty"`
	RemotePort      int    `json:"remotePort"`
}

// echoPrefixes are the path prefixes served by the echo handler.
var echoPrefixes = []string{"/e/", "/echo"}

func isEchoPath(path string) bool {
	for _, p := range echoPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// withEcho answers the canned error codes and the echo catch-all before
// routing, so any method and any path depth under the prefixes is accepted.
func withEcho(maxBody int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isEchoPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			serveEcho(w, r, maxBody)
		})
	}
}

func serveEcho(w http.ResponseWriter, r *http.Request, maxBody int64) {
	if code, ok := strings.CutPrefix(r.URL.Path, "/e/"); ok {
		if canned, ok := cannedErrors[code]; ok {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(canned.code)
			_, _ = io.WriteString(w, canned.message)
			return
		}
	}

	resp, err := buildEcho(w, r, maxBody)
	if err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		http.Error(w, err.Error(), status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func buildEcho(w http.ResponseWriter, r *http.Request, maxBody int64) (*EchoResponse, error) {
	url := r.URL.Path
	for _, p := range echoPrefixes {
		if rest, ok := strings.CutPrefix(url, p); ok {
			url = strings.TrimPrefix(rest, "/")
			break
		}
	}

	resp := &EchoResponse{
		URL:         url,
		Method:      r.Method,
		Scheme:      requestScheme(r),
		Host:        r.Host,
		Connection:  connectionInfo(r),
		Path:        r.URL.Path,
		ContentType: r.Header.Get("Content-Type"),
		Headers:     flattenValues(r.Header),
		Query:       flattenValues(r.URL.Query()),
	}
	if r.URL.RawQuery != "" {
		resp.QueryString = "?" + r.URL.RawQuery
	}

	if resp.ContentType == "" || r.Body == nil {
		return resp, nil
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	resp.Body = string(body)

	if isForm(resp.ContentType) {
		r.Body = io.NopCloser(strings.NewReader(resp.Body))
		if err := r.ParseForm(); err == nil {
			resp.Form = flattenValues(r.PostForm)
		}
	}
	return resp, nil
}

func isForm(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(contentType), "application/x-www-form-urlencoded")
}

func requestScheme(r *http.Request) string {
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		first, _, _ := strings.Cut(proto, ",")
		return strings.TrimSpace(first)
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

func connectionInfo(r *http.Request) ConnectionInfo {
	info := ConnectionInfo{ID: CorrelationID(r.Context())}
	if info.ID == "" {
		info.ID = "Unknown"
	}
	info.RemoteIPAddress, info.RemotePort = splitAddr(r.RemoteAddr)
	if addr, ok := r.Context().Value(http.LocalAddrContextKey).(net.Addr); ok {
		info.LocalIPAddress, info.LocalPort = splitAddr(addr.String())
	}
	return info
}

func splitAddr(addr string) (string, int) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, 0
	}
	p, _ := strconv.Atoi(port)
	return host, p
}

// flattenValues joins multi-valued entries with ", ".
func flattenValues(v map[string][]string) map[string]string {
	if len(v) == 0 {
		return nil
	}
	out := make(map[string]string, len(v))
	for k, vals := range v {
		out[k] = strings.Join(vals, ", ")
	}
	return out
}
