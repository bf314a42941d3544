package verify

import (
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ParamName is the parameter carrying the connection string name.
const ParamName = "name"

// Params are the kind-specific inputs of one verification, typically the
// request's query string. Keys are matched case-insensitively.
type Params map[string]string

// ParamsFromValues keeps the first value of each key.
func ParamsFromValues(v url.Values) Params {
	p := make(Params, len(v))
	for k, vals := range v {
		if len(vals) > 0 {
			p[k] = vals[0]
		}
	}
	return p
}

// Get returns the trimmed value for key.
func (p Params) Get(key string) string {
	if v, ok := p[key]; ok {
		return strings.TrimSpace(v)
	}
	for k, v := range p {
		if strings.EqualFold(k, key) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// Name returns the connection string name.
func (p Params) Name() string { return p.Get(ParamName) }

// Required returns the value for key or a MissingParam error.
func (p Params) Required(key string) (string, error) {
	v := p.Get(key)
	if v == "" {
		return "", MissingParam(key)
	}
	return v, nil
}

// Bool reports whether key is set to a true value ("true", "1", "yes").
func (p Params) Bool(key string) bool {
	switch strings.ToLower(p.Get(key)) {
	case "true", "1", "yes", "on":
		return true
	}
	return false
}

// Int returns key as an int, or def when absent or invalid.
func (p Params) Int(key string, def int) int {
	n, err := strconv.Atoi(p.Get(key))
	if err != nil {
		return def
	}
	return n
}

// Duration returns key as a duration ("5s" or whole seconds), or def.
func (p Params) Duration(key string, def time.Duration) time.Duration {
	v := p.Get(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return def
}
