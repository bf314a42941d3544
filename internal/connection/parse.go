package connection

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotKeyValue is returned by ParseKeyValues when the input is not a
// "key=value;key=value" connection string (for example a bare URL).
var ErrNotKeyValue = errors.New("not a key=value connection string")

// pair is one key=value element, in input order.
type pair struct {
	key   string
	value string
}

// ParseKeyValues parses a connection string of the form
// "Key1=value1; Key2='quoted;value'; Key3=\"x\"". Keys are trimmed and must
// not contain ':' or '/'. Values may be single- or double-quoted, with the
// quote character doubled to escape it. Later keys replace earlier ones
// case-insensitively.
func ParseKeyValues(s string) (map[string]string, error) {
	pairs, err := parsePairs(s)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		out[p.key] = p.value
	}
	return out, nil
}

func parsePairs(s string) ([]pair, error) {
	var (
		pairs []pair
		index = make(map[string]int) // lower-cased key -> position in pairs
		i     int
	)
	for i < len(s) {
		// Skip separators and whitespace.
		for i < len(s) && (s[i] == ';' || s[i] == ' ' || s[i] == '\t' || s[i] == '\n' || s[i] == '\r') {
			i++
		}
		if i >= len(s) {
			break
		}

		eq := strings.IndexByte(s[i:], '=')
		if eq < 0 {
			return nil, fmt.Errorf("%w: segment %d has no '='", ErrNotKeyValue, len(pairs)+1)
		}
		key := strings.TrimSpace(s[i : i+eq])
		if key == "" || strings.ContainsAny(key, ":/;\"'") {
			return nil, fmt.Errorf("%w: invalid key %q", ErrNotKeyValue, key)
		}
		i += eq + 1

		for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
			i++
		}

		var value string
		if i < len(s) && (s[i] == '"' || s[i] == '\'') {
			quote := s[i]
			i++
			var b strings.Builder
			closed := false
			for i < len(s) {
				if s[i] == quote {
					if i+1 < len(s) && s[i+1] == quote {
						b.WriteByte(quote)
						i += 2
						continue
					}
					i++
					closed = true
					break
				}
				b.WriteByte(s[i])
				i++
			}
			if !closed {
				return nil, fmt.Errorf("%w: unterminated quote in %q", ErrNotKeyValue, key)
			}
			value = b.String()
			for i < len(s) && s[i] != ';' {
				if s[i] != ' ' && s[i] != '\t' {
					return nil, fmt.Errorf("%w: unexpected text after quoted value of %q", ErrNotKeyValue, key)
				}
				i++
			}
		} else {
			end := strings.IndexByte(s[i:], ';')
			if end < 0 {
				end = len(s) - i
			}
			value = strings.TrimSpace(s[i : i+end])
			i += end
		}

		lower := strings.ToLower(key)
		if pos, ok := index[lower]; ok {
			pairs[pos] = pair{key: key, value: value}
			continue
		}
		index[lower] = len(pairs)
		pairs = append(pairs, pair{key: key, value: value})
	}
	if len(pairs) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrNotKeyValue)
	}
	return pairs, nil
}

// formatPairs renders pairs back into a connection string, quoting values
// that would otherwise not round-trip.
func formatPairs(pairs []pair) string {
	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		v := p.value
		if strings.ContainsAny(v, ";\"'") || strings.TrimSpace(v) != v {
			v = `"` + strings.ReplaceAll(v, `"`, `""`) + `"`
		}
		parts = append(parts, p.key+"="+v)
	}
	return strings.Join(parts, ";")
}
