package connection

import (
	"net/url"
	"strings"

	"github.com/jkaninda/echoservice/internal/credential"
)

var secretKeyParts = []string{
	"password", "pwd", "secret", "token", "accountkey", "accesskey",
	"sharedaccesskey", "signature", "apikey", "credential",
}

// IsSecretKey reports whether a setting or connection-string key names
// secret material. Matching ignores case and separators.
func IsSecretKey(key string) bool {
	k := strings.ToLower(key)
	k = strings.NewReplacer("_", "", "-", "", " ", "", ".", "").Replace(k)
	switch {
	case strings.HasSuffix(k, "keyname"):
		return false
	case k == "sig", strings.HasSuffix(k, "key"):
		return true
	}
	for _, part := range secretKeyParts {
		if strings.Contains(k, part) {
			return true
		}
	}
	return false
}

// RedactValue hides the secret parts of a connection string: secret pairs of
// a key=value string, the password and secret query parameters of a URL.
// Anything else that is not recognized is returned unchanged.
func RedactValue(s string) string {
	if pairs, err := parsePairs(s); err == nil {
		for i, p := range pairs {
			if IsSecretKey(p.key) && p.value != "" {
				pairs[i].value = credential.RedactedValue
			}
		}
		return formatPairs(pairs)
	}
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return s
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), credential.RedactedValue)
	}
	if u.RawQuery != "" {
		q := u.Query()
		for k := range q {
			if IsSecretKey(k) {
				q.Set(k, credential.RedactedValue)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// Redacted returns a copy of d safe to display: Raw passed through
// RedactValue and secret Custom entries replaced.
func (d *Descriptor) Redacted() *Descriptor {
	out := *d
	out.Raw = RedactValue(d.Raw)
	out.Value = ""
	if d.Custom != nil {
		out.Custom = make(map[string]string, len(d.Custom))
		for k, v := range d.Custom {
			if IsSecretKey(k) && v != "" {
				v = credential.RedactedValue
			}
			out.Custom[k] = v
		}
	}
	return &out
}
