// Package secretredact strips configured secret values out of text
// before it reaches a log sink. Adapted from secretkeys.Manager, which
// tracked secret *environment-variable* names for bitrise CI steps;
// here the configured names are HTTP header keys instead.
package secretredact

import (
	"net/http"
	"regexp"
	"strings"
)

const replacement = "<redacted>"

// Manager formats and parses the configured secret header-key list, the
// way secretkeys.Manager formatted/parsed the env-var list it tracked.
type Manager interface {
	Load(raw string) []string
	Format(keys []string) string
}

type manager struct{}

// NewManager returns the default Manager.
func NewManager() Manager {
	return manager{}
}

func (manager) Load(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

func (manager) Format(keys []string) string {
	return strings.Join(keys, ",")
}

// Redact replaces the value of any header named in keys (case-
// insensitive) inside a dumped HTTP request/response (as produced by
// httputil.DumpRequest/DumpResponse) with a fixed placeholder.
func Redact(dump string, keys []string) string {
	if len(keys) == 0 {
		return dump
	}
	lines := strings.Split(dump, "\n")
	for i, line := range lines {
		name, _, ok := strings.Cut(strings.TrimRight(line, "\r"), ":")
		if !ok {
			continue
		}
		if headerNameMatches(name, keys) {
			lines[i] = name + ": " + replacement
		}
	}
	return strings.Join(lines, "\n")
}

func headerNameMatches(name string, keys []string) bool {
	canon := http.CanonicalHeaderKey(strings.TrimSpace(name))
	for _, k := range keys {
		if http.CanonicalHeaderKey(strings.TrimSpace(k)) == canon {
			return true
		}
	}
	return false
}

// RedactQuery replaces the values of any query parameters named in keys
// within a URL string, for logging URLs that embed signed credentials.
func RedactQuery(url string, keys []string) string {
	if len(keys) == 0 {
		return url
	}
	for _, k := range keys {
		re := regexp.MustCompile(`(?i)(` + regexp.QuoteMeta(k) + `=)[^&\s]*`)
		url = re.ReplaceAllString(url, "${1}"+replacement)
	}
	return url
}
