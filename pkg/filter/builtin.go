package filter

import (
	"fmt"
	"math/rand/v2"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/polisai/polis-vast/pkg/domain"
)

// Builtin filter types accepted in configuration.
const (
	TypeSetQuery = "set_query"
	TypeReplace  = "replace"
	TypeRegex    = "regex"
	TypeMacros   = "macros"
)

// Spec declares a builtin filter. Which fields are read depends on Type.
type Spec struct {
	Type        string            `yaml:"type"`
	Name        string            `yaml:"name,omitempty"`
	Value       string            `yaml:"value,omitempty"`
	Old         string            `yaml:"old,omitempty"`
	New         string            `yaml:"new,omitempty"`
	Pattern     string            `yaml:"pattern,omitempty"`
	Replacement string            `yaml:"replacement,omitempty"`
	Values      map[string]string `yaml:"values,omitempty"`
}

// Validate checks that the fields required by Type are present.
func (s Spec) Validate() error {
	switch strings.TrimSpace(s.Type) {
	case TypeSetQuery:
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("%w: set_query filter requires a name", domain.ErrConfigInvalid)
		}
	case TypeReplace:
		if s.Old == "" {
			return fmt.Errorf("%w: replace filter requires old", domain.ErrConfigInvalid)
		}
	case TypeRegex:
		if s.Pattern == "" {
			return fmt.Errorf("%w: regex filter requires a pattern", domain.ErrConfigInvalid)
		}
		if _, err := regexp.Compile(s.Pattern); err != nil {
			return fmt.Errorf("%w: regex filter pattern: %v", domain.ErrConfigInvalid, err)
		}
	case TypeMacros:
		for k := range s.Values {
			if reservedMacros[strings.ToUpper(k)] {
				return fmt.Errorf("%w: macros filter cannot override [%s]", domain.ErrConfigInvalid, strings.ToUpper(k))
			}
		}
	default:
		return fmt.Errorf("%w: unknown filter type %q", domain.ErrConfigInvalid, s.Type)
	}
	return nil
}

// Build validates specs and returns them as a chain, in declaration order.
func Build(specs []Spec) (*Chain, error) {
	chain := New()
	for i, spec := range specs {
		if err := spec.Validate(); err != nil {
			return nil, fmt.Errorf("filter %d: %w", i, err)
		}
		f, err := fromSpec(spec)
		if err != nil {
			return nil, fmt.Errorf("filter %d: %w", i, err)
		}
		chain.Add(f)
	}
	return chain, nil
}

func fromSpec(spec Spec) (Func, error) {
	switch strings.TrimSpace(spec.Type) {
	case TypeSetQuery:
		return SetQueryParam(spec.Name, spec.Value), nil
	case TypeReplace:
		return Replace(spec.Old, spec.New), nil
	case TypeRegex:
		return RegexReplace(spec.Pattern, spec.Replacement)
	case TypeMacros:
		return Macros(spec.Values), nil
	}
	return nil, fmt.Errorf("%w: unknown filter type %q", domain.ErrConfigInvalid, spec.Type)
}

// SetQueryParam sets name=value in the query string, replacing any existing
// values. URLs that fail to parse pass through unchanged.
func SetQueryParam(name, value string) Func {
	return func(raw string) string {
		u, err := url.Parse(raw)
		if err != nil {
			return raw
		}
		q := u.Query()
		q.Set(name, value)
		u.RawQuery = q.Encode()
		return u.String()
	}
}

// Replace substitutes every occurrence of old with replacement.
func Replace(old, replacement string) Func {
	return func(raw string) string {
		return strings.ReplaceAll(raw, old, replacement)
	}
}

// RegexReplace rewrites every match of pattern using regexp expansion syntax.
func RegexReplace(pattern, replacement string) (Func, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile pattern %q: %w", pattern, err)
	}
	return func(raw string) string {
		return re.ReplaceAllString(raw, replacement)
	}, nil
}

// reservedMacros are always expanded by Macros and cannot be configured.
var reservedMacros = map[string]bool{"CACHEBUSTING": true, "TIMESTAMP": true}

// Macros expands the standard VAST [CACHEBUSTING] and [TIMESTAMP] macros and
// any [KEY] from values. Values are query-escaped. The standard macros win
// over a values key of the same name.
func Macros(values map[string]string) Func {
	fixed := make(map[string]string, len(values))
	for k, v := range values {
		fixed[strings.ToUpper(k)] = v
	}
	return func(raw string) string {
		return expandMacros(raw, fixed, time.Now(), cacheBuster())
	}
}

func expandMacros(raw string, values map[string]string, now time.Time, buster string) string {
	if !strings.Contains(raw, "[") {
		return raw
	}
	pairs := []string{
		"[CACHEBUSTING]", buster,
		"[TIMESTAMP]", url.QueryEscape(now.UTC().Format(time.RFC3339)),
	}
	for k, v := range values {
		pairs = append(pairs, "["+k+"]", url.QueryEscape(v))
	}
	return strings.NewReplacer(pairs...).Replace(raw)
}

// cacheBuster returns eight random digits, the format VAST 3 recommends.
func cacheBuster() string {
	return fmt.Sprintf("%08d", rand.IntN(100_000_000))
}
