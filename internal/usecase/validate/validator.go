// Package validate rejects malformed or hostile queries before any I/O happens.
package validate

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/kailas-cloud/hybridcoord/internal/domain"
)

// Rejection reasons reported in domain.ValidationError.
const (
	ReasonEmptyQuery        = "empty_query"
	ReasonQueryTooLarge     = "query_too_large"
	ReasonInvalidLimit      = "invalid_limit"
	ReasonInvalidOffset     = "invalid_offset"
	ReasonUnknownCollection = "unknown_collection"
	ReasonScriptInjection   = "script_injection"
	ReasonSQLInjection      = "sql_injection"
	ReasonPathTraversal     = "path_traversal"
	ReasonControlCharacters = "control_characters"
)

// Config bounds accepted queries.
type Config struct {
	Collections       []string
	DefaultCollection string
	MaxQueryBytes     int
	MaxLimit          int
	MaxOffset         int
	DefaultLimit      int
}

// Query is a validated, normalized request.
type Query struct {
	Text       string
	Collection string
	Limit      int
	Offset     int
}

var (
	scriptPatterns = []*regexp.Regexp{
		regexp.MustCompile(`<\s*script`),
		regexp.MustCompile(`javascript\s*:`),
		regexp.MustCompile(`<[^>]*\son[a-z]+\s*=`),
	}
	sqlPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\bunion\s+(all\s+)?select\b`),
		regexp.MustCompile(`\bdrop\s+table\b`),
		regexp.MustCompile(`;\s*--`),
		regexp.MustCompile(`\bor\s+1\s*=\s*1\b`),
		regexp.MustCompile(`'\s*or\s*'1'\s*=\s*'1`),
		regexp.MustCompile(`xp_cmdshell`),
	}
)

// Validator checks queries against size bounds, the collection allow-list, and injection blocklists.
// It holds no mutable state and is safe for concurrent use.
type Validator struct {
	cfg Config
}

// New creates a Validator.
func New(cfg Config) *Validator {
	return &Validator{cfg: cfg}
}

// Validate checks a query and resolves defaults: an empty collection maps to the default one,
// a zero limit to the default limit.
func (v *Validator) Validate(query, collection string, limit, offset int) (Query, error) {
	if strings.TrimSpace(query) == "" {
		return Query{}, domain.NewValidationError(ReasonEmptyQuery, "")
	}
	if len(query) > v.cfg.MaxQueryBytes {
		return Query{}, domain.NewValidationError(ReasonQueryTooLarge,
			fmt.Sprintf("max %d bytes", v.cfg.MaxQueryBytes))
	}
	if limit < 0 || limit > v.cfg.MaxLimit {
		return Query{}, domain.NewValidationError(ReasonInvalidLimit,
			fmt.Sprintf("must be between 0 and %d", v.cfg.MaxLimit))
	}
	if offset < 0 || offset > v.cfg.MaxOffset {
		return Query{}, domain.NewValidationError(ReasonInvalidOffset,
			fmt.Sprintf("must be between 0 and %d", v.cfg.MaxOffset))
	}

	if collection == "" {
		collection = v.cfg.DefaultCollection
	}
	if !slices.Contains(v.cfg.Collections, collection) {
		return Query{}, domain.NewValidationError(ReasonUnknownCollection, collection)
	}

	if reason := inspect(query); reason != "" {
		return Query{}, domain.NewValidationError(reason, "")
	}

	if limit == 0 {
		limit = v.cfg.DefaultLimit
	}
	return Query{Text: query, Collection: collection, Limit: limit, Offset: offset}, nil
}

// Collections returns the allow-listed collections.
func (v *Validator) Collections() []string {
	return slices.Clone(v.cfg.Collections)
}

// inspect returns the first blocklist reason the text trips, or "".
func inspect(text string) string {
	if hasControlChars(text) {
		return ReasonControlCharacters
	}

	lower := strings.ToLower(text)
	for _, p := range scriptPatterns {
		if p.MatchString(lower) {
			return ReasonScriptInjection
		}
	}
	for _, p := range sqlPatterns {
		if p.MatchString(lower) {
			return ReasonSQLInjection
		}
	}
	if hasTraversal(lower) {
		return ReasonPathTraversal
	}
	return ""
}

// hasControlChars reports C0 control bytes and DEL; tab, LF and CR are allowed.
func hasControlChars(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\t' || c == '\n' || c == '\r' {
			continue
		}
		if c < 0x20 || c == 0x7f {
			return true
		}
	}
	return false
}

var percentDecoder = strings.NewReplacer("%25", "%", "%2e", ".", "%2f", "/", "%5c", `\`)

// hasTraversal checks the text and up to two rounds of percent-decoding of dots and slashes.
func hasTraversal(s string) bool {
	for range 3 {
		if strings.Contains(s, "../") || strings.Contains(s, `..\`) {
			return true
		}
		decoded := percentDecoder.Replace(s)
		if decoded == s {
			return false
		}
		s = decoded
	}
	return false
}
