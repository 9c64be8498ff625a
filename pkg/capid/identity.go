// Package capid parses, normalizes, and canonicalizes capability reference
// strings. It generalizes the teacher registry's pkg/semver reference parser
// (app.name@range) to the SDK's richer grammar, which adds an optional
// @alias prefix and a "cap:@alias/app/cap@version" canonical form.
package capid

import (
	"fmt"
	"regexp"
	"strings"

	semver "github.com/Masterminds/semver/v3"
)

const logPrefix = "capid:identity"

// DefaultAlias is used when canonicalizing a reference with no @alias.
const DefaultAlias = "main"

var (
	aliasRegex = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)
	partRegex  = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9._-]*$`)
	forbidden  = regexp.MustCompile(`[#?\x00\s]`)
)

// ParsedReference is the result of parsing a capability reference string.
type ParsedReference struct {
	Alias   string // empty if not specified
	App     string
	Cap     string
	Version string // empty if not specified
	Raw     string
}

// ParseReference parses a capability reference in one of the accepted forms:
//
//	app/cap[@ver]
//	@alias/app/cap[@ver]
//	cap:@alias/app/cap@ver
func ParseReference(s string) (*ParsedReference, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return nil, fmt.Errorf("%s - empty reference", logPrefix)
	}
	if forbidden.MatchString(raw) {
		return nil, fmt.Errorf("%s - reference contains forbidden characters: %q", logPrefix, raw)
	}

	work := strings.TrimPrefix(raw, "cap:")

	var alias string
	if strings.HasPrefix(work, "@") {
		rest := work[1:]
		idx := strings.Index(rest, "/")
		if idx < 0 {
			return nil, fmt.Errorf("%s - @alias must be followed by app/cap: %q", logPrefix, raw)
		}
		alias = rest[:idx]
		work = rest[idx+1:]
	}

	firstSlash := strings.Index(work, "/")
	if firstSlash < 0 {
		return nil, fmt.Errorf("%s - missing app/cap separator: %q", logPrefix, raw)
	}
	app := work[:firstSlash]
	capAndVer := work[firstSlash+1:]

	var capName, version string
	if at := strings.LastIndex(capAndVer, "@"); at >= 0 {
		capName = capAndVer[:at]
		version = capAndVer[at+1:]
	} else {
		capName = capAndVer
	}

	if alias != "" && !aliasRegex.MatchString(alias) {
		return nil, fmt.Errorf("%s - invalid alias: %q", logPrefix, alias)
	}
	if !partRegex.MatchString(app) {
		return nil, fmt.Errorf("%s - invalid app segment: %q", logPrefix, app)
	}
	if !partRegex.MatchString(capName) {
		return nil, fmt.Errorf("%s - invalid cap segment: %q", logPrefix, capName)
	}

	if version != "" {
		normalized, err := NormalizeVersion(version)
		if err != nil {
			return nil, fmt.Errorf("%s - invalid version in %q: %w", logPrefix, raw, err)
		}
		version = normalized
	}

	return &ParsedReference{
		Alias:   alias,
		App:     app,
		Cap:     capName,
		Version: version,
		Raw:     raw,
	}, nil
}

// NormalizeVersion expands a partial version string ("v1", "1", "1.0") into
// full SemVer ("1.0.0"), and passes full SemVer strings through unchanged.
func NormalizeVersion(s string) (string, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(s), "v")
	if trimmed == "" {
		return "", fmt.Errorf("%s - empty version", logPrefix)
	}

	dots := strings.Count(trimmed, ".")
	switch dots {
	case 0:
		trimmed = trimmed + ".0.0"
	case 1:
		trimmed = trimmed + ".0"
	}

	if _, err := semver.NewVersion(trimmed); err != nil {
		return "", fmt.Errorf("%s - not a valid semver after normalization %q: %w", logPrefix, trimmed, err)
	}
	return trimmed, nil
}

// CanonicalizeOptions configures Canonicalize.
type CanonicalizeOptions struct {
	DefaultAlias    string // defaults to DefaultAlias
	ResolvedVersion string // used when input.Version is empty
}

// Canonicalize builds the canonical identity string
// "cap:@<alias>/<app>/<cap>@<normalizedVersion>" for a parsed reference.
func Canonicalize(input *ParsedReference, opts CanonicalizeOptions) (string, error) {
	alias := input.Alias
	if alias == "" {
		alias = opts.DefaultAlias
	}
	if alias == "" {
		alias = DefaultAlias
	}

	version := input.Version
	if version == "" {
		version = opts.ResolvedVersion
	}
	if version == "" {
		return "", fmt.Errorf("%s - no version available to canonicalize %q", logPrefix, input.Raw)
	}
	normalized, err := NormalizeVersion(version)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("cap:@%s/%s/%s@%s", strings.ToLower(alias), input.App, input.Cap, normalized), nil
}

// ParseCanonicalIdentity parses a canonical identity string back into a
// ParsedReference, the inverse of Canonicalize. Used by tests asserting
// idempotence (spec §8).
func ParseCanonicalIdentity(identity string) (*ParsedReference, error) {
	return ParseReference(identity)
}
