// Package modelid parses and formats {provider}/{model}[-version] ids.
//
// The parser is lossless for ids written with the provider's canonical wire
// name: for every such accepted string s, Format(Parse(s)) == s (an alias
// such as "google/..." formats back as "gemini/..."). Version suffixes are
// recognized on the '@' separator first, then on '-' separators scanned
// left to right so the longest suffix wins; a name whose tail parses as none of the known
// forms is treated as a bare model name at the latest version.
package modelid

import (
	"regexp"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"

	"github.com/meridianhq/ai-gateway/relay/provider"
)

// VersionKind tags the parsed version variant.
type VersionKind int

const (
	VersionLatest VersionKind = iota
	VersionPreview
	VersionDate
	VersionDateVersionedPreview
	VersionSemver
)

// DateFormat records which layout a date suffix used so formatting can
// reproduce the original text.
type DateFormat string

const (
	DateISO      DateFormat = "2006-01-02"
	DateCompact  DateFormat = "20060102"
	DateMonthDay DateFormat = "01-02"
)

// Version is the parsed model version. Raw keeps the exact suffix text
// (including the leading separator) so ids round-trip byte-for-byte; an
// empty Raw means the version was implicit.
type Version struct {
	Kind   VersionKind
	Raw    string
	Date   time.Time
	Format DateFormat
	Semver string
}

// ModelId is a fully parsed model identifier.
type ModelId struct {
	Provider provider.InferenceProvider

	// Name is the model name with any recognized version suffix removed.
	Name    string
	Version Version

	// Bedrock ids are {inner-provider}.{name}-v{major}:{seq}.
	InnerProvider  string
	BedrockVersion string

	// Ollama ids are {name}[:{tag}].
	Tag string
}

var (
	// ErrInvalidModelName reports a malformed model string.
	ErrInvalidModelName = errors.New("invalid model name")
)

var (
	dateISORe      = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	dateCompactRe  = regexp.MustCompile(`^\d{8}$`)
	dateMonthDayRe = regexp.MustCompile(`^\d{2}-\d{2}$`)
	semverRe       = regexp.MustCompile(`^v?\d+\.\d+(\.\d+)?$`)
	bedrockVerRe   = regexp.MustCompile(`^v\d+:\d+$`)
)

// Parse splits a {provider}/{name} id and parses the name with the
// provider's convention.
func Parse(s string) (ModelId, error) {
	if s == "" {
		return ModelId{}, errors.Wrap(ErrInvalidModelName, "empty model id")
	}
	idx := strings.Index(s, "/")
	if idx <= 0 || idx == len(s)-1 {
		return ModelId{}, errors.Wrapf(ErrInvalidModelName, "missing provider prefix in %q", s)
	}
	p, err := provider.FromWireName(s[:idx])
	if err != nil {
		return ModelId{}, err
	}
	return ParseName(p, s[idx+1:])
}

// ParseName parses a bare model name under the given provider's convention.
func ParseName(p provider.InferenceProvider, name string) (ModelId, error) {
	if name == "" {
		return ModelId{}, errors.Wrap(ErrInvalidModelName, "empty model name")
	}
	switch name[len(name)-1] {
	case '-', '.', '@':
		return ModelId{}, errors.Wrapf(ErrInvalidModelName, "trailing separator in %q", name)
	}

	switch p {
	case provider.Bedrock:
		return parseBedrock(name)
	case provider.Ollama:
		return parseOllama(name), nil
	default:
		id := parseVersioned(name)
		id.Provider = p
		return id, nil
	}
}

// parseVersioned strips a recognized version suffix, if any. The scan walks
// separator positions left to right so that multi-segment suffixes like
// "2024-11-20" or "preview-2024-06-01" are found before shorter ones.
func parseVersioned(name string) ModelId {
	// '@' binds the whole tail: "model@1.5" or "model@latest".
	if at := strings.LastIndexByte(name, '@'); at > 0 {
		if v, ok := parseSuffix(name[at+1:]); ok {
			v.Raw = name[at:]
			return ModelId{Name: name[:at], Version: v}
		}
	}

	// Walk '-' positions from the left so the longest suffix wins.
	for i := 0; i < len(name); i++ {
		if name[i] != '-' {
			continue
		}
		if v, ok := parseSuffix(name[i+1:]); ok {
			v.Raw = name[i:]
			return ModelId{Name: name[:i], Version: v}
		}
	}

	return ModelId{Name: name, Version: Version{Kind: VersionLatest}}
}

// parseSuffix interprets one candidate suffix (separator already removed).
func parseSuffix(s string) (Version, bool) {
	switch {
	case s == "latest":
		return Version{Kind: VersionLatest}, true
	case s == "preview":
		return Version{Kind: VersionPreview}, true
	}
	if rest, ok := strings.CutPrefix(s, "preview-"); ok {
		if d, f, ok := parseDate(rest); ok {
			return Version{Kind: VersionDateVersionedPreview, Date: d, Format: f}, true
		}
		return Version{}, false
	}
	if d, f, ok := parseDate(s); ok {
		return Version{Kind: VersionDate, Date: d, Format: f}, true
	}
	if semverRe.MatchString(s) {
		return Version{Kind: VersionSemver, Semver: s}, true
	}
	return Version{}, false
}

func parseDate(s string) (time.Time, DateFormat, bool) {
	switch {
	case dateISORe.MatchString(s):
		if t, err := time.Parse(string(DateISO), s); err == nil {
			return t, DateISO, true
		}
	case dateCompactRe.MatchString(s):
		if t, err := time.Parse(string(DateCompact), s); err == nil {
			return t, DateCompact, true
		}
	case dateMonthDayRe.MatchString(s):
		if t, err := time.Parse(string(DateMonthDay), s); err == nil {
			// MM-DD is interpreted in the current year.
			now := time.Now()
			return time.Date(now.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), DateMonthDay, true
		}
	}
	return time.Time{}, "", false
}

// parseBedrock handles {inner-provider}.{name}-v{major}:{seq}.
func parseBedrock(name string) (ModelId, error) {
	dot := strings.Index(name, ".")
	if dot <= 0 || dot == len(name)-1 {
		return ModelId{}, errors.Wrapf(ErrInvalidModelName, "bedrock id %q missing inner provider", name)
	}
	inner, rest := name[:dot], name[dot+1:]

	vIdx := strings.LastIndex(rest, "-v")
	if vIdx < 0 {
		return ModelId{}, errors.Wrapf(ErrInvalidModelName, "bedrock id %q missing -v version suffix", name)
	}
	ver := rest[vIdx+1:]
	if !bedrockVerRe.MatchString(ver) {
		return ModelId{}, errors.Wrapf(ErrInvalidModelName, "bedrock id %q has malformed version %q", name, ver)
	}
	return ModelId{
		Provider:       provider.Bedrock,
		InnerProvider:  inner,
		Name:           rest[:vIdx],
		BedrockVersion: ver,
	}, nil
}

func parseOllama(name string) ModelId {
	id := ModelId{Provider: provider.Ollama, Name: name}
	if colon := strings.LastIndexByte(name, ':'); colon > 0 {
		id.Name, id.Tag = name[:colon], name[colon+1:]
	}
	return id
}

// FormatName renders the model name without the provider prefix.
func (m ModelId) FormatName() string {
	switch m.Provider {
	case provider.Bedrock:
		return m.InnerProvider + "." + m.Name + "-" + m.BedrockVersion
	case provider.Ollama:
		if m.Tag != "" {
			return m.Name + ":" + m.Tag
		}
		return m.Name
	default:
		return m.Name + m.Version.Raw
	}
}

// Format renders the full {provider}/{name} id.
func (m ModelId) Format() string {
	return m.Provider.String() + "/" + m.FormatName()
}
