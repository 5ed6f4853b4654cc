package resolver

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/mod/semver"
)

const (
	VersionLatest  = "LATEST"
	VersionRelease = "RELEASE"
)

// compareVersions orders two Maven versions. Versions that are valid semver
// once prefixed with "v" are compared with semver rules first, ties and
// everything else are compared segment by segment.
func compareVersions(a, b string) int {
	if va, vb := "v"+a, "v"+b; semver.IsValid(va) && semver.IsValid(vb) {
		if c := semver.Compare(va, vb); c != 0 {
			return c
		}
	}
	return compareSegments(splitVersion(a), splitVersion(b))
}

func splitVersion(v string) []string {
	return strings.FieldsFunc(strings.ToLower(v), func(r rune) bool {
		return r == '.' || r == '-' || r == '_'
	})
}

// releaseQualifiers compare equal to a missing segment.
var releaseQualifiers = map[string]bool{"": true, "ga": true, "final": true, "release": true}

func compareSegments(a, b []string) int {
	for i := 0; i < len(a) || i < len(b); i++ {
		var sa, sb string
		if i < len(a) {
			sa = a[i]
		}
		if i < len(b) {
			sb = b[i]
		}
		if c := compareSegment(sa, sb); c != 0 {
			return c
		}
	}
	return 0
}

func compareSegment(a, b string) int {
	na, aNum := strconv.Atoi(a)
	nb, bNum := strconv.Atoi(b)
	switch {
	case aNum == nil && bNum == nil:
		return cmpInt(na, nb)
	case aNum == nil:
		// numbers sort above qualifiers; a missing segment counts as zero
		if releaseQualifiers[b] && na == 0 {
			return 0
		}
		return 1
	case bNum == nil:
		if releaseQualifiers[a] && nb == 0 {
			return 0
		}
		return -1
	}
	if releaseQualifiers[a] && releaseQualifiers[b] {
		return 0
	}
	// a release sorts above any other qualifier (1.0 > 1.0-beta)
	if releaseQualifiers[a] {
		return 1
	}
	if releaseQualifiers[b] {
		return -1
	}
	return strings.Compare(a, b)
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func isSnapshot(v string) bool {
	return strings.HasSuffix(v, "-SNAPSHOT")
}

// versionBound is one end of a range interval. An empty version is unbounded.
type versionBound struct {
	version   string
	inclusive bool
}

type versionInterval struct {
	lower, upper versionBound
}

func (iv versionInterval) contains(v string) bool {
	if iv.lower.version != "" {
		c := compareVersions(v, iv.lower.version)
		if c < 0 || (c == 0 && !iv.lower.inclusive) {
			return false
		}
	}
	if iv.upper.version != "" {
		c := compareVersions(v, iv.upper.version)
		if c > 0 || (c == 0 && !iv.upper.inclusive) {
			return false
		}
	}
	return true
}

// versionRange is a union of intervals such as "[1.0,2.0),(2.0,)".
type versionRange []versionInterval

func isVersionRange(v string) bool {
	return strings.HasPrefix(v, "[") || strings.HasPrefix(v, "(")
}

func parseVersionRange(spec string) (versionRange, error) {
	var out versionRange
	rest := strings.TrimSpace(spec)
	for rest != "" {
		if rest[0] == ',' {
			rest = strings.TrimSpace(rest[1:])
			continue
		}
		if rest[0] != '[' && rest[0] != '(' {
			return nil, fmt.Errorf("invalid version range %q", spec)
		}
		end := strings.IndexAny(rest, "])")
		if end < 0 {
			return nil, fmt.Errorf("unterminated version range %q", spec)
		}
		body := rest[1:end]
		lowerInc := rest[0] == '['
		upperInc := rest[end] == ']'
		var iv versionInterval
		if lo, hi, ok := strings.Cut(body, ","); ok {
			iv = versionInterval{
				lower: versionBound{version: strings.TrimSpace(lo), inclusive: lowerInc},
				upper: versionBound{version: strings.TrimSpace(hi), inclusive: upperInc},
			}
		} else {
			if !lowerInc || !upperInc {
				return nil, fmt.Errorf("single version range %q must use brackets", spec)
			}
			exact := versionBound{version: strings.TrimSpace(body), inclusive: true}
			iv = versionInterval{lower: exact, upper: exact}
		}
		out = append(out, iv)
		rest = strings.TrimSpace(rest[end+1:])
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("empty version range %q", spec)
	}
	return out, nil
}

func (r versionRange) contains(v string) bool {
	for _, iv := range r {
		if iv.contains(v) {
			return true
		}
	}
	return false
}

type repositoryMetadata struct {
	XMLName    xml.Name `xml:"metadata"`
	Versioning struct {
		Latest   string   `xml:"latest"`
		Release  string   `xml:"release"`
		Versions []string `xml:"versions>version"`
	} `xml:"versioning"`
}

func parseMetadata(r io.Reader) (*repositoryMetadata, error) {
	var md repositoryMetadata
	if err := xml.NewDecoder(r).Decode(&md); err != nil {
		return nil, fmt.Errorf("failed to parse repository metadata: %w", err)
	}
	return &md, nil
}

// selectVersion picks the highest available version matching requested, which
// is a range, LATEST or RELEASE.
func selectVersion(requested string, available []string) (string, bool) {
	var match func(string) bool
	switch requested {
	case VersionLatest:
		match = func(string) bool { return true }
	case VersionRelease:
		match = func(v string) bool { return !isSnapshot(v) }
	default:
		r, err := parseVersionRange(requested)
		if err != nil {
			return "", false
		}
		match = r.contains
	}
	best := ""
	for _, v := range available {
		if !match(v) {
			continue
		}
		if best == "" || compareVersions(v, best) > 0 {
			best = v
		}
	}
	return best, best != ""
}

// needsVersionSelection reports whether v must be matched against metadata.
func needsVersionSelection(v string) bool {
	return v == VersionLatest || v == VersionRelease || isVersionRange(v)
}
