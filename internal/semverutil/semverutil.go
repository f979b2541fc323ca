// Package semverutil provides the release version arithmetic used for
// backports, patches and the target version QA check.
package semverutil

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
)

var ErrInvalidVersion = errors.New("invalid semantic version")

// ParseTag parses a release tag in the format MAJOR.MINOR.PATCH with an
// optional "v" prefix.
func ParseTag(tag string) (*semver.Version, error) {
	v, err := semver.StrictNewVersion(strings.TrimPrefix(strings.TrimSpace(tag), "v"))
	if err != nil {
		return nil, fmt.Errorf("%q: %w: %s", tag, ErrInvalidVersion, err)
	}

	return v, nil
}

func formatLike(tag string, major, minor, patch uint64) string {
	prefix := ""
	if strings.HasPrefix(strings.TrimSpace(tag), "v") {
		prefix = "v"
	}

	return fmt.Sprintf("%s%d.%d.%d", prefix, major, minor, patch)
}

// PreviousPatch returns the tag that precedes tag in a sequential patch
// release chain (X.Y.Z -> X.Y.(Z-1)).
// If tag is the first release of its minor version, ok is false.
func PreviousPatch(tag string) (previous string, ok bool, err error) {
	v, err := ParseTag(tag)
	if err != nil {
		return "", false, err
	}

	if v.Patch() == 0 {
		return "", false, nil
	}

	return formatLike(tag, v.Major(), v.Minor(), v.Patch()-1), true, nil
}

// NextPatch returns the tag of the patch release following tag.
func NextPatch(tag string) (string, error) {
	v, err := ParseTag(tag)
	if err != nil {
		return "", err
	}

	next := v.IncPatch()

	return formatLike(tag, next.Major(), next.Minor(), next.Patch()), nil
}

// MajorMinor returns the "MAJOR.MINOR" part of a tag.
func MajorMinor(tag string) (string, error) {
	v, err := ParseTag(tag)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%d.%d", v.Major(), v.Minor()), nil
}

var versionInTextRe = regexp.MustCompile(`(\d+)\.(\d+)(?:\.(\d+))?`)

// FindVersion returns the first version shaped substring (MAJOR.MINOR with an
// optional .PATCH) of text.
// If the substring is not a valid semantic version, e.g. because a component
// overflows, false is returned.
func FindVersion(text string) (string, bool) {
	v := versionInTextRe.FindString(text)
	if v == "" {
		return "", false
	}

	if _, err := semver.NewVersion(v); err != nil {
		return "", false
	}

	return v, true
}

// ManifestVersion parses a version as it is declared in a package manifest,
// e.g. "6.5.1-develop", and returns it without pre-release and build
// metadata.
func ManifestVersion(version string) (*semver.Version, error) {
	v, err := semver.NewVersion(strings.TrimSpace(version))
	if err != nil {
		return nil, fmt.Errorf("manifest version %q: %w: %s", version, ErrInvalidVersion, err)
	}

	core, err := v.SetPrerelease("")
	if err != nil {
		return nil, fmt.Errorf("manifest version %q: removing prerelease failed: %w", version, err)
	}

	core, err = core.SetMetadata("")
	if err != nil {
		return nil, fmt.Errorf("manifest version %q: removing metadata failed: %w", version, err)
	}

	return &core, nil
}

// SameMinor reports if the versions a and b share MAJOR and MINOR.
// A missing patch component is treated as 0.
func SameMinor(a, b string) (bool, error) {
	va, err := semver.NewVersion(a)
	if err != nil {
		return false, fmt.Errorf("%q: %w: %s", a, ErrInvalidVersion, err)
	}

	vb, err := semver.NewVersion(b)
	if err != nil {
		return false, fmt.Errorf("%q: %w: %s", b, ErrInvalidVersion, err)
	}

	return va.Major() == vb.Major() && va.Minor() == vb.Minor(), nil
}
