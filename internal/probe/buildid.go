package probe

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// BuildID is a published or installed build number.
type BuildID uint64

func (b BuildID) String() string {
	return strconv.FormatUint(uint64(b), 10)
}

var manifestBuildID = regexp.MustCompile(`"buildid"\s+"(\d+)"`)

// ParseManifestBuildID extracts the build id from app manifest text.
func ParseManifestBuildID(text string) (BuildID, error) {
	m := manifestBuildID.FindStringSubmatch(text)
	if m == nil {
		return 0, fmt.Errorf("%w: no buildid in manifest", ErrParse)
	}
	n, err := strconv.ParseUint(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: manifest buildid %q: %v", ErrParse, m[1], err)
	}
	return BuildID(n), nil
}

// UnmarshalJSON accepts both a JSON number and a quoted decimal string,
// since the version service publishes build ids as strings.
func (b *BuildID) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fmt.Errorf("build id %s is not a non-negative integer", data)
	}
	*b = BuildID(n)
	return nil
}

var _ json.Unmarshaler = (*BuildID)(nil)

// Comparison pairs the latest published build with the installed one.
type Comparison struct {
	Latest  BuildID
	Current BuildID
}

// UpdateAvailable reports whether the published build is strictly newer.
func (c Comparison) UpdateAvailable() bool {
	return NeedsUpdate(c.Latest, c.Current)
}

// NeedsUpdate reports whether latest is strictly greater than current.
func NeedsUpdate(latest, current BuildID) bool {
	return latest > current
}
