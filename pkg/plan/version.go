package plan

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// SupportedVersions is the range of format versions this package reads.
const SupportedVersions = "^1.0"

var supportedConstraint = mustConstraint(SupportedVersions)

func mustConstraint(c string) *semver.Constraints {
	constraint, err := semver.NewConstraint(c)
	if err != nil {
		panic(err)
	}
	return constraint
}

// CheckVersion reports whether a document version can be read.
func CheckVersion(v string) error {
	if v == "" {
		return fmt.Errorf("document has no version")
	}
	version, err := semver.NewVersion(v)
	if err != nil {
		return fmt.Errorf("invalid document version %q: %w", v, err)
	}
	if !supportedConstraint.Check(version) {
		return fmt.Errorf("document version %s is not supported, want %s", version, SupportedVersions)
	}
	return nil
}
