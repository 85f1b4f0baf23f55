package poetry

import (
	"errors"
	"fmt"
)

// DistributionFormat identifies the type of distribution archive that
// poetry builds for a package.
type DistributionFormat string

const (
	// Wheel is a binary distribution archive.
	Wheel DistributionFormat = "wheel"
	// SDist is a source distribution archive.
	SDist DistributionFormat = "sdist"
)

// ErrUnknownFormat reports a distribution format other than wheel or sdist.
var ErrUnknownFormat = errors.New("unknown distribution format")

// Validate returns an error unless the format is one of the two recognized
// values.
func (f DistributionFormat) Validate() error {
	switch f {
	case Wheel, SDist:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownFormat, string(f))
}

func (f DistributionFormat) String() string {
	return string(f)
}
