package usbhid

import (
	"runtime"

	"github.com/keepkey/keepkey-bitcoin-only-sub006/pkg/keepkey"
)

// Platform decides which transport family a newly discovered device
// should prefer, and whether this host's OS is known to install a
// FIDO/HID filter that denies bulk-USB interface claims (spec §4.3,
// §4.4's FIDO-platform triple-retry).
type Platform interface {
	// PreferredFamily is the transport family to try first for a
	// newly discovered descriptor.
	PreferredFamily() keepkey.TransportFamily
	// FIDOFiltered reports whether this platform's OS-level HID/FIDO
	// filter owns the device's bulk interface, forcing HID for every
	// KeepKey and gating the registry's settle/retry policy.
	FIDOFiltered() bool
}

// defaultPlatform implements Platform from runtime.GOOS, matching the
// teacher's internal/discovery.go pattern of branching host behavior
// on build target rather than runtime probing.
type defaultPlatform struct {
	fidoFiltered bool
}

// DetectPlatform returns the Platform for the host this binary is
// running on. macOS ships an OS-level HID/FIDO filter that denies
// bulk-USB interface claims for devices matching certain usage pages;
// every other supported OS prefers bulk-USB (spec §4.1/§4.3).
func DetectPlatform() Platform {
	return &defaultPlatform{fidoFiltered: runtime.GOOS == "darwin"}
}

func (p *defaultPlatform) PreferredFamily() keepkey.TransportFamily {
	if p.fidoFiltered {
		return keepkey.TransportHID
	}
	return keepkey.TransportBulkUSB
}

func (p *defaultPlatform) FIDOFiltered() bool { return p.fidoFiltered }

// Fixed is a Platform that always reports the given values, used by
// tests and by callers that want to override OS detection.
type Fixed struct {
	Family  keepkey.TransportFamily
	Filtered bool
}

func (f Fixed) PreferredFamily() keepkey.TransportFamily { return f.Family }
func (f Fixed) FIDOFiltered() bool                        { return f.Filtered }
