package bed

import (
	"fmt"
	"regexp"
	"strings"
)

// macPattern matches a colon-separated 48-bit MAC address.
var macPattern = regexp.MustCompile(`^([0-9A-Fa-f]{2}:){5}[0-9A-Fa-f]{2}$`)

// NormaliseAddress validates a bed MAC address and returns its canonical
// upper-case form. Addresses are used as map keys throughout, so the
// same device must always normalise to the same string.
//
// Parameters:
//   - address: MAC address in AA:BB:CC:DD:EE:FF form, any case
//
// Returns:
//   - string: upper-case canonical address
//   - error: ErrInvalidAddress if the format is wrong
func NormaliseAddress(address string) (string, error) {
	trimmed := strings.TrimSpace(address)
	if !macPattern.MatchString(trimmed) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	return strings.ToUpper(trimmed), nil
}

// ValidateName checks a user-facing bed name.
func ValidateName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" || len(trimmed) > 100 {
		return fmt.Errorf("%w: must be 1-100 characters", ErrInvalidName)
	}
	return nil
}
