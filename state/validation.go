package state

import (
	"fmt"
	"net/netip"
	"regexp"
)

var namePattern = regexp.MustCompile("^[0-9a-z._-]+$")

// NameValidator checks an ipcp_name/dif_name against the naming convention
// used for RIB path segments.
func NameValidator(s string) error {
	if s == "" {
		return fmt.Errorf("name must not be empty")
	}
	if !namePattern.MatchString(s) {
		return fmt.Errorf("%q is not a valid name, must match %s", s, namePattern.String())
	}
	if len(s) > 100 {
		return fmt.Errorf("name %q is too long (%d > 100)", s, len(s))
	}
	return nil
}

// EndpointValidator checks a shim bind_endpoint / bootstrap peer endpoint.
func EndpointValidator(s string) error {
	_, err := netip.ParseAddrPort(s)
	if err != nil {
		return fmt.Errorf("invalid underlay endpoint %q: %w", s, err)
	}
	return nil
}

// AddressValidator checks that addr is non-zero, since zero is the reserved
// "unassigned" sentinel from spec.md §3.
func AddressValidator(addr uint64) error {
	if addr == UnassignedAddress {
		return fmt.Errorf("address 0 is reserved for \"unassigned\"")
	}
	return nil
}
