package sqlite

import (
	"errors"
	"fmt"

	"tunet/internal/domain"
)

var errUnknownMac = errors.New("unknown mac address cannot key a device name")

// macToKey normalizes a MAC into the form stored in the mac column
func macToKey(mac domain.MacAddress) string {
	return mac.String()
}

// parseStoredMac reverses macToKey, rejecting the unknown address
func parseStoredMac(s string) (domain.MacAddress, error) {
	mac, err := domain.ParseMac(s)
	if err != nil {
		return domain.UnknownMac, err
	}
	if mac.IsUnknown() {
		return domain.UnknownMac, fmt.Errorf("unknown mac %q", s)
	}
	return mac, nil
}
