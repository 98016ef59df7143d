package domain

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrMacFormat is returned for malformed MAC address strings
	ErrMacFormat = errors.New("invalid mac address")
	// ErrIPv4Format is returned for malformed IPv4 address strings
	ErrIPv4Format = errors.New("invalid ipv4 address")
)

// MacAddress is a 6 byte hardware address
type MacAddress [6]byte

// UnknownMac is the zero value, used when the server does not report a MAC
var UnknownMac MacAddress

func isMacSeparator(r rune) bool {
	return r == ':' || r == '-' || r == '.' || r == ' '
}

// ParseMac parses six hex octets separated by ':', '-', '.' or spaces.
// Blank input yields UnknownMac.
func ParseMac(s string) (MacAddress, error) {
	text := strings.TrimSpace(s)
	if text == "" {
		return UnknownMac, nil
	}

	// The first separator fixes the one used throughout
	at := strings.IndexFunc(text, isMacSeparator)
	if at < 0 {
		return UnknownMac, fmt.Errorf("%w: %q has no separator", ErrMacFormat, s)
	}
	parts := strings.Split(text, text[at:at+1])
	if len(parts) != 6 {
		return UnknownMac, fmt.Errorf("%w: %q has %d segments", ErrMacFormat, s, len(parts))
	}

	var mac MacAddress
	for i, part := range parts {
		if part == "" || len(part) > 2 || strings.IndexFunc(part, isMacSeparator) >= 0 {
			return UnknownMac, fmt.Errorf("%w: segment %q in %q", ErrMacFormat, part, s)
		}
		v, err := strconv.ParseUint(part, 16, 8)
		if err != nil {
			return UnknownMac, fmt.Errorf("%w: segment %q in %q", ErrMacFormat, part, s)
		}
		mac[i] = byte(v)
	}
	return mac, nil
}

// RandomMac generates a random locally administered unicast address
func RandomMac() (MacAddress, error) {
	var mac MacAddress
	if _, err := rand.Read(mac[:]); err != nil {
		return UnknownMac, fmt.Errorf("generate mac: %w", err)
	}
	mac[0] = (mac[0] | 0x02) &^ 0x01
	return mac, nil
}

// IsUnknown reports whether m is the UnknownMac sentinel
func (m MacAddress) IsUnknown() bool {
	return m == UnknownMac
}

// String returns lowercase colon separated hex
func (m MacAddress) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", m[0], m[1], m[2], m[3], m[4], m[5])
}

// MarshalText implements encoding.TextMarshaler
func (m MacAddress) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (m *MacAddress) UnmarshalText(text []byte) error {
	parsed, err := ParseMac(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Ipv4Address is a 4 byte IPv4 address
type Ipv4Address [4]byte

// ParseIPv4 parses dot-decimal notation
func ParseIPv4(s string) (Ipv4Address, error) {
	var ip Ipv4Address
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) != 4 {
		return ip, fmt.Errorf("%w: %q", ErrIPv4Format, s)
	}
	for i, part := range parts {
		v, err := strconv.ParseUint(part, 10, 8)
		if err != nil {
			return Ipv4Address{}, fmt.Errorf("%w: %q", ErrIPv4Format, s)
		}
		ip[i] = byte(v)
	}
	return ip, nil
}

// String returns dot-decimal notation
func (ip Ipv4Address) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", ip[0], ip[1], ip[2], ip[3])
}

// MarshalText implements encoding.TextMarshaler
func (ip Ipv4Address) MarshalText() ([]byte, error) {
	return []byte(ip.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (ip *Ipv4Address) UnmarshalText(text []byte) error {
	parsed, err := ParseIPv4(string(text))
	if err != nil {
		return err
	}
	*ip = parsed
	return nil
}
