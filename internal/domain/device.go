package domain

import (
	"strings"
	"time"
)

// DeviceKey is the identity of an online device: the (IP, MAC) pair.
// Two devices sharing an IP but not a MAC are different devices.
type DeviceKey struct {
	IP  Ipv4Address `json:"ip"`
	MAC MacAddress  `json:"mac"`
}

// String returns "ip/mac"
func (k DeviceKey) String() string {
	return k.IP.String() + "/" + k.MAC.String()
}

// DeviceFamily is the operating system family reported for a device
type DeviceFamily string

const (
	DeviceFamilyUnknown      DeviceFamily = "unknown"
	DeviceFamilyWindowsPhone DeviceFamily = "windows_phone"
	DeviceFamilyWindows      DeviceFamily = "windows"
	DeviceFamilyIPad         DeviceFamily = "ipad"
	DeviceFamilyIPhone       DeviceFamily = "iphone"
	DeviceFamilyAndroid      DeviceFamily = "android"
	DeviceFamilyLinux        DeviceFamily = "linux"
	DeviceFamilyMacOS        DeviceFamily = "macos"
)

// ordered so "Windows Phone" wins over "Windows"
var familyPrefixes = []struct {
	prefix string
	family DeviceFamily
}{
	{"Windows Phone", DeviceFamilyWindowsPhone},
	{"Windows", DeviceFamilyWindows},
	{"Linux", DeviceFamilyLinux},
	{"Mac", DeviceFamilyMacOS},
	{"Android", DeviceFamilyAndroid},
	{"iPad", DeviceFamilyIPad},
	{"iPhone", DeviceFamilyIPhone},
}

// ParseDeviceFamily maps a free text device description to a family
func ParseDeviceFamily(description string) DeviceFamily {
	description = strings.TrimSpace(description)
	if description == "" {
		return DeviceFamilyUnknown
	}
	for _, p := range familyPrefixes {
		if strings.HasPrefix(description, p.prefix) {
			return p.family
		}
	}
	return DeviceFamilyUnknown
}

// DeviceSnapshot is one row of the online devices report, before it is
// merged into the session's device collection
type DeviceSnapshot struct {
	IP        Ipv4Address
	MAC       MacAddress
	Traffic   ByteSize
	LogOnTime time.Time
	DropToken string
	Family    DeviceFamily
}

// Key returns the snapshot's identity
func (s DeviceSnapshot) Key() DeviceKey {
	return DeviceKey{IP: s.IP, MAC: s.MAC}
}
