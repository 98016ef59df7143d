// Package domain defines the value types shared by every tunet package.
//
// # Core Types
//
// ByteSize is a non-negative traffic amount with decimal (SI) units, as the
// portal reports it.
//
// MacAddress and Ipv4Address are fixed-size addresses with text marshaling.
// The zero MacAddress (UnknownMac) stands for "not reported".
//
// DeviceKey is the (IP, MAC) pair that identifies an online device across
// refreshes. DeviceSnapshot is one row of the portal's device report.
package domain
