// Package repository defines the local data access interface for tunet.
//
// Two kinds of state live here: small string settings (the client's MAC
// address, the sealed password and its key material) and the map from device
// MAC address to the display name the user chose. Neither belongs in the
// config file, and both survive a wiped session cache.
//
// The sqlite subpackage provides the implementation. It migrates its schema
// on open and runs in WAL mode so the CLI and a running daemon can share one
// database file.
package repository
