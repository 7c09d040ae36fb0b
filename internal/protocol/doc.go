// Package protocol implements the HPSDR Protocol 1 wire format.
// It covers 1032 byte data frames, the rotating control byte records,
// sequence numbering and the small discovery and start/stop messages
// exchanged with the radio on port 1024.
package protocol
