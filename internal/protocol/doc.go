// Package protocol groups the link wire contract.
//
// Ownership boundary:
// - frame: escape-delimited message encoding and the byte-level parser
// - session: link lifecycle, receive loop, and the caller-facing Link
//
// Wire summary: every message starts with the escape byte 0x8F followed by a
// type byte (Ack 0x00, Join 0x01, Leave 0x02, Data 0x03). Data runs until
// 0x8F 0x04; literal 0x8F bytes inside a payload are doubled.
package protocol
