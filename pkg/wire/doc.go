// Package wire defines the wire-level types of the ITP subscription
// service set: status codes, monitoring enums, data values, notification
// messages, and the CBOR codec used to encode them.
//
// # Encoding
//
// All ITP messages are CBOR maps with integer keys for compactness.
// Encoding is canonical (deterministic key ordering); decoding is lenient
// to allow forward-compatible extensions.
//
// # Status Codes
//
// StatusCode follows the OPC-UA 32-bit layout: the top two bits carry the
// severity (Good/Uncertain/Bad), the sub-code occupies bits 16-27, and the
// low info bits carry per-value flags such as the queue overflow marker on
// delivered notifications.
package wire
