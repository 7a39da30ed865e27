// Package ir provides the value types carried by object properties and
// commands, plus the canonical encoding used to compare and digest them.
//
// This package imports nothing internal. Every other internal package may
// import it.
//
// Key constraints:
//   - No float types anywhere; use Int (int64) for numbers
//   - Canonical JSON (RFC 8785) is the only encoding used for digests and
//     stored command descriptions
//   - A nil Value means "absent" and never appears inside a Map or List
package ir
