// Package ir provides the canonical representation shared by every ownsim
// layer: values, operations, programs and trace events.
//
// All other internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - NO float types anywhere - use int64 for numbers
//   - NO null values - a missing value is a missing field
//   - All JSON stored or hashed goes through MarshalCanonical (RFC 8785)
//   - Logical clocks (seq) only, never wall-clock timestamps
package ir
