// Package attr provides the attribute value model for kvsql records.
//
// This package contains value types only. Every other internal package that
// touches record attributes imports attr; attr imports nothing internal.
//
// Key design constraints:
//   - Value is sealed: Null, String, Int, Float, Bool, Array and *Object
//   - *Object preserves insertion order, which is also the stored row order
//   - Structural equality and fingerprints go through MarshalCanonical
//     (sorted keys, NFC strings), never through the storage encoding
package attr
