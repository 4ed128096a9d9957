// Package ir provides the value and schema types shared by every layer of pcx.
//
// This package contains type definitions only. All other internal packages
// import ir; ir imports nothing internal.
//
// Key design constraints:
//   - NO float types anywhere - record fields use int64 for numbers
//   - RecordKey is comparable and safe to use as a map key
//   - Primary keys are canonical JSON text, so 1 and "1" are different keys
//   - All JSON tags use snake_case
package ir
