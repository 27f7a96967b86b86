// Package output renders meshctl results.
//
//   - formatter.go: Formatter interface, JSON and YAML output
//   - table.go: reflection-driven tables with wide columns
//   - spinner.go: progress animation for wait-style commands
//
// Struct fields tagged `table:"wide"` only appear with --wide; `table:"-"`
// hides a field from tables entirely.
package output
