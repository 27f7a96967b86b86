// Package repl implements `meshctl shell`, an interactive loop that runs
// meshctl commands against one admin connection.
//
//   - repl.go: read/dispatch loop and line splitting
//   - completer.go: command-name completion (the "help" and "?" output)
//   - history.go: persisted command history
package repl
