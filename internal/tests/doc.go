// Package tests holds end-to-end tests that run several participants in one
// process, built the same way meshd builds them.
package tests
