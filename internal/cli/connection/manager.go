package connection

import (
	"context"
	"fmt"
	"time"
)

// Manager tracks the current connection in shell mode.
type Manager struct {
	current *Connection
	client  *Client
	timeout time.Duration
}

// Connection names one admin server.
type Connection struct {
	Name   string
	Server string
	Token  string
}

// NewManager creates a manager with no connection.
func NewManager(timeout time.Duration) *Manager {
	return &Manager{timeout: timeout}
}

// Connect replaces the current connection after a successful Status call.
func (m *Manager) Connect(ctx context.Context, conn *Connection) error {
	client, err := NewClient(conn.Server, conn.Token, m.timeout)
	if err != nil {
		return err
	}
	if _, err := client.Status(ctx); err != nil {
		return fmt.Errorf("connect %s: %w", conn.Server, err)
	}
	m.current = conn
	m.client = client
	return nil
}

// Disconnect drops the current connection.
func (m *Manager) Disconnect() {
	m.current = nil
	m.client = nil
}

// Current returns the current connection, or nil.
func (m *Manager) Current() *Connection {
	return m.current
}

// Client returns the client for the current connection, or nil.
func (m *Manager) Client() *Client {
	return m.client
}

// IsConnected reports whether a connection is set.
func (m *Manager) IsConnected() bool {
	return m.current != nil
}
