// Package connection connects meshctl to a meshd admin server.
//
//   - client.go: typed admin client with mesh error decoding
//   - http.go: server address parsing and HTTP client setup
//   - socket.go: unix socket transport
//   - manager.go: current connection state for shell mode
//
// Server addresses are http(s):// URLs, unix:///path sockets, or bare
// host:port (plain HTTP).
package connection
