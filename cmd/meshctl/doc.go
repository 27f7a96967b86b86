// Command meshctl inspects and operates a running meshd through its admin
// API.
//
// Usage:
//
//	meshctl status
//	meshctl members -o wide
//	meshctl resolve billing.v2
//	meshctl call billing.v2 'hello'
//	meshctl config profile add prod --server https://10.0.0.5:7080 --use
//	meshctl shell
//
// The server and token come from flags, then MESHCTL_SERVER and
// MESHCTL_TOKEN, then the selected profile in ~/.constellation/meshctl.yaml.
package main
