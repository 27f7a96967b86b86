// Package domain defines the core domain models for Constellation.
//
// Domain models are pure values without any IO dependencies or framework
// coupling. This package contains:
//
//   - ServiceIdentity: versioned service name, the unit of addressing
//   - AddressBookEntry and Endpoint: what the mesh knows about a service
//   - MembershipEvent: the replicated log entry folded into the address book
//   - Errors: mesh error taxonomy with stable codes
package domain
