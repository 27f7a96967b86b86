package domain

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	namePattern    = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*(\.[a-z0-9][a-z0-9_-]*)*$`)
	versionPattern = regexp.MustCompile(`^v[0-9]+[a-z0-9]*$`)
)

// ServiceIdentity names one version of a service in the mesh.
//
// Identities are immutable values. A new version of a service is a new
// identity, never a mutation of an existing one.
type ServiceIdentity struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// NewServiceIdentity validates and returns an identity.
func NewServiceIdentity(name, version string) (ServiceIdentity, error) {
	id := ServiceIdentity{Name: name, Version: version}
	if err := id.Validate(); err != nil {
		return ServiceIdentity{}, err
	}
	return id, nil
}

// ParseServiceIdentity parses the canonical "name.version" form,
// e.g. "catalog.search.v1". The version is the trailing dot segment.
func ParseServiceIdentity(s string) (ServiceIdentity, error) {
	idx := strings.LastIndexByte(s, '.')
	if idx <= 0 || idx == len(s)-1 {
		return ServiceIdentity{}, ErrInvalidArgument.WithDetails(fmt.Sprintf("identity %q has no version tag", s))
	}
	return NewServiceIdentity(s[:idx], s[idx+1:])
}

// MustParseServiceIdentity is like ParseServiceIdentity but panics on error.
func MustParseServiceIdentity(s string) ServiceIdentity {
	id, err := ParseServiceIdentity(s)
	if err != nil {
		panic(err)
	}
	return id
}

// Validate checks name and version syntax.
func (id ServiceIdentity) Validate() error {
	if !namePattern.MatchString(id.Name) {
		return ErrInvalidArgument.WithDetails(fmt.Sprintf("invalid service name %q", id.Name))
	}
	if !versionPattern.MatchString(id.Version) {
		return ErrInvalidArgument.WithDetails(fmt.Sprintf("invalid version tag %q", id.Version))
	}
	return nil
}

// IsZero reports whether the identity is unset.
func (id ServiceIdentity) IsZero() bool {
	return id.Name == "" && id.Version == ""
}

// String returns the canonical "name.version" form.
func (id ServiceIdentity) String() string {
	if id.IsZero() {
		return ""
	}
	return id.Name + "." + id.Version
}

// Compare orders identities by their canonical form.
func (id ServiceIdentity) Compare(other ServiceIdentity) int {
	return strings.Compare(id.String(), other.String())
}
