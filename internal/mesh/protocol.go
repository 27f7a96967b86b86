package mesh

import (
	"errors"
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/norpie/constellation/internal/core/domain"
)

// MessageType tags a mesh envelope.
type MessageType string

const (
	// MsgCall delivers an application payload to the receiving service.
	MsgCall MessageType = "call"
	// MsgForward asks a translator to deliver a call on the caller's behalf.
	MsgForward MessageType = "forward"
	// MsgJoin asks the leader to admit a participant.
	MsgJoin MessageType = "join"
	// MsgLeave asks the leader to remove a participant.
	MsgLeave MessageType = "leave"
	// MsgUpdate asks the leader to replace a participant's endpoints.
	MsgUpdate MessageType = "update"
	// MsgRelay asks the receiver to splice the connection to a consensus peer.
	MsgRelay MessageType = "relay"
	// MsgPing checks that a participant answers.
	MsgPing MessageType = "ping"
)

// Envelope is the request frame exchanged between participants. Exactly one
// of the typed sections is set for the types that need one.
type Envelope struct {
	ID      string      `json:"id"`
	Type    MessageType `json:"type"`
	From    string      `json:"from,omitempty"`
	To      string      `json:"to,omitempty"`
	Payload []byte      `json:"payload,omitempty"`

	Forward *ForwardRequest `json:"forward,omitempty"`
	Join    *JoinRequest    `json:"join,omitempty"`
	Leave   *LeaveRequest   `json:"leave,omitempty"`
	Update  *UpdateRequest  `json:"update,omitempty"`
	Relay   *RelayRequest   `json:"relay,omitempty"`
}

// ForwardRequest names the callee endpoint the translator dials.
type ForwardRequest struct {
	Endpoint domain.Endpoint `json:"endpoint"`
}

// JoinRequest carries the joining participant's entry.
type JoinRequest struct {
	Entry domain.AddressBookEntry `json:"entry"`
	Token string                  `json:"token,omitempty"`
}

// LeaveRequest names the departing identity.
type LeaveRequest struct {
	Identity domain.ServiceIdentity `json:"identity"`
}

// UpdateRequest replaces an entry's endpoints.
type UpdateRequest struct {
	Identity   domain.ServiceIdentity `json:"identity"`
	Transports []domain.TransportKind `json:"transports"`
	Endpoints  []domain.Endpoint      `json:"endpoints"`
}

// RelayRequest names the consensus address to splice to.
type RelayRequest struct {
	Target string `json:"target"`
}

// Reply answers an Envelope.
type Reply struct {
	ID      string `json:"id"`
	OK      bool   `json:"ok"`
	Payload []byte `json:"payload,omitempty"`

	// Index is the commit index of a proposal made on the caller's behalf.
	Index uint64 `json:"index,omitempty"`

	Error    *ReplyError `json:"error,omitempty"`
	Redirect *Redirect   `json:"redirect,omitempty"`
}

// ReplyError is a DomainError on the wire.
type ReplyError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Redirect points a follower's caller at the leader.
type Redirect struct {
	LeaderID   string            `json:"leader_id"`
	LeaderAddr string            `json:"leader_addr,omitempty"`
	Endpoints  []domain.Endpoint `json:"endpoints,omitempty"`
}

func newEnvelope(t MessageType, from domain.ServiceIdentity) *Envelope {
	return &Envelope{ID: ulid.Make().String(), Type: t, From: from.String()}
}

func okReply(id string) *Reply {
	return &Reply{ID: id, OK: true}
}

// errorReply encodes err. NotLeader errors become redirects; anything that is
// not a DomainError is reported as Internal.
func errorReply(id string, err error, redirect *Redirect) *Reply {
	r := &Reply{ID: id, Redirect: redirect}
	var de *domain.DomainError
	if !errors.As(err, &de) {
		de = domain.ErrInternal.WithDetails(err.Error())
	}
	if errors.Is(err, domain.ErrNotLeader) {
		de = domain.ErrNotLeader
	}
	details := de.Details
	if de.Cause != nil {
		if details != "" {
			details += ": "
		}
		details += de.Cause.Error()
	}
	r.Error = &ReplyError{Code: de.Code, Message: de.Message, Details: details}
	return r
}

// Err rebuilds the error carried by r; nil for successful replies.
func (r *Reply) Err() error {
	if r.OK {
		return nil
	}
	if r.Redirect != nil {
		return &domain.NotLeaderError{LeaderID: r.Redirect.LeaderID, LeaderAddr: r.Redirect.LeaderAddr}
	}
	if r.Error == nil {
		return domain.ErrInternal.WithDetails("reply without error")
	}
	return &domain.DomainError{Code: r.Error.Code, Message: r.Error.Message, Details: r.Error.Details}
}

// ParseAddress splits "kind://address" into an endpoint. A bare address is a
// socket endpoint.
func ParseAddress(s string) (domain.Endpoint, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return domain.Endpoint{}, domain.ErrInvalidArgument.WithDetails("empty address")
	}
	kind, addr, ok := strings.Cut(s, "://")
	if !ok {
		return domain.Endpoint{Kind: domain.KindSocket, Address: s}, nil
	}
	if kind == "" || addr == "" {
		return domain.Endpoint{}, domain.ErrInvalidArgument.WithDetails(fmt.Sprintf("malformed address %q", s))
	}
	return domain.Endpoint{Kind: domain.TransportKind(kind), Address: addr}, nil
}
