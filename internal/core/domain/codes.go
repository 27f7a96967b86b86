package domain

// Consensus.
var (
	ErrNotLeader        = NewDomainError("CM-CONS-4210", "not leader")
	ErrNoQuorum         = NewDomainError("CM-CONS-5030", "no quorum")
	ErrTermConflict     = NewDomainError("CM-CONS-4090", "term conflict")
	ErrLogCompacted     = NewDomainError("CM-CONS-4100", "log index compacted")
	ErrSubscriberLagged = NewDomainError("CM-CONS-4290", "subscriber lagged")
)

// Resolution. ErrNotFound means the identity is not in the address book;
// ErrUnreachable means it is, but no direct or translated path exists.
var (
	ErrNotFound    = NewDomainError("CM-RSLV-4040", "service not found")
	ErrUnreachable = NewDomainError("CM-RSLV-4041", "service unreachable")
)

// Transport and framing.
var (
	ErrConnectFailed        = NewDomainError("CM-TRNS-5020", "connect failed")
	ErrTimeout              = NewDomainError("CM-TRNS-5040", "timeout")
	ErrFrameTooLarge        = NewDomainError("CM-TRNS-4130", "frame too large")
	ErrClosed               = NewDomainError("CM-TRNS-4990", "connection closed")
	ErrUnsupportedTransport = NewDomainError("CM-TRNS-4150", "unsupported transport kind")
)

// Codec.
var (
	ErrDecodeFailed = NewDomainError("CM-CODC-4000", "decode failed")
	ErrEncodeFailed = NewDomainError("CM-CODC-5000", "encode failed")
)

// Admission, arguments and everything else.
var (
	ErrAdmissionDenied = NewDomainError("CM-ADMN-4030", "admission denied")
	ErrRateLimited     = NewDomainError("CM-ADMN-4290", "too many requests")
	ErrInvalidArgument = NewDomainError("CM-ARG-1001", "invalid argument")
	ErrInternal        = NewDomainError("CM-SYS-5000", "internal error")
)

var retryable = []error{
	ErrNotLeader,
	ErrNoQuorum,
	ErrTimeout,
	ErrConnectFailed,
	ErrUnreachable,
}
