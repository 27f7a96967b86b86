package adminserver

import (
	"errors"

	"connectrpc.com/connect"

	"github.com/norpie/constellation/internal/core/domain"
)

// ErrorCodeHeader carries the mesh error code on failed admin responses.
const ErrorCodeHeader = "Mesh-Error-Code"

// LeaderHeader carries the transponder identity on NotLeader failures.
const LeaderHeader = "Mesh-Leader"

var codeMap = map[string]connect.Code{
	domain.ErrNotLeader.Code:            connect.CodeUnavailable,
	domain.ErrNoQuorum.Code:             connect.CodeUnavailable,
	domain.ErrTermConflict.Code:         connect.CodeAborted,
	domain.ErrLogCompacted.Code:         connect.CodeOutOfRange,
	domain.ErrSubscriberLagged.Code:     connect.CodeResourceExhausted,
	domain.ErrNotFound.Code:             connect.CodeNotFound,
	domain.ErrUnreachable.Code:          connect.CodeUnavailable,
	domain.ErrConnectFailed.Code:        connect.CodeUnavailable,
	domain.ErrTimeout.Code:              connect.CodeDeadlineExceeded,
	domain.ErrFrameTooLarge.Code:        connect.CodeResourceExhausted,
	domain.ErrClosed.Code:               connect.CodeUnavailable,
	domain.ErrUnsupportedTransport.Code: connect.CodeUnimplemented,
	domain.ErrDecodeFailed.Code:         connect.CodeInvalidArgument,
	domain.ErrEncodeFailed.Code:         connect.CodeInternal,
	domain.ErrAdmissionDenied.Code:      connect.CodePermissionDenied,
	domain.ErrRateLimited.Code:          connect.CodeResourceExhausted,
	domain.ErrInvalidArgument.Code:      connect.CodeInvalidArgument,
	domain.ErrInternal.Code:             connect.CodeInternal,
}

// toConnectError maps a mesh error to a connect error and tags it with the
// mesh error code.
func toConnectError(err error) error {
	if err == nil {
		return nil
	}
	var ce *connect.Error
	if errors.As(err, &ce) {
		return ce
	}

	code := domain.GetErrorCode(err)
	var nle *domain.NotLeaderError
	if errors.As(err, &nle) {
		code = domain.ErrNotLeader.Code
	}
	cc, ok := codeMap[code]
	if !ok {
		cc = connect.CodeUnknown
	}
	out := connect.NewError(cc, err)
	if code != "" {
		out.Meta().Set(ErrorCodeHeader, code)
	}
	if nle != nil && nle.LeaderID != "" {
		out.Meta().Set(LeaderHeader, nle.LeaderID)
	}
	return out
}

// FromConnectError recovers the mesh error carried by a connect error, for
// admin clients. Errors without a mesh code are returned unchanged.
func FromConnectError(err error) error {
	var ce *connect.Error
	if !errors.As(err, &ce) {
		return err
	}
	code := ce.Meta().Get(ErrorCodeHeader)
	if code == "" {
		return err
	}
	if code == domain.ErrNotLeader.Code {
		return &domain.NotLeaderError{LeaderID: ce.Meta().Get(LeaderHeader)}
	}
	return domain.NewDomainError(code, ce.Message())
}
