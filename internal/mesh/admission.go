package mesh

import (
	"context"
	"net"

	"github.com/norpie/constellation/internal/core/domain"
	"github.com/norpie/constellation/pkg/admission"
)

// AdmissionRequest describes a join awaiting the leader's decision.
type AdmissionRequest struct {
	Entry  domain.AddressBookEntry
	Token  string
	Remote net.Addr
}

// AdmissionFunc decides whether a participant may join.
type AdmissionFunc func(ctx context.Context, req AdmissionRequest) bool

// KeyAdmission admits joins presenting a token issued by key for the joining
// identity.
func KeyAdmission(key admission.Key) AdmissionFunc {
	return func(_ context.Context, req AdmissionRequest) bool {
		return key.Verify(req.Entry.Identity.String(), req.Token)
	}
}

func (p *Participant) admit(ctx context.Context, req AdmissionRequest) bool {
	if p.cfg.Admission == nil {
		return true
	}
	ok := p.cfg.Admission(ctx, req)
	if ok {
		p.metrics.RecordAdmission("admitted")
	} else {
		p.metrics.RecordAdmission("denied")
		p.events.emit(EventAdmission, "identity", req.Entry.Identity.String(), "remote", hostOf(req.Remote))
		p.logger.Warn("join denied by admission",
			"identity", req.Entry.Identity.String(),
			"remote", hostOf(req.Remote))
	}
	return ok
}
