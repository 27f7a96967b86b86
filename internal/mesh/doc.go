// Package mesh composes the consensus engine, address book, negotiator and
// framed channels into a mesh participant.
//
// A Participant hosts one service. It joins the mesh through any member (the
// join is redirected to the transponder), keeps a replica of the address
// book, and calls other services by identity:
//
//	p, err := mesh.New(cfg)
//	if err != nil {
//		return err
//	}
//	defer p.Close()
//	if err := p.Join(ctx, "socket://10.0.0.1:7000"); err != nil {
//		return err
//	}
//	answer, err := p.Call(ctx, domain.MustParseServiceIdentity("billing.v2"), payload)
//
// Every listener speaks the same envelope protocol: call, forward (one-hop
// translation), join, leave, update, relay (consensus stream splicing) and
// ping. Each envelope is answered by exactly one Reply on the same channel,
// except relay, which hands the connection over to raft after the reply.
package mesh
