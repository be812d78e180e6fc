package client

import (
	"context"
	"fmt"

	"distkv/internal/paxos"
	"distkv/rpc/common"
	"distkv/rpc/serializer"
	"distkv/rpc/transport"
)

// PaxosPeer implements paxos.Peer over a single-endpoint byte transport:
// the network leg one replica uses to reach another replica's
// Prepare/Accept/Decide handlers (§4.2). It carries no retry of its own;
// an unreachable peer simply returns its transport error, which paxos
// treats the same as a dropped message.
type PaxosPeer struct {
	addr       string
	transport  transport.IRPCClientTransport
	serializer serializer.IRPCSerializer
}

// NewPaxosPeer connects a transport built by factory to addr and wraps it
// as a paxos.Peer.
func NewPaxosPeer(addr string, factory TransportFactory, ser serializer.IRPCSerializer) (*PaxosPeer, error) {
	t := factory()
	config := common.ClientConfig{
		Transport: common.ClientTransportConfig{
			Endpoints:              []string{addr},
			ConnectionsPerEndpoint: 1,
			RetryCount:             3,
		},
	}
	if err := t.Connect(config); err != nil {
		return nil, fmt.Errorf("rpc/client: connect peer %s: %w", addr, err)
	}
	return &PaxosPeer{addr: addr, transport: t, serializer: ser}, nil
}

// Prepare sends the phase-1 request. ctx is accepted to satisfy
// paxos.Peer but isn't wired into the underlying transport, which has no
// per-call cancellation of its own.
func (p *PaxosPeer) Prepare(_ context.Context, args *paxos.PrepareArgs) (*paxos.PrepareReply, error) {
	var reply paxos.PrepareReply
	if err := p.call(common.MethodPrepare, args, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// Accept sends the phase-2 request.
func (p *PaxosPeer) Accept(_ context.Context, args *paxos.AcceptArgs) (*paxos.AcceptReply, error) {
	var reply paxos.AcceptReply
	if err := p.call(common.MethodAccept, args, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// Decide sends the phase-3 request.
func (p *PaxosPeer) Decide(_ context.Context, args *paxos.DecideArgs) (*paxos.DecideReply, error) {
	var reply paxos.DecideReply
	if err := p.call(common.MethodDecide, args, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// Close releases the underlying connection.
func (p *PaxosPeer) Close() error {
	return p.transport.Close()
}

func (p *PaxosPeer) call(method common.Method, args interface{}, reply interface{}) error {
	reqMsg, err := common.NewRequest(common.ServicePaxos, method, args)
	if err != nil {
		return err
	}
	reqBytes, err := p.serializer.Serialize(*reqMsg)
	if err != nil {
		return err
	}

	respBytes, err := p.transport.Send(0, reqBytes)
	if err != nil {
		return fmt.Errorf("rpc/client: peer %s: %w", p.addr, err)
	}

	var respMsg common.Message
	if err := p.serializer.Deserialize(respBytes, &respMsg); err != nil {
		return fmt.Errorf("rpc/client: decode peer %s response: %w", p.addr, err)
	}
	if respMsg.MsgType == common.MsgTError {
		return fmt.Errorf("rpc/client: peer %s: %s", p.addr, respMsg.Err)
	}
	return common.DecodePayload(respMsg.Payload, reply)
}
