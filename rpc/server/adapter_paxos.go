package server

import (
	"context"
	"fmt"

	"distkv/internal/paxos"
	"distkv/rpc/common"
)

// NewPaxosServerAdapter builds the adapter for the Paxos peer RPC surface
// (§4.2): Prepare/Accept/Decide, dispatched onto p. Requests/replies are
// paxos's own argument structs, gob-encoded as opaque Payloads since this
// package is already allowed to import internal/paxos directly.
func NewPaxosServerAdapter(p *paxos.Paxos) IRPCServerAdapter {
	return &paxosServerAdapter{paxos: p}
}

type paxosServerAdapter struct {
	paxos *paxos.Paxos
}

func (a *paxosServerAdapter) Handle(req *common.Message) (resp *common.Message) {
	ctx := context.Background()

	switch req.Method {
	case common.MethodPrepare:
		var args paxos.PrepareArgs
		if err := common.DecodePayload(req.Payload, &args); err != nil {
			return common.NewErrorResponse(common.ServicePaxos, req.Method, err)
		}
		reply, err := a.paxos.Prepare(ctx, &args)
		if err != nil {
			return common.NewErrorResponse(common.ServicePaxos, req.Method, err)
		}
		return mustResponse(common.ServicePaxos, req.Method, reply)

	case common.MethodAccept:
		var args paxos.AcceptArgs
		if err := common.DecodePayload(req.Payload, &args); err != nil {
			return common.NewErrorResponse(common.ServicePaxos, req.Method, err)
		}
		reply, err := a.paxos.Accept(ctx, &args)
		if err != nil {
			return common.NewErrorResponse(common.ServicePaxos, req.Method, err)
		}
		return mustResponse(common.ServicePaxos, req.Method, reply)

	case common.MethodDecide:
		var args paxos.DecideArgs
		if err := common.DecodePayload(req.Payload, &args); err != nil {
			return common.NewErrorResponse(common.ServicePaxos, req.Method, err)
		}
		reply, err := a.paxos.Decide(ctx, &args)
		if err != nil {
			return common.NewErrorResponse(common.ServicePaxos, req.Method, err)
		}
		return mustResponse(common.ServicePaxos, req.Method, reply)

	default:
		return common.NewErrorResponse(common.ServicePaxos, req.Method,
			fmt.Errorf("paxos adapter: unsupported method %s", req.Method))
	}
}

// mustResponse builds a response Message, falling back to an error
// response in the (practically unreachable, since body is always a plain
// gob-friendly struct) case gob encoding itself fails.
func mustResponse(service common.Service, method common.Method, body interface{}) *common.Message {
	msg, err := common.NewResponse(service, method, body)
	if err != nil {
		return common.NewErrorResponse(service, method, err)
	}
	return msg
}
