package server

import (
	"distkv/rpc/common"
)

// IRPCServerAdapter is the interface every per-service RPC adapter
// implements. It is responsible for decoding a Message's Payload,
// dispatching to the backing component, and encoding the result back
// into a response Message. If an error occurs it is reported in the
// response, never via a Go error return, so the transport layer always
// has exactly one Message to write back.
type IRPCServerAdapter interface {
	Handle(req *common.Message) (resp *common.Message)
}
