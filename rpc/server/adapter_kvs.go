package server

import (
	"fmt"

	"distkv/internal/kvserver"
	"distkv/rpc/common"
)

// NewKVSServerAdapter builds the adapter for the row/column key-value
// service (§6.1), dispatching every Method onto srv.
func NewKVSServerAdapter(srv *kvserver.Server) IRPCServerAdapter {
	return &kvsServerAdapter{srv: srv}
}

type kvsServerAdapter struct {
	srv *kvserver.Server
}

func (a *kvsServerAdapter) Handle(req *common.Message) (resp *common.Message) {
	var body common.KVSRequest
	if err := common.DecodePayload(req.Payload, &body); err != nil {
		return common.NewErrorResponse(common.ServiceKVS, req.Method, err)
	}

	var out kvserver.Output
	switch req.Method {
	case common.MethodPut:
		out = a.srv.Put(body.Row, body.Col, body.NewValue, body.RequestID, body.LockID)
	case common.MethodCPut:
		out = a.srv.CPut(body.Row, body.Col, body.CurrValue, body.NewValue, body.RequestID, body.LockID)
	case common.MethodDelete:
		out = a.srv.Delete(body.Row, body.Col, body.RequestID, body.LockID)
	case common.MethodGet:
		out = a.srv.Get(body.Row, body.Col, body.RequestID, body.LockID)
	case common.MethodSetNX:
		out = a.srv.SetNX(body.Row, body.RequestID, body.LockID)
	case common.MethodDel:
		out = a.srv.Del(body.Row, body.RequestID, body.LockID)
	case common.MethodGetAllRows:
		out = a.srv.GetAllRows(body.RequestID)
	case common.MethodGetAllRowsByIP:
		out = a.srv.GetAllRowsByIP()
	case common.MethodGetColsInRow:
		out = a.srv.GetColsInRow(body.Row, body.RequestID, body.LockID)
	case common.MethodGetColsInRowByIP:
		out = a.srv.GetColsInRowByIP(body.Row, body.LockID)
	default:
		return common.NewErrorResponse(common.ServiceKVS, req.Method,
			fmt.Errorf("kvs adapter: unsupported method %s", req.Method))
	}

	respMsg, err := common.NewResponse(common.ServiceKVS, req.Method, common.KVSResponse{
		Success: out.Success,
		Value:   out.Value,
		Values:  out.Values,
	})
	if err != nil {
		return common.NewErrorResponse(common.ServiceKVS, req.Method, err)
	}
	return respMsg
}
