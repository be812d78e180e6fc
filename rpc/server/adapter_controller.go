package server

import (
	"fmt"

	"distkv/internal/hostctrl"
	"distkv/rpc/common"
)

// NewControllerServerAdapter builds the adapter for the host controller
// RPC surface (§6.3): StartServer/StopServer/GetAll/KillAll, dispatched
// onto ctrl.
func NewControllerServerAdapter(ctrl *hostctrl.Controller) IRPCServerAdapter {
	return &controllerServerAdapter{ctrl: ctrl}
}

type controllerServerAdapter struct {
	ctrl *hostctrl.Controller
}

func (a *controllerServerAdapter) Handle(req *common.Message) (resp *common.Message) {
	var body common.ControllerRequest
	if err := common.DecodePayload(req.Payload, &body); err != nil {
		return common.NewErrorResponse(common.ServiceController, req.Method, err)
	}

	switch req.Method {
	case common.MethodStartServer:
		if err := a.ctrl.StartServer(body.ReplicaIndex, body.PeerAddrs); err != nil {
			return common.NewErrorResponse(common.ServiceController, req.Method, err)
		}
		return mustResponse(common.ServiceController, req.Method, common.ControllerResponse{})

	case common.MethodStopServer:
		if err := a.ctrl.StopServer(body.Addr); err != nil {
			return common.NewErrorResponse(common.ServiceController, req.Method, err)
		}
		return mustResponse(common.ServiceController, req.Method, common.ControllerResponse{})

	case common.MethodGetAll:
		return mustResponse(common.ServiceController, req.Method, common.ControllerResponse{
			Addrs: a.ctrl.GetAll(),
		})

	case common.MethodKillAll:
		a.ctrl.KillAll()
		return mustResponse(common.ServiceController, req.Method, common.ControllerResponse{})

	default:
		return common.NewErrorResponse(common.ServiceController, req.Method,
			fmt.Errorf("controller adapter: unsupported method %s", req.Method))
	}
}
