package server

import (
	"fmt"
	"net/http"

	"distkv/internal/hostctrl"
	"distkv/internal/kvserver"
	"distkv/internal/metrics"
	"distkv/internal/paxos"
	"distkv/rpc/common"
	"distkv/rpc/serializer"
	"distkv/rpc/transport"
)

var Logger = common.GetLogger("rpc/server")

// Services bundles the backing components one rpc/server instance
// exposes. A replica typically wires KVS and Paxos; a host-mode process
// wires Controller; a field left nil is simply not served, and any
// Message naming that service comes back as an error response.
type Services struct {
	KVS        *kvserver.Server
	Paxos      *paxos.Paxos
	Controller *hostctrl.Controller

	// Metrics, if set, is written to config.MetricsEndpoint's /metrics
	// handler. Usually the same Set passed to KVS and Paxos via their own
	// SetMetrics.
	Metrics *metrics.Set
}

// NewRPCServer creates a new RPC server binding services to transport
// over serializer.
//
// Usage:
//
//	s := server.NewRPCServer(
//		config,
//		http.NewHttpServerTransport(),
//		serializer.NewJSONSerializer(),
//		server.Services{KVS: kvs, Paxos: px},
//	)
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	}
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	serializer serializer.IRPCSerializer,
	services Services,
) rpcServer {
	common.InitLoggers(config.LogLevel)

	adapters := make(map[common.Service]IRPCServerAdapter)
	if services.KVS != nil {
		adapters[common.ServiceKVS] = NewKVSServerAdapter(services.KVS)
	}
	if services.Paxos != nil {
		adapters[common.ServicePaxos] = NewPaxosServerAdapter(services.Paxos)
	}
	if services.Controller != nil {
		adapters[common.ServiceController] = NewControllerServerAdapter(services.Controller)
	}

	Logger.Infof("created RPC server")
	Logger.Infof(config.String())

	return rpcServer{
		config:     config,
		transport:  transport,
		serializer: serializer,
		adapters:   adapters,
		metrics:    services.Metrics,
	}
}

type rpcServer struct {
	config     common.ServerConfig
	transport  transport.IRPCServerTransport
	serializer serializer.IRPCSerializer
	adapters   map[common.Service]IRPCServerAdapter
	metrics    *metrics.Set
}

// registerTransportHandler wires the decode/dispatch/encode pipeline into
// the transport layer. shardId is unused: a replica process speaks at
// most one KVS+Paxos pair and one Controller, distinguished by
// Message.Service rather than a shard index.
func (s *rpcServer) registerTransportHandler() {
	s.transport.RegisterHandler(func(_ uint64, req []byte) []byte {
		var msg common.Message
		var respMsg *common.Message

		if err := s.serializer.Deserialize(req, &msg); err != nil {
			respMsg = common.NewErrorResponse(common.ServiceKVS, common.MethodGet,
				fmt.Errorf("failed to deserialize request: %w", err))
		} else if adapter, ok := s.adapters[msg.Service]; !ok {
			respMsg = common.NewErrorResponse(msg.Service, msg.Method,
				fmt.Errorf("service %s is not served by this replica", msg.Service))
		} else {
			respMsg = adapter.Handle(&msg)
		}

		val, err := s.serializer.Serialize(*respMsg)
		if err != nil {
			Logger.Errorf("failed to serialize response: %v", err)
			val, _ = s.serializer.Serialize(*common.NewErrorResponse(msg.Service, msg.Method,
				fmt.Errorf("failed to serialize response: %w", err)))
		}
		return val
	})
}

// Serve starts the RPC server: it wires the transport handler, starts the
// optional metrics endpoint, and then blocks on the transport's own
// accept loop.
func (s *rpcServer) Serve() error {
	s.registerTransportHandler()

	if s.config.MetricsEndpoint != "" {
		go s.serveMetrics()
	}

	return s.transport.Listen(s.config)
}

// Shutdown stops the server's transport, unblocking Serve. It satisfies
// hostctrl.Runner so a Server can be brought up under a host controller.
func (s *rpcServer) Shutdown() error {
	return s.transport.Shutdown()
}

// serveMetrics exposes every metric registered with the service
// components this server wraps, in Prometheus text format, independent
// of whichever byte transport carries the main RPC traffic.
func (s *rpcServer) serveMetrics() {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		if s.metrics == nil {
			return
		}
		s.metrics.WritePrometheus(w)
	})

	Logger.Infof("starting metrics endpoint on %s", s.config.MetricsEndpoint)
	if err := http.ListenAndServe(s.config.MetricsEndpoint, mux); err != nil {
		Logger.Errorf("metrics endpoint exited: %v", err)
	}
}
