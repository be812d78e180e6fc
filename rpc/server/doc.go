// Package server implements the RPC server that binds a replica's KVS,
// Paxos, and host controller components to a byte transport.
//
// The package focuses on:
//   - Decoding a Message, dispatching it by Service to the adapter that
//     owns that service, and encoding the result back
//   - Adapter pattern to decouple the KVS/Paxos/Controller components from
//     the RPC mechanism
//   - Optionally exposing a Prometheus /metrics endpoint alongside the
//     main RPC transport
//
// Key Components:
//
//   - IRPCServerAdapter: the contract every per-service adapter
//     implements, with a single Handle method.
//
//   - NewKVSServerAdapter/NewPaxosServerAdapter/NewControllerServerAdapter:
//     factory functions wrapping a *kvserver.Server, *paxos.Paxos, and
//     *hostctrl.Controller respectively.
//
//   - NewRPCServer: factory function creating a configured server from a
//     Services bundle, a transport, and a serializer.
//
// Usage Example:
//
//	config := common.ServerConfig{
//	  Transport: common.ServerTransportConfig{Endpoint: "0.0.0.0:8080"},
//	  MetricsEndpoint: "0.0.0.0:9090",
//	  TimeoutSecond: 5,
//	  LogLevel: "info",
//	}
//
//	s := server.NewRPCServer(
//	  config,
//	  tcp.NewTCPServerTransport(),
//	  serializer.NewBinarySerializer(),
//	  server.Services{KVS: kvs, Paxos: px, Metrics: set},
//	)
//
//	if err := s.Serve(); err != nil {
//	  log.Fatalf("Server error: %v", err)
//	}
//
// A Services field left nil is simply not served: a Message naming that
// service comes back as an error response instead of panicking, so one
// binary can run a replica (KVS+Paxos) and a host-mode controller
// (Controller only) from the same server implementation.
//
// Thread Safety:
//
//	The server implementation is thread-safe and can handle concurrent
//	requests across multiple connections. The Serve method is not
//	thread-safe and should be called only once.
package server
