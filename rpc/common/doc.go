// Package common provides core data structures and utilities shared across
// the distributed key-value store system. It defines fundamental types,
// configuration structures, and protocol elements used by other packages.
//
// The package focuses on:
//   - Message protocol definition for inter-component communication
//   - Configuration structures for client and server components
//   - A named-logger registry shared by every package in the repository
//
// Key Components:
//
//   - Message: the wire envelope for every RPC exchanged between replicas
//     and clients. A fixed set of fields (MsgType, Service, Method, Payload,
//     Err) carries any request or response; Payload is a gob-encoded,
//     Service/Method-specific value.
//
//   - Service/Method: identify which component (KVS, Paxos, Controller) and
//     which of its operations a Message invokes.
//
//   - ServerConfig: configuration for one replica, including its Paxos peer
//     set, on-disk layout, and transport/metrics endpoints.
//
//   - ClientConfig: configuration for rpc/client, controlling cluster
//     endpoints, timeouts, and retry behavior.
//
//   - Logger: a small named-logger registry every package in this
//     repository logs through.
package common
