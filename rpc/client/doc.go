// Package client implements the KVS client: rows hash onto a fixed set
// of clusters, and every call is routed to the cluster owning its row.
//
// The package focuses on:
//   - Row-to-cluster sharding via md5(row), matching the original
//     client's cluster-selection scheme
//   - Transparent retry against an unreachable cluster, blocking until a
//     replica answers rather than failing fast
//   - Integration with the transport and serialization layers
//
// Key Components:
//
//   - Client: the sharding KVS client, exposing Put/CPut/Delete/Get,
//     SetNX/Del row locking, GetColsInRow (routed by row like the
//     single-cell calls), GetAllRows (sent to every cluster), and the
//     GetAllRowsByIP/GetColsInRowByIP variants that address one named
//     replica.
//
//   - PaxosPeer: the network leg of paxos.Peer, used by a replica's own
//     cmd/serve wiring to reach its peers' Prepare/Accept/Decide handlers.
//
// Usage Example:
//
//	config := common.ClientConfig{
//	  Clusters: [][]string{{"localhost:5000", "localhost:5001"}},
//	  TimeoutSecond: 5,
//	  Transport: common.ClientTransportConfig{RetryCount: 3, ConnectionsPerEndpoint: 1},
//	}
//
//	c, _ := client.NewClient(config, tcp.NewTCPClientTransport, serializer.NewBinarySerializer())
//
//	_ = c.Put("row1", "col1", []byte("value"), "")
//	value, ok, _ := c.Get("row1", "col1", "")
//
//	lockID, acquired, _ := c.SetNX("row1")
//	if acquired {
//	  c.Del("row1", lockID)
//	}
//
// Thread Safety:
//
//	Client is safe for concurrent use from multiple goroutines.
package client
