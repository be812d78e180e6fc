package common

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

// ServerConfig holds all configuration parameters for one replica of the
// consensus cluster: its Paxos peer set, its on-disk layout, and the RPC
// endpoint it serves clients and peers on.
type ServerConfig struct {
	// ReplicaID is this replica's index into PeerEndpoints.
	ReplicaID uint64
	// PeerEndpoints maps every replica's index (including this one) to the
	// address its Paxos peer RPC handlers listen on.
	PeerEndpoints map[uint64]string

	// DataDir is the root of the on-disk storage and write-ahead log.
	DataDir string
	// CacheBytes bounds the in-memory LRU cache, mirroring the store's
	// byte-accounted eviction policy.
	CacheBytes int64

	// TimeoutSecond bounds how long a single client RPC may block.
	TimeoutSecond int64
	// MaxMessageBytes is the configured size of a single RPC payload. It is
	// carried in the config and printed by String; no transport reads it,
	// so payload size is not capped.
	MaxMessageBytes int64

	// Transport configures the byte-transport layer (tcp/http/unix) this
	// replica's rpc/server binds to.
	Transport ServerTransportConfig

	// MetricsEndpoint, if non-empty, is the address rpc/server exposes a
	// Prometheus-format /metrics handler on, independent of Transport.
	MetricsEndpoint string

	// LogLevel configures every named logger in the process.
	LogLevel string
}

// ServerTransportConfig configures the listening side of a byte transport.
// Every field besides Endpoint only matters to the tcp transport; http and
// unix connectors ignore what they don't need.
type ServerTransportConfig struct {
	// Endpoint is the address this replica's RPC service listens on.
	Endpoint string

	// TCPNoDelay disables Nagle's algorithm on accepted tcp connections.
	TCPNoDelay bool
	// WriteBufferSize/ReadBufferSize set the tcp socket's buffer sizes, in
	// bytes. Zero leaves the OS default in place.
	WriteBufferSize int
	ReadBufferSize  int
	// TCPKeepAliveSec enables tcp keep-alive with this period, in seconds,
	// when positive.
	TCPKeepAliveSec int
	// TCPLingerSec configures SO_LINGER; negative leaves the OS default.
	TCPLingerSec int
}

// String returns a formatted string representation of the configuration.
func (c *ServerConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}
	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("RPC Server")
	addField("Endpoint", c.Transport.Endpoint)
	addField("Metrics Endpoint", c.MetricsEndpoint)
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Max Message Bytes", strconv.FormatInt(c.MaxMessageBytes, 10))

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	addSection("Storage")
	addField("Data Directory", c.DataDir)
	addField("Cache Bytes", strconv.FormatInt(c.CacheBytes, 10))

	addSection("Node Identity")
	addField("Replica ID", strconv.FormatUint(c.ReplicaID, 10))

	addSection("Paxos Peers")
	var keys []uint64
	for k := range c.PeerEndpoints {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for _, k := range keys {
		sb.WriteString(fmt.Sprintf("  Peer %d: %s\n", k, c.PeerEndpoints[k]))
	}

	return sb.String()
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

// ClientConfig holds the addresses of every replica in every cluster the
// client can shard across, plus connection tuning knobs.
type ClientConfig struct {
	// Clusters holds, for each cluster, the endpoints of its replicas in
	// replica-index order. Row keys hash to a cluster index (§6.5).
	Clusters [][]string

	TimeoutSecond int

	// Transport configures the byte transport (tcp/http/unix) used to
	// reach one cluster's replicas; RetryCount/ConnectionsPerEndpoint
	// live here since they are transport-layer concerns, not KVS ones.
	Transport ClientTransportConfig
}

// ClientTransportConfig configures the dialing side of a byte transport.
type ClientTransportConfig struct {
	// Endpoints is the current cluster's replica addresses; rpc/client
	// fills this in per-cluster before calling transport.Connect.
	Endpoints []string
	// ConnectionsPerEndpoint is how many connections the base transport
	// opens to each endpoint; below 1 it defaults to 1.
	ConnectionsPerEndpoint int
	// RetryCount is how many send attempts the base transport makes before
	// giving up; below 1 it makes one.
	RetryCount int
}

// String returns a formatted string representation of the client configuration.
func (c *ClientConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}
	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Client Configuration")
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Retry Count", strconv.Itoa(c.Transport.RetryCount))
	addField("Connections Per Endpoint", strconv.Itoa(int(math.Max(1, float64(c.Transport.ConnectionsPerEndpoint)))))

	addSection("Clusters")
	for i, cluster := range c.Clusters {
		addField(fmt.Sprintf("cluster %d", i), strings.Join(cluster, ","))
	}

	return sb.String()
}
