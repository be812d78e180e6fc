// Package client implements the sharding KVS client: rows are hashed
// onto a fixed set of clusters by md5(row), and every mutating or
// point-read call goes to the cluster owning its row (§6.5).
package client

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"distkv/internal/op"
	"distkv/rpc/common"
	"distkv/rpc/serializer"
	"distkv/rpc/transport"
)

var Logger = common.GetLogger("rpc/client")

// TransportFactory builds one fresh, unconnected client transport. Client
// calls it once per cluster (and once per GetAllRowsByIP/GetColsInRowByIP
// target) so every connection gets its own transport instance.
type TransportFactory func() transport.IRPCClientTransport

// Client is a KVS client sharding rows across clusters, matching the
// cluster-selection and indefinite-retry behavior of the original
// implementation's KVSClient.
type Client struct {
	mu         sync.Mutex
	config     common.ClientConfig
	factory    TransportFactory
	serializer serializer.IRPCSerializer

	clusters []transport.IRPCClientTransport
	byAddr   map[string]transport.IRPCClientTransport

	ids *op.IDGenerator
}

// NewClient connects one transport per cluster in config.Clusters.
func NewClient(config common.ClientConfig, factory TransportFactory, ser serializer.IRPCSerializer) (*Client, error) {
	if len(config.Clusters) == 0 {
		return nil, fmt.Errorf("rpc/client: at least one cluster is required")
	}

	c := &Client{
		config:     config,
		factory:    factory,
		serializer: ser,
		byAddr:     make(map[string]transport.IRPCClientTransport),
		ids:        &op.IDGenerator{ClientID: randClientID()},
	}

	c.clusters = make([]transport.IRPCClientTransport, len(config.Clusters))
	for i, endpoints := range config.Clusters {
		t := factory()
		clusterConfig := config
		clusterConfig.Transport.Endpoints = endpoints
		if err := t.Connect(clusterConfig); err != nil {
			return nil, fmt.Errorf("rpc/client: connect cluster %d: %w", i, err)
		}
		c.clusters[i] = t
	}

	return c, nil
}

// --------------------------------------------------------------------------
// RPC-shaped operations (§6.1, §6.5)
// --------------------------------------------------------------------------

// Put writes row/col to value, asserting lockID against row's advisory lock.
func (c *Client) Put(row, col string, value []byte, lockID string) error {
	resp, err := c.doKVS(row, common.MethodPut, common.KVSRequest{Row: row, Col: col, NewValue: value, LockID: lockOrBypass(lockID)})
	if err != nil {
		return err
	}
	return successOrErr(resp, "put")
}

// CPut writes row/col to newValue only if its current value is currValue.
func (c *Client) CPut(row, col string, currValue, newValue []byte, lockID string) error {
	resp, err := c.doKVS(row, common.MethodCPut, common.KVSRequest{Row: row, Col: col, CurrValue: currValue, NewValue: newValue, LockID: lockOrBypass(lockID)})
	if err != nil {
		return err
	}
	return successOrErr(resp, "cput")
}

// Delete removes row/col.
func (c *Client) Delete(row, col, lockID string) error {
	resp, err := c.doKVS(row, common.MethodDelete, common.KVSRequest{Row: row, Col: col, LockID: lockOrBypass(lockID)})
	if err != nil {
		return err
	}
	return successOrErr(resp, "delete")
}

// Get reads row/col's value.
func (c *Client) Get(row, col, lockID string) (value []byte, ok bool, err error) {
	resp, err := c.doKVS(row, common.MethodGet, common.KVSRequest{Row: row, Col: col, LockID: lockOrBypass(lockID)})
	if err != nil {
		return nil, false, err
	}
	return resp.Value, resp.Success, nil
}

// SetNX acquires an advisory lock on row, returning the lock token to
// pass to subsequent calls on that row.
func (c *Client) SetNX(row string) (lockID string, ok bool, err error) {
	lockID = c.ids.Next()
	resp, err := c.doKVS(row, common.MethodSetNX, common.KVSRequest{Row: row, LockID: lockID})
	if err != nil {
		return "", false, err
	}
	return lockID, resp.Success, nil
}

// Del releases row's advisory lock, previously acquired with lockID.
func (c *Client) Del(row, lockID string) (ok bool, err error) {
	resp, err := c.doKVS(row, common.MethodDel, common.KVSRequest{Row: row, LockID: lockID})
	if err != nil {
		return false, err
	}
	return resp.Success, nil
}

// GetAllRows lists every row across every cluster.
func (c *Client) GetAllRows() ([]string, error) {
	var rows []string
	for idx, t := range c.clusters {
		resp, err := c.send(t, idx, common.MethodGetAllRows, common.KVSRequest{RequestID: c.ids.Next()})
		if err != nil {
			return nil, err
		}
		rows = append(rows, resp.Values...)
	}
	return rows, nil
}

// GetAllRowsByIP lists every row known to the single replica at addr,
// bypassing consensus and cluster sharding entirely.
func (c *Client) GetAllRowsByIP(addr string) ([]string, error) {
	t, err := c.transportFor(addr)
	if err != nil {
		return nil, err
	}
	resp, err := c.send(t, -1, common.MethodGetAllRowsByIP, common.KVSRequest{})
	if err != nil {
		return nil, err
	}
	return resp.Values, nil
}

// GetColsInRow lists every column under row, through consensus.
func (c *Client) GetColsInRow(row, lockID string) ([]string, error) {
	resp, err := c.doKVS(row, common.MethodGetColsInRow, common.KVSRequest{Row: row, LockID: lockOrBypass(lockID)})
	if err != nil {
		return nil, err
	}
	return resp.Values, nil
}

// GetColsInRowByIP lists every column under row by reading the single
// replica at addr directly, still honoring row's lock with lockID.
func (c *Client) GetColsInRowByIP(row, lockID, addr string) ([]string, error) {
	t, err := c.transportFor(addr)
	if err != nil {
		return nil, err
	}
	resp, err := c.send(t, -1, common.MethodGetColsInRowByIP, common.KVSRequest{Row: row, LockID: lockOrBypass(lockID)})
	if err != nil {
		return nil, err
	}
	return resp.Values, nil
}

// Close closes every connection this client holds.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for _, t := range c.clusters {
		if err := t.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, t := range c.byAddr {
		if err := t.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

// doKVS routes a row-keyed request to the cluster owning row.
func (c *Client) doKVS(row string, method common.Method, body common.KVSRequest) (common.KVSResponse, error) {
	idx := clusterIndex(row, len(c.clusters))
	body.RequestID = c.ids.Next()
	return c.send(c.clusters[idx], idx, method, body)
}

// send serializes body as a KVS request and retries indefinitely at
// 100ms intervals on transport failure, matching the original client's
// blocking-until-reachable semantics; it does not retry an application-
// level failure (Success == false), only a transport error.
func (c *Client) send(t transport.IRPCClientTransport, clusterIdx int, method common.Method, body common.KVSRequest) (common.KVSResponse, error) {
	reqMsg, err := common.NewRequest(common.ServiceKVS, method, body)
	if err != nil {
		return common.KVSResponse{}, err
	}
	reqBytes, err := c.serializer.Serialize(*reqMsg)
	if err != nil {
		return common.KVSResponse{}, err
	}

	for {
		respBytes, err := t.Send(0, reqBytes)
		if err != nil {
			Logger.Warningf("cluster %d: %s failed, retrying in 100ms: %v", clusterIdx, method, err)
			time.Sleep(100 * time.Millisecond)
			continue
		}

		var respMsg common.Message
		if err := c.serializer.Deserialize(respBytes, &respMsg); err != nil {
			return common.KVSResponse{}, fmt.Errorf("rpc/client: deserialize response: %w", err)
		}
		if respMsg.MsgType == common.MsgTError {
			return common.KVSResponse{}, fmt.Errorf("rpc/client: %s", respMsg.Err)
		}

		var resp common.KVSResponse
		if err := common.DecodePayload(respMsg.Payload, &resp); err != nil {
			return common.KVSResponse{}, fmt.Errorf("rpc/client: decode response payload: %w", err)
		}
		return resp, nil
	}
}

// transportFor lazily connects a single-endpoint transport to addr, for
// the ByIP calls that bypass cluster sharding.
func (c *Client) transportFor(addr string) (transport.IRPCClientTransport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t, ok := c.byAddr[addr]; ok {
		return t, nil
	}

	t := c.factory()
	addrConfig := c.config
	addrConfig.Transport.Endpoints = []string{addr}
	if err := t.Connect(addrConfig); err != nil {
		return nil, fmt.Errorf("rpc/client: connect %s: %w", addr, err)
	}
	c.byAddr[addr] = t
	return t, nil
}

// clusterIndex picks row's cluster the same way as the original's
// getClusterIndex: xor the two 64-bit halves of md5(row) and mod by the
// cluster count.
func clusterIndex(row string, numClusters int) int {
	if numClusters <= 1 {
		return 0
	}
	sum := md5.Sum([]byte(row))
	part1 := binary.BigEndian.Uint64(sum[0:8])
	part2 := binary.BigEndian.Uint64(sum[8:16])
	return int((part1 ^ part2) % uint64(numClusters))
}

// lockOrBypass turns an empty lockID into op.LockBypass, so callers that
// never acquired a row lock can still issue unlocked writes.
func lockOrBypass(lockID string) string {
	if lockID == "" {
		return op.LockBypass
	}
	return lockID
}

// successOrErr turns an unsuccessful-but-error-free KVSResponse into an
// error, since every mutating method here returns a single error rather
// than a (bool, error) pair.
func successOrErr(resp common.KVSResponse, op string) error {
	if !resp.Success {
		return fmt.Errorf("rpc/client: %s rejected", op)
	}
	return nil
}

// randClientID returns a cryptographically random uint64 identifying
// this client instance in generated request IDs.
func randClientID() uint64 {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return binary.BigEndian.Uint64(b[:])
}
