// Package hostctrl implements the host-local controller: it starts and
// stops replica processes on one machine, tracking which ports are in
// use so a second StartServer for the same port is rejected rather than
// silently clobbering the first.
package hostctrl

import (
	"fmt"
	"strings"

	"github.com/puzpuzpuz/xsync/v3"

	"distkv/rpc/common"
)

// Code mirrors the handful of outcomes the controller's RPC surface (§6.3)
// distinguishes.
type Code uint64

const (
	CodeOK Code = iota
	CodeInvalidArgument
	CodeAlreadyExists
	CodeNotFound
	CodeInternal
)

// Error is the controller's typed error, carrying a Code a transport
// layer can map onto its own status codes (e.g. gRPC's
// INVALID_ARGUMENT/ALREADY_EXISTS/NOT_FOUND).
type Error struct {
	Code Code
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("hostctrl: %s (code %d)", e.Msg, e.Code)
}

func newError(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Runner is a replica process running in this address space: StartServer
// brings one up, StopServer/KillAll bring it down.
type Runner interface {
	// Serve blocks until the runner is shut down or fails.
	Serve() error
	// Shutdown stops the runner. Serve should return shortly afterward.
	Shutdown() error
}

// Factory builds the Runner for replica index me, listening on port, with
// peers describing every replica's address by index (including me's own).
type Factory func(me int, port string, peers map[int]string) (Runner, error)

// Controller manages every replica running on one host, keyed by the
// port it listens on.
type Controller struct {
	address string // this host's address, e.g. "127.0.0.1"
	build   Factory
	servers *xsync.MapOf[string, Runner]
	log     common.Logger
}

// New constructs a Controller for the given host address. build is called
// once per successful StartServer to construct the replica's Runner.
func New(address string, build Factory) *Controller {
	return &Controller{
		address: address,
		build:   build,
		servers: xsync.NewMapOf[string, Runner](),
		log:     common.GetLogger("hostctrl"),
	}
}

// StartServer brings up replica index me of the cluster described by
// peerAddrs (one "ip:port" entry per replica), provided peerAddrs[me]
// names a port on this controller's own address and that port isn't
// already in use.
func (c *Controller) StartServer(me int, peerAddrs []string) *Error {
	if me < 0 || me >= len(peerAddrs) {
		return newError(CodeInvalidArgument, "index %d out of bounds for %d peers", me, len(peerAddrs))
	}

	ip, port, err := splitHostPort(peerAddrs[me])
	if err != nil {
		return newError(CodeInvalidArgument, "invalid ip:port format: %v", err)
	}
	if ip != c.address {
		return newError(CodeInvalidArgument, "ip address %q does not match controller address %q", ip, c.address)
	}
	if _, ok := c.servers.Load(port); ok {
		return newError(CodeAlreadyExists, "server already running on port %s", port)
	}

	peers := make(map[int]string, len(peerAddrs))
	for i, addr := range peerAddrs {
		peers[i] = addr
	}

	runner, err := c.build(me, port, peers)
	if err != nil {
		return newError(CodeInternal, "build server: %v", err)
	}
	if _, loaded := c.servers.LoadOrStore(port, runner); loaded {
		return newError(CodeAlreadyExists, "server already running on port %s", port)
	}

	go func() {
		if err := runner.Serve(); err != nil {
			c.log.Errorf("server on port %s exited: %v", port, err)
		}
		c.servers.Delete(port)
	}()

	c.log.Infof("server %d is listening on %s:%s", me, ip, port)
	return nil
}

// StopServer shuts down the replica listening on ipPort, which must name
// a port on this controller's own address.
func (c *Controller) StopServer(ipPort string) *Error {
	ip, port, err := splitHostPort(ipPort)
	if err != nil {
		return newError(CodeInvalidArgument, "invalid ip:port format: %v", err)
	}
	if ip != c.address {
		return newError(CodeInvalidArgument, "ip address %q does not match controller address %q", ip, c.address)
	}

	runner, ok := c.servers.LoadAndDelete(port)
	if !ok {
		return newError(CodeNotFound, "server not found on port %s", port)
	}
	if err := runner.Shutdown(); err != nil {
		c.log.Errorf("shutdown port %s: %v", port, err)
	}

	c.log.Infof("server %s is stopped", ipPort)
	return nil
}

// GetAll lists every replica running on this host, as "ip:port" strings.
func (c *Controller) GetAll() []string {
	var ips []string
	c.servers.Range(func(port string, _ Runner) bool {
		ips = append(ips, c.address+":"+port)
		return true
	})
	return ips
}

// KillAll shuts down every replica running on this host.
func (c *Controller) KillAll() {
	c.servers.Range(func(port string, runner Runner) bool {
		c.log.Infof("server %s is stopped", c.address+":"+port)
		if err := runner.Shutdown(); err != nil {
			c.log.Errorf("shutdown port %s: %v", port, err)
		}
		c.servers.Delete(port)
		return true
	})
}

// splitHostPort splits "ip:port" on the first colon, matching the
// original's plain-text parsing (a net.SplitHostPort would reject the
// IPv4-only addresses this controller deals in no more correctly, and
// would complicate the IPv6 case we don't support anyway).
func splitHostPort(ipPort string) (ip, port string, err error) {
	idx := strings.Index(ipPort, ":")
	if idx < 0 {
		return "", "", fmt.Errorf("missing ':' in %q", ipPort)
	}
	return ipPort[:idx], ipPort[idx+1:], nil
}
