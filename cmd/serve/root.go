package serve

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	cmdUtil "distkv/cmd/util"
	"distkv/internal/hostctrl"
	"distkv/internal/kvserver"
	"distkv/internal/metrics"
	"distkv/internal/paxos"
	"distkv/internal/storage"
	"distkv/internal/walog"
	"distkv/rpc/client"
	"distkv/rpc/common"
	"distkv/rpc/serializer"
	"distkv/rpc/server"
	"distkv/rpc/transport"
	"distkv/rpc/transport/http"
	"distkv/rpc/transport/tcp"
	"distkv/rpc/transport/unix"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	hostAddress    string

	ServeCmd = &cobra.Command{
		Use:     "serve",
		Short:   "Start a dKV replica, or a host controller managing replicas on this machine",
		Long:    `Start a dKV replica with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is DKV_<flag> (e.g. DKV_TIMEOUT=15)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	key := "replica-id"
	ServeCmd.PersistentFlags().Uint64(key, 0, cmdUtil.WrapString("This replica's index into --peers"))

	key = "peers"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Every replica's RPC endpoint in this cluster, as a comma-separated list of 'index=host:port' entries, including this replica's own"))

	key = "data-dir"
	ServeCmd.PersistentFlags().String(key, "data", cmdUtil.WrapString("The directory used for this replica's storage and write-ahead log"))

	key = "cache-bytes"
	ServeCmd.PersistentFlags().Int64(key, 64*1024*1024, cmdUtil.WrapString("Byte bound on the in-memory LRU cache fronting on-disk storage"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, 5, cmdUtil.WrapString("Timeout in seconds for a single RPC"))

	key = "max-message-bytes"
	ServeCmd.PersistentFlags().Int64(key, 16*1024*1024, cmdUtil.WrapString("Recorded in the server config as the size of a single RPC payload, in bytes; no transport enforces it"))

	key = "metrics-endpoint"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("If set, the address a Prometheus /metrics handler is exposed on"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))

	key = "tcp-nodelay"
	ServeCmd.PersistentFlags().Bool(key, true, cmdUtil.WrapString("Whether to disable Nagle's algorithm on accepted tcp connections (tcp transport only)"))

	key = "tcp-write-buffer"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("tcp socket write buffer size in bytes, 0 leaves the OS default (tcp transport only)"))

	key = "tcp-read-buffer"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("tcp socket read buffer size in bytes, 0 leaves the OS default (tcp transport only)"))

	key = "tcp-keepalive"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("tcp keep-alive period in seconds, 0 disables it (tcp transport only)"))

	key = "tcp-linger"
	ServeCmd.PersistentFlags().Int(key, -1, cmdUtil.WrapString("SO_LINGER in seconds, negative leaves the OS default (tcp transport only)"))

	key = "host"
	ServeCmd.PersistentFlags().StringVar(&hostAddress, key, "", cmdUtil.WrapString("Run as a host controller instead of a replica: this address is matched against the ip half of every --peers entry a StartServer RPC names"))

	key = "host-port"
	ServeCmd.PersistentFlags().String(key, "9090", cmdUtil.WrapString("Port the host controller itself listens on (--host mode only)"))
}

// processConfig reads the configuration from the command line flags and environment variables
// and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	serveCmdConfig.ReplicaID = viper.GetUint64("replica-id")
	serveCmdConfig.DataDir = viper.GetString("data-dir")
	serveCmdConfig.CacheBytes = viper.GetInt64("cache-bytes")
	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.MaxMessageBytes = viper.GetInt64("max-message-bytes")
	serveCmdConfig.MetricsEndpoint = viper.GetString("metrics-endpoint")
	serveCmdConfig.LogLevel = viper.GetString("log-level")
	serveCmdConfig.Transport.TCPNoDelay = viper.GetBool("tcp-nodelay")
	serveCmdConfig.Transport.WriteBufferSize = viper.GetInt("tcp-write-buffer")
	serveCmdConfig.Transport.ReadBufferSize = viper.GetInt("tcp-read-buffer")
	serveCmdConfig.Transport.TCPKeepAliveSec = viper.GetInt("tcp-keepalive")
	serveCmdConfig.Transport.TCPLingerSec = viper.GetInt("tcp-linger")

	peers, err := parsePeers(viper.GetString("peers"))
	if err != nil {
		return err
	}
	serveCmdConfig.PeerEndpoints = peers

	if hostAddress == "" {
		endpoint, ok := peers[serveCmdConfig.ReplicaID]
		if !ok {
			return fmt.Errorf("replica id %d has no entry in --peers", serveCmdConfig.ReplicaID)
		}
		serveCmdConfig.Transport.Endpoint = endpoint
	}

	return nil
}

// parsePeers parses a comma-separated "index=host:port" list into a
// PeerEndpoints map.
func parsePeers(s string) (map[uint64]string, error) {
	peers := make(map[uint64]string)
	if strings.TrimSpace(s) == "" {
		return peers, nil
	}
	for _, entry := range strings.Split(s, ",") {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid peer entry %q (expected index=host:port)", entry)
		}
		idx, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid peer index %q: %w", parts[0], err)
		}
		peers[idx] = strings.TrimSpace(parts[1])
	}
	return peers, nil
}

// run starts either a single replica or, with --host set, a controller
// that can bring replicas on this host up and down on demand.
func run(_ *cobra.Command, _ []string) error {
	ser, err := cmdUtil.GetSerializer()
	if err != nil {
		return err
	}

	if hostAddress != "" {
		return runHost(ser)
	}
	return runReplica(*serveCmdConfig, ser)
}

// runReplica brings up one KVS+Paxos replica and blocks serving it.
func runReplica(config common.ServerConfig, ser serializer.IRPCSerializer) error {
	t, err := serverTransport()
	if err != nil {
		return err
	}

	runner, err := buildReplica(config, t, ser)
	if err != nil {
		return err
	}
	return runner.Serve()
}

// runHost serves a host controller that builds replicas on demand, in this
// process, when a StartServer RPC names a port on hostAddress.
func runHost(ser serializer.IRPCSerializer) error {
	baseConfig := *serveCmdConfig

	factory := func(me int, port string, peerAddrs map[int]string) (hostctrl.Runner, error) {
		cfg := baseConfig
		cfg.ReplicaID = uint64(me)
		cfg.DataDir = filepath.Join(baseConfig.DataDir, port)
		cfg.Transport.Endpoint = hostAddress + ":" + port
		cfg.PeerEndpoints = make(map[uint64]string, len(peerAddrs))
		for idx, addr := range peerAddrs {
			cfg.PeerEndpoints[uint64(idx)] = addr
		}

		t, err := serverTransport()
		if err != nil {
			return nil, err
		}
		return buildReplica(cfg, t, ser)
	}

	ctrl := hostctrl.New(hostAddress, factory)

	t, err := serverTransport()
	if err != nil {
		return err
	}
	hostConfig := *serveCmdConfig
	hostConfig.Transport.Endpoint = hostAddress + ":" + viper.GetString("host-port")

	s := server.NewRPCServer(hostConfig, t, ser, server.Services{Controller: ctrl})
	return s.Serve()
}

// buildReplica wires one replica's storage, write-ahead log, Paxos
// instance (with network peers for every other replica), and KVS state
// machine into an rpc/server instance bound to t.
func buildReplica(config common.ServerConfig, t transport.IRPCServerTransport, ser serializer.IRPCSerializer) (hostctrlRunner, error) {
	common.InitLoggers(config.LogLevel)

	m := metrics.New(config.ReplicaID)

	store, err := storage.NewStore(config.DataDir, config.CacheBytes)
	if err != nil {
		return nil, fmt.Errorf("serve: open store: %w", err)
	}
	store.SetMetrics(m)

	log := walog.New(filepath.Join(config.DataDir, "wal"))

	factory, err := cmdUtil.GetTransportFactory()
	if err != nil {
		return nil, err
	}

	peers := make([]paxos.Peer, len(config.PeerEndpoints))
	for idx, addr := range config.PeerEndpoints {
		if idx == config.ReplicaID {
			continue
		}
		peer, err := client.NewPaxosPeer(addr, factory, ser)
		if err != nil {
			return nil, fmt.Errorf("serve: dial peer %d (%s): %w", idx, addr, err)
		}
		peers[idx] = peer
	}

	px := paxos.New(int(config.ReplicaID), peers)
	px.SetMetrics(m)

	kvs := kvserver.New(int(config.ReplicaID), px, store, log)
	kvs.SetMetrics(m)

	s := server.NewRPCServer(config, t, ser, server.Services{
		KVS:     kvs,
		Paxos:   px,
		Metrics: m,
	})
	return &s, nil
}

// hostctrlRunner is hostctrl.Runner, named locally so buildReplica's
// return type doesn't force every caller to import hostctrl just to spell
// it out.
type hostctrlRunner = hostctrl.Runner

// serverTransport resolves the configured transport to a server transport
// instance, fresh per replica so host-mode can build several.
func serverTransport() (transport.IRPCServerTransport, error) {
	switch viper.GetString("transport") {
	case "http":
		return http.NewHttpServerTransport(), nil
	case "tcp":
		return tcp.NewTCPServerTransport(), nil
	case "unix":
		return unix.NewUnixServerTransport(64 * 1024), nil
	default:
		return nil, fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}
}

// initConfig reads in serveCmdConfig file and ENV variables if set.
func initConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("dkv")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}
