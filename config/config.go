// Package config binds command line flags, environment variables and .env
// files to the settings of the timewarp server, client and offset store.
//
// Every flag can also be set as TIMEWARP_<FLAG> with dashes replaced by
// underscores, e.g. TIMEWARP_READ_POLL=250ms.
package config

import (
	"fmt"
	"strings"

	"github.com/cyberinferno/timewarp/offsetstore"
	"github.com/cyberinferno/timewarp/protocol"
	"github.com/cyberinferno/timewarp/tcpclient"
	"github.com/cyberinferno/timewarp/tcpserver"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	EnvPrefix = "timewarp"

	// Wrap is the column at which flag help text is wrapped.
	Wrap = 50
)

// Flag keys.
const (
	KeyInterface        = "interface"
	KeyPort             = "port"
	KeyAcceptPoll       = "accept-poll"
	KeyReadPoll         = "read-poll"
	KeyHandshakeTimeout = "handshake-timeout"
	KeyUnknownOpcode    = "unknown-opcode"
	KeyToken            = "token"

	KeyHost           = "host"
	KeyLocalAddr      = "local-addr"
	KeyConnectTimeout = "connect-timeout"
	KeyWriteTimeout   = "write-timeout"

	KeyStore         = "store"
	KeyStoreTTL      = "store-ttl"
	KeyRedisAddr     = "redis-addr"
	KeyRedisPassword = "redis-password"
	KeyRedisDB       = "redis-db"
	KeyRedisPrefix   = "redis-prefix"

	KeyMetricsAddr = "metrics-addr"
	KeyLogLevel    = "log-level"
	KeyLogDir      = "log-dir"
)

// Load reads .env and .env.local from the working directory (missing files
// are ignored) and makes v resolve every key from TIMEWARP_* variables.
func Load(v *viper.Viper) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
}

// Bind registers the flags of cmd with v so flags, then environment, then the
// flag default are consulted in that order.
func Bind(v *viper.Viper, cmd *cobra.Command) error {
	return v.BindPFlags(cmd.Flags())
}

// WrapString wraps text at Wrap characters for flag help output.
func WrapString(text string) string {
	var lines []string
	var line strings.Builder

	for _, word := range strings.Fields(text) {
		if line.Len() > 0 && line.Len()+1+len(word) > Wrap {
			lines = append(lines, line.String())
			line.Reset()
		}
		if line.Len() > 0 {
			line.WriteByte(' ')
		}
		line.WriteString(word)
	}

	if line.Len() > 0 {
		lines = append(lines, line.String())
	}

	return strings.Join(lines, "\n")
}

// SetupServerFlags adds the server listening and protocol flags.
func SetupServerFlags(flags *pflag.FlagSet) {
	d := tcpserver.DefaultConfig()

	flags.String(KeyInterface, "", WrapString("Local IP address to listen on; empty listens on all interfaces"))
	flags.Int(KeyPort, d.Port, WrapString("TCP port to listen on; 0 picks a free port"))
	flags.Duration(KeyAcceptPoll, d.AcceptPollInterval, WrapString("How long each accept waits before checking for shutdown"))
	flags.Duration(KeyReadPoll, d.ReadPollInterval, WrapString("How long each connection read waits before checking for shutdown"))
	flags.Duration(KeyHandshakeTimeout, d.HandshakeTimeout, WrapString("How long to wait for the peer's handshake token"))
	flags.String(KeyUnknownOpcode, d.UnknownOpcode.String(), WrapString("What to do with frames carrying an unknown opcode (log, ignore, disconnect)"))
	flags.String(KeyToken, protocol.Token, WrapString("Handshake token; both peers must use the same one"))
}

// SetupClientFlags adds the client connection flags.
func SetupClientFlags(flags *pflag.FlagSet) {
	d := tcpclient.DefaultConfig("localhost")

	flags.String(KeyHost, d.Host, WrapString("Server host name or IP address"))
	flags.Int(KeyPort, d.Port, WrapString("Server TCP port"))
	flags.String(KeyLocalAddr, "", WrapString("Local IP address to connect from; empty lets the OS choose"))
	flags.Duration(KeyConnectTimeout, d.ConnectionTimeout, WrapString("How long to wait for the TCP connection"))
	flags.Duration(KeyHandshakeTimeout, d.HandshakeTimeout, WrapString("How long to wait for the server's handshake token"))
	flags.Duration(KeyWriteTimeout, d.WriteTimeout, WrapString("How long one command send may take; 0 waits forever"))
	flags.String(KeyToken, protocol.Token, WrapString("Handshake token; both peers must use the same one"))
}

// SetupStoreFlags adds the offset store flags.
func SetupStoreFlags(flags *pflag.FlagSet) {
	d := offsetstore.DefaultConfig()

	flags.String(KeyStore, d.Kind, WrapString("Where received offsets are recorded (memory, redis)"))
	flags.Duration(KeyStoreTTL, d.TTL, WrapString("Expiry of recorded offsets; 0 keeps them forever"))
	flags.String(KeyRedisAddr, d.RedisAddr, WrapString("Redis address for the redis store"))
	flags.String(KeyRedisPassword, "", WrapString("Redis password"))
	flags.Int(KeyRedisDB, d.RedisDB, WrapString("Redis database number"))
	flags.String(KeyRedisPrefix, d.Prefix, WrapString("Prefix of the Redis keys holding offsets"))
}

// SetupProcessFlags adds the logging and metrics flags shared by every command.
func SetupProcessFlags(flags *pflag.FlagSet) {
	flags.String(KeyLogLevel, "info", WrapString("Log level (debug, info, warn, error)"))
	flags.String(KeyLogDir, "", WrapString("Directory for daily log files; empty logs to stderr"))
	flags.String(KeyMetricsAddr, "", WrapString("Address serving Prometheus metrics at /metrics; empty disables it"))
}

// ServerConfig reads the server settings from v.
//
// Returns:
//   - The server configuration
//   - An error if unknown-opcode is not a known policy
func ServerConfig(v *viper.Viper) (tcpserver.Config, error) {
	policy, err := tcpserver.ParseUnknownOpcodePolicy(v.GetString(KeyUnknownOpcode))
	if err != nil {
		return tcpserver.Config{}, fmt.Errorf("invalid %s: %w", KeyUnknownOpcode, err)
	}

	cfg := tcpserver.DefaultConfig()
	cfg.Interface = v.GetString(KeyInterface)
	cfg.UnknownOpcode = policy
	if v.IsSet(KeyPort) {
		cfg.Port = v.GetInt(KeyPort)
	}
	if d := v.GetDuration(KeyAcceptPoll); d > 0 {
		cfg.AcceptPollInterval = d
	}
	if d := v.GetDuration(KeyReadPoll); d > 0 {
		cfg.ReadPollInterval = d
	}
	if d := v.GetDuration(KeyHandshakeTimeout); d > 0 {
		cfg.HandshakeTimeout = d
	}
	if token := v.GetString(KeyToken); token != "" {
		cfg.Token = token
	}

	return cfg, nil
}

// ClientConfig reads the client settings from v.
func ClientConfig(v *viper.Viper) tcpclient.Config {
	host := v.GetString(KeyHost)
	if host == "" {
		host = "localhost"
	}

	cfg := tcpclient.DefaultConfig(host)
	cfg.LocalAddr = v.GetString(KeyLocalAddr)
	if v.IsSet(KeyPort) {
		cfg.Port = v.GetInt(KeyPort)
	}
	if d := v.GetDuration(KeyConnectTimeout); d > 0 {
		cfg.ConnectionTimeout = d
	}
	if d := v.GetDuration(KeyHandshakeTimeout); d > 0 {
		cfg.HandshakeTimeout = d
	}
	if v.IsSet(KeyWriteTimeout) {
		cfg.WriteTimeout = v.GetDuration(KeyWriteTimeout)
	}
	if token := v.GetString(KeyToken); token != "" {
		cfg.Token = token
	}

	return cfg
}

// StoreConfig reads the offset store settings from v.
func StoreConfig(v *viper.Viper) offsetstore.Config {
	cfg := offsetstore.DefaultConfig()
	if kind := v.GetString(KeyStore); kind != "" {
		cfg.Kind = kind
	}
	if addr := v.GetString(KeyRedisAddr); addr != "" {
		cfg.RedisAddr = addr
	}
	if prefix := v.GetString(KeyRedisPrefix); prefix != "" {
		cfg.Prefix = prefix
	}
	cfg.TTL = v.GetDuration(KeyStoreTTL)
	cfg.RedisPassword = v.GetString(KeyRedisPassword)
	cfg.RedisDB = v.GetInt(KeyRedisDB)

	return cfg
}
