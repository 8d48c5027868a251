// Package config defines the structured option set the RPC core accepts
// (spec §6 "Configuration") and a viper-backed loader that assembles it from
// flags, environment, and defaults for the host entrypoint. The core itself
// never reads a file; it only ever sees the Options value this package
// produces.
// file: internal/config/config.go
package config

import (
	"strings"

	"github.com/spf13/viper"
)

// CommType enumerates the transport kind selected by rpc.comm_type. Only
// CommUnixSocket is implemented; other values are accepted by the option
// parser but rejected at server start.
type CommType int

const (
	CommUnixSocket CommType = 1
)

// CommConfig mirrors rpc.comm_config.* (spec §6), the Unix-domain-socket
// transport's tunables.
type CommConfig struct {
	SockPathName               string
	LockPathName                string
	Backlog                    int
	MaxRetryOnTransientErrors   int
	RestrictedAPI              bool
	IncomingRequestMaxSize     int
}

// Options is the structured option set passed into the RPC core. It is the
// Go analogue of the key/value table in spec §6; nothing here is ever
// loaded from disk by the core itself.
type Options struct {
	Enabled    bool
	CommType   CommType
	CommConfig CommConfig
}

// Default option values, matching spec §6's stated defaults.
const (
	DefaultBacklog           = 5
	DefaultMaxRetries        = 64
	DefaultAccumulatorStack  = 32 * 1024
	DefaultMaxRequestSize    = 96 * 1024
	DefaultSockPath          = "/var/run/rpcmgmt/rpc.sock"
	DefaultLockPath          = "/var/run/rpcmgmt/rpc.lock"
)

// Defaults returns the Options value in effect when no keys are supplied.
func Defaults() Options {
	return Options{
		Enabled:  true,
		CommType: CommUnixSocket,
		CommConfig: CommConfig{
			SockPathName:             DefaultSockPath,
			LockPathName:             DefaultLockPath,
			Backlog:                  DefaultBacklog,
			MaxRetryOnTransientErrors: DefaultMaxRetries,
			RestrictedAPI:            true,
			IncomingRequestMaxSize:   DefaultMaxRequestSize,
		},
	}
}

// Load builds Options from a viper instance, applying Defaults() first so
// that any key left unset by the environment keeps its documented default.
// Unknown keys are tolerated (viper simply never reads them); the caller is
// expected to have already warned about them via Unrecognized.
func Load(v *viper.Viper) Options {
	opts := Defaults()

	if v.IsSet("rpc.enabled") {
		opts.Enabled = v.GetBool("rpc.enabled")
	}
	if v.IsSet("rpc.comm_type") {
		opts.CommType = CommType(v.GetInt("rpc.comm_type"))
	}
	if v.IsSet("rpc.comm_config.sock_path_name") {
		opts.CommConfig.SockPathName = v.GetString("rpc.comm_config.sock_path_name")
	}
	if v.IsSet("rpc.comm_config.lock_path_name") {
		opts.CommConfig.LockPathName = v.GetString("rpc.comm_config.lock_path_name")
	}
	if v.IsSet("rpc.comm_config.backlog") {
		opts.CommConfig.Backlog = v.GetInt("rpc.comm_config.backlog")
	}
	if v.IsSet("rpc.comm_config.max_retry_on_transient_errors") {
		opts.CommConfig.MaxRetryOnTransientErrors = v.GetInt("rpc.comm_config.max_retry_on_transient_errors")
	}
	if v.IsSet("rpc.comm_config.restricted_api") {
		opts.CommConfig.RestrictedAPI = v.GetBool("rpc.comm_config.restricted_api")
	}
	if v.IsSet("rpc.comm_config.incoming_request_max_size") {
		opts.CommConfig.IncomingRequestMaxSize = v.GetInt("rpc.comm_config.incoming_request_max_size")
	}

	return opts
}

// KnownKeys lists every option key the core recognises (spec §6's table),
// used by Unrecognized to warn about typos without failing startup.
var KnownKeys = []string{
	"rpc.enabled",
	"rpc.comm_type",
	"rpc.comm_config.sock_path_name",
	"rpc.comm_config.lock_path_name",
	"rpc.comm_config.backlog",
	"rpc.comm_config.max_retry_on_transient_errors",
	"rpc.comm_config.restricted_api",
	"rpc.comm_config.incoming_request_max_size",
}

// Unrecognized returns the keys under the "rpc." prefix present in v that
// are not in KnownKeys (keys outside that prefix are not reported), so
// the host can log a warning (spec §6: "unknown keys tolerated with a
// warning") instead of silently ignoring a misspelled setting.
func Unrecognized(v *viper.Viper) []string {
	known := make(map[string]struct{}, len(KnownKeys))
	for _, k := range KnownKeys {
		known[k] = struct{}{}
	}

	var extra []string
	for _, k := range v.AllKeys() {
		if _, ok := known[k]; !ok && strings.HasPrefix(k, "rpc.") {
			extra = append(extra, k)
		}
	}
	return extra
}
