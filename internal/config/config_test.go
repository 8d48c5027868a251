// file: internal/config/config_test.go
package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestDefaultsMatchSpec(t *testing.T) {
	opts := Defaults()

	assert.True(t, opts.Enabled)
	assert.Equal(t, CommUnixSocket, opts.CommType)
	assert.Equal(t, DefaultBacklog, opts.CommConfig.Backlog)
	assert.Equal(t, DefaultMaxRetries, opts.CommConfig.MaxRetryOnTransientErrors)
	assert.Equal(t, DefaultMaxRequestSize, opts.CommConfig.IncomingRequestMaxSize)
	assert.True(t, opts.CommConfig.RestrictedAPI)
}

func TestLoadOverridesOnlySetKeys(t *testing.T) {
	v := viper.New()
	v.Set("rpc.comm_config.backlog", 128)
	v.Set("rpc.comm_config.sock_path_name", "/tmp/custom.sock")

	opts := Load(v)

	assert.Equal(t, 128, opts.CommConfig.Backlog)
	assert.Equal(t, "/tmp/custom.sock", opts.CommConfig.SockPathName)
	// Untouched keys keep their documented defaults.
	assert.Equal(t, DefaultMaxRetries, opts.CommConfig.MaxRetryOnTransientErrors)
	assert.True(t, opts.CommConfig.RestrictedAPI)
}

func TestLoadRespectsExplicitFalse(t *testing.T) {
	v := viper.New()
	v.Set("rpc.enabled", false)
	v.Set("rpc.comm_config.restricted_api", false)

	opts := Load(v)

	assert.False(t, opts.Enabled)
	assert.False(t, opts.CommConfig.RestrictedAPI)
}

func TestUnrecognizedReportsUnknownKeysOnly(t *testing.T) {
	v := viper.New()
	v.Set("rpc.comm_config.backlog", 5)
	v.Set("rpc.comm_config.typo_field", "oops")
	v.Set("rpc.totally_unknown", 1)

	extra := Unrecognized(v)

	assert.ElementsMatch(t, []string{"rpc.comm_config.typo_field", "rpc.totally_unknown"}, extra)
}
