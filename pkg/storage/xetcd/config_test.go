package xetcd

import (
	"crypto/tls"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 5*time.Second, cfg.DialTimeout)
	assert.Equal(t, 10*time.Second, cfg.DialKeepAliveTime)
	assert.Equal(t, 3*time.Second, cfg.DialKeepAliveTimeout)
	assert.True(t, cfg.RejectOldCluster)
	assert.True(t, cfg.PermitWithoutStream)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr error
	}{
		{"valid", &Config{Endpoints: []string{"localhost:2379"}}, nil},
		{"multiple", &Config{Endpoints: []string{"h1:2379", "h2:2379"}}, nil},
		{"ipv6", &Config{Endpoints: []string{"[::1]:2379"}}, nil},
		{"no endpoints", &Config{}, ErrNoEndpoints},
		{"empty endpoint", &Config{Endpoints: []string{""}}, ErrInvalidEndpoint},
		{"missing port", &Config{Endpoints: []string{"localhost"}}, ErrInvalidEndpoint},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestConfig_ApplyDefaults(t *testing.T) {
	orig := &Config{Endpoints: []string{"localhost:2379"}, DialTimeout: 20 * time.Second}
	got := orig.applyDefaults()

	assert.Equal(t, 20*time.Second, got.DialTimeout)
	assert.Equal(t, defaultDialKeepAliveTime, got.DialKeepAliveTime)
	assert.Equal(t, defaultDialKeepAliveTimeout, got.DialKeepAliveTimeout)
	assert.Zero(t, orig.DialKeepAliveTime, "original is not modified")
}

func TestClientConfig(t *testing.T) {
	_, err := clientConfig(nil)
	assert.ErrorIs(t, err, ErrNilConfig)

	_, err = NewClient(&Config{})
	assert.ErrorIs(t, err, ErrNoEndpoints)

	cfg := DefaultConfig()
	cfg.Endpoints = []string{"localhost:2379"}
	cfg.Username = "root"
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}
	cc, err := clientConfig(cfg, WithTLS(tlsCfg))
	require.NoError(t, err)
	assert.Equal(t, []string{"localhost:2379"}, cc.Endpoints)
	assert.Equal(t, "root", cc.Username)
	assert.Same(t, tlsCfg, cc.TLS)
	assert.True(t, cc.RejectOldCluster)
	assert.Len(t, cc.DialOptions, 1)
}
