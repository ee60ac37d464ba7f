package gomssql

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestDedupKey_SameConfig(t *testing.T) {
	a := testConfig()
	b := testConfig()
	assert.Equal(t, a.DedupKey(), b.DedupKey())
}

func TestDedupKey_DifferentServer(t *testing.T) {
	a := testConfig()
	b := testConfig()
	b.Server = "other.example.com"
	assert.NotEqual(t, a.DedupKey(), b.DedupKey())
}

func TestDedupKey_CaseInsensitive(t *testing.T) {
	a := testConfig()
	b := testConfig()
	b.Server = "DB.EXAMPLE.COM"
	b.Database = "Orders"
	assert.Equal(t, a.DedupKey(), b.DedupKey())
}

func TestDedupKey_PoolTuningExcluded(t *testing.T) {
	a := testConfig()
	b := testConfig()
	b.Pool = &PoolConfig{MinSize: 2, MaxSize: 50, IdleTimeout: time.Minute}
	b.ConnectTimeout = 5 * time.Second
	b.RequestTimeout = 2 * time.Minute
	assert.Equal(t, a.DedupKey(), b.DedupKey())
}

func TestDedupKey_CredentialsExcluded(t *testing.T) {
	a := testConfig()
	b := testConfig()
	b.Auth.Password = "different"
	assert.Equal(t, a.DedupKey(), b.DedupKey())
	assert.NotContains(t, a.DedupKey(), "secret")
}

func TestDedupKey_AuthIdentityIncluded(t *testing.T) {
	a := testConfig()
	b := testConfig()
	b.Auth.Username = "reporting"
	assert.NotEqual(t, a.DedupKey(), b.DedupKey())

	c := testConfig()
	c.Auth = Auth{Kind: AuthWindows}
	assert.NotEqual(t, a.DedupKey(), c.DedupKey())
}

func TestNormalized_Defaults(t *testing.T) {
	c := Config{Server: "s"}.normalized()
	assert.Equal(t, 1433, c.Port)
	assert.Equal(t, 15*time.Second, c.ConnectTimeout)
	assert.Equal(t, 30*time.Second, c.RequestTimeout)
	assert.Equal(t, "gomssql", c.AppName)
	assert.Equal(t, 4096, c.PacketSize)
}

func TestValidate_OK(t *testing.T) {
	require.NoError(t, testConfig().normalized().Validate())
}

func TestValidate_AggregatesProblems(t *testing.T) {
	err := Config{Port: -1}.Validate()
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "server is required")
	assert.Contains(t, err.Error(), "out of range")
	assert.Contains(t, err.Error(), "auth kind is required")
}

func TestValidate_NTLMRequiresDomain(t *testing.T) {
	c := testConfig()
	c.Auth = Auth{Kind: AuthNTLM, Username: "app", Password: "secret"}
	err := c.Validate()
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "domain")
}

func TestValidate_WindowsRejectsCredentials(t *testing.T) {
	c := testConfig()
	c.Auth = Auth{Kind: AuthWindows, Username: "app"}
	require.ErrorIs(t, c.Validate(), ErrInvalidConfig)

	c.Auth = Auth{Kind: AuthWindows}
	require.NoError(t, c.Validate())
}

func TestValidate_TokenOrProviderRequired(t *testing.T) {
	c := testConfig()
	c.Auth = Auth{Kind: AuthAzureADToken}
	require.ErrorIs(t, c.Validate(), ErrInvalidConfig)

	c.Auth.TokenProvider = func(context.Context) (string, error) { return "tok", nil }
	require.NoError(t, c.Validate())
}

func TestValidate_PoolSizes(t *testing.T) {
	c := testConfig()
	c.Pool = &PoolConfig{MinSize: 10, MaxSize: 5}
	err := c.Validate()
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "exceeds max")
}

func TestResolveAuth_Provider(t *testing.T) {
	c := testConfig()
	c.Auth = Auth{
		Kind:          AuthAzureADToken,
		TokenProvider: func(context.Context) (string, error) { return "issued-token", nil },
	}

	resolved, err := c.resolveAuth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "issued-token", resolved.Auth.Token)
}

func TestResolveAuth_ProviderError(t *testing.T) {
	c := testConfig()
	c.Auth = Auth{
		Kind:          AuthAzureADToken,
		TokenProvider: func(context.Context) (string, error) { return "", fmt.Errorf("tenant unreachable") },
	}

	_, err := c.resolveAuth(context.Background())
	require.ErrorContains(t, err, "tenant unreachable")
}

func TestResolveAuth_ExplicitTokenWins(t *testing.T) {
	c := testConfig()
	called := false
	c.Auth = Auth{
		Kind:  AuthAzureADToken,
		Token: "explicit",
		TokenProvider: func(context.Context) (string, error) {
			called = true
			return "ignored", nil
		},
	}

	resolved, err := c.resolveAuth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "explicit", resolved.Auth.Token)
	assert.False(t, called)
}

func TestMarshalWire(t *testing.T) {
	c := testConfig().normalized()
	c.InstanceName = "SQLEXPRESS"
	c.Pool = &PoolConfig{MaxSize: 25, IdleTimeout: time.Minute}

	wire, err := c.marshalWire()
	require.NoError(t, err)

	w := gjson.ParseBytes(wire)
	assert.Equal(t, "db.example.com", w.Get("server").String())
	assert.Equal(t, int64(1433), w.Get("port").Int())
	assert.Equal(t, "sql", w.Get("auth.type").String())
	assert.Equal(t, "app", w.Get("auth.username").String())
	assert.Equal(t, "secret", w.Get("auth.password").String())
	assert.Equal(t, int64(15000), w.Get("connect_timeout_ms").Int())
	assert.Equal(t, int64(30000), w.Get("request_timeout_ms").Int())
	assert.Equal(t, "SQLEXPRESS", w.Get("instance_name").String())
	assert.Equal(t, int64(4096), w.Get("packet_size").Int())
	assert.Equal(t, gjson.Null, w.Get("pool.min").Type)
	assert.Equal(t, int64(25), w.Get("pool.max").Int())
	assert.Equal(t, int64(60000), w.Get("pool.idle_timeout_ms").Int())
}

func TestMarshalWire_NoPool(t *testing.T) {
	wire, err := testConfig().normalized().marshalWire()
	require.NoError(t, err)

	w := gjson.ParseBytes(wire)
	assert.Equal(t, gjson.Null, w.Get("pool").Type)
	assert.Equal(t, gjson.Null, w.Get("instance_name").Type)
}

func TestMarshalWire_NTLM(t *testing.T) {
	c := testConfig()
	c.Auth = Auth{Kind: AuthNTLM, Username: "app", Password: "secret", Domain: "CORP"}

	wire, err := c.normalized().marshalWire()
	require.NoError(t, err)

	w := gjson.ParseBytes(wire)
	assert.Equal(t, "ntlm", w.Get("auth.type").String())
	assert.Equal(t, "CORP", w.Get("auth.domain").String())
}
