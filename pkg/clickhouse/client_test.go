package clickhouse

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDSN(t *testing.T) {
	cfg := defaultClientConfig()
	for _, opt := range []ClientOption{
		WithAddr("ch.local", 9440),
		WithDatabase("pricealarm"),
		WithCredentials("", "p@ss"),
		WithTimeouts(2*time.Second, 0),
	} {
		opt(&cfg)
	}

	u, err := url.Parse(buildDSN(cfg))
	require.NoError(t, err)
	assert.Equal(t, "clickhouse", u.Scheme)
	assert.Equal(t, "ch.local:9440", u.Host)
	assert.Equal(t, "/pricealarm", u.Path)
	assert.Equal(t, "default", u.User.Username())
	pw, _ := u.User.Password()
	assert.Equal(t, "p@ss", pw)
	assert.Equal(t, "2s", u.Query().Get("dial_timeout"))
	assert.Equal(t, "10s", u.Query().Get("read_timeout"))
}

func TestBuildDSN_DefaultPortFollowsProtocol(t *testing.T) {
	native := defaultClientConfig()
	WithAddr("ch", 0)(&native)
	assert.Contains(t, buildDSN(native), "clickhouse://")
	assert.Contains(t, buildDSN(native), "@ch:9000/")

	overHTTP := native
	WithHTTP(true)(&overHTTP)
	assert.Contains(t, buildDSN(overHTTP), "http://")
	assert.Contains(t, buildDSN(overHTTP), "@ch:8123/")
}

func TestNewClient_RequiresHost(t *testing.T) {
	_, err := NewClient(WithDatabase("pricealarm"))
	assert.Error(t, err)
}
