package clickhouse

import "time"

const (
	nativePort = 9000
	httpPort   = 8123
)

// ClientOption configures Client.
type ClientOption func(*ClientConfig)

// ClientConfig locates the trigger history database. A zero Port resolves to
// the default port of the selected protocol.
type ClientConfig struct {
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	UseHTTP     bool
	DialTimeout time.Duration
	ReadTimeout time.Duration
}

func defaultClientConfig() ClientConfig {
	return ClientConfig{
		Database:    "default",
		User:        "default",
		DialTimeout: 5 * time.Second,
		ReadTimeout: 10 * time.Second,
	}
}

func (c ClientConfig) port() int {
	switch {
	case c.Port > 0:
		return c.Port
	case c.UseHTTP:
		return httpPort
	default:
		return nativePort
	}
}

// WithAddr sets host and port. Port 0 keeps the protocol default.
func WithAddr(host string, port int) ClientOption {
	return func(c *ClientConfig) {
		c.Host = host
		c.Port = port
	}
}

// WithDatabase sets the database; empty keeps "default".
func WithDatabase(database string) ClientOption {
	return func(c *ClientConfig) {
		if database != "" {
			c.Database = database
		}
	}
}

// WithCredentials sets username and password. An empty user keeps "default".
func WithCredentials(user, password string) ClientOption {
	return func(c *ClientConfig) {
		if user != "" {
			c.User = user
		}
		c.Password = password
	}
}

// WithHTTP switches from the native protocol to HTTP.
func WithHTTP(useHTTP bool) ClientOption {
	return func(c *ClientConfig) {
		c.UseHTTP = useHTTP
	}
}

// WithTimeouts overrides the non-zero dial and read timeouts.
func WithTimeouts(dial, read time.Duration) ClientOption {
	return func(c *ClientConfig) {
		if dial > 0 {
			c.DialTimeout = dial
		}
		if read > 0 {
			c.ReadTimeout = read
		}
	}
}
