package comysql

import "github.com/google/uuid"

// Connect dials host:port, performs the handshake and authentication, and
// returns a ready Conn in the idle state (spec.md §6). This is the
// minimal entry point the external database-API façade layer is expected
// to build on; the façade itself (cursor semantics, parameter escaping,
// the connect() convenience wrapper with pooling) is out of scope per
// spec.md §1.
func Connect(host string, port int, user, password string, opts ...Option) (*Conn, error) {
	cfg := newConfig(host, port, user, password, opts...)
	return ConnectWithConfig(cfg)
}

// ConnectWithConfig is Connect's counterpart for callers that already
// built (or loaded, via LoadConfigFile) a Config.
func ConnectWithConfig(cfg *Config) (*Conn, error) {
	nc, err := dial(cfg)
	if err != nil {
		return nil, err
	}

	c := &Conn{
		id:            uuid.New(),
		stream:        newBufferedStream(nc, cfg.effectiveBufferSize()),
		cfg:           cfg,
		maxPacketSize: cfg.effectiveMaxPacketSize(),
		state:         stateHandshaking,
	}

	if err := c.handshake(); err != nil {
		_ = nc.Close()
		return nil, err
	}

	c.log().debug("connection established")
	return c, nil
}

// WithMetrics attaches a Metrics collector to an established Conn so its
// counters are updated on subsequent commands (spec.md §5's "process-wide"
// resources, scoped here per-Conn for injectability in tests).
func (c *Conn) WithMetrics(m *Metrics) *Conn {
	c.metrics = m
	return c
}
