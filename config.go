package tandem

import (
	"github.com/inconshreveable/log15"
)

// Protocol selects the outbound framing and the handshake behavior of a
// connection. The inbound side always follows what the peer sends.
type Protocol int

const (
	// ProtocolText writes text frames and sends no upgrade request.
	ProtocolText Protocol = iota

	// ProtocolBinary announces binary framing at construction and starts
	// writing binary frames without waiting for consent. Use it only when
	// the peer is known to understand the upgrade literal.
	ProtocolBinary

	// ProtocolPreferBinary probes the peer once, gated on the first
	// outbound call, and falls back to text framing when the probe is not
	// acknowledged.
	ProtocolPreferBinary

	// ProtocolOnlyText writes text frames and additionally ignores upgrade
	// literals on the inbound side, behaving like a reader that predates
	// the binary framing.
	ProtocolOnlyText
)

func (p Protocol) String() string {
	switch p {
	case ProtocolText:
		return "text"
	case ProtocolBinary:
		return "binary"
	case ProtocolPreferBinary:
		return "prefer_binary"
	case ProtocolOnlyText:
		return "only_text"
	}
	return "unknown"
}

// Config carries the options recognized at connection construction.
type Config struct {
	// Protocol selects the outbound framing mode, ProtocolText by default.
	Protocol Protocol

	// Logger receives the connection's debug and error records. When nil,
	// logging is discarded.
	Logger log15.Logger
}

func NewConfig() *Config {
	return &Config{}
}

// WithProtocol sets the outbound framing mode.
func (cfg *Config) WithProtocol(p Protocol) *Config {
	cfg.Protocol = p
	return cfg
}

// WithLogger routes the connection's log records to logger.
func (cfg *Config) WithLogger(logger log15.Logger) *Config {
	cfg.Logger = logger
	return cfg
}
