// Package config holds the settings of a gbreduce worker. Settings are read
// from a TOML document with a single [gbreduce] table; anything left out keeps
// its default.
package config

import (
	"net"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/ppopth/gbreduce/echelon"
	"github.com/ppopth/gbreduce/field"
	"github.com/ppopth/gbreduce/matgen"
	"github.com/ppopth/gbreduce/metrics"
)

const (
	DefaultLogLevel        = "INFO"
	DefaultModulus         = 2147483647
	DefaultGroup           = "gbreduce"
	DefaultJoinTimeoutSecs = 60
	DefaultIdleTimeoutSecs = 1800
)

// Settings configures one worker process. All workers of a group share the
// same document and differ only in their rank, which is usually given on the
// command line.
type Settings struct {
	LogLevel string `toml:"loglevel"`

	// Rank is the position of this worker in Peers
	Rank int `toml:"rank"`
	// Peers lists the UDP address of every worker, indexed by rank
	Peers []string `toml:"peers"`
	// Group must match on every worker; it keeps concurrent groups apart
	Group           string `toml:"group"`
	JoinTimeoutSecs int    `toml:"joinTimeoutSecs"`
	IdleTimeoutSecs int    `toml:"idleTimeoutSecs"`

	Modulus   uint64 `toml:"modulus"`
	Order     uint32 `toml:"order"`
	Variables uint32 `toml:"variables"`

	// Input is the matrix file read by rank 0. When empty, rank 0 generates a
	// random matrix from Generator instead.
	Input string `toml:"input"`
	// Output is where rank 0 writes the result. Nothing is written when empty.
	Output string `toml:"output"`

	Reduction echelon.Options `toml:"reduction"`
	Generator matgen.Settings `toml:"generator"`
	Metrics   metrics.Settings `toml:"metrics"`
}

// DefaultSettings returns the settings of a single worker on a random matrix
func DefaultSettings() Settings {
	return Settings{
		LogLevel:        DefaultLogLevel,
		Peers:           []string{"127.0.0.1:9625"},
		Group:           DefaultGroup,
		JoinTimeoutSecs: DefaultJoinTimeoutSecs,
		IdleTimeoutSecs: DefaultIdleTimeoutSecs,
		Modulus:         DefaultModulus,
		Reduction:       echelon.DefaultOptions(),
		Generator:       *matgen.DefaultSettings(),
		Metrics:         *metrics.DefaultSettings(),
	}
}

// ParseSettings reads settings from a TOML document
func ParseSettings(data string) (*Settings, error) {
	var doc struct {
		Gbreduce Settings `toml:"gbreduce"`
	}
	doc.Gbreduce = DefaultSettings()
	_, err := toml.Decode(data, &doc)
	if err != nil {
		return nil, errors.Wrap(err, "decoding settings")
	}

	if err := doc.Gbreduce.Validate(); err != nil {
		return nil, err
	}
	return &doc.Gbreduce, nil
}

// LoadSettings reads settings from a TOML file
func LoadSettings(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	s, err := ParseSettings(string(data))
	if err != nil {
		return nil, errors.Wrapf(err, "in %s", path)
	}
	return s, nil
}

// Validate checks the settings of this worker. Input and generator settings
// only matter on rank 0 but are checked everywhere so a broken document fails
// the same way on every worker.
func (s *Settings) Validate() error {
	if len(s.Peers) == 0 {
		return errors.New("no peers configured")
	}
	if s.Rank < 0 || s.Rank >= len(s.Peers) {
		return errors.Errorf("rank %d out of range [0, %d)", s.Rank, len(s.Peers))
	}
	if s.JoinTimeoutSecs <= 0 {
		return errors.Errorf("join timeout must be positive, got %d", s.JoinTimeoutSecs)
	}
	if s.IdleTimeoutSecs <= 0 {
		return errors.Errorf("idle timeout must be positive, got %d", s.IdleTimeoutSecs)
	}
	if _, err := field.New(s.Modulus); err != nil {
		return errors.WithStack(err)
	}
	if err := s.Reduction.Validate(); err != nil {
		return errors.Wrap(err, "reduction")
	}
	if s.Input == "" {
		if err := s.Generator.Validate(); err != nil {
			return errors.Wrap(err, "generator")
		}
	}
	return nil
}

// PeerAddrs resolves the address of every worker
func (s *Settings) PeerAddrs() ([]net.Addr, error) {
	addrs := make([]net.Addr, len(s.Peers))
	for i, p := range s.Peers {
		addr, err := net.ResolveUDPAddr("udp", p)
		if err != nil {
			return nil, errors.Wrapf(err, "peer %d", i)
		}
		addrs[i] = addr
	}
	return addrs, nil
}

// JoinTimeout bounds the time spent waiting for the group to assemble
func (s *Settings) JoinTimeout() time.Duration {
	return time.Duration(s.JoinTimeoutSecs) * time.Second
}

// IdleTimeout is the QUIC idle timeout of the connections between workers
func (s *Settings) IdleTimeout() time.Duration {
	return time.Duration(s.IdleTimeoutSecs) * time.Second
}

// Params returns the reduction parameters rank 0 shares with the group. The
// row count is filled in once the matrix is known.
func (s *Settings) Params() echelon.Params {
	return echelon.Params{
		Modulus:   s.Modulus,
		Order:     s.Order,
		Variables: s.Variables,
		Options:   s.Reduction,
	}
}
