// Command gbreduce runs one worker of a reduction group. Every worker reads
// the same settings file and is told its rank; rank 0 loads or generates the
// matrix, the group reduces it and rank 0 writes the result.
package main

import (
	"context"
	"flag"
	"net"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/pkg/errors"

	"github.com/ppopth/gbreduce/comm"
	"github.com/ppopth/gbreduce/config"
	"github.com/ppopth/gbreduce/echelon"
	"github.com/ppopth/gbreduce/host"
	"github.com/ppopth/gbreduce/matgen"
	"github.com/ppopth/gbreduce/metrics"
	"github.com/ppopth/gbreduce/sparse"
	"github.com/ppopth/gbreduce/wire"
)

var log = logging.Logger("gbreduce")

var (
	configFlag = flag.String("config", "", "path of the TOML settings file")
	rankFlag   = flag.Int("rank", -1, "rank of this worker, overrides the settings file")
)

func main() {
	flag.Parse()

	s, err := loadSettings()
	if err != nil {
		log.Errorf("%+v", err)
		os.Exit(2)
	}
	lvl, err := logging.LevelFromString(s.LogLevel)
	if err != nil {
		log.Errorf("invalid log level %q: %v", s.LogLevel, err)
		os.Exit(2)
	}
	logging.SetAllLoggers(lvl)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, s); err != nil {
		log.Errorf("rank %d failed: %+v", s.Rank, err)
		os.Exit(1)
	}
}

func loadSettings() (*config.Settings, error) {
	var s *config.Settings
	if *configFlag == "" {
		d := config.DefaultSettings()
		s = &d
	} else {
		var err error
		if s, err = config.LoadSettings(*configFlag); err != nil {
			return nil, err
		}
	}
	if *rankFlag >= 0 {
		s.Rank = *rankFlag
	}
	return s, s.Validate()
}

func run(ctx context.Context, s *config.Settings) error {
	if s.Metrics.Enabled {
		m := metrics.NewMetrics(&s.Metrics)
		if _, err := m.Start(); err != nil {
			return err
		}
		defer m.Stop()
	}

	addrs, err := s.PeerAddrs()
	if err != nil {
		return err
	}
	port := addrs[s.Rank].(*net.UDPAddr).Port
	h, err := host.NewHost(
		host.WithAddrPort(netip.AddrPortFrom(netip.IPv4Unspecified(), uint16(port))),
		host.WithIdleTimeout(s.IdleTimeout()),
	)
	if err != nil {
		return errors.Wrap(err, "starting host")
	}
	defer h.Close()

	joinCtx, cancel := context.WithTimeout(ctx, s.JoinTimeout())
	c, err := comm.NewHostComm(joinCtx, h, s.Rank, addrs, comm.WithGroupName(s.Group))
	cancel()
	if err != nil {
		return errors.Wrap(err, "joining group")
	}

	start := time.Now()
	rows, err := reduce(ctx, c, s)
	if err != nil {
		c.Close()
		return err
	}
	if err := c.Close(); err != nil {
		return errors.Wrap(err, "leaving group")
	}
	log.Infof("rank %d done in %s with %d rows, sent %d bytes, received %d bytes",
		s.Rank, time.Since(start), rows, h.GetBytesSent(), h.GetBytesReceived())
	return nil
}

// reduce runs the reduction on c and returns the number of rows this worker
// ended up with
func reduce(ctx context.Context, c comm.Comm, s *config.Settings) (int, error) {
	p := s.Params()
	var m *sparse.Matrix
	if c.Rank() == 0 {
		var err error
		if m, err = loadMatrix(s); err != nil {
			return 0, err
		}
		p.Rows = m.Len()
		log.Infof("reducing %d rows over GF(%d)", m.Len(), s.Modulus)
	} else {
		m = &sparse.Matrix{}
	}

	p, err := echelon.ShareParams(ctx, c, p)
	if err != nil {
		return 0, err
	}
	r, err := echelon.NewReducer(c, p)
	if err != nil {
		return 0, err
	}
	res, err := r.Run(ctx, m)
	if err != nil {
		return 0, err
	}
	if !p.Options.RequestDiagonalForm && r.Active() > 1 {
		if res, err = r.GatherShards(ctx, res); err != nil {
			return 0, err
		}
	}

	if c.Rank() == 0 && s.Output != "" {
		if err := writeMatrix(s.Output, res); err != nil {
			return 0, err
		}
		log.Infof("wrote %d rows to %s", res.Len(), s.Output)
	}
	return res.Len(), nil
}

func loadMatrix(s *config.Settings) (*sparse.Matrix, error) {
	f, err := s.Params().Field()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if s.Input == "" {
		return matgen.Generate(f, &s.Generator)
	}

	file, err := os.Open(s.Input)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer file.Close()
	m, err := wire.ReadMatrix(file, f)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", s.Input)
	}
	return m, nil
}

func writeMatrix(path string, m *sparse.Matrix) error {
	file, err := os.Create(path)
	if err != nil {
		return errors.WithStack(err)
	}
	if err := wire.WriteMatrix(file, m); err != nil {
		file.Close()
		return errors.Wrapf(err, "writing %s", path)
	}
	return errors.WithStack(file.Close())
}
