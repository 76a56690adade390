// Package metrics serves the Prometheus registry of a worker over HTTP.
// Packages that record metrics register their own collectors.
package metrics

import (
	"context"
	"net"
	"net/http"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/tomb.v2"
)

var log = logging.Logger("metrics")

type Metrics struct {
	s   *Settings
	mux *http.ServeMux
	srv *http.Server
	t   tomb.Tomb
}

func NewMetrics(s *Settings) *Metrics {
	if s == nil {
		s = DefaultSettings()
	}

	m := &Metrics{
		s:   s,
		mux: http.NewServeMux(),
	}
	m.mux.Handle(m.s.Path, promhttp.Handler())
	m.srv = &http.Server{Handler: m.mux}

	return m
}

// Start binds the exporter address and serves until Stop is called. The
// returned address is the one actually bound, which differs from the
// configured one when it asks for port 0.
func (m *Metrics) Start() (net.Addr, error) {
	ln, err := net.Listen("tcp", m.s.Addr)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot listen on %q", m.s.Addr)
	}
	m.t.Go(func() error {
		log.Infof("serving metrics on %s%s", ln.Addr(), m.s.Path)
		if err := m.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Errorf("failed to serve metrics: %v", err)
			return errors.WithStack(err)
		}
		return nil
	})
	m.t.Go(func() error {
		<-m.t.Dying()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return m.srv.Shutdown(ctx)
	})
	return ln.Addr(), nil
}

func (m *Metrics) Stop() {
	log.Info("stopping metrics")
	m.t.Kill(nil)
	if err := m.t.Wait(); err != nil {
		log.Errorf("%+v", err)
	}
	log.Info("metrics stopped")
}
