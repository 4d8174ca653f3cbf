package proxy

import (
	"io"
	"net"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ztdns/gateway/pkg/metrics"
)

// closeWriter is the half-close side of a duplex connection. Both
// tls.Conn and net.TCPConn implement it.
type closeWriter interface {
	CloseWrite() error
}

// tunnel copies bytes between client and backend until both directions
// have ended. When one direction finishes, the peer's write side is
// half-closed so it observes EOF while the other direction drains. The
// caller holds deferred Closes on both sockets, so every exit path
// releases them.
func tunnel(logger zerolog.Logger, client, backend net.Conn) {
	metrics.TunnelsActive.Inc()
	defer metrics.TunnelsActive.Dec()

	var g errgroup.Group

	g.Go(func() error {
		n, err := io.Copy(backend, client)
		metrics.TunnelBytes.WithLabelValues("client_to_backend").Add(float64(n))
		halfClose(backend)
		return err
	})

	g.Go(func() error {
		n, err := io.Copy(client, backend)
		metrics.TunnelBytes.WithLabelValues("backend_to_client").Add(float64(n))
		halfClose(client)
		return err
	})

	if err := g.Wait(); err != nil {
		logger.Debug().Err(err).Msg("tunnel closed with error")
	} else {
		logger.Info().Msg("tunnel closed")
	}
}

// halfClose shuts the write side so the reader sees EOF; a full Close is
// the fallback for connections that cannot half-close.
func halfClose(conn net.Conn) {
	if cw, ok := conn.(closeWriter); ok {
		cw.CloseWrite()
		return
	}
	conn.Close()
}
