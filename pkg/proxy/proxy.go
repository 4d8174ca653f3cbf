package proxy

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ztdns/gateway/pkg/log"
	"github.com/ztdns/gateway/pkg/metrics"
	"github.com/ztdns/gateway/pkg/storage"
	"github.com/ztdns/gateway/pkg/types"
)

const (
	// DefaultListenAddr is the transport proxy port
	DefaultListenAddr = ":8443"

	// handshakeTimeout bounds the mTLS handshake
	handshakeTimeout = 10 * time.Second

	// peekSize is how much of the initial client data is inspected for
	// a destination hostname
	peekSize = 8192

	// peekTimeout bounds the initial read
	peekTimeout = 5 * time.Second

	// dialTimeout bounds the backend dial
	dialTimeout = 5 * time.Second

	// backendKeepAlive is the TCP keepalive period on tunnel sockets
	backendKeepAlive = 30 * time.Second
)

// Server is the mTLS transport proxy. It terminates client TLS, picks a
// route from the destination hostname found in the first bytes of the
// stream, and tunnels the connection to the real backend. Beyond the
// initial peek the payload is opaque.
type Server struct {
	store      storage.Store
	logger     zerolog.Logger
	listenAddr string
	tlsConfig  *tls.Config
	dialer     *net.Dialer

	mu       sync.RWMutex
	listener net.Listener
	running  bool
}

// Config holds proxy configuration
type Config struct {
	ListenAddr string      // Address to listen on (default: ":8443")
	TLSConfig  *tls.Config // mTLS listener config from the CA
}

// NewServer creates a new transport proxy
func NewServer(store storage.Store, config *Config) *Server {
	if config.ListenAddr == "" {
		config.ListenAddr = DefaultListenAddr
	}

	return &Server{
		store:      store,
		logger:     log.WithComponent("proxy"),
		listenAddr: config.ListenAddr,
		tlsConfig:  config.TLSConfig.Clone(),
		dialer: &net.Dialer{
			Timeout:   dialTimeout,
			KeepAlive: backendKeepAlive,
		},
	}
}

// Start opens the listener and serves until Stop or ctx cancellation
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("proxy already running")
	}

	listener, err := tls.Listen("tcp", s.listenAddr, s.tlsConfig)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", s.listenAddr, err)
	}
	s.listener = listener
	s.running = true
	s.mu.Unlock()

	s.logger.Info().
		Str("address", s.listenAddr).
		Msg("transport proxy started")

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	go s.acceptLoop(listener)
	return nil
}

// Stop closes the listener. Established tunnels keep running until a
// side closes; reconfiguration never reauthorizes mid-stream.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false

	err := s.listener.Close()
	s.logger.Info().Msg("transport proxy stopped")
	return err
}

// Addr returns the bound listener address
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.listenAddr
}

// IsRunning returns true if the proxy is accepting connections
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Server) acceptLoop(listener net.Listener) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.IsRunning() {
				s.logger.Error().Err(err).Msg("accept failed")
			}
			return
		}
		go s.handleConn(conn)
	}
}

// handleConn runs the full per-connection protocol: authenticate,
// discover the destination, authorize, dial, replay the peeked bytes,
// then tunnel. Every exit path closes the client socket, and the backend
// socket once it has been dialed.
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	tlsConn, ok := conn.(*tls.Conn)
	if !ok {
		return
	}

	tlsConn.SetDeadline(time.Now().Add(handshakeTimeout))
	if err := tlsConn.Handshake(); err != nil {
		s.logger.Debug().
			Err(err).
			Str("remote", conn.RemoteAddr().String()).
			Msg("handshake failed")
		return
	}
	tlsConn.SetDeadline(time.Time{})

	state := tlsConn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return
	}
	cn := state.PeerCertificates[0].Subject.CommonName

	connID := uuid.New().String()[:8]
	logger := s.logger.With().
		Str("conn_id", connID).
		Str("cn", cn).
		Str("remote", conn.RemoteAddr().String()).
		Logger()

	if _, err := s.store.GetEndpoint(cn); err != nil {
		logger.Warn().Msg("connection from unknown CN dropped")
		metrics.TunnelsTotal.WithLabelValues(metrics.TunnelUnknownCN).Inc()
		return
	}

	// Initial peek: everything read here is replayed to the backend
	// before any further client bytes.
	tlsConn.SetReadDeadline(time.Now().Add(peekTimeout))
	buf := make([]byte, peekSize)
	n, err := tlsConn.Read(buf)
	if err != nil || n == 0 {
		logger.Debug().Err(err).Msg("no initial data before deadline")
		metrics.TunnelsTotal.WithLabelValues(metrics.TunnelNoHostname).Inc()
		return
	}
	tlsConn.SetReadDeadline(time.Time{})
	initial := buf[:n]

	hostname := Hostname(initial, s.zoneNames())
	if hostname == "" {
		logger.Debug().Int("peeked", n).Msg("no destination hostname found")
		metrics.TunnelsTotal.WithLabelValues(metrics.TunnelNoHostname).Inc()
		return
	}

	zone, matched := s.store.MatchZone(types.NormalizeZone(hostname))
	if !matched {
		logger.Debug().Str("hostname", hostname).Msg("hostname matches no zone")
		metrics.TunnelsTotal.WithLabelValues(metrics.TunnelNoRoute).Inc()
		return
	}
	if !zone.Allowed(cn) {
		logger.Warn().Str("zone", zone.Name).Msg("unauthorized tunnel dropped")
		metrics.TunnelsTotal.WithLabelValues(metrics.TunnelUnauthorized).Inc()
		return
	}
	if zone.ServiceCN == "" {
		logger.Debug().Str("zone", zone.Name).Msg("zone has no owning service")
		metrics.TunnelsTotal.WithLabelValues(metrics.TunnelNoRoute).Inc()
		return
	}

	route, err := s.store.GetRoute(zone.ServiceCN)
	if err != nil {
		logger.Debug().Str("zone", zone.Name).Msg("no route for zone owner")
		metrics.TunnelsTotal.WithLabelValues(metrics.TunnelNoRoute).Inc()
		return
	}

	backendAddr := net.JoinHostPort(route.Host, fmt.Sprintf("%d", route.Port))
	backend, err := s.dialer.Dial("tcp", backendAddr)
	if err != nil {
		logger.Error().Err(err).Str("backend", backendAddr).Msg("backend dial failed")
		metrics.TunnelsTotal.WithLabelValues(metrics.TunnelDialFailed).Inc()
		return
	}
	defer backend.Close()

	// Replay the peeked protocol bytes before any further client reads
	if _, err := backend.Write(initial); err != nil {
		logger.Error().Err(err).Str("backend", backendAddr).Msg("initial replay failed")
		return
	}

	logger.Info().
		Str("zone", zone.Name).
		Str("backend", backendAddr).
		Msg("tunnel opened")
	metrics.TunnelsTotal.WithLabelValues(metrics.TunnelOpened).Inc()

	tunnel(logger, tlsConn, backend)
}

// zoneNames snapshots the zone names for literal hostname matching
func (s *Server) zoneNames() []string {
	zones, err := s.store.ListZones()
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(zones))
	for _, z := range zones {
		names = append(names, z.Name)
	}
	return names
}
