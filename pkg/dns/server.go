package dns

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"github.com/miekg/dns"
	"github.com/rs/zerolog"

	"github.com/ztdns/gateway/pkg/log"
	"github.com/ztdns/gateway/pkg/metrics"
	"github.com/ztdns/gateway/pkg/storage"
	"github.com/ztdns/gateway/pkg/types"
)

const (
	// DefaultListenAddr is the standard DNS-over-TLS port
	DefaultListenAddr = ":853"

	// DefaultUpstream is the public resolver non-private queries are
	// forwarded to
	DefaultUpstream = "1.1.1.1:53"

	// maxMessageSize bounds accepted DoT messages
	maxMessageSize = 4096

	// readTimeout bounds the framed read of a query
	readTimeout = 5 * time.Second
)

// Server is the mutually-authenticated DNS-over-TLS resolver. Peers are
// identified by the CN in their client certificate; private zones are
// answered authoritatively, everything else is forwarded upstream.
type Server struct {
	store      storage.Store
	logger     zerolog.Logger
	resolver   *Resolver
	dnsServer  *dns.Server
	listenAddr string
	tlsConfig  *tls.Config
	mu         sync.RWMutex
	running    bool
}

// Config holds resolver configuration
type Config struct {
	ListenAddr string      // Address to listen on (default: ":853")
	Upstream   string      // Public resolver for forwarded queries
	TLSConfig  *tls.Config // mTLS listener config from the CA
}

// NewServer creates a new DNS-over-TLS server
func NewServer(store storage.Store, config *Config) *Server {
	if config.ListenAddr == "" {
		config.ListenAddr = DefaultListenAddr
	}
	if config.Upstream == "" {
		config.Upstream = DefaultUpstream
	}

	tlsConfig := config.TLSConfig.Clone()
	tlsConfig.NextProtos = []string{"dot"}

	return &Server{
		store:      store,
		logger:     log.WithComponent("resolver"),
		resolver:   NewResolver(config.Upstream),
		listenAddr: config.ListenAddr,
		tlsConfig:  tlsConfig,
	}
}

// Start starts the DoT listener and returns once it is accepting
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("DoT server already running")
	}
	s.running = true
	s.mu.Unlock()

	mux := dns.NewServeMux()
	mux.HandleFunc(".", s.handleQuery)

	started := make(chan struct{})
	s.dnsServer = &dns.Server{
		Addr:              s.listenAddr,
		Net:               "tcp-tls",
		TLSConfig:         s.tlsConfig,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		NotifyStartedFunc: func() { close(started) },
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.dnsServer.ListenAndServe(); err != nil {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("DoT server failed to start: %w", err)
	case <-ctx.Done():
		return s.Stop()
	case <-started:
		s.logger.Info().
			Str("address", s.listenAddr).
			Msg("DNS-over-TLS server started")
		go func() {
			<-ctx.Done()
			s.Stop()
		}()
		return nil
	}
}

// Stop shuts the listener down; in-flight exchanges unwind on socket
// errors
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false

	if s.dnsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.dnsServer.ShutdownContext(ctx); err != nil {
			return err
		}
	}

	s.logger.Info().Msg("DNS-over-TLS server stopped")
	return nil
}

// Addr returns the bound listener address, for callers that started the
// server on port 0.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.dnsServer != nil && s.dnsServer.Listener != nil {
		return s.dnsServer.Listener.Addr().String()
	}
	return s.listenAddr
}

// handleQuery serves one DNS exchange on an authenticated connection
func (s *Server) handleQuery(w dns.ResponseWriter, r *dns.Msg) {
	cn, ok := peerCN(w)
	if !ok {
		// No verified client certificate; fail closed.
		w.Close()
		return
	}

	if _, err := s.store.GetEndpoint(cn); err != nil {
		s.logger.Warn().
			Str("cn", cn).
			Str("remote", w.RemoteAddr().String()).
			Msg("query from unknown CN dropped")
		metrics.DNSQueriesTotal.WithLabelValues(metrics.OutcomeUnknownCN).Inc()
		w.Close()
		return
	}

	if r.Len() > maxMessageSize || len(r.Question) == 0 {
		s.refuse(w, r, dns.RcodeFormatError, metrics.OutcomeFormErr)
		return
	}

	q := r.Question[0]
	name := types.NormalizeZone(q.Name)

	zone, matched := s.store.MatchZone(name)
	if !matched {
		s.forward(w, r)
		return
	}

	// Unauthorized peers learn only that they are unauthorized, not
	// whether the zone exists.
	if !zone.Allowed(cn) {
		s.logger.Debug().
			Str("cn", cn).
			Str("query", name).
			Msg("query refused")
		s.refuse(w, r, dns.RcodeRefused, metrics.OutcomeRefused)
		return
	}

	answers := s.resolver.Lookup(zone, name, q.Qtype)
	if len(answers) == 0 {
		s.refuse(w, r, dns.RcodeNameError, metrics.OutcomeNXDomain)
		return
	}

	msg := new(dns.Msg)
	msg.SetReply(r)
	msg.Authoritative = true
	msg.RecursionAvailable = false
	msg.Answer = answers

	if err := w.WriteMsg(msg); err != nil {
		s.logger.Error().
			Err(err).
			Msg("failed to write DNS response")
		return
	}
	metrics.DNSQueriesTotal.WithLabelValues(metrics.OutcomeAnswered).Inc()
}

// forward relays r to the public upstream and writes the answer back
func (s *Server) forward(w dns.ResponseWriter, r *dns.Msg) {
	resp, err := s.resolver.Forward(r)
	if err != nil {
		s.logger.Debug().
			Err(err).
			Msg("upstream forward failed")
		metrics.DNSForwardErrors.Inc()
		s.refuse(w, r, dns.RcodeServerFailure, metrics.OutcomeServFail)
		return
	}

	if err := w.WriteMsg(resp); err != nil {
		s.logger.Error().
			Err(err).
			Msg("failed to write forwarded response")
		return
	}
	metrics.DNSForwardedTotal.Inc()
	metrics.DNSQueriesTotal.WithLabelValues(metrics.OutcomeForwarded).Inc()
}

// refuse writes an answerless response with the given rcode
func (s *Server) refuse(w dns.ResponseWriter, r *dns.Msg, rcode int, outcome string) {
	msg := new(dns.Msg)
	msg.SetRcode(r, rcode)
	if rcode == dns.RcodeRefused || rcode == dns.RcodeNameError {
		msg.Authoritative = true
	}
	metrics.DNSQueriesTotal.WithLabelValues(outcome).Inc()
	if err := w.WriteMsg(msg); err != nil {
		s.logger.Error().
			Err(err).
			Msg("failed to write DNS error response")
	}
}

// peerCN extracts the verified client certificate CN from the TLS state
// of the connection behind w.
func peerCN(w dns.ResponseWriter) (string, bool) {
	cs, ok := w.(dns.ConnectionStater)
	if !ok {
		return "", false
	}
	state := cs.ConnectionState()
	if state == nil || len(state.PeerCertificates) == 0 {
		return "", false
	}
	cn := state.PeerCertificates[0].Subject.CommonName
	if cn == "" {
		return "", false
	}
	return cn, true
}

// IsRunning returns true if the server is running
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}
