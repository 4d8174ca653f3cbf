package endpoint

import (
	"context"
	"fmt"
	"time"

	"github.com/miekg/dns"
	"github.com/rs/zerolog"

	"github.com/ztdns/gateway/pkg/log"
)

const (
	// publicUpstream is tried first by service-role endpoints, which
	// mostly resolve public names from the backend side of the gateway
	publicUpstream = "1.1.1.1:53"

	publicTimeout = 2 * time.Second
	dotTimeout    = 5 * time.Second
)

// listenAddrs are tried in order; port 53 needs root, 5353 does not
var listenAddrs = []string{"127.0.0.1:53", "127.0.0.1:5353"}

// Forwarder is the endpoint's local DNS server. Applications point
// their resolver at 127.0.0.1 and every query is relayed to the gateway
// over mutually-authenticated DoT (service endpoints try public DNS
// first).
type Forwarder struct {
	runtime   *Runtime
	logger    zerolog.Logger
	dnsServer *dns.Server
	public    *dns.Client
	dot       *dns.Client
}

// NewForwarder creates the local forwarder for a loaded runtime
func NewForwarder(rt *Runtime) *Forwarder {
	return &Forwarder{
		runtime: rt,
		logger:  log.WithComponent("endpoint"),
		public: &dns.Client{
			Net:     "udp",
			Timeout: publicTimeout,
		},
		dot: &dns.Client{
			Net:       "tcp-tls",
			TLSConfig: rt.TLSConfig(),
			Timeout:   dotTimeout,
		},
	}
}

// Start binds the local DNS listener, preferring port 53 and falling
// back to 5353, and serves until ctx is cancelled.
func (f *Forwarder) Start(ctx context.Context) error {
	mux := dns.NewServeMux()
	mux.HandleFunc(".", f.handleQuery)

	var lastErr error
	for _, addr := range listenAddrs {
		started := make(chan struct{})
		server := &dns.Server{
			Addr:              addr,
			Net:               "udp",
			Handler:           mux,
			NotifyStartedFunc: func() { close(started) },
		}

		errCh := make(chan error, 1)
		go func() {
			errCh <- server.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			lastErr = err
			continue
		case <-started:
			if addr != listenAddrs[0] {
				f.logger.Warn().
					Str("address", addr).
					Msg("could not bind port 53, using fallback (run as root for 53)")
			}
			f.logger.Info().
				Str("address", addr).
				Msg("local DNS forwarder started")
			f.dnsServer = server

			go func() {
				<-ctx.Done()
				f.Stop()
			}()
			return nil
		}
	}

	return fmt.Errorf("failed to bind any local DNS port: %w", lastErr)
}

// Stop shuts the local listener down
func (f *Forwarder) Stop() error {
	if f.dnsServer == nil {
		return nil
	}
	return f.dnsServer.Shutdown()
}

// handleQuery relays one query. Service endpoints try public DNS first;
// everything else (and every public failure) goes to the gateway over
// DoT.
func (f *Forwarder) handleQuery(w dns.ResponseWriter, r *dns.Msg) {
	if f.runtime.IsService() {
		if resp, _, err := f.public.Exchange(r, publicUpstream); err == nil && resp != nil {
			w.WriteMsg(resp)
			return
		}
	}

	resp, _, err := f.dot.Exchange(r, f.runtime.Payload().Server)
	if err != nil {
		f.logger.Debug().
			Err(err).
			Msg("gateway DoT exchange failed")
		msg := new(dns.Msg)
		msg.SetRcode(r, dns.RcodeServerFailure)
		w.WriteMsg(msg)
		return
	}

	w.WriteMsg(resp)
}
