package dns

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"

	"github.com/ztdns/gateway/pkg/security"
	"github.com/ztdns/gateway/pkg/storage"
	"github.com/ztdns/gateway/pkg/types"
)

// testHarness is a running DoT server with a CA and a registered client
type testHarness struct {
	store  *storage.FileStore
	ca     *security.CertAuthority
	server *Server
	cn     string
	tlsCfg *tls.Config
}

func newHarness(t *testing.T, upstream string) *testHarness {
	t.Helper()

	dir := t.TempDir()

	store, err := storage.NewFileStore(dir)
	require.NoError(t, err)

	ca := security.NewCertAuthority(dir)
	require.NoError(t, ca.Bootstrap("127.0.0.1"))

	issued, err := ca.IssueEndpointCertificate(types.EndpointRoleClient, "alice")
	require.NoError(t, err)
	require.NoError(t, store.CreateEndpoint(&types.Endpoint{
		CN:        issued.CN,
		Name:      "alice",
		Role:      types.EndpointRoleClient,
		Platform:  "linux-x64",
		CreatedAt: time.Now().UTC(),
	}))

	server := NewServer(store, &Config{
		ListenAddr: "127.0.0.1:0",
		Upstream:   upstream,
		TLSConfig:  ca.ServerTLSConfig(),
	})
	require.NoError(t, server.Start(context.Background()))
	t.Cleanup(func() { server.Stop() })

	cert, err := tls.X509KeyPair(issued.CertPEM, issued.KeyPEM)
	require.NoError(t, err)
	pool := x509.NewCertPool()
	require.True(t, pool.AppendCertsFromPEM(issued.CAPEM))

	return &testHarness{
		store:  store,
		ca:     ca,
		server: server,
		cn:     issued.CN,
		tlsCfg: &tls.Config{
			Certificates: []tls.Certificate{cert},
			RootCAs:      pool,
			ServerName:   security.ServerName,
			MinVersion:   tls.VersionTLS12,
		},
	}
}

func (h *testHarness) addZone(t *testing.T, allowed ...string) {
	t.Helper()

	zone := &types.Zone{
		Name: "db.internal.corp",
		Records: map[string][]types.Record{
			"@":       {{Type: types.RecordTypeA, Value: "203.0.113.7"}},
			"replica": {{Type: types.RecordTypeA, Value: "203.0.113.7"}},
			"*":       {{Type: types.RecordTypeA, Value: "203.0.113.8"}},
		},
		AllowedEndpoints: allowed,
	}
	require.NoError(t, h.store.CreateZone(zone))
}

func (h *testHarness) exchange(t *testing.T, name string, qtype uint16) (*dns.Msg, error) {
	t.Helper()

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), qtype)

	client := &dns.Client{
		Net:       "tcp-tls",
		TLSConfig: h.tlsCfg,
		Timeout:   3 * time.Second,
	}
	resp, _, err := client.Exchange(m, h.server.Addr())
	return resp, err
}

func TestAuthorizedQueryAnswered(t *testing.T) {
	h := newHarness(t, DefaultUpstream)
	h.addZone(t, h.cn)

	resp, err := h.exchange(t, "db.internal.corp", dns.TypeA)
	require.NoError(t, err)
	require.Equal(t, dns.RcodeSuccess, resp.Rcode)
	require.True(t, resp.Authoritative)
	require.False(t, resp.RecursionAvailable)
	require.Len(t, resp.Answer, 1)

	a, ok := resp.Answer[0].(*dns.A)
	require.True(t, ok)
	require.Equal(t, "203.0.113.7", a.A.String())
}

func TestWildcardAndLiteral(t *testing.T) {
	h := newHarness(t, DefaultUpstream)
	h.addZone(t, h.cn)

	resp, err := h.exchange(t, "replica.db.internal.corp", dns.TypeA)
	require.NoError(t, err)
	require.Len(t, resp.Answer, 1)
	require.Equal(t, "203.0.113.7", resp.Answer[0].(*dns.A).A.String())

	resp, err = h.exchange(t, "other.db.internal.corp", dns.TypeA)
	require.NoError(t, err)
	require.Len(t, resp.Answer, 1)
	require.Equal(t, "203.0.113.8", resp.Answer[0].(*dns.A).A.String())
}

func TestUnauthorizedQueryRefused(t *testing.T) {
	h := newHarness(t, DefaultUpstream)
	h.addZone(t) // empty access list

	resp, err := h.exchange(t, "db.internal.corp", dns.TypeA)
	require.NoError(t, err)
	require.Equal(t, dns.RcodeRefused, resp.Rcode)
	require.Empty(t, resp.Answer)
}

func TestMissingRecordNXDomain(t *testing.T) {
	h := newHarness(t, DefaultUpstream)

	zone := &types.Zone{
		Name: "db.internal.corp",
		Records: map[string][]types.Record{
			"@": {{Type: types.RecordTypeA, Value: "203.0.113.7"}},
		},
		AllowedEndpoints: []string{h.cn},
	}
	require.NoError(t, h.store.CreateZone(zone))

	resp, err := h.exchange(t, "missing.db.internal.corp", dns.TypeA)
	require.NoError(t, err)
	require.Equal(t, dns.RcodeNameError, resp.Rcode)
}

func TestUnknownCNDropped(t *testing.T) {
	h := newHarness(t, DefaultUpstream)
	h.addZone(t, h.cn)

	// A certificate from the same CA whose CN was never registered
	issued, err := h.ca.IssueEndpointCertificate(types.EndpointRoleClient, "mallory")
	require.NoError(t, err)

	cert, err := tls.X509KeyPair(issued.CertPEM, issued.KeyPEM)
	require.NoError(t, err)
	pool := x509.NewCertPool()
	require.True(t, pool.AppendCertsFromPEM(issued.CAPEM))

	m := new(dns.Msg)
	m.SetQuestion("db.internal.corp.", dns.TypeA)
	client := &dns.Client{
		Net: "tcp-tls",
		TLSConfig: &tls.Config{
			Certificates: []tls.Certificate{cert},
			RootCAs:      pool,
			ServerName:   security.ServerName,
			MinVersion:   tls.VersionTLS12,
		},
		Timeout: 2 * time.Second,
	}

	_, _, err = client.Exchange(m, h.server.Addr())
	require.Error(t, err, "connection should be dropped without a response")
}

func TestNoClientCertRejected(t *testing.T) {
	h := newHarness(t, DefaultUpstream)

	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(h.ca.CACertPEM())

	conn, err := tls.Dial("tcp", h.server.Addr(), &tls.Config{
		RootCAs:    pool,
		ServerName: security.ServerName,
		MinVersion: tls.VersionTLS12,
	})
	if err != nil {
		// TLS 1.2 servers reject during the handshake
		return
	}
	defer conn.Close()

	// Under TLS 1.3 the missing certificate surfaces on first use
	conn.SetDeadline(time.Now().Add(2 * time.Second))
	_, err = conn.Write([]byte{0, 1, 0})
	if err == nil {
		buf := make([]byte, 2)
		_, err = conn.Read(buf)
	}
	require.Error(t, err)
}

func TestForwardToUpstream(t *testing.T) {
	upstream := startUpstream(t)

	h := newHarness(t, upstream)
	h.addZone(t, h.cn)

	resp, err := h.exchange(t, "example.com", dns.TypeA)
	require.NoError(t, err)
	require.Equal(t, dns.RcodeSuccess, resp.Rcode)
	require.Len(t, resp.Answer, 1)
	require.Equal(t, "93.184.216.34", resp.Answer[0].(*dns.A).A.String())
}

func TestForwardFailureServfail(t *testing.T) {
	// An upstream nobody answers on
	h := newHarness(t, "127.0.0.1:1")
	h.addZone(t, h.cn)

	resp, err := h.exchange(t, "example.com", dns.TypeA)
	require.NoError(t, err)
	require.Equal(t, dns.RcodeServerFailure, resp.Rcode)
}

// startUpstream runs a plain UDP DNS server answering example.com
func startUpstream(t *testing.T) string {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	mux := dns.NewServeMux()
	mux.HandleFunc(".", func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(r)
		m.Answer = append(m.Answer, &dns.A{
			Hdr: dns.RR_Header{
				Name:   r.Question[0].Name,
				Rrtype: dns.TypeA,
				Class:  dns.ClassINET,
				Ttl:    300,
			},
			A: net.ParseIP("93.184.216.34").To4(),
		})
		w.WriteMsg(m)
	})

	server := &dns.Server{PacketConn: pc, Handler: mux}
	go server.ActivateAndServe()
	t.Cleanup(func() { server.Shutdown() })

	return pc.LocalAddr().String()
}
