package endpoint

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ztdns/gateway/pkg/security"
	"github.com/ztdns/gateway/pkg/sigconf"
	"github.com/ztdns/gateway/pkg/types"
)

// Runtime is the endpoint-side state: the verified configuration and
// the mTLS client config used for every connection to the gateway.
type Runtime struct {
	payload   *sigconf.Payload
	tlsConfig *tls.Config
}

// Load reads and verifies the deployment bundle contents in dir. The
// signed configuration is checked against the bundled CA certificate
// before anything else happens; a corrupt, forged, or expired token
// means no socket is ever opened.
func Load(dir string) (*Runtime, error) {
	token, err := os.ReadFile(filepath.Join(dir, "config.zt"))
	if err != nil {
		return nil, fmt.Errorf("failed to read config.zt: %w", err)
	}

	caPEM, err := os.ReadFile(filepath.Join(dir, "ca.crt"))
	if err != nil {
		return nil, fmt.Errorf("failed to read ca.crt: %w", err)
	}
	caCert, err := security.ParseCertPEM(caPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ca.crt: %w", err)
	}

	payload, err := sigconf.Verify(string(token), caCert)
	if err != nil {
		return nil, fmt.Errorf("configuration rejected: %w", err)
	}

	cert, err := tls.LoadX509KeyPair(
		filepath.Join(dir, "endpoint.crt"),
		filepath.Join(dir, "endpoint.key"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load endpoint credentials: %w", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("no CA certificate in ca.crt")
	}

	return &Runtime{
		payload: payload,
		tlsConfig: &tls.Config{
			Certificates: []tls.Certificate{cert},
			RootCAs:      pool,
			ServerName:   payload.ServerName,
			MinVersion:   tls.VersionTLS12,
		},
	}, nil
}

// Payload returns the verified configuration
func (r *Runtime) Payload() *sigconf.Payload {
	return r.payload
}

// TLSConfig returns the mTLS client config for gateway connections
func (r *Runtime) TLSConfig() *tls.Config {
	return r.tlsConfig
}

// IsService reports whether this endpoint runs in the service role
func (r *Runtime) IsService() bool {
	return r.payload.Type == string(types.EndpointRoleService)
}
