package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ztdns/gateway/pkg/types"
)

const (
	// CA and endpoint certificate validity: 10 years
	caValidity   = 10 * 365 * 24 * time.Hour
	certValidity = 10 * 365 * 24 * time.Hour

	// All keys are 4096-bit RSA; credentials are long-lived
	keySize = 4096

	// caCommonName is the subject CN of the trust anchor
	caCommonName = "ZeroTrust CA"

	// ServerName is the CN and DNS SAN of the gateway's server
	// certificate; endpoints pin it during TLS verification.
	ServerName = "dns-server"
)

// CertAuthority manages the gateway's certificate authority: the
// self-signed root, the gateway's own server certificate, and the
// per-endpoint credentials issued from it.
type CertAuthority struct {
	certDir string

	mu         sync.RWMutex
	caCert     *x509.Certificate
	caKey      *rsa.PrivateKey
	serverCert *tls.Certificate
}

// IssuedCert is the credential triple returned for a new endpoint
type IssuedCert struct {
	CN      string
	CertPEM []byte
	KeyPEM  []byte
	CAPEM   []byte
}

// NewCertAuthority creates a certificate authority rooted in
// <dataDir>/certs
func NewCertAuthority(dataDir string) *CertAuthority {
	return &CertAuthority{
		certDir: filepath.Join(dataDir, "certs"),
	}
}

// Bootstrap loads or generates the CA material. The CA pair is generated
// once; the server certificate is regenerated whenever it is missing or
// its SANs no longer cover externalAddr. Credential errors here are fatal
// to the caller: the gateway refuses to serve without a trust anchor.
func (ca *CertAuthority) Bootstrap(externalAddr string) error {
	ca.mu.Lock()
	defer ca.mu.Unlock()

	if err := os.MkdirAll(ca.certDir, 0700); err != nil {
		return fmt.Errorf("failed to create cert directory: %w", err)
	}

	if err := ca.loadOrGenerateCA(); err != nil {
		return err
	}
	return ca.ensureServerCert(externalAddr)
}

func (ca *CertAuthority) loadOrGenerateCA() error {
	certPath := filepath.Join(ca.certDir, "ca.crt")
	keyPath := filepath.Join(ca.certDir, "ca.key")

	if fileExists(certPath) && fileExists(keyPath) {
		cert, key, err := loadCertAndKey(certPath, keyPath)
		if err != nil {
			return fmt.Errorf("failed to load CA material: %w", err)
		}
		ca.caCert = cert
		ca.caKey = key
		return nil
	}

	key, err := rsa.GenerateKey(rand.Reader, keySize)
	if err != nil {
		return fmt.Errorf("failed to generate CA key: %w", err)
	}

	serial, err := newSerial()
	if err != nil {
		return err
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName: caCommonName,
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(caValidity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		IsCA:                  true,
		BasicConstraintsValid: true,
		MaxPathLenZero:        true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return fmt.Errorf("failed to create CA certificate: %w", err)
	}

	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return fmt.Errorf("failed to parse CA certificate: %w", err)
	}

	if err := saveCert(certPath, certDER); err != nil {
		return err
	}
	if err := saveKey(keyPath, key); err != nil {
		return err
	}

	ca.caCert = cert
	ca.caKey = key
	return nil
}

// ensureServerCert regenerates the gateway's server certificate when it
// is absent or its SANs do not include the current external address.
// Caller holds the lock.
func (ca *CertAuthority) ensureServerCert(externalAddr string) error {
	certPath := filepath.Join(ca.certDir, "server.crt")
	keyPath := filepath.Join(ca.certDir, "server.key")

	if fileExists(certPath) && fileExists(keyPath) {
		cert, key, err := loadCertAndKey(certPath, keyPath)
		if err == nil && serverCertCovers(cert, externalAddr) {
			ca.serverCert = &tls.Certificate{
				Certificate: [][]byte{cert.Raw},
				PrivateKey:  key,
				Leaf:        cert,
			}
			return nil
		}
	}

	key, err := rsa.GenerateKey(rand.Reader, keySize)
	if err != nil {
		return fmt.Errorf("failed to generate server key: %w", err)
	}

	serial, err := newSerial()
	if err != nil {
		return err
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName: ServerName,
		},
		NotBefore:   time.Now(),
		NotAfter:    time.Now().Add(certValidity),
		KeyUsage:    x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:    []string{ServerName},
	}
	if ip := net.ParseIP(externalAddr); ip != nil {
		template.IPAddresses = []net.IP{ip}
	} else if externalAddr != "" {
		template.DNSNames = append(template.DNSNames, externalAddr)
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, ca.caCert, &key.PublicKey, ca.caKey)
	if err != nil {
		return fmt.Errorf("failed to create server certificate: %w", err)
	}

	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return fmt.Errorf("failed to parse server certificate: %w", err)
	}

	if err := saveCert(certPath, certDER); err != nil {
		return err
	}
	if err := saveKey(keyPath, key); err != nil {
		return err
	}

	ca.serverCert = &tls.Certificate{
		Certificate: [][]byte{certDER},
		PrivateKey:  key,
		Leaf:        cert,
	}
	return nil
}

// serverCertCovers reports whether cert's SANs include addr
func serverCertCovers(cert *x509.Certificate, addr string) bool {
	if ip := net.ParseIP(addr); ip != nil {
		for _, san := range cert.IPAddresses {
			if san.Equal(ip) {
				return true
			}
		}
		return false
	}
	for _, san := range cert.DNSNames {
		if san == addr {
			return true
		}
	}
	return false
}

// NewCN derives a fresh endpoint CN for the role: 'c' or 's' followed by
// 12 lower-case hex characters.
func NewCN(role types.EndpointRole) (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate CN: %w", err)
	}
	prefix := "c"
	if role == types.EndpointRoleService {
		prefix = "s"
	}
	return prefix + hex.EncodeToString(buf), nil
}

// IssueEndpointCertificate generates a key pair and CSR for a new
// endpoint, signs it with the CA, and persists the pair under the cert
// directory. The caller registers the endpoint in the store; on store
// failure it must call RemoveEndpointCertificate so issuance and
// registration stay atomic.
func (ca *CertAuthority) IssueEndpointCertificate(role types.EndpointRole, name string) (*IssuedCert, error) {
	ca.mu.Lock()
	defer ca.mu.Unlock()

	if ca.caCert == nil || ca.caKey == nil {
		return nil, fmt.Errorf("CA not initialized")
	}

	cn, err := NewCN(role)
	if err != nil {
		return nil, err
	}

	key, err := rsa.GenerateKey(rand.Reader, keySize)
	if err != nil {
		return nil, fmt.Errorf("failed to generate endpoint key: %w", err)
	}

	// Mirror the openssl req → x509 -req flow: build a CSR, then sign
	// a certificate from its subject and public key.
	csrDER, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{
		Subject: pkix.Name{
			CommonName:   cn,
			Organization: []string{fmt.Sprintf("%s-%s", titleRole(role), name)},
		},
	}, key)
	if err != nil {
		return nil, fmt.Errorf("failed to create CSR: %w", err)
	}

	csr, err := x509.ParseCertificateRequest(csrDER)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CSR: %w", err)
	}
	if err := csr.CheckSignature(); err != nil {
		return nil, fmt.Errorf("CSR signature check failed: %w", err)
	}

	serial, err := newSerial()
	if err != nil {
		return nil, err
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      csr.Subject,
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(certValidity),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	if role == types.EndpointRoleService {
		template.ExtKeyUsage = append(template.ExtKeyUsage, x509.ExtKeyUsageServerAuth)
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, ca.caCert, csr.PublicKey, ca.caKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign endpoint certificate: %w", err)
	}

	certPath := filepath.Join(ca.certDir, cn+".crt")
	keyPath := filepath.Join(ca.certDir, cn+".key")
	if err := saveCert(certPath, certDER); err != nil {
		return nil, err
	}
	if err := saveKey(keyPath, key); err != nil {
		os.Remove(certPath)
		return nil, err
	}

	return &IssuedCert{
		CN:      cn,
		CertPEM: encodeCertPEM(certDER),
		KeyPEM:  encodeKeyPEM(key),
		CAPEM:   encodeCertPEM(ca.caCert.Raw),
	}, nil
}

// RemoveEndpointCertificate deletes the persisted pair for cn. Used both
// by endpoint deletion and to unwind a failed registration.
func (ca *CertAuthority) RemoveEndpointCertificate(cn string) error {
	ca.mu.Lock()
	defer ca.mu.Unlock()

	var firstErr error
	for _, path := range []string{
		filepath.Join(ca.certDir, cn+".crt"),
		filepath.Join(ca.certDir, cn+".key"),
	} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// EndpointCertPEM returns the persisted certificate and key PEM for cn
func (ca *CertAuthority) EndpointCertPEM(cn string) (certPEM, keyPEM []byte, err error) {
	ca.mu.RLock()
	defer ca.mu.RUnlock()

	certPEM, err = os.ReadFile(filepath.Join(ca.certDir, cn+".crt"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read endpoint certificate: %w", err)
	}
	keyPEM, err = os.ReadFile(filepath.Join(ca.certDir, cn+".key"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read endpoint key: %w", err)
	}
	return certPEM, keyPEM, nil
}

// CACert returns the trust anchor certificate
func (ca *CertAuthority) CACert() *x509.Certificate {
	ca.mu.RLock()
	defer ca.mu.RUnlock()
	return ca.caCert
}

// CAKey returns the CA private key; the signed-configuration module signs
// tokens with it.
func (ca *CertAuthority) CAKey() *rsa.PrivateKey {
	ca.mu.RLock()
	defer ca.mu.RUnlock()
	return ca.caKey
}

// CACertPEM returns the trust anchor in PEM form for bundling
func (ca *CertAuthority) CACertPEM() []byte {
	ca.mu.RLock()
	defer ca.mu.RUnlock()
	if ca.caCert == nil {
		return nil
	}
	return encodeCertPEM(ca.caCert.Raw)
}

// CertPool returns a pool holding only the CA certificate; it is the
// single trust anchor for every mTLS listener.
func (ca *CertAuthority) CertPool() *x509.CertPool {
	ca.mu.RLock()
	defer ca.mu.RUnlock()

	pool := x509.NewCertPool()
	if ca.caCert != nil {
		pool.AddCert(ca.caCert)
	}
	return pool
}

// ServerTLSConfig builds the mTLS config shared by the resolver and
// proxy listeners: our server certificate, and client certificates
// required and verified against the CA pool.
func (ca *CertAuthority) ServerTLSConfig() *tls.Config {
	ca.mu.RLock()
	defer ca.mu.RUnlock()

	return &tls.Config{
		Certificates: []tls.Certificate{*ca.serverCert},
		ClientCAs:    ca.certPoolLocked(),
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS12,
	}
}

func (ca *CertAuthority) certPoolLocked() *x509.CertPool {
	pool := x509.NewCertPool()
	if ca.caCert != nil {
		pool.AddCert(ca.caCert)
	}
	return pool
}

// IsInitialized returns true if the CA material is loaded
func (ca *CertAuthority) IsInitialized() bool {
	ca.mu.RLock()
	defer ca.mu.RUnlock()
	return ca.caCert != nil && ca.caKey != nil && ca.serverCert != nil
}

func newSerial() (*big.Int, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}
	return serial, nil
}

func titleRole(role types.EndpointRole) string {
	if role == types.EndpointRoleService {
		return "Service"
	}
	return "Client"
}
