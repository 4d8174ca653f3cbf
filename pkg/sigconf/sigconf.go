package sigconf

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Token verification failures callers can test with errors.Is
var (
	ErrMalformed    = errors.New("malformed token")
	ErrBadSignature = errors.New("signature mismatch")
	ErrExpired      = errors.New("configuration expired")
)

// Payload is the configuration bound to an endpoint: where the gateway
// listens, the server name to pin in TLS verification, the endpoint's
// role, and (for services) its authoritative domains.
type Payload struct {
	Server     string    `json:"server"`
	Proxy      string    `json:"proxy"`
	ServerName string    `json:"server_name"`
	Type       string    `json:"type"`
	Domains    []string  `json:"domains,omitempty"`
	Expires    time.Time `json:"expires"`
}

// Sign serializes the payload and signs it with the CA key. The token is
// two base64url parts, payload then RSA-SHA256 signature, joined with a
// dot so the verifier can extract each independently.
func Sign(payload *Payload, caKey *rsa.PrivateKey) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	digest := sha256.Sum256(data)
	sig, err := rsa.SignPKCS1v15(rand.Reader, caKey, crypto.SHA256, digest[:])
	if err != nil {
		return "", fmt.Errorf("failed to sign payload: %w", err)
	}

	enc := base64.RawURLEncoding
	return enc.EncodeToString(data) + "." + enc.EncodeToString(sig), nil
}

// Verify checks the token against the CA certificate's public key and
// the payload expiry. Any corruption of either part, a signature
// mismatch, or an expired payload fails verification; the endpoint must
// refuse to open sockets on failure.
func Verify(token string, caCert *x509.Certificate) (*Payload, error) {
	parts := strings.Split(strings.TrimSpace(token), ".")
	if len(parts) != 2 {
		return nil, ErrMalformed
	}

	enc := base64.RawURLEncoding.Strict()
	data, err := enc.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	sig, err := enc.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	pub, ok := caCert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("CA public key is not RSA")
	}

	digest := sha256.Sum256(data)
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig); err != nil {
		return nil, ErrBadSignature
	}

	var payload Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if payload.Expires.IsZero() || time.Now().After(payload.Expires) {
		return nil, ErrExpired
	}

	return &payload, nil
}
