/*
Package security implements the gateway's certificate authority.

The CA is the single trust anchor for both mTLS listeners. On first start
it generates a 4096-bit RSA root (CN "ZeroTrust CA", 10-year validity) and
persists it as certs/ca.crt and certs/ca.key. The gateway's own server
certificate (CN "dns-server") is signed by the root and regenerated
whenever its SANs stop covering the gateway's external address.

# Endpoint Issuance

	request (role, name)        certs/ on disk
	        │                        │
	        ▼                        │
	  derive CN c|s + 12 hex         │
	  4096-bit key + CSR             │
	  sign with CA, 10 years  ──►  <cn>.crt, <cn>.key
	        │
	        ▼
	  IssuedCert{CN, CertPEM, KeyPEM, CAPEM}

Issuance is atomic with endpoint registration: the caller removes the
persisted pair (RemoveEndpointCertificate) when the data store rejects
the registration, so a certificate never exists without its endpoint
record or vice versa.

ServerTLSConfig is shared by the DNS-over-TLS resolver and the transport
proxy: TLS 1.2 minimum, the gateway server certificate, and client
certificates required and verified against the CA pool. There are no
intermediate CAs and no revocation lists; deleting an endpoint removes
its record, which is what actually revokes access.
*/
package security
