/*
Package dns implements the gateway's DNS-over-TLS resolver.

The resolver listens on port 853 behind mutual TLS: the server
certificate comes from the gateway CA and client certificates are
required and verified against the same CA. An authenticated peer is
identified solely by its certificate CN.

# Query Flow

	mTLS handshake ── CN unknown ──► drop connection
	      │
	      ▼
	parse query (first question only, ≤ 4096 bytes)
	      │
	      ▼
	longest-suffix zone match
	      │
	  ┌───┴────────────────┐
	  ▼                    ▼
	private zone        no match
	  │                    │
	  ├─ CN not in ACL ──► REFUSED          forward to upstream
	  ├─ label/wildcard hit ──► A/CNAME      (1.1.1.1:53 UDP, 2 s)
	  └─ no record ──► NXDOMAIN              failure ──► SERVFAIL

REFUSED for unauthorized peers is deliberate information hiding: the
peer learns only that it is unauthorized, never whether the zone exists.
Authoritative answers mirror the query id with QR=1, AA=1, RA=0 and a
fixed 60-second TTL. A wildcard "*" label answers labels without an
exact record; the "@" label answers the zone apex.

The listener follows RFC 7858 framing (the dns library handles the
two-byte length prefix) and treats every authenticated CN identically;
service endpoints that prefer public resolution implement that on the
endpoint side.
*/
package dns
