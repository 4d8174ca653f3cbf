package proxy

import (
	"bytes"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"strings"
	"time"
)

// Hostname extracts a destination hostname from the initial bytes of a
// client stream. Three heuristics are tried in order:
//
//  1. an HTTP/1.x Host header, case-insensitive, anywhere in the buffer
//  2. the SNI of a TLS ClientHello, when the buffer starts a TLS record
//  3. a literal whole-label match of a known zone name against the
//     printable prefix of the buffer
//
// The buffer is only inspected; the caller replays it to the backend
// unchanged.
func Hostname(buf []byte, zones []string) string {
	if host := hostHeader(buf); host != "" {
		return host
	}
	if sni := clientHelloSNI(buf); sni != "" {
		return sni
	}
	return zoneLiteral(buf, zones)
}

// hostHeader scans for an HTTP/1.x Host header
func hostHeader(buf []byte) string {
	for _, line := range bytes.Split(buf, []byte("\r\n")) {
		if len(line) < 5 || !bytes.EqualFold(line[:5], []byte("host:")) {
			continue
		}
		host := strings.TrimSpace(string(line[5:]))
		if host == "" {
			return ""
		}
		// Strip a :port suffix; bracketed IPv6 literals keep theirs
		if h, _, err := net.SplitHostPort(host); err == nil {
			return h
		}
		return host
	}
	return ""
}

// errSNIPeeked aborts the throwaway handshake once the ClientHello is in
var errSNIPeeked = errors.New("sni peeked")

// clientHelloSNI extracts the SNI from a TLS ClientHello without
// terminating the inner TLS: the buffer is fed through a one-shot
// handshake that stops as soon as the hello is parsed.
func clientHelloSNI(buf []byte) string {
	// 0x16 = TLS handshake record
	if len(buf) < 5 || buf[0] != 0x16 {
		return ""
	}

	var sni string
	conn := tls.Server(readOnlyConn{r: bytes.NewReader(buf)}, &tls.Config{
		GetConfigForClient: func(hello *tls.ClientHelloInfo) (*tls.Config, error) {
			sni = hello.ServerName
			return nil, errSNIPeeked
		},
	})
	_ = conn.Handshake()
	return sni
}

// zoneLiteral looks for a known zone name in the printable prefix of the
// buffer. Matches must sit on label boundaries so that a zone name
// embedded in a longer hostname does not count.
func zoneLiteral(buf []byte, zones []string) string {
	prefix := strings.ToLower(string(printablePrefix(buf)))
	if prefix == "" {
		return ""
	}

	for _, zone := range zones {
		idx := 0
		for {
			i := strings.Index(prefix[idx:], zone)
			if i < 0 {
				break
			}
			start := idx + i
			end := start + len(zone)
			if boundaryBefore(prefix, start) && boundaryAfter(prefix, end) {
				return zone
			}
			idx = start + 1
		}
	}
	return ""
}

func printablePrefix(buf []byte) []byte {
	for i, b := range buf {
		if b >= 0x20 && b < 0x7f || b == '\r' || b == '\n' || b == '\t' {
			continue
		}
		return buf[:i]
	}
	return buf
}

func boundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	return !isHostChar(s[i-1]) && s[i-1] != '.'
}

func boundaryAfter(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	return !isHostChar(s[i]) && s[i] != '.'
}

func isHostChar(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9' || b == '-'
}

// readOnlyConn feeds a captured buffer into a throwaway TLS handshake.
// Writes fail so the handshake can never respond to the peer.
type readOnlyConn struct {
	r io.Reader
}

func (c readOnlyConn) Read(p []byte) (int, error)         { return c.r.Read(p) }
func (c readOnlyConn) Write(p []byte) (int, error)        { return 0, io.ErrClosedPipe }
func (c readOnlyConn) Close() error                       { return nil }
func (c readOnlyConn) LocalAddr() net.Addr                { return nil }
func (c readOnlyConn) RemoteAddr() net.Addr               { return nil }
func (c readOnlyConn) SetDeadline(t time.Time) error      { return nil }
func (c readOnlyConn) SetReadDeadline(t time.Time) error  { return nil }
func (c readOnlyConn) SetWriteDeadline(t time.Time) error { return nil }
