package dns

import (
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"
	"github.com/rs/zerolog"

	"github.com/ztdns/gateway/pkg/log"
	"github.com/ztdns/gateway/pkg/types"
)

const (
	// answerTTL is the fixed TTL on authoritative answers. Zone data
	// changes only through the administrative API, so a short constant
	// keeps clients fresh without churn.
	answerTTL = 60

	// upstreamTimeout bounds the forwarded exchange
	upstreamTimeout = 2 * time.Second
)

// Resolver answers authoritative lookups within a matched zone and
// forwards everything else to the public upstream.
type Resolver struct {
	upstream string
	logger   zerolog.Logger
	client   *dns.Client
}

// NewResolver creates a resolver forwarding to the given upstream
func NewResolver(upstream string) *Resolver {
	return &Resolver{
		upstream: upstream,
		logger:   log.WithComponent("resolver"),
		client: &dns.Client{
			Net:     "udp",
			Timeout: upstreamTimeout,
		},
	}
}

// Lookup resolves name within zone. The label below the zone apex is
// looked up exactly first, then against the wildcard label. Supported
// answer types are A and CNAME; CNAME records are returned regardless of
// qtype, per normal DNS semantics.
func (r *Resolver) Lookup(zone *types.Zone, name string, qtype uint16) []dns.RR {
	label := types.ZoneLabel(name, zone.Name)

	records, ok := zone.Records[label]
	if !ok && label != types.LabelApex {
		records, ok = zone.Records[types.LabelWildcard]
	}
	if !ok {
		return nil
	}

	fqdn := dns.Fqdn(name)
	var answers []dns.RR
	for _, rec := range records {
		switch rec.Type {
		case types.RecordTypeA:
			if qtype != dns.TypeA && qtype != dns.TypeANY {
				continue
			}
			ip := net.ParseIP(rec.Value)
			if ip == nil || ip.To4() == nil {
				r.logger.Warn().
					Str("zone", zone.Name).
					Str("value", rec.Value).
					Msg("skipping A record with bad value")
				continue
			}
			answers = append(answers, &dns.A{
				Hdr: dns.RR_Header{
					Name:   fqdn,
					Rrtype: dns.TypeA,
					Class:  dns.ClassINET,
					Ttl:    answerTTL,
				},
				A: ip.To4(),
			})
		case types.RecordTypeCNAME:
			answers = append(answers, &dns.CNAME{
				Hdr: dns.RR_Header{
					Name:   fqdn,
					Rrtype: dns.TypeCNAME,
					Class:  dns.ClassINET,
					Ttl:    answerTTL,
				},
				Target: dns.Fqdn(rec.Value),
			})
		}
	}
	return answers
}

// Forward relays the query to the public upstream over plain UDP
func (r *Resolver) Forward(query *dns.Msg) (*dns.Msg, error) {
	resp, _, err := r.client.Exchange(query, r.upstream)
	if err != nil {
		return nil, fmt.Errorf("upstream %s: %w", r.upstream, err)
	}
	return resp, nil
}
