package dns

import (
	"testing"

	"github.com/miekg/dns"

	"github.com/ztdns/gateway/pkg/types"
)

func testZone() *types.Zone {
	return &types.Zone{
		Name: "db.internal.corp",
		Records: map[string][]types.Record{
			"@":       {{Type: types.RecordTypeA, Value: "203.0.113.7"}},
			"replica": {{Type: types.RecordTypeA, Value: "203.0.113.7"}},
			"*":       {{Type: types.RecordTypeA, Value: "203.0.113.8"}},
			"alias":   {{Type: types.RecordTypeCNAME, Value: "db.internal.corp"}},
		},
		AllowedEndpoints: []string{"c3fa91b20d84aa"},
	}
}

func TestLookupApex(t *testing.T) {
	r := NewResolver(DefaultUpstream)

	answers := r.Lookup(testZone(), "db.internal.corp", dns.TypeA)
	if len(answers) != 1 {
		t.Fatalf("expected one answer, got %d", len(answers))
	}

	a, ok := answers[0].(*dns.A)
	if !ok {
		t.Fatalf("expected A record, got %T", answers[0])
	}
	if a.A.String() != "203.0.113.7" {
		t.Errorf("A = %s", a.A)
	}
	if a.Hdr.Ttl != answerTTL {
		t.Errorf("TTL = %d, want %d", a.Hdr.Ttl, answerTTL)
	}
	if a.Hdr.Name != "db.internal.corp." {
		t.Errorf("answer name = %q", a.Hdr.Name)
	}
}

func TestLookupLiteralBeatsWildcard(t *testing.T) {
	r := NewResolver(DefaultUpstream)
	zone := testZone()

	// The literal label wins
	answers := r.Lookup(zone, "replica.db.internal.corp", dns.TypeA)
	if len(answers) != 1 {
		t.Fatalf("expected one answer, got %d", len(answers))
	}
	if a := answers[0].(*dns.A); a.A.String() != "203.0.113.7" {
		t.Errorf("literal label answered %s", a.A)
	}

	// An unmatched label falls through to the wildcard
	answers = r.Lookup(zone, "other.db.internal.corp", dns.TypeA)
	if len(answers) != 1 {
		t.Fatalf("expected wildcard answer, got %d", len(answers))
	}
	if a := answers[0].(*dns.A); a.A.String() != "203.0.113.8" {
		t.Errorf("wildcard answered %s", a.A)
	}
}

func TestLookupApexDoesNotUseWildcard(t *testing.T) {
	r := NewResolver(DefaultUpstream)

	zone := testZone()
	delete(zone.Records, "@")

	if answers := r.Lookup(zone, "db.internal.corp", dns.TypeA); len(answers) != 0 {
		t.Errorf("apex should not fall through to wildcard, got %v", answers)
	}
}

func TestLookupCNAME(t *testing.T) {
	r := NewResolver(DefaultUpstream)

	// CNAME is returned even for an A query
	answers := r.Lookup(testZone(), "alias.db.internal.corp", dns.TypeA)
	if len(answers) != 1 {
		t.Fatalf("expected one answer, got %d", len(answers))
	}
	cname, ok := answers[0].(*dns.CNAME)
	if !ok {
		t.Fatalf("expected CNAME, got %T", answers[0])
	}
	if cname.Target != "db.internal.corp." {
		t.Errorf("CNAME target = %q, want trailing dot form", cname.Target)
	}
}

func TestLookupQtypeFilter(t *testing.T) {
	r := NewResolver(DefaultUpstream)

	// AAAA query for an A-only label yields nothing
	if answers := r.Lookup(testZone(), "replica.db.internal.corp", dns.TypeAAAA); len(answers) != 0 {
		t.Errorf("AAAA query should not return A records, got %v", answers)
	}
}

func TestLookupMissingLabel(t *testing.T) {
	r := NewResolver(DefaultUpstream)

	zone := testZone()
	delete(zone.Records, "*")

	if answers := r.Lookup(zone, "missing.db.internal.corp", dns.TypeA); len(answers) != 0 {
		t.Errorf("expected no answers, got %v", answers)
	}
}

func TestLookupSkipsBadARecord(t *testing.T) {
	r := NewResolver(DefaultUpstream)

	zone := testZone()
	zone.Records["bad"] = []types.Record{{Type: types.RecordTypeA, Value: "not-an-ip"}}

	if answers := r.Lookup(zone, "bad.db.internal.corp", dns.TypeA); len(answers) != 0 {
		t.Errorf("bad record value should be skipped, got %v", answers)
	}
}
