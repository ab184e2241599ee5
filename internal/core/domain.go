package core

import (
	"sort"
	"time"
)

// DomainBatch maps a queried domain name to the DNS response code it was seen with.
type DomainBatch struct {
	Domains    map[string]int
	CapturedAt time.Time // earliest capture timestamp that contributed to the batch
}

// NewDomainBatch allocates an empty batch sized for hint entries.
func NewDomainBatch(hint int) DomainBatch {
	return DomainBatch{Domains: make(map[string]int, hint)}
}

// Add records name with rcode. A later sighting of the same name overwrites the code.
func (b *DomainBatch) Add(name string, rcode int, at time.Time) {
	if b.Domains == nil {
		b.Domains = make(map[string]int)
	}
	b.Domains[name] = rcode
	if b.CapturedAt.IsZero() || (!at.IsZero() && at.Before(b.CapturedAt)) {
		b.CapturedAt = at
	}
}

// Len returns the number of distinct names.
func (b *DomainBatch) Len() int { return len(b.Domains) }

// Names returns the distinct names in lexical order.
func (b *DomainBatch) Names() []string {
	names := make([]string, 0, len(b.Domains))
	for name := range b.Domains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Membership is the per-name result of one reputation list query.
type Membership map[string]bool

// Verdict classifies a domain after both list lookups.
type Verdict uint8

const (
	VerdictUnlisted Verdict = iota
	VerdictBlacklisted
	VerdictWhitelisted
)

func (v Verdict) String() string {
	switch v {
	case VerdictBlacklisted:
		return "blacklisted"
	case VerdictWhitelisted:
		return "whitelisted"
	default:
		return "unlisted"
	}
}

// OutcomeBatch carries the actionable domains of one lookup batch to the publisher.
type OutcomeBatch struct {
	Verdict    Verdict
	Domains    map[string]int
	CapturedAt time.Time
	LookedUpAt time.Time
}

// AuditRecord is written to the results collection for every blacklist hit. ID is
// assigned once per hit so a retried write stores it only once.
type AuditRecord struct {
	ID        string    `bson:"_id,omitempty" json:"id,omitempty"`
	Domain    string    `bson:"domain" json:"domain"`
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
}
