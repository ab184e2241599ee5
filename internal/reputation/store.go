// Package reputation checks extracted domains against the blacklist and whitelist held
// in the document store and records blacklist hits.
package reputation

import (
	"context"

	"firestige.xyz/dgawatch/internal/core"
)

// List names a reputation list.
type List string

const (
	Blacklist List = "blacklist"
	Whitelist List = "whitelist"
)

// Store is a reputation store.
type Store interface {
	// Members reports, for every name, whether list contains it. The result has an
	// entry for each input name.
	Members(ctx context.Context, list List, names []string) (core.Membership, error)
	// Audit appends blacklist hit records. Records are never read back.
	Audit(ctx context.Context, records []core.AuditRecord) error
	Close() error
}

// newMembership returns a result with every name set to false.
func newMembership(names []string) core.Membership {
	m := make(core.Membership, len(names))
	for _, n := range names {
		m[n] = false
	}
	return m
}
