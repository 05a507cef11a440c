package model

import (
	"sort"
	"strings"

	"github.com/sells-group/relgraph/internal/normalize"
)

// Identity is the immutable set of addresses and domains that belong to the
// user. It is built once from configuration and passed by value.
type Identity struct {
	emails  map[string]struct{}
	domains map[string]struct{}
	primary string
}

// NewIdentity canonicalizes the given addresses and domains. The first
// address is the primary one.
func NewIdentity(emails, internalDomains []string) Identity {
	id := Identity{
		emails:  make(map[string]struct{}, len(emails)),
		domains: make(map[string]struct{}, len(internalDomains)),
	}
	for _, e := range emails {
		e = normalize.Email(e)
		if e == "" {
			continue
		}
		if id.primary == "" {
			id.primary = e
		}
		id.emails[e] = struct{}{}
	}
	for _, d := range internalDomains {
		d = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(d), "@"))
		if d != "" {
			id.domains[d] = struct{}{}
		}
	}
	return id
}

// IsMine reports whether addr is one of the user's addresses.
func (id Identity) IsMine(addr string) bool {
	_, ok := id.emails[normalize.Email(addr)]
	return ok
}

// IsInternal reports whether addr belongs to an internal domain.
func (id Identity) IsInternal(addr string) bool {
	d := normalize.Domain(addr)
	if d == "" {
		return false
	}
	_, ok := id.domains[d]
	return ok
}

// Primary returns the first configured address.
func (id Identity) Primary() string { return id.primary }

// Emails returns the user's addresses in sorted order.
func (id Identity) Emails() []string {
	out := make([]string, 0, len(id.emails))
	for e := range id.emails {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}
