// Package prioritize selects and orders the contacts worth enriching.
package prioritize

import (
	"sort"
	"strings"

	"github.com/sells-group/relgraph/internal/model"
	"github.com/sells-group/relgraph/internal/normalize"
)

// Exclusion reason codes, in the order they are checked.
const (
	ReasonAlreadyExtracted = "already_extracted"
	ReasonMine             = "mine"
	ReasonInternal         = "internal_domain"
	ReasonAutomated        = "automated_sender"
	ReasonNeverReplied     = "never_replied"
)

// Tier thresholds.
const (
	Tier1 = 1 // target industry and has written to the user
	Tier2 = 2 // at least tier2MinMessages exchanged
	Tier3 = 3 // has written to the user

	tier2MinMessages = 3
)

// automatedContains are matched anywhere in the local part.
var automatedContains = []string{
	"noreply", "no-reply", "no_reply", "donotreply", "do-not-reply", "do_not_reply",
	"mailer-daemon", "postmaster", "bounce",
}

// automatedPrefixes are matched as the whole local part or followed by a separator.
var automatedPrefixes = []string{
	"notifications", "notification", "notify", "newsletter", "news", "info",
	"support", "billing", "alerts", "alert", "updates", "marketing", "digest",
	"receipts", "invoices", "automated", "system",
}

// Options carries the inputs that vary per run.
type Options struct {
	Identity  model.Identity
	Extracted map[string]bool
	Limit     int
}

// Candidate is a contact that survived exclusion, with its tier.
type Candidate struct {
	Email    string `json:"email"`
	Name     string `json:"name,omitempty"`
	Tier     int    `json:"tier"`
	Industry string `json:"industry,omitempty"`
	Total    int    `json:"total"`
	Received int    `json:"received"`
}

// Summary counts candidates per tier and exclusions per reason.
type Summary struct {
	Tier1    int            `json:"tier1"`
	Tier2    int            `json:"tier2"`
	Tier3    int            `json:"tier3"`
	Excluded map[string]int `json:"excluded"`
}

// Eligible returns the number of candidates across all tiers.
func (s Summary) Eligible() int { return s.Tier1 + s.Tier2 + s.Tier3 }

// Prioritizer applies exclusion rules and tiering.
type Prioritizer struct {
	industries Industries
}

// New creates a Prioritizer with the given industry keyword sets.
func New(industries Industries) *Prioritizer {
	if industries == nil {
		industries = DefaultIndustries()
	}
	return &Prioritizer{industries: industries}
}

// IsTargetIndustry reports whether the address's domain matches a curated
// vertical, and which.
func (p *Prioritizer) IsTargetIndustry(email string) (bool, string) {
	return p.industries.Match(email)
}

// Exclude applies the exclusion rules in order and returns the first reason
// that matches.
func (p *Prioritizer) Exclude(a *model.ContactActivity, opts Options) (bool, string) {
	email := normalize.Email(a.Email)

	// 1. Already extracted.
	if opts.Extracted[email] {
		return true, ReasonAlreadyExtracted
	}

	// 2. One of the user's own addresses.
	if opts.Identity.IsMine(email) {
		return true, ReasonMine
	}

	// 3. Internal domain.
	if opts.Identity.IsInternal(email) {
		return true, ReasonInternal
	}

	// 4. Automated sender.
	if IsAutomated(email) {
		return true, ReasonAutomated
	}

	// 5. Never wrote to the user.
	if !a.HasReplied() {
		return true, ReasonNeverReplied
	}

	return false, ""
}

// Rank returns candidates ordered tier 1, then 2, then 3, each by total
// message count descending, truncated to opts.Limit when positive.
func (p *Prioritizer) Rank(contacts []*model.ContactActivity, opts Options) []Candidate {
	out, _ := p.classify(contacts, opts)
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out
}

// Summarize classifies every contact without truncation.
func (p *Prioritizer) Summarize(contacts []*model.ContactActivity, opts Options) Summary {
	cands, excluded := p.classify(contacts, opts)
	s := Summary{Excluded: excluded}
	for _, c := range cands {
		switch c.Tier {
		case Tier1:
			s.Tier1++
		case Tier2:
			s.Tier2++
		default:
			s.Tier3++
		}
	}
	return s
}

func (p *Prioritizer) classify(contacts []*model.ContactActivity, opts Options) ([]Candidate, map[string]int) {
	excluded := make(map[string]int)
	out := make([]Candidate, 0, len(contacts))

	for _, a := range contacts {
		if skip, reason := p.Exclude(a, opts); skip {
			excluded[reason]++
			continue
		}
		c := Candidate{
			Email:    normalize.Email(a.Email),
			Name:     a.Name,
			Total:    a.Total(),
			Received: a.Received,
		}
		match, industry := p.industries.Match(c.Email)
		switch {
		case match && a.HasReplied():
			c.Tier, c.Industry = Tier1, industry
		case c.Total >= tier2MinMessages:
			c.Tier = Tier2
		default:
			c.Tier = Tier3
		}
		out = append(out, c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Tier != out[j].Tier {
			return out[i].Tier < out[j].Tier
		}
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		return out[i].Email < out[j].Email
	})
	return out, excluded
}

// IsAutomated reports whether the address looks like a machine sender.
func IsAutomated(email string) bool {
	local := normalize.LocalPart(email)
	if local == "" {
		return false
	}
	for _, s := range automatedContains {
		if strings.Contains(local, s) {
			return true
		}
	}
	for _, prefix := range automatedPrefixes {
		if local == prefix {
			return true
		}
		if strings.HasPrefix(local, prefix) && strings.ContainsAny(local[len(prefix):len(prefix)+1], "-_.+0123456789") {
			return true
		}
	}
	return false
}
