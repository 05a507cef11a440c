package mailstore

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/relgraph/internal/model"
)

// maxCCParticipants bounds the cc lists that contribute co-occurrence
// counts. Larger blasts say nothing about who knows whom.
const maxCCParticipants = 25

// Activity is the per-contact aggregate of one full index scan.
type Activity struct {
	Contacts map[string]*model.ContactActivity
	Messages int

	cc map[[2]string]int
}

// List returns the contacts sorted by address.
func (a *Activity) List() []*model.ContactActivity {
	out := make([]*model.ContactActivity, 0, len(a.Contacts))
	for _, c := range a.Contacts {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out
}

// Get returns the aggregate for one address, or nil.
func (a *Activity) Get(email string) *model.ContactActivity {
	return a.Contacts[email]
}

// CCPairs returns co-occurrence counts, one per unordered pair, sorted.
func (a *Activity) CCPairs() []model.CCTogether {
	out := make([]model.CCTogether, 0, len(a.cc))
	for k, n := range a.cc {
		out = append(out, model.CCTogether{A: k[0], B: k[1], Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].A != out[j].A {
			return out[i].A < out[j].A
		}
		return out[i].B < out[j].B
	})
	return out
}

// activityBuilder tracks reply state while folding messages in date order.
type activityBuilder struct {
	id  model.Identity
	act *Activity

	// mine maps the id of each message the user sent to its recipients.
	mine map[string]map[string]bool
	// pending counts the user's unanswered messages per thread and contact.
	pending map[string]map[string]int
}

// BuildActivity scans the whole index once and aggregates per-contact
// statistics and cc co-occurrence counts. The user's own addresses never appear
// as contacts.
func BuildActivity(ctx context.Context, s Store, id model.Identity) (*Activity, error) {
	b := &activityBuilder{
		id: id,
		act: &Activity{
			Contacts: make(map[string]*model.ContactActivity),
			cc:       make(map[[2]string]int),
		},
		mine:    make(map[string]map[string]bool),
		pending: make(map[string]map[string]int),
	}

	err := s.Each(ctx, func(m model.Message) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		b.observe(m)
		return nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "mailstore: build activity")
	}

	for _, c := range b.act.Contacts {
		if c.Replied > c.Sent {
			c.Replied = c.Sent
		}
	}

	zap.L().Debug("mailstore: activity built",
		zap.Int("messages", b.act.Messages),
		zap.Int("contacts", len(b.act.Contacts)),
		zap.Int("cc_pairs", len(b.act.cc)),
	)
	return b.act, nil
}

func (b *activityBuilder) observe(m model.Message) {
	b.act.Messages++
	recipients := dedupe(m.Recipients())
	n := len(recipients)

	if b.id.IsMine(m.FromAddress) {
		targets := make(map[string]bool, n)
		for _, r := range recipients {
			if b.id.IsMine(r) {
				continue
			}
			b.contact(r, "").Observe(m.Date, true, n)
			targets[r] = true
			if m.ThreadID != "" {
				b.threadPending(m.ThreadID)[r]++
			}
		}
		b.mine[m.ID] = targets
	} else if m.FromAddress != "" {
		c := b.contact(m.FromAddress, m.FromName)
		c.Observe(m.Date, false, n)
		if b.isReply(m) {
			c.Replied++
		}
	}

	b.coOccur(dedupe(m.CC))
}

// isReply reports whether an inbound message answers something the user
// sent to its author, consuming one pending message on the thread.
func (b *activityBuilder) isReply(m model.Message) bool {
	from := m.FromAddress
	if to, ok := b.mine[m.InReplyTo]; ok && to[from] {
		if p := b.pending[m.ThreadID]; p != nil && p[from] > 0 {
			p[from]--
		}
		return true
	}
	if m.ThreadID == "" {
		return false
	}
	if p := b.pending[m.ThreadID]; p != nil && p[from] > 0 {
		p[from]--
		return true
	}
	return false
}

// coOccur counts every pair of non-user addresses sharing the cc list.
func (b *activityBuilder) coOccur(cc []string) {
	others := make([]string, 0, len(cc))
	for _, a := range cc {
		if b.id.IsMine(a) {
			continue
		}
		others = append(others, a)
	}
	if len(others) < 2 || len(others) > maxCCParticipants {
		return
	}
	sort.Strings(others)
	for i := 0; i < len(others); i++ {
		for j := i + 1; j < len(others); j++ {
			b.act.cc[[2]string{others[i], others[j]}]++
		}
	}
}

func (b *activityBuilder) contact(email, name string) *model.ContactActivity {
	c, ok := b.act.Contacts[email]
	if !ok {
		c = &model.ContactActivity{Email: email}
		b.act.Contacts[email] = c
	}
	if c.Name == "" && name != "" {
		c.Name = name
	}
	return c
}

func (b *activityBuilder) threadPending(thread string) map[string]int {
	p, ok := b.pending[thread]
	if !ok {
		p = make(map[string]int)
		b.pending[thread] = p
	}
	return p
}

func dedupe(addrs []string) []string {
	seen := make(map[string]bool, len(addrs))
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if a == "" || seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	return out
}
