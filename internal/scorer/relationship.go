package scorer

import (
	"math"
	"slices"
	"time"

	"github.com/sells-group/relgraph/internal/config"
)

// Band is the coarse label attached to a strength score.
type Band string

const (
	BandStrong  Band = "strong"
	BandMedium  Band = "medium"
	BandWeak    Band = "weak"
	BandMinimal Band = "minimal"
)

// BandFor maps a 0-100 score to its band.
func BandFor(score float64) Band {
	switch {
	case score >= 70:
		return BandStrong
	case score >= 40:
		return BandMedium
	case score >= 10:
		return BandWeak
	default:
		return BandMinimal
	}
}

// PairStats is the message history between the user and one contact.
type PairStats struct {
	Sent            int         // user -> contact
	Received        int         // contact -> user
	Replied         int         // user's messages the contact replied to
	LastContact     time.Time
	Dates           []time.Time // every message date, any order
	RecipientCounts []int       // recipients per message, any order
}

// Total returns sent plus received.
func (p PairStats) Total() int { return p.Sent + p.Received }

// Breakdown is a scored pair with each component exposed.
type Breakdown struct {
	Volume               float64 `json:"volume"`
	Recency              float64 `json:"recency"`
	Reciprocity          float64 `json:"reciprocity"`
	ReplyRate            float64 `json:"reply_rate"`
	GroupMultiplier      float64 `json:"group_multiplier"`
	NewsletterMultiplier float64 `json:"newsletter_multiplier"`
	Score                float64 `json:"score"`
	Band                 Band    `json:"band"`
}

// Scorer computes relationship strength from pair statistics.
type Scorer struct {
	cfg config.ScoringConfig
}

// New creates a Scorer with the given weights.
func New(cfg config.ScoringConfig) *Scorer {
	return &Scorer{cfg: cfg}
}

// Score computes the strength of a pair as of now. The result is a pure
// function of its inputs and always falls in [0, 100].
func (s *Scorer) Score(p PairStats, now time.Time) Breakdown {
	b := Breakdown{
		Volume:               s.volume(p.Total()),
		Recency:              s.recency(p.LastContact, now),
		Reciprocity:          s.reciprocity(p.Sent, p.Received),
		ReplyRate:            s.replyRate(p.Replied, p.Sent),
		GroupMultiplier:      s.groupMultiplier(p.RecipientCounts),
		NewsletterMultiplier: 1,
	}
	if s.isNewsletter(p) {
		b.NewsletterMultiplier = s.cfg.NewsletterPenalty
	}

	raw := (b.Volume + b.Recency + b.Reciprocity + b.ReplyRate) * b.GroupMultiplier * b.NewsletterMultiplier
	b.Score = math.Round(clamp(raw, 0, 100)*100) / 100
	b.Band = BandFor(b.Score)
	return b
}

// volume grows logarithmically and saturates at VolumeSaturation messages.
func (s *Scorer) volume(n int) float64 {
	if n <= 0 {
		return 0
	}
	sat := float64(max(s.cfg.VolumeSaturation, 1))
	return s.cfg.VolumeWeight * math.Min(1, math.Log1p(float64(n))/math.Log1p(sat))
}

func (s *Scorer) recency(last, now time.Time) float64 {
	if last.IsZero() {
		return 0
	}
	days := now.Sub(last).Hours() / 24
	if days < 0 {
		days = 0
	}
	if s.cfg.RecencyWindowDays > 0 && days >= s.cfg.RecencyWindowDays {
		return 0
	}
	return s.cfg.RecencyWeight * math.Pow(0.5, days/s.cfg.HalfLifeDays)
}

func (s *Scorer) reciprocity(sent, received int) float64 {
	if sent <= 0 || received <= 0 {
		return 0
	}
	lo, hi := float64(min(sent, received)), float64(max(sent, received))
	return s.cfg.ReciprocityWeight * lo / hi
}

func (s *Scorer) replyRate(replied, sent int) float64 {
	if sent <= 0 || replied <= 0 {
		return 0
	}
	return s.cfg.ReplyWeight * math.Min(1, float64(replied)/float64(sent))
}

// groupMultiplier penalizes pairs whose messages mostly go to large lists.
func (s *Scorer) groupMultiplier(counts []int) float64 {
	if len(counts) == 0 {
		return 1
	}
	var sum int
	for _, c := range counts {
		sum += c
	}
	mean := float64(sum) / float64(len(counts))
	if mean <= s.cfg.GroupThreshold {
		return 1
	}
	return math.Max(s.cfg.GroupFloor, 1-s.cfg.GroupStep*(mean-s.cfg.GroupThreshold))
}

// isNewsletter detects one-way subscription traffic: inbound only, never
// answered, arriving on a regular cadence.
func (s *Scorer) isNewsletter(p PairStats) bool {
	if p.Sent > 0 || p.Replied > 0 || p.Received < s.cfg.NewsletterMinMessages {
		return false
	}
	cv, ok := gapVariation(p.Dates)
	return ok && cv <= s.cfg.NewsletterMaxCV
}

// gapVariation returns the coefficient of variation of the gaps between
// consecutive dates.
func gapVariation(dates []time.Time) (float64, bool) {
	if len(dates) < 3 {
		return 0, false
	}
	sorted := slices.Clone(dates)
	slices.SortFunc(sorted, func(a, b time.Time) int { return a.Compare(b) })

	gaps := make([]float64, 0, len(sorted)-1)
	for i := 1; i < len(sorted); i++ {
		gaps = append(gaps, sorted[i].Sub(sorted[i-1]).Hours())
	}
	var mean float64
	for _, g := range gaps {
		mean += g
	}
	mean /= float64(len(gaps))
	if mean <= 0 {
		return 0, false
	}
	var variance float64
	for _, g := range gaps {
		variance += (g - mean) * (g - mean)
	}
	variance /= float64(len(gaps))
	return math.Sqrt(variance) / mean, true
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
