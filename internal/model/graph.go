package model

import "time"

// RelType names an edge type in the relationship graph.
type RelType string

const (
	RelKnows             RelType = "KNOWS"
	RelWorksAt           RelType = "WORKS_AT"
	RelDiscussed         RelType = "DISCUSSED"
	RelCCTogether        RelType = "CC_TOGETHER"
	RelLinkedInConnected RelType = "LINKEDIN_CONNECTED"
)

// Person is a graph node keyed by canonical email address.
type Person struct {
	Email       string `json:"email"`
	Name        string `json:"name,omitempty"`
	Company     string `json:"company,omitempty"`
	Role        string `json:"role,omitempty"`
	LinkedInURL string `json:"linkedin_url,omitempty"`
}

// Company is a graph node keyed by normalized name.
type Company struct {
	Key  string `json:"key"`
	Name string `json:"name"`
}

// Topic is a graph node keyed by normalized label.
type Topic struct {
	Key   string `json:"key"`
	Label string `json:"label"`
}

// Knows is the directed, scored edge between two people.
type Knows struct {
	From            string    `json:"from"`
	To              string    `json:"to"`
	StrengthScore   float64   `json:"strength_score"`
	EmailCount      int       `json:"email_count"`
	LastContact     time.Time `json:"last_contact"`
	IsBidirectional bool      `json:"is_bidirectional"`
}

// WorksAt links a person to a company.
type WorksAt struct {
	Email      string  `json:"email"`
	CompanyKey string  `json:"company_key"`
	Role       string  `json:"role,omitempty"`
	Confidence float64 `json:"confidence"`
}

// Discussed links a person to a topic.
type Discussed struct {
	Email     string    `json:"email"`
	TopicKey  string    `json:"topic_key"`
	CreatedAt time.Time `json:"created_at"`
}

// CCTogether is the undirected co-recipient edge. A is always the
// lexicographically smaller address.
type CCTogether struct {
	A     string `json:"a"`
	B     string `json:"b"`
	Count int    `json:"count"`
}

// NewCCTogether orders the pair so the edge is stored once.
func NewCCTogether(x, y string, count int) CCTogether {
	if y < x {
		x, y = y, x
	}
	return CCTogether{A: x, B: y, Count: count}
}

// LinkedInConnection is a directed professional-network edge.
type LinkedInConnection struct {
	From        string    `json:"from"`
	To          string    `json:"to"`
	Degree      int       `json:"degree"`
	ConnectedOn time.Time `json:"connected_on,omitzero"`
}

// Hop is one edge on a traversal path.
type Hop struct {
	From          string    `json:"from"`
	To            string    `json:"to"`
	Type          RelType   `json:"type"`
	StrengthScore float64   `json:"strength_score"`
	LastContact   time.Time `json:"last_contact,omitzero"`
}

// Path is an ordered edge sequence starting at one of the user's addresses.
type Path struct {
	Hops   []Hop  `json:"hops"`
	Target Person `json:"target"`
}

// Len returns the number of edges in the path.
func (p Path) Len() int { return len(p.Hops) }

// Strength sums the strength scores of every edge on the path.
func (p Path) Strength() float64 {
	var s float64
	for _, h := range p.Hops {
		s += h.StrengthScore
	}
	return s
}

// Connector is the first person after the user on the path: the one to ask
// for the introduction. For a direct path it is the target.
func (p Path) Connector() string {
	if len(p.Hops) == 0 {
		return ""
	}
	return p.Hops[0].To
}

// GraphCounts reports node and edge totals per label.
type GraphCounts struct {
	Persons   int             `json:"persons"`
	Companies int             `json:"companies"`
	Topics    int             `json:"topics"`
	Edges     map[RelType]int `json:"edges"`
}
