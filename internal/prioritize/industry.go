package prioritize

import (
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/relgraph/internal/normalize"
)

// minContainsLen is the shortest keyword matched as a substring of a domain
// label. Shorter keywords must equal a whole label.
const minContainsLen = 5

// Industries maps a vertical name to the keywords that identify it in a
// sender's domain.
type Industries map[string][]string

// DefaultIndustries returns the curated keyword sets.
func DefaultIndustries() Industries {
	return Industries{
		"real_estate": {
			"compass", "realty", "realtor", "realtors", "realestate", "remax", "kw",
			"kellerwilliams", "coldwellbanker", "sothebys", "century21", "exprealty",
			"properties", "homes", "estates", "cbre", "jll", "colliers", "cushwake",
		},
		"mortgage": {
			"mortgage", "lending", "lender", "homeloans", "loandepot", "rocketmortgage",
			"uwm", "fairway", "guildmortgage", "movement",
		},
		"insurance": {
			"insurance", "insure", "assurance", "underwriters", "allstate", "statefarm",
			"geico", "libertymutual", "nationwide", "travelers",
		},
		"construction": {
			"construction", "builders", "builder", "contracting", "contractors",
			"constructors", "homebuilders", "roofing",
		},
		"legal": {
			"law", "legal", "lawfirm", "lawgroup", "attorney", "attorneys", "lawyers", "llp",
		},
		"financial_services": {
			"capital", "wealth", "advisors", "advisory", "financial", "investments",
			"securities", "bank", "banking", "cpa", "accounting",
		},
	}
}

// LoadIndustries reads keyword sets from a YAML file of the form
// "vertical: [kw, kw]". An empty path returns the defaults.
func LoadIndustries(path string) (Industries, error) {
	if path == "" {
		return DefaultIndustries(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "prioritize: read industries %s", path)
	}
	var ind Industries
	if err := yaml.Unmarshal(data, &ind); err != nil {
		return nil, eris.Wrapf(err, "prioritize: parse industries %s", path)
	}
	for k, kws := range ind {
		for i, kw := range kws {
			kws[i] = strings.ToLower(strings.TrimSpace(kw))
		}
		ind[k] = kws
	}
	return ind, nil
}

// Match reports whether the address's domain belongs to a curated vertical
// and which one. Verticals are checked in name order so the answer is stable.
func (ind Industries) Match(email string) (bool, string) {
	labels := domainLabels(normalize.Domain(email))
	if len(labels) == 0 {
		return false, ""
	}

	names := make([]string, 0, len(ind))
	for name := range ind {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		for _, kw := range ind[name] {
			if kw == "" {
				continue
			}
			for _, label := range labels {
				if label == kw || (len(kw) >= minContainsLen && strings.Contains(label, kw)) {
					return true, name
				}
			}
		}
	}
	return false, ""
}

// domainLabels splits a domain without its TLD into hyphen- and dot-separated
// labels: "mail.smith-realty.com" -> [mail smith realty].
func domainLabels(domain string) []string {
	if domain == "" {
		return nil
	}
	parts := strings.Split(domain, ".")
	if len(parts) > 1 {
		parts = parts[:len(parts)-1]
	}
	var out []string
	for _, p := range parts {
		for _, l := range strings.Split(p, "-") {
			if l != "" {
				out = append(out, l)
			}
		}
	}
	return out
}
