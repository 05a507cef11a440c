// Package normalize canonicalizes the keys used to merge graph nodes:
// email addresses, company names and topic labels.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// legalSuffixes are stripped from the tail of company names, repeatedly, so
// "Acme Holdings Co., Inc." and "acme holdings" share a key.
var legalSuffixes = map[string]bool{
	"inc":  true,
	"llc":  true,
	"ltd":  true,
	"corp": true,
	"co":   true,
}

// Email returns the canonical form of an address: trimmed and lower-cased.
// Angle-bracketed display forms ("Jane <jane@x.com>") are reduced to the address.
func Email(addr string) string {
	addr = strings.TrimSpace(addr)
	if i := strings.LastIndexByte(addr, '<'); i >= 0 {
		if j := strings.IndexByte(addr[i:], '>'); j > 0 {
			addr = addr[i+1 : i+j]
		}
	}
	return strings.ToLower(strings.TrimSpace(addr))
}

// Domain returns the lower-cased domain of an address, or "" if it has none.
func Domain(addr string) string {
	addr = Email(addr)
	at := strings.LastIndexByte(addr, '@')
	if at < 0 || at == len(addr)-1 {
		return ""
	}
	return addr[at+1:]
}

// LocalPart returns the lower-cased portion of an address before the "@".
func LocalPart(addr string) string {
	addr = Email(addr)
	at := strings.LastIndexByte(addr, '@')
	if at < 0 {
		return addr
	}
	return addr[:at]
}

// Company returns the merge key for a company name. It folds diacritics,
// lower-cases, collapses punctuation to single spaces and drops trailing
// legal suffixes. An empty string means the name carried no usable signal.
func Company(name string) string {
	words := strings.Fields(punctToSpace(foldDiacritics(strings.ToLower(name))))
	for len(words) > 1 && legalSuffixes[words[len(words)-1]] {
		words = words[:len(words)-1]
	}
	if len(words) == 1 && legalSuffixes[words[0]] {
		return ""
	}
	return strings.Join(words, " ")
}

// Topic returns the merge key for a discussion topic label.
func Topic(label string) string {
	return strings.Join(strings.Fields(strings.ToLower(label)), " ")
}

// Name trims a display name and collapses inner whitespace.
func Name(name string) string {
	name = strings.Trim(strings.TrimSpace(name), `"'`)
	return strings.Join(strings.Fields(name), " ")
}

func foldDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

func punctToSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			return r
		}
		if r == '&' {
			return r
		}
		return ' '
	}, s)
}
