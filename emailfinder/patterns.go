package emailfinder

import "strings"

// Pattern names a local-part template.
type Pattern string

const (
	PatternFirstDotLast Pattern = "first.last"
	PatternFLast        Pattern = "flast"
	PatternFirstLast    Pattern = "firstlast"
	PatternFDotLast     Pattern = "f.last"
	PatternLast         Pattern = "last"
)

// Patterns is the order candidates are generated and probed in.
var Patterns = []Pattern{
	PatternFirstDotLast,
	PatternFLast,
	PatternFirstLast,
	PatternFDotLast,
	PatternLast,
}

// Valid reports whether p is a known template.
func (p Pattern) Valid() bool {
	for _, known := range Patterns {
		if p == known {
			return true
		}
	}
	return false
}

// LocalPart renders the template for already-normalized names.
func (p Pattern) LocalPart(first, last string) string {
	initial := ""
	if first != "" {
		initial = first[:1]
	}
	switch p {
	case PatternFirstDotLast:
		return first + "." + last
	case PatternFLast:
		return initial + last
	case PatternFirstLast:
		return first + last
	case PatternFDotLast:
		return initial + "." + last
	case PatternLast:
		return last
	}
	return ""
}

// Address renders the full address for person at domain.
func (p Pattern) Address(person Person, domain string) string {
	local := p.LocalPart(person.First, person.Last)
	if local == "" {
		return ""
	}
	return local + "@" + domain
}

// Person holds normalized first and last names.
type Person struct {
	First string `json:"first"`
	Last  string `json:"last"`
}

// NewPerson normalizes raw names.
func NewPerson(first, last string) (Person, error) {
	f, err := NormalizeName(first)
	if err != nil {
		return Person{}, err
	}
	l, err := NormalizeName(last)
	if err != nil {
		return Person{}, err
	}
	return Person{First: f, Last: l}, nil
}

// Candidate is one guessed address.
type Candidate struct {
	Pattern Pattern `json:"pattern"`
	Email   string  `json:"email"`
}

// Generate returns the candidates for person at domain in probe order.
// Templates that render to the same address are kept once.
func Generate(person Person, domain string) []Candidate {
	seen := make(map[string]bool, len(Patterns))
	candidates := make([]Candidate, 0, len(Patterns))
	for _, p := range Patterns {
		addr := p.Address(person, domain)
		if addr == "" || seen[addr] {
			continue
		}
		seen[addr] = true
		candidates = append(candidates, Candidate{Pattern: p, Email: addr})
	}
	return candidates
}

// InferPattern finds the template that produces email for person.
func InferPattern(person Person, email string) (Pattern, bool) {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return "", false
	}
	local := strings.ToLower(email[:at])
	for _, p := range Patterns {
		if p.LocalPart(person.First, person.Last) == local {
			return p, true
		}
	}
	return "", false
}

// Emails flattens candidates to their addresses.
func Emails(candidates []Candidate) []string {
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.Email
	}
	return out
}
