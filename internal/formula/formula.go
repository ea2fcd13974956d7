// Package formula builds regression formulas as strings and turns them into
// design matrices over a dataset.Frame.
//
// The grammar is the small subset the analysis needs:
//
//	response ~ term + term + ...
//	term := name | name:name[:name...] | fe(name) | 0 | -1
//
// "0" or "-1" drops the intercept. fe(name) always expands the column into
// level dummies; string columns are expanded the same way when named directly.
package formula

import (
	"fmt"
	"strings"
)

// Term is one right-hand-side entry of a formula.
type Term struct {
	// Factors are the column names multiplied together; length 1 for a main effect.
	Factors []string
	// Fixed marks an fe(...) term.
	Fixed bool
}

// String renders the term the way Parse reads it.
func (t Term) String() string {
	s := strings.Join(t.Factors, ":")
	if t.Fixed {
		return "fe(" + s + ")"
	}
	return s
}

// Formula is a parsed model formula.
type Formula struct {
	Response  string
	Terms     []Term
	Intercept bool
}

// String renders the formula in canonical form.
func (f Formula) String() string {
	parts := make([]string, 0, len(f.Terms)+1)
	if !f.Intercept {
		parts = append(parts, "0")
	}
	for _, t := range f.Terms {
		parts = append(parts, t.String())
	}
	return f.Response + " ~ " + strings.Join(parts, " + ")
}

// Variables returns the column names the formula reads, response first,
// without duplicates.
func (f Formula) Variables() []string {
	seen := map[string]bool{f.Response: true}
	vars := []string{f.Response}
	for _, t := range f.Terms {
		for _, name := range t.Factors {
			if !seen[name] {
				seen[name] = true
				vars = append(vars, name)
			}
		}
	}
	return vars
}

// FE wraps a column name as a fixed-effect term.
func FE(name string) string { return "fe(" + name + ")" }

// Build joins a response and terms into a formula string.
func Build(response string, terms ...string) string {
	kept := make([]string, 0, len(terms))
	for _, t := range terms {
		if t = strings.TrimSpace(t); t != "" {
			kept = append(kept, t)
		}
	}
	return strings.TrimSpace(response) + " ~ " + strings.Join(kept, " + ")
}

// Parse reads a formula string.
func Parse(s string) (Formula, error) {
	lhs, rhs, ok := strings.Cut(s, "~")
	if !ok {
		return Formula{}, fmt.Errorf("formula %q: missing '~'", s)
	}
	f := Formula{Response: strings.TrimSpace(lhs), Intercept: true}
	if f.Response == "" {
		return Formula{}, fmt.Errorf("formula %q: empty response", s)
	}
	if strings.ContainsAny(f.Response, "+:()") {
		return Formula{}, fmt.Errorf("formula %q: response must be a single column", s)
	}

	seen := make(map[string]bool)
	for _, raw := range strings.Split(rhs, "+") {
		tok := strings.TrimSpace(raw)
		// "x - 1" drops the intercept and keeps x
		if head, ok := strings.CutSuffix(tok, "-1"); ok {
			if head = strings.TrimSpace(head); head != "" {
				f.Intercept = false
				tok = head
			}
		} else if head, ok := strings.CutSuffix(tok, "- 1"); ok {
			f.Intercept = false
			tok = strings.TrimSpace(head)
		}
		switch tok {
		case "":
			continue
		case "0", "-1":
			f.Intercept = false
			continue
		case "1":
			f.Intercept = true
			continue
		}
		term, err := parseTerm(tok)
		if err != nil {
			return Formula{}, fmt.Errorf("formula %q: %w", s, err)
		}
		key := term.String()
		if seen[key] {
			continue
		}
		seen[key] = true
		f.Terms = append(f.Terms, term)
	}
	if len(f.Terms) == 0 && !f.Intercept {
		return Formula{}, fmt.Errorf("formula %q: no terms", s)
	}
	return f, nil
}

func parseTerm(tok string) (Term, error) {
	var t Term
	if strings.HasPrefix(tok, "fe(") {
		if !strings.HasSuffix(tok, ")") {
			return Term{}, fmt.Errorf("malformed term %q", tok)
		}
		tok = strings.TrimSpace(tok[len("fe(") : len(tok)-1])
		t.Fixed = true
	}
	if tok == "" || strings.ContainsAny(tok, "() ~") {
		return Term{}, fmt.Errorf("malformed term %q", tok)
	}
	for _, name := range strings.Split(tok, ":") {
		name = strings.TrimSpace(name)
		if name == "" {
			return Term{}, fmt.Errorf("malformed term %q", tok)
		}
		t.Factors = append(t.Factors, name)
	}
	if t.Fixed && len(t.Factors) > 1 {
		return Term{}, fmt.Errorf("fe() takes a single column, got %q", tok)
	}
	return t, nil
}
