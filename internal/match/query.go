package match

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/TobiSchelling/feedwatch/internal/database"
)

// Query is a parsed boolean search expression. Terms are case-insensitive
// substrings; "quoted phrases" keep their spaces. Operators AND, OR and NOT
// (any case) bind NOT > AND > OR, parentheses group, and adjacent terms
// without an operator are joined by AND.
type Query struct {
	root node
	src  string
}

type node interface {
	eval(text string) bool
}

type termNode string

func (n termNode) eval(text string) bool { return strings.Contains(text, string(n)) }

type notNode struct{ x node }

func (n notNode) eval(text string) bool { return !n.x.eval(text) }

type andNode struct{ l, r node }

func (n andNode) eval(text string) bool { return n.l.eval(text) && n.r.eval(text) }

type orNode struct{ l, r node }

func (n orNode) eval(text string) bool { return n.l.eval(text) || n.r.eval(text) }

// ParseQuery parses q. An empty query matches everything.
func ParseQuery(q string) (*Query, error) {
	toks, err := tokenize(q)
	if err != nil {
		return nil, err
	}
	if len(toks) == 0 {
		return &Query{src: q}, nil
	}

	p := &parser{toks: toks}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.pos < len(p.toks) {
		return nil, fmt.Errorf("unexpected %s at position %d", p.toks[p.pos], p.pos+1)
	}
	return &Query{root: root, src: q}, nil
}

// String returns the query as written.
func (q *Query) String() string { return q.src }

// Matches evaluates the query against free text.
func (q *Query) Matches(text string) bool {
	if q.root == nil {
		return true
	}
	return q.root.eval(strings.ToLower(text))
}

// MatchItem evaluates the query against an item's title and description.
func (q *Query) MatchItem(it database.Item) bool {
	return q.Matches(SearchText(it))
}

// Filter returns the items matching q, in order.
func (q *Query) Filter(items []database.Item) []database.Item {
	out := make([]database.Item, 0, len(items))
	for _, it := range items {
		if q.MatchItem(it) {
			out = append(out, it)
		}
	}
	return out
}

type tokenKind int

const (
	tokTerm tokenKind = iota
	tokAnd
	tokOr
	tokNot
	tokLParen
	tokRParen
)

type token struct {
	kind  tokenKind
	value string
}

func (t token) String() string {
	switch t.kind {
	case tokAnd:
		return "AND"
	case tokOr:
		return "OR"
	case tokNot:
		return "NOT"
	case tokLParen:
		return `"("`
	case tokRParen:
		return `")"`
	}
	return fmt.Sprintf("%q", t.value)
}

func tokenize(q string) ([]token, error) {
	var toks []token
	rs := []rune(q)
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			toks = append(toks, token{kind: tokLParen})
			i++
		case r == ')':
			toks = append(toks, token{kind: tokRParen})
			i++
		case r == '"':
			end := i + 1
			for end < len(rs) && rs[end] != '"' {
				end++
			}
			if end == len(rs) {
				return nil, fmt.Errorf("unterminated phrase starting at position %d", i+1)
			}
			if phrase := strings.ToLower(string(rs[i+1 : end])); strings.TrimSpace(phrase) != "" {
				toks = append(toks, token{kind: tokTerm, value: phrase})
			}
			i = end + 1
		default:
			end := i
			for end < len(rs) && !unicode.IsSpace(rs[end]) && rs[end] != '(' && rs[end] != ')' && rs[end] != '"' {
				end++
			}
			word := string(rs[i:end])
			switch strings.ToUpper(word) {
			case "AND":
				toks = append(toks, token{kind: tokAnd})
			case "OR":
				toks = append(toks, token{kind: tokOr})
			case "NOT":
				toks = append(toks, token{kind: tokNot})
			default:
				toks = append(toks, token{kind: tokTerm, value: strings.ToLower(word)})
			}
			i = end
		}
	}
	return toks, nil
}

// parser is a recursive-descent parser over:
//
//	or    = and { OR and }
//	and   = unary { [AND] unary }
//	unary = NOT unary | "(" or ")" | term
type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() (token, bool) {
	if p.pos >= len(p.toks) {
		return token{}, false
	}
	return p.toks[p.pos], true
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		t, ok := p.peek()
		if !ok || t.kind != tokOr {
			return left, nil
		}
		p.pos++
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = orNode{left, right}
	}
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		t, ok := p.peek()
		if !ok {
			return left, nil
		}
		switch t.kind {
		case tokAnd:
			p.pos++
		case tokTerm, tokNot, tokLParen:
			// implicit AND
		default:
			return left, nil
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = andNode{left, right}
	}
}

func (p *parser) parseUnary() (node, error) {
	t, ok := p.peek()
	if !ok {
		return nil, fmt.Errorf("query ends where a term was expected")
	}
	switch t.kind {
	case tokNot:
		p.pos++
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return notNode{x}, nil
	case tokLParen:
		p.pos++
		x, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if t, ok := p.peek(); !ok || t.kind != tokRParen {
			return nil, fmt.Errorf("missing closing parenthesis")
		}
		p.pos++
		return x, nil
	case tokTerm:
		p.pos++
		return termNode(t.value), nil
	}
	return nil, fmt.Errorf("unexpected %s at position %d", t, p.pos+1)
}
