// Package rules matches merchants against learned categorization rules.
//
// Patterns are case-insensitive globs over the raw merchant text: '*' stands
// for any run of characters and every other character, '?' included, is
// literal. A pattern without wildcards must equal the merchant; "UBER*" is
// anchored at the start only.
package rules

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/houfu/lavender-ledger/internal/core"
)

var ErrNoLiteral = errors.New("pattern has no literal characters")

type tokenKind uint8

const (
	tokLiteral tokenKind = iota
	tokStar
)

type token struct {
	kind tokenKind
	r    rune
}

// Pattern is a compiled merchant pattern.
type Pattern struct {
	raw       string
	tokens    []token
	wildcards int
	prefixLen int
}

// Compile parses a stored pattern. Consecutive stars collapse into one.
func Compile(raw string) (Pattern, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Pattern{}, core.ErrEmptyPattern
	}

	p := Pattern{raw: raw, prefixLen: -1}
	literals := 0
	for _, r := range raw {
		switch r {
		case '*':
			if n := len(p.tokens); n > 0 && p.tokens[n-1].kind == tokStar {
				continue
			}
			p.tokens = append(p.tokens, token{kind: tokStar})
			p.wildcards++
		default:
			p.tokens = append(p.tokens, token{kind: tokLiteral, r: unicode.ToUpper(r)})
			literals++
			continue
		}
		if p.prefixLen < 0 {
			p.prefixLen = literals
		}
	}
	if literals == 0 {
		return Pattern{}, fmt.Errorf("%q: %w", raw, ErrNoLiteral)
	}
	if p.prefixLen < 0 {
		p.prefixLen = literals
	}
	return p, nil
}

// MustCompile is Compile for patterns known at build time.
func MustCompile(raw string) Pattern {
	p, err := Compile(raw)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Pattern) String() string { return p.raw }

// Wildcards counts '*' markers after collapsing.
func (p Pattern) Wildcards() int { return p.wildcards }

// LiteralPrefixLen is the number of literal characters before the first
// wildcard.
func (p Pattern) LiteralPrefixLen() int { return p.prefixLen }

// Match reports whether the whole of s matches, ignoring case.
func (p Pattern) Match(s string) bool {
	text := []rune(strings.TrimSpace(s))
	for i, r := range text {
		text[i] = unicode.ToUpper(r)
	}

	// Iterative glob with single-star backtracking.
	ti, pi := 0, 0
	star, mark := -1, 0
	for ti < len(text) {
		switch {
		case pi < len(p.tokens) && p.tokens[pi].kind == tokStar:
			star, mark = pi, ti
			pi++
		case pi < len(p.tokens) && p.tokens[pi].r == text[ti]:
			pi++
			ti++
		case star >= 0:
			pi = star + 1
			mark++
			ti = mark
		default:
			return false
		}
	}
	for pi < len(p.tokens) && p.tokens[pi].kind == tokStar {
		pi++
	}
	return pi == len(p.tokens)
}
