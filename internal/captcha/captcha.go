// Package captcha turns verification-code images into text.
package captcha

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"
)

// CodeLength is the number of letters the ticketing site's code image holds.
const CodeLength = 4

// Code is text read from a verification-code image.
type Code string

// Valid reports whether c has exactly CodeLength characters, all letters.
// Invalid codes are never submitted; the caller refreshes the image instead.
func (c Code) Valid() bool {
	if utf8.RuneCountInString(string(c)) != CodeLength {
		return false
	}
	for _, r := range string(c) {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

// Engine is an OCR backend.
type Engine interface {
	Classify(ctx context.Context, png []byte) (string, error)
}

// Solver reads verification codes through an Engine. It neither validates
// nor retries.
type Solver struct {
	engine Engine
}

func NewSolver(engine Engine) *Solver {
	return &Solver{engine: engine}
}

func (s *Solver) Solve(ctx context.Context, png []byte) (Code, error) {
	text, err := s.engine.Classify(ctx, png)
	if err != nil {
		return "", err
	}
	return Code(strings.TrimSpace(text)), nil
}
