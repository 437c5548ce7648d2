// Package formula extracts cell and range references from Excel formula text.
package formula

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xuri/efp"

	"github.com/efebarandurmaz/cellaudit/internal/address"
)

// ErrMalformed is wrapped by every error returned from References.
var ErrMalformed = errors.New("malformed formula")

// Parser tokenizes formulas with efp and resolves operand ranges.
type Parser struct {
	// Names resolves workbook-defined names (e.g. "Rates") to ranges.
	// Unknown names are reported as malformed.
	Names map[string]address.Range
}

// New returns a Parser without defined names.
func New() *Parser {
	return &Parser{}
}

// References returns the ranges a formula reads, in first-occurrence order
// and without duplicates. Single-cell references come back as one-cell
// ranges. Unqualified references resolve against sheet.
func (p *Parser) References(text, sheet string) ([]address.Range, error) {
	text = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(text), "="))
	if text == "" {
		return nil, fmt.Errorf("%w: empty formula", ErrMalformed)
	}

	ps := efp.ExcelParser()
	tokens := ps.Parse(text)
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: no tokens in %q", ErrMalformed, text)
	}

	depth := 0
	seen := make(map[address.Range]bool)
	var refs []address.Range
	for _, token := range tokens {
		switch token.TType {
		case efp.TokenTypeUnknown:
			return nil, fmt.Errorf("%w: unexpected %q in %q", ErrMalformed, token.TValue, text)
		case efp.TokenTypeFunction, efp.TokenTypeSubexpression:
			switch token.TSubType {
			case efp.TokenSubTypeStart:
				depth++
			case efp.TokenSubTypeStop:
				depth--
				if depth < 0 {
					return nil, fmt.Errorf("%w: unbalanced parentheses in %q", ErrMalformed, text)
				}
			}
			continue
		}
		if token.TType != efp.TokenTypeOperand || token.TSubType != efp.TokenSubTypeRange {
			continue
		}

		r, err := p.resolve(token.TValue, sheet)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if !seen[r] {
			seen[r] = true
			refs = append(refs, r)
		}
	}
	if depth != 0 {
		return nil, fmt.Errorf("%w: unbalanced parentheses in %q", ErrMalformed, text)
	}
	return refs, nil
}

func (p *Parser) resolve(ref, sheet string) (address.Range, error) {
	r, err := address.ParseRange(ref, sheet)
	if err == nil {
		return r, nil
	}
	if named, ok := p.Names[ref]; ok {
		return named, nil
	}
	return address.Range{}, err
}
