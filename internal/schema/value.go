package schema

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"

	"executor/pkg/exception"
)

// Symbol is an instrument code qualified by its venue, e.g. AUDUSD.FXCM.
type Symbol string

// NewSymbol joins an upper-case code with its venue.
func NewSymbol(code, venue string) (Symbol, error) {
	if code == "" || venue == "" {
		return "", fmt.Errorf("%w: symbol code and venue are required", exception.ErrInvalidArgument)
	}
	if strings.ContainsRune(code, '.') {
		return "", fmt.Errorf("%w: symbol code %q contains '.'", exception.ErrInvalidArgument, code)
	}
	for _, r := range code {
		if unicode.IsLetter(r) && !unicode.IsUpper(r) {
			return "", fmt.Errorf("%w: symbol code %q is not upper case", exception.ErrInvalidArgument, code)
		}
	}
	return Symbol(code + "." + venue), nil
}

// ParseSymbol parses the CODE.VENUE form.
func ParseSymbol(value string) (Symbol, error) {
	code, venue, ok := strings.Cut(value, ".")
	if !ok {
		return "", fmt.Errorf("%w: symbol %q is not CODE.VENUE", exception.ErrInvalidArgument, value)
	}
	return NewSymbol(code, venue)
}

func (s Symbol) Code() string {
	code, _, _ := strings.Cut(string(s), ".")
	return code
}

func (s Symbol) Venue() string {
	_, venue, _ := strings.Cut(string(s), ".")
	return venue
}

func (s Symbol) String() string { return string(s) }

// Label is a free text tag attached to an order by the strategy.
type Label string

// Currency is an ISO 4217 code.
type Currency string

// OptionalPrice builds a present decimal.NullDecimal from a decimal string.
// It panics on malformed input and is meant for literals.
func OptionalPrice(value string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(value))
}

// NoPrice is the absent price.
var NoPrice = decimal.NullDecimal{}
