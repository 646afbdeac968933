package vm

import (
	"fmt"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Kind: runtime value tags
// ---------------------------------------------------------------------------

// Kind identifies which member of the Value union is populated.
type Kind uint8

const (
	KindUndefined Kind = iota
	KindNull
	KindBool
	KindFloat
	KindString
	KindRegex
)

// String returns the human-readable name of the kind.
func (k Kind) String() string {
	switch k {
	case KindUndefined:
		return "undefined"
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindRegex:
		return "regex"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// ---------------------------------------------------------------------------
// Value: tagged runtime value
// ---------------------------------------------------------------------------

// Value is a Kumo runtime value: a tagged union over string, 64-bit float,
// boolean, null, undefined, and pattern-with-flags (regex). Values are
// immutable once constructed and comparable with ==, except that two NaN
// floats compare unequal the way float64 NaNs do.
type Value struct {
	kind  Kind
	num   float64
	str   string // string payload, or regex pattern
	flags string // regex flags
	b     bool
}

// Pre-defined singleton values.
var (
	Undefined = Value{kind: KindUndefined}
	Null      = Value{kind: KindNull}
	True      = Value{kind: KindBool, b: true}
	False     = Value{kind: KindBool, b: false}
)

// Kind returns the value's tag.
func (v Value) Kind() Kind {
	return v.kind
}

// ---------------------------------------------------------------------------
// Constructors
// ---------------------------------------------------------------------------

// FromString creates a string value.
func FromString(s string) Value {
	return Value{kind: KindString, str: s}
}

// FromFloat64 creates a float value.
func FromFloat64(f float64) Value {
	return Value{kind: KindFloat, num: f}
}

// FromBool creates a boolean value.
func FromBool(b bool) Value {
	if b {
		return True
	}
	return False
}

// NewRegex creates a pattern-with-flags value. The pattern is stored
// opaquely (it is never compiled), but the flags string is validated
// eagerly against the host regular-expression flag set.
func NewRegex(pattern, flags string) (Value, error) {
	if err := validateRegexFlags(flags); err != nil {
		return Undefined, err
	}
	return Value{kind: KindRegex, str: pattern, flags: flags}, nil
}

// regexFlagSet is the set of recognized pattern flags. The 'u' and 'v'
// unicode modes are mutually exclusive.
const regexFlagSet = "dgimsuvy"

func validateRegexFlags(flags string) error {
	var seen [len(regexFlagSet)]bool
	for _, r := range flags {
		idx := strings.IndexRune(regexFlagSet, r)
		if idx < 0 {
			return fmt.Errorf("%w: unrecognized flag %q in %q", ErrInvalidPatternFlags, r, flags)
		}
		if seen[idx] {
			return fmt.Errorf("%w: duplicate flag %q in %q", ErrInvalidPatternFlags, r, flags)
		}
		seen[idx] = true
	}
	if strings.ContainsRune(flags, 'u') && strings.ContainsRune(flags, 'v') {
		return fmt.Errorf("%w: flags %q combine 'u' and 'v'", ErrInvalidPatternFlags, flags)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Type checking
// ---------------------------------------------------------------------------

// IsUndefined returns true if v is the undefined value.
func (v Value) IsUndefined() bool { return v.kind == KindUndefined }

// IsNull returns true if v is the null value.
func (v Value) IsNull() bool { return v.kind == KindNull }

// IsBool returns true if v is a boolean.
func (v Value) IsBool() bool { return v.kind == KindBool }

// IsFloat returns true if v is a float.
func (v Value) IsFloat() bool { return v.kind == KindFloat }

// IsString returns true if v is a string.
func (v Value) IsString() bool { return v.kind == KindString }

// IsRegex returns true if v is a pattern-with-flags value.
func (v Value) IsRegex() bool { return v.kind == KindRegex }

// ---------------------------------------------------------------------------
// Payload access
// ---------------------------------------------------------------------------

// Bool returns v as a bool.
// Panics if v is not a boolean.
func (v Value) Bool() bool {
	if v.kind != KindBool {
		panic("Value.Bool: not a boolean")
	}
	return v.b
}

// Float64 returns v as a float64.
// Panics if v is not a float.
func (v Value) Float64() float64 {
	if v.kind != KindFloat {
		panic("Value.Float64: not a float")
	}
	return v.num
}

// Str returns v's string payload.
// Panics if v is not a string.
func (v Value) Str() string {
	if v.kind != KindString {
		panic("Value.Str: not a string")
	}
	return v.str
}

// Pattern returns the pattern string of a regex value.
// Panics if v is not a regex.
func (v Value) Pattern() string {
	if v.kind != KindRegex {
		panic("Value.Pattern: not a regex")
	}
	return v.str
}

// Flags returns the flags string of a regex value.
// Panics if v is not a regex.
func (v Value) Flags() string {
	if v.kind != KindRegex {
		panic("Value.Flags: not a regex")
	}
	return v.flags
}

// ---------------------------------------------------------------------------
// Display
// ---------------------------------------------------------------------------

// String renders the value the way the tracer and CLI print it.
func (v Value) String() string {
	switch v.kind {
	case KindUndefined:
		return "undefined"
	case KindNull:
		return "null"
	case KindBool:
		if v.b {
			return "true"
		}
		return "false"
	case KindFloat:
		return strconv.FormatFloat(v.num, 'g', -1, 64)
	case KindString:
		return strconv.Quote(v.str)
	case KindRegex:
		return "/" + v.str + "/" + v.flags
	default:
		return fmt.Sprintf("Value(kind=%d)", uint8(v.kind))
	}
}
