package smt

import (
	"fmt"
	"strings"
)

// Kind selects one of the known solver families.
type Kind int

const (
	KindZ3 Kind = iota
	KindCVC5
	KindBitwuzla
	KindCustom
)

func (k Kind) String() string {
	switch k {
	case KindZ3:
		return "z3"
	case KindCVC5:
		return "cvc5"
	case KindBitwuzla:
		return "bitwuzla"
	case KindCustom:
		return "custom"
	default:
		return "unknown"
	}
}

// Flavor chooses the solver executable and its startup arguments.
// It is chosen once per pool and never mutated afterwards.
type Flavor struct {
	Kind Kind
	// Name is the executable for KindCustom; ignored otherwise.
	Name string
	// ExtraArgs are appended after the built-in arguments.
	ExtraArgs []string
}

var (
	Z3       = Flavor{Kind: KindZ3}
	CVC5     = Flavor{Kind: KindCVC5}
	Bitwuzla = Flavor{Kind: KindBitwuzla}
)

// Custom returns a flavor that launches name with args.
func Custom(name string, args ...string) Flavor {
	return Flavor{Kind: KindCustom, Name: name, ExtraArgs: append([]string(nil), args...)}
}

// ParseFlavor maps a selector string to a Flavor. Unknown names are treated
// as custom executables.
func ParseFlavor(s string) (Flavor, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "":
		return Flavor{}, fmt.Errorf("empty solver flavor")
	case "z3":
		return Z3, nil
	case "cvc5":
		return CVC5, nil
	case "bitwuzla":
		return Bitwuzla, nil
	default:
		return Custom(s), nil
	}
}

// Executable returns argv[0] for the flavor.
func (f Flavor) Executable() string {
	switch f.Kind {
	case KindZ3:
		return "z3"
	case KindCVC5:
		return "cvc5"
	case KindBitwuzla:
		return "bitwuzla"
	default:
		return f.Name
	}
}

// Args returns the startup arguments. The built-in flavors read SMT-LIB v2
// from stdin and answer command by command.
func (f Flavor) Args() []string {
	var base []string
	switch f.Kind {
	case KindZ3:
		base = []string{"-in", "-smt2"}
	case KindCVC5:
		base = []string{"--lang=smt2", "--incremental"}
	case KindBitwuzla:
		base = []string{"--lang=smt2"}
	}
	out := make([]string, 0, len(base)+len(f.ExtraArgs))
	out = append(out, base...)
	return append(out, f.ExtraArgs...)
}

func (f Flavor) String() string {
	if f.Kind == KindCustom {
		return "custom(" + f.Name + ")"
	}
	return f.Kind.String()
}
