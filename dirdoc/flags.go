package dirdoc

import (
	"slices"
	"strings"
)

type Flag string

const (
	FlagAuthority     Flag = "Authority"
	FlagBadExit       Flag = "BadExit"
	FlagExit          Flag = "Exit"
	FlagFast          Flag = "Fast"
	FlagGuard         Flag = "Guard"
	FlagHSDir         Flag = "HSDir"
	FlagNoEdConsensus Flag = "NoEdConsensus"
	FlagRunning       Flag = "Running"
	FlagStable        Flag = "Stable"
	FlagStaleDesc     Flag = "StaleDesc"
	FlagSybil         Flag = "Sybil"
	FlagV2Dir         Flag = "V2Dir"
	FlagValid         Flag = "Valid"
)

// Flags is an ordered set of relay flags, kept in document order.
type Flags []Flag

// ParseFlags builds a flag set from the arguments of an "s" line, dropping duplicates.
func ParseFlags(args []string) Flags {
	flags := make(Flags, 0, len(args))
	for _, a := range args {
		f := Flag(a)
		if !flags.Has(f) {
			flags = append(flags, f)
		}
	}
	return flags
}

func (fs Flags) Has(f Flag) bool {
	return slices.Contains(fs, f)
}

func (fs Flags) HasAll(want ...Flag) bool {
	for _, f := range want {
		if !fs.Has(f) {
			return false
		}
	}
	return true
}

// Without returns a copy of the set with the given flags removed.
func (fs Flags) Without(remove ...Flag) Flags {
	out := make(Flags, 0, len(fs))
	for _, f := range fs {
		if !slices.Contains(remove, f) {
			out = append(out, f)
		}
	}
	return out
}

func (fs Flags) String() string {
	parts := make([]string, len(fs))
	for i, f := range fs {
		parts[i] = string(f)
	}
	return strings.Join(parts, " ")
}
