package dirdoc

import (
	"fmt"
	"strconv"
	"strings"
)

type portRange struct {
	lo, hi uint16
}

// PortPolicy is an exit policy summary ("p" line): a list of port ranges
// that are either all accepted or all rejected.
type PortPolicy struct {
	Accept bool
	ranges []portRange
}

// ParsePortPolicy parses the arguments of a "p" line, e.g. ["accept", "80,443,8000-8100"].
func ParsePortPolicy(args []string) (*PortPolicy, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("%w: port policy needs 2 arguments, got %d", ErrMalformed, len(args))
	}
	p := &PortPolicy{}
	switch args[0] {
	case "accept":
		p.Accept = true
	case "reject":
		p.Accept = false
	default:
		return nil, fmt.Errorf("%w: unknown port policy action %q", ErrMalformed, args[0])
	}
	for _, entry := range strings.Split(args[1], ",") {
		loStr, hiStr, isRange := strings.Cut(entry, "-")
		lo, err := strconv.ParseUint(loStr, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("%w: bad port %q: %v", ErrMalformed, entry, err)
		}
		hi := lo
		if isRange {
			hi, err = strconv.ParseUint(hiStr, 10, 16)
			if err != nil {
				return nil, fmt.Errorf("%w: bad port %q: %v", ErrMalformed, entry, err)
			}
		}
		if lo > hi {
			return nil, fmt.Errorf("%w: inverted port range %q", ErrMalformed, entry)
		}
		p.ranges = append(p.ranges, portRange{uint16(lo), uint16(hi)})
	}
	return p, nil
}

// Allows reports whether the policy permits exiting to port.
func (p *PortPolicy) Allows(port uint16) bool {
	if p == nil {
		return false
	}
	for _, r := range p.ranges {
		if port >= r.lo && port <= r.hi {
			return p.Accept
		}
	}
	return !p.Accept
}

func (p *PortPolicy) String() string {
	action := "reject"
	if p.Accept {
		action = "accept"
	}
	parts := make([]string, len(p.ranges))
	for i, r := range p.ranges {
		if r.lo == r.hi {
			parts[i] = strconv.Itoa(int(r.lo))
		} else {
			parts[i] = fmt.Sprintf("%d-%d", r.lo, r.hi)
		}
	}
	return action + " " + strings.Join(parts, ",")
}
