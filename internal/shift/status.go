package shift

import "strings"

// Status is the normalized state of a shift as reported by the authority.
type Status int

const (
	StatusUnknown Status = iota
	StatusOpen
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// NormalizeStatus maps every known representation of a shift status to a
// Status. It is the only place that interprets status strings.
func NormalizeStatus(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "active", "open", "opened":
		return StatusOpen
	case "closed", "ended", "inactive":
		return StatusClosed
	default:
		return StatusUnknown
	}
}
