package delivery

import (
	"fmt"
	"strings"

	"orderrelay/internal/common"
)

// Method identifies a delivery backend.
type Method string

const (
	MethodSimulation Method = "simulation"
	MethodSession    Method = "session"
	MethodTemplated  Method = "templated"
	MethodTeam       Method = "team"

	// MethodAuto is not a backend: it asks the selector to choose.
	MethodAuto Method = "auto"
)

// precedence lists methods from most production-ready to the universal fallback.
var precedence = []Method{MethodTemplated, MethodTeam, MethodSession, MethodSimulation}

// ParseMethod converts a user-supplied name into a Method.
func ParseMethod(s string) (Method, error) {
	switch m := Method(strings.ToLower(strings.TrimSpace(s))); m {
	case MethodSimulation, MethodSession, MethodTemplated, MethodTeam, MethodAuto:
		return m, nil
	case "":
		return MethodAuto, nil
	default:
		return "", common.NewValidationError(fmt.Sprintf("unknown delivery method: %q", s))
	}
}

// Availability records which backends have complete credentials.
// Simulation is always available.
type Availability struct {
	Session   bool
	Templated bool
	Team      bool
}

// Has reports whether m can be activated.
func (a Availability) Has(m Method) bool {
	switch m {
	case MethodSimulation:
		return true
	case MethodSession:
		return a.Session
	case MethodTemplated:
		return a.Templated
	case MethodTeam:
		return a.Team
	default:
		return false
	}
}

// Select returns the highest-precedence available method:
// templated > team > session > simulation.
func Select(a Availability) Method {
	for _, m := range precedence {
		if a.Has(m) {
			return m
		}
	}
	return MethodSimulation
}
