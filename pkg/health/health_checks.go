package health

// MembershipCheck reports the health of the local membership engine. A
// node between memberships is degraded; a stopped engine is unhealthy.
func MembershipCheck(get func() Membership) CheckFunc {
	return func() Check {
		m := get()
		check := Check{
			Name: "membership",
			Details: map[string]any{
				"state":   m.State,
				"members": m.Members,
				"roster":  m.Roster,
				"quorum":  m.Quorum,
			},
		}

		switch {
		case m.Stopped:
			check.Status = StatusUnhealthy
			check.Message = "Engine stopped"
		case !m.Settled:
			check.Status = StatusDegraded
			check.Message = "Membership forming"
		case !m.Quorum:
			check.Status = StatusDegraded
			check.Message = "No quorum"
		default:
			check.Status = StatusHealthy
			check.Message = "Membership settled"
		}
		return check
	}
}

// MembershipReady is healthy only while a settled membership is held.
func MembershipReady(get func() Membership) CheckFunc {
	return func() Check {
		m := get()
		check := Check{Name: "membership"}
		if m.Settled && !m.Stopped {
			check.Status = StatusHealthy
			check.Message = "Member of a settled cluster"
		} else {
			check.Status = StatusUnhealthy
			check.Message = "Not in a settled membership"
		}
		return check
	}
}

// PeersCheck reports how many configured peers the transport hears.
func PeersCheck(get func() (active, total int)) CheckFunc {
	return func() Check {
		check := Check{
			Name:    "peers",
			Details: make(map[string]any),
		}

		active, total := get()
		check.Details["active"] = active
		check.Details["total"] = total

		if total <= 1 || active == total {
			check.Status = StatusHealthy
			check.Message = "All peers reachable"
		} else if active <= 1 {
			check.Status = StatusDegraded
			check.Message = "Isolated from all peers"
		} else {
			check.Status = StatusDegraded
			check.Message = "Some peers unreachable"
		}
		return check
	}
}

// MemoryCheck creates a health check for memory usage
func MemoryCheck(getUsage func() (alloc, sys uint64)) CheckFunc {
	return func() Check {
		check := Check{
			Name:    "memory",
			Details: make(map[string]any),
		}

		alloc, sys := getUsage()

		check.Details["alloc_bytes"] = alloc
		check.Details["sys_bytes"] = sys

		// Consider degraded if allocated memory > 90% of system memory
		usagePercent := float64(alloc) / float64(sys) * 100

		if usagePercent > 90 {
			check.Status = StatusDegraded
			check.Message = "High memory usage"
		} else {
			check.Status = StatusHealthy
			check.Message = "Memory usage normal"
		}

		return check
	}
}
