package health

import (
	"context"
	"fmt"

	"github.com/pgcdha001/pgcdha-sub002/engine"
	"github.com/pgcdha001/pgcdha-sub002/types"
)

// EngineChecker reports an engine as unhealthy only when it has nothing to
// serve. Stale or errored data still being served is degraded.
func EngineChecker(status func() engine.Status) types.HealthChecker {
	return func(ctx context.Context) types.HealthCheck {
		st := status()

		check := types.HealthCheck{
			Details: map[string]interface{}{
				"state":      st.State.String(),
				"generation": st.Generation,
				"fresh":      st.Fresh,
			},
		}
		if !st.LastUpdated.IsZero() {
			check.Details["last_updated"] = st.LastUpdated
		}

		switch {
		case !st.HasData && st.Error != "":
			check.Status = types.StatusUnhealthy
			check.Message = fmt.Sprintf("no data: %s", st.Error)
		case !st.HasData:
			check.Status = types.StatusUnknown
			check.Message = "not loaded yet"
		case st.Error != "":
			check.Status = types.StatusDegraded
			check.Message = fmt.Sprintf("serving stale data: %s", st.Error)
		case !st.Fresh:
			check.Status = types.StatusDegraded
			check.Message = "cache expired"
		default:
			check.Status = types.StatusHealthy
		}

		return check
	}
}

// BreakerChecker maps the gateway circuit breaker onto a check. An open
// breaker degrades the service; cached views keep being served.
func BreakerChecker(state func() string) types.HealthChecker {
	return func(ctx context.Context) types.HealthCheck {
		s := state()

		check := types.HealthCheck{
			Details: map[string]interface{}{"state": s},
		}

		switch s {
		case "closed":
			check.Status = types.StatusHealthy
		case "half-open", "open":
			check.Status = types.StatusDegraded
			check.Message = "backend circuit breaker is " + s
		default:
			check.Status = types.StatusUnknown
		}

		return check
	}
}
