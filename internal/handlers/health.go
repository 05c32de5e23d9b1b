package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/zeh237/taskly/internal/monitoring"
	"github.com/zeh237/taskly/pkg/errors"
	"github.com/zeh237/taskly/pkg/response"
)

var errServiceUnavailable = errors.New("SERVICE_UNAVAILABLE", "A required dependency is down", http.StatusServiceUnavailable)

// Health reports dependency probes. Degraded dependencies still answer 200; a probe that is
// down answers 503.
func Health(manager *monitoring.HealthManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if manager == nil {
			response.Success(c, http.StatusOK, gin.H{"status": monitoring.StatusUp})
			return
		}

		report := manager.Evaluate(requestContext(c))
		if report.Status == monitoring.StatusDown {
			response.Error(c, errServiceUnavailable.WithDetails(map[string]any{
				"status": report.Status,
				"checks": report.Checks,
			}))
			return
		}
		response.Success(c, http.StatusOK, report)
	}
}
