package web

import (
	"time"

	"github.com/dukex/mediaflow/pkg/models"
)

// ReadinessResponse is returned by the readiness probe when every dependency answered.
type ReadinessResponse struct {
	Status    string    `json:"status"`
	Host      string    `json:"host"`
	Timestamp time.Time `json:"timestamp"`
}

// StatisticsResponse wraps the engine statistics with the start jobs held back
// because their media package was busy.
type StatisticsResponse struct {
	*models.Statistics

	Delayed []string `json:"delayed_starts"`
}
