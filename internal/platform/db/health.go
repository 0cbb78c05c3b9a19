package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats represents database connection pool statistics.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
	Healthy         bool   `json:"healthy"`
}

// GetPoolStats returns connection pool statistics.
func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
		Healthy:         stat.TotalConns() > 0,
	}
}

// Checker reports whether a backing store is reachable. Details is rendered
// alongside the status and may be nil.
type Checker interface {
	Name() string
	Check(ctx context.Context) (details interface{}, err error)
}

// PoolChecker checks a PostgreSQL pool.
type PoolChecker struct {
	Pool *pgxpool.Pool
}

func (p PoolChecker) Name() string { return "postgres" }

func (p PoolChecker) Check(ctx context.Context) (interface{}, error) {
	err := p.Pool.Ping(ctx)
	stats := GetPoolStats(p.Pool)
	if err != nil {
		stats.Healthy = false
	}
	return stats, err
}

// HealthHandler returns a handler for the store health check endpoint.
func HealthHandler(checker Checker) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		details, err := checker.Check(ctx)
		if err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
				"message": "store unavailable",
				"status":  "unhealthy",
				"store":   checker.Name(),
				"error":   err.Error(),
				"details": details,
			})
		}

		return c.JSON(http.StatusOK, map[string]interface{}{
			"message": "store healthy",
			"status":  "healthy",
			"store":   checker.Name(),
			"details": details,
		})
	}
}
