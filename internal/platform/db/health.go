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

// Check is an additional dependency probed by the health endpoint.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

// runChecks pings every dependency and returns a name -> status map plus
// overall health. A nil Ping marks the dependency as disabled.
func runChecks(ctx context.Context, checks []Check) (map[string]string, bool) {
	out := make(map[string]string, len(checks))
	healthy := true
	for _, ch := range checks {
		if ch.Ping == nil {
			out[ch.Name] = "disabled"
			continue
		}
		if err := ch.Ping(ctx); err != nil {
			out[ch.Name] = err.Error()
			healthy = false
			continue
		}
		out[ch.Name] = "ok"
	}
	return out, healthy
}

// HealthHandler reports database pool health together with any extra checks.
func HealthHandler(pool *pgxpool.Pool, checks ...Check) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		all := append([]Check{{Name: "postgres", Ping: pool.Ping}}, checks...)
		deps, healthy := runChecks(ctx, all)
		stats := GetPoolStats(pool)
		stats.Healthy = healthy && stats.Healthy

		if !healthy {
			return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
				"status":       "unhealthy",
				"dependencies": deps,
				"pool":         stats,
			})
		}

		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":       "healthy",
			"dependencies": deps,
			"pool":         stats,
		})
	}
}
