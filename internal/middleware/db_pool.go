package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"duet-backend/pkg/logger"
	"duet-backend/pkg/response"
)

// poolUsageThreshold is the share of acquired connections above which
// database-backed requests are shed
const poolUsageThreshold = 0.8

// PoolStats is implemented by database.DB
type PoolStats interface {
	Stats() *pgxpool.Stat
}

// DBPoolLimiter sheds database-backed requests while the connection pool is
// nearly exhausted, so history writes from live calls keep a connection
type DBPoolLimiter struct {
	stats func() (acquired, max int32)
}

// NewDBPoolLimiter creates a new database pool limiter
func NewDBPoolLimiter(db PoolStats) *DBPoolLimiter {
	return &DBPoolLimiter{stats: func() (int32, int32) {
		s := db.Stats()
		return s.AcquiredConns(), s.MaxConns()
	}}
}

// Middleware returns a Gin middleware for database connection pool protection
func (dpl *DBPoolLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		acquired, max := dpl.stats()
		if saturated(acquired, max) {
			logger.FromContext(c.Request.Context()).Warn("Database connection pool exhausted",
				zap.Int32("max_conns", max),
				zap.Int32("acquired_conns", acquired))
			c.Header("Retry-After", "1")
			response.Error(c, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Service temporarily unavailable")
			c.Abort()
			return
		}
		c.Next()
	}
}

func saturated(acquired, max int32) bool {
	if max <= 0 {
		return false
	}
	return float64(acquired)/float64(max) >= poolUsageThreshold
}
