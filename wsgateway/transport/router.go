package transport

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/imtaco/audio-rooms/internal/errors"
	"github.com/imtaco/audio-rooms/internal/log"
	"github.com/imtaco/audio-rooms/rooms"
)

// Router serves the websocket endpoint and the status API of one relay.
type Router struct {
	registry  *rooms.Registry
	startedAt time.Time
	engine    *gin.Engine
	logger    *log.Logger
}

func NewRouter(
	registry *rooms.Registry,
	ws http.HandlerFunc,
	allowedOrigins []string,
	logger *log.Logger,
) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	// Add OpenTelemetry middleware for automatic HTTP tracing
	engine.Use(otelgin.Middleware("wsgateway"))

	corsCfg := cors.DefaultConfig()
	if len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*") {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = allowedOrigins
	}
	engine.Use(cors.New(corsCfg))

	r := &Router{
		registry:  registry,
		startedAt: time.Now(),
		engine:    engine,
		logger:    logger,
	}

	r.setupRoutes(ws)
	return r
}

func (r *Router) setupRoutes(ws http.HandlerFunc) {
	// Health check
	r.engine.GET("/health", r.healthCheck)

	api := r.engine.Group("/api")
	api.GET("/rooms/:roomId", r.getRoom)
	api.GET("/stats", r.stats)

	if ws != nil {
		r.engine.GET("/ws", gin.WrapF(ws))
	}
}

func (r *Router) Handler() http.Handler {
	return r.engine
}

func (r *Router) healthCheck(c *gin.Context) {
	stats := r.registry.Stats()
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"rooms":  stats.Rooms,
		"peers":  stats.Peers,
	})
}

func (r *Router) getRoom(c *gin.Context) {
	roomID := c.Param("roomId")
	room, err := r.registry.Room(roomID)
	if errors.Is(err, errors.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"roomId":  roomID,
			"exists":  false,
		})
		return
	} else if err != nil {
		r.logger.Error("Room lookup failed", log.RoomID(roomID), log.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"roomId":    roomID,
		"exists":    true,
		"members":   room.Members(),
		"createdAt": room.CreatedAt().Unix(),
	})
}

func (r *Router) stats(c *gin.Context) {
	stats := r.registry.Stats()
	c.JSON(http.StatusOK, gin.H{
		"rooms":         stats.Rooms,
		"peers":         stats.Peers,
		"uptimeSeconds": int64(time.Since(r.startedAt).Seconds()),
	})
}
