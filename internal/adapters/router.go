package adapters

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ThunderSpear21/NeonTetris/internal/app"
	"github.com/ThunderSpear21/NeonTetris/internal/config"
	"github.com/ThunderSpear21/NeonTetris/internal/domain"
)

// Deps bundles the service objects the router hands work to.
type Deps struct {
	Game       *app.Game
	Matchmaker *app.Matchmaker
	Registry   *app.Registry
	Users      UsernameWriter
}

// SetupRouter wires the REST API and the websocket endpoint.
// - REST is under /api/*, all routes authenticated.
// - WebSocket upgrade lives at /ws with a token query parameter.
func SetupRouter(ctx context.Context, cfg *config.Config, deps *Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	ws := &WSController{Registry: deps.Registry, Secret: cfg.Secret, ReadLimit: cfg.ReadLimit}
	r.GET("/ws", func(c *gin.Context) {
		ws.Handle(ctx, c)
	})

	api := r.Group("/api")
	api.Use(AuthMiddleware(cfg.Secret, deps.Users))

	// POST /api/rooms/:size — create an unranked room
	api.POST("/rooms/:size", func(c *gin.Context) {
		size, err := strconv.Atoi(c.Param("size"))
		if err != nil {
			fail(c, domain.ErrInvalidRoomSize)
			return
		}
		room, err := deps.Game.CreateRoom(c.Request.Context(), c.GetString("userID"), c.GetString("username"), size)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"room": room, "message": "room created"})
	})

	// GET /api/rooms/:code — room details
	api.GET("/rooms/:code", func(c *gin.Context) {
		room, sessions, err := deps.Game.Details(c.Request.Context(), c.Param("code"))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"room": room, "players": sessions})
	})

	// POST /api/rooms/:code/join
	api.POST("/rooms/:code/join", func(c *gin.Context) {
		room, sessions, err := deps.Game.Join(c.Request.Context(), c.Param("code"), c.GetString("userID"), c.GetString("username"))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"room": room, "players": sessions, "message": "joined room"})
	})

	// POST /api/rooms/:code/leave
	api.POST("/rooms/:code/leave", func(c *gin.Context) {
		closed, err := deps.Game.Leave(c.Request.Context(), c.Param("code"), c.GetString("userID"))
		if err != nil {
			fail(c, err)
			return
		}
		msg := "left the room"
		if closed {
			msg = "host left, room has been closed"
		}
		c.JSON(http.StatusOK, gin.H{"message": msg})
	})

	// POST /api/rooms/:code/start — host only
	api.POST("/rooms/:code/start", func(c *gin.Context) {
		room, err := deps.Game.Start(c.Request.Context(), c.Param("code"), c.GetString("userID"))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"room": room, "message": "game started"})
	})

	// POST /api/rooms/:code/finish — explicit terminal end
	api.POST("/rooms/:code/finish", func(c *gin.Context) {
		if err := deps.Game.Finish(c.Request.Context(), c.Param("code")); err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "room finished and stats updated"})
	})

	// GET /api/rooms/:code/standings
	api.GET("/rooms/:code/standings", func(c *gin.Context) {
		standings, err := deps.Game.Standings(c.Request.Context(), c.Param("code"))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"standings": standings})
	})

	// GET /api/rooms/:code/state — next pieces + opponents
	api.GET("/rooms/:code/state", func(c *gin.Context) {
		pieces, opponents, err := deps.Game.InitialState(c.Request.Context(), c.Param("code"), c.GetString("userID"))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"pieces": pieces, "opponents": opponents})
	})

	// POST /api/rooms/:code/action — report one move's outcome
	api.POST("/rooms/:code/action", func(c *gin.Context) {
		var report app.ActionReport
		if err := c.ShouldBindJSON(&report); err != nil {
			fail(c, domain.ErrInvalidAction)
			return
		}
		pieces, err := deps.Game.ReportAction(c.Request.Context(), c.Param("code"), c.GetString("userID"), report)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"nextPieces": pieces})
	})

	// POST /api/rooms/:code/gameover — report own elimination
	api.POST("/rooms/:code/gameover", func(c *gin.Context) {
		standings, err := deps.Game.Eliminate(c.Request.Context(), c.Param("code"), c.GetString("userID"))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"standings": standings, "message": "you have been eliminated"})
	})

	// POST /api/queue/:kind/join — ranked matchmaking
	api.POST("/queue/:kind/join", func(c *gin.Context) {
		room, err := deps.Matchmaker.Enqueue(c.Request.Context(), c.GetString("userID"), domain.QueueKind(c.Param("kind")))
		if err != nil {
			fail(c, err)
			return
		}
		if room == nil {
			c.JSON(http.StatusOK, gin.H{"message": "joined ranked queue, waiting for match"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"roomCode": room.Code, "message": "match found and room created"})
	})

	// POST /api/queue/:kind/leave
	api.POST("/queue/:kind/leave", func(c *gin.Context) {
		if err := deps.Matchmaker.Dequeue(c.Request.Context(), c.GetString("userID"), domain.QueueKind(c.Param("kind"))); err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "left the ranked queue"})
	})

	return r
}

// fail maps domain errors onto the API's status taxonomy; anything
// unrecognized is reported as a transient, retryable failure.
func fail(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidRoomSize),
		errors.Is(err, domain.ErrInvalidQueue),
		errors.Is(err, domain.ErrInvalidAction),
		errors.Is(err, domain.ErrEliminated):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrRoomNotFound),
		errors.Is(err, domain.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrRoomFull),
		errors.Is(err, domain.ErrNotHost),
		errors.Is(err, domain.ErrNotWaiting):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrAlreadyJoined):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
