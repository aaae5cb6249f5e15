package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/testnet/services/points/internal/models"
	"example.com/testnet/services/points/internal/repository"
	"example.com/testnet/services/points/internal/service"
)

// MetricsGranularity selects which store a metrics request reads from.
type MetricsGranularity string

const (
	// GranularityLifetime reads counts and sums straight from the ledger.
	GranularityLifetime MetricsGranularity = "lifetime"
	// GranularityTotal reads the ledger over an explicit time range.
	GranularityTotal MetricsGranularity = "total"
)

// UsersHandler handles user account and per-user read requests
type UsersHandler struct {
	users  *service.UserService
	events *service.EventService
}

// NewUsersHandler creates a new users handler
func NewUsersHandler(users *service.UserService, events *service.EventService) *UsersHandler {
	return &UsersHandler{users: users, events: events}
}

// CreateUserRequest registers an account.
type CreateUserRequest struct {
	Graffiti    string `json:"graffiti" binding:"required"`
	Email       string `json:"email" binding:"required"`
	CountryCode string `json:"country_code"`
}

// HandleCreateUser registers a user.
func (h *UsersHandler) HandleCreateUser(c *gin.Context) {
	var req CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.users.Create(c.Request.Context(), service.CreateUserOptions{
		Graffiti:    req.Graffiti,
		Email:       req.Email,
		CountryCode: req.CountryCode,
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			c.JSON(http.StatusConflict, gin.H{"error": "graffiti or email already taken"})
			return
		}
		log.Error().Err(err).Msg("Failed to create user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusCreated, user)
}

// HandleGetUser returns one user by id.
func (h *UsersHandler) HandleGetUser(c *gin.Context) {
	user, ok := h.loadUser(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, user)
}

// HandleListUserEvents returns a page of a user's active events, newest
// first. Cursors are event ids from a previous page.
func (h *UsersHandler) HandleListUserEvents(c *gin.Context) {
	user, ok := h.loadUser(c)
	if !ok {
		return
	}

	var before, after *uint
	if raw := c.Query("before"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid before cursor"})
			return
		}
		value := uint(id)
		before = &value
	}
	if raw := c.Query("after"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid after cursor"})
			return
		}
		value := uint(id)
		after = &value
	}
	if before != nil && after != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "at most one of before and after may be set"})
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	page, err := h.events.List(c.Request.Context(), service.ListEventsOptions{
		UserID: user.ID,
		Before: before,
		After:  after,
		Limit:  limit,
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "cursor event not found"})
			return
		}
		log.Error().Err(err).Msg("Failed to list events")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, page)
}

// UserMetricsResponse is the per-category breakdown for one user.
type UserMetricsResponse struct {
	UserID      uint                                          `json:"user_id"`
	Granularity MetricsGranularity                            `json:"granularity"`
	Start       *time.Time                                    `json:"start,omitempty"`
	End         *time.Time                                    `json:"end,omitempty"`
	Metrics     map[models.EventType]service.EventTypeMetrics `json:"metrics"`
	TotalPoints *int64                                        `json:"total_points,omitempty"`
}

// HandleGetUserMetrics returns per-category counts and point sums. The
// lifetime granularity covers all active events; the total granularity
// requires an explicit [start, end) range.
func (h *UsersHandler) HandleGetUserMetrics(c *gin.Context) {
	user, ok := h.loadUser(c)
	if !ok {
		return
	}

	granularity := MetricsGranularity(c.DefaultQuery("granularity", string(GranularityLifetime)))
	switch granularity {
	case GranularityLifetime:
		if c.Query("start") != "" || c.Query("end") != "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "lifetime metrics do not take a time range"})
			return
		}

		metrics, err := h.events.LifetimeMetrics(c.Request.Context(), user.ID)
		if err != nil {
			log.Error().Err(err).Msg("Failed to compute lifetime metrics")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.JSON(http.StatusOK, UserMetricsResponse{
			UserID:      user.ID,
			Granularity: granularity,
			Metrics:     metrics,
		})

	case GranularityTotal:
		start, err := time.Parse(time.RFC3339, c.Query("start"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "start must be an RFC 3339 timestamp"})
			return
		}
		end, err := time.Parse(time.RFC3339, c.Query("end"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "end must be an RFC 3339 timestamp"})
			return
		}
		if !start.Before(end) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "start must precede end"})
			return
		}

		metrics, total, err := h.events.MetricsForRange(c.Request.Context(), user.ID, start, end)
		if err != nil {
			log.Error().Err(err).Msg("Failed to compute range metrics")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.JSON(http.StatusOK, UserMetricsResponse{
			UserID:      user.ID,
			Granularity: granularity,
			Start:       &start,
			End:         &end,
			Metrics:     metrics,
			TotalPoints: &total,
		})

	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "granularity must be lifetime or total"})
	}
}

// RegisterRoutes registers the handler's routes
func (h *UsersHandler) RegisterRoutes(router *gin.Engine) {
	router.POST("/users", h.HandleCreateUser)
	router.GET("/users/:id", h.HandleGetUser)
	router.GET("/users/:id/events", h.HandleListUserEvents)
	router.GET("/users/:id/metrics", h.HandleGetUserMetrics)
}

func (h *UsersHandler) loadUser(c *gin.Context) (*models.User, bool) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}

	user, err := h.users.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return nil, false
		}
		log.Error().Err(err).Msg("Failed to get user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return nil, false
	}
	return user, true
}
