package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/testnet/services/points/internal/models"
	"example.com/testnet/services/points/internal/repository"
	"example.com/testnet/services/points/internal/service"
)

// RankHandler serves standings computed from the aggregate store
type RankHandler struct {
	users *service.UserService
	rank  *service.RankService
}

// NewRankHandler creates a new rank handler
func NewRankHandler(users *service.UserService, rank *service.RankService) *RankHandler {
	return &RankHandler{users: users, rank: rank}
}

// HandleGetUserRank returns a user's summed points and dense rank. Repeated
// event_type parameters restrict the category set; none means all.
func (h *RankHandler) HandleGetUserRank(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	types, err := parseEventTypes(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.users.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		log.Error().Err(err).Msg("Failed to get user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	ranked, err := h.rank.RankForUser(c.Request.Context(), user, types)
	if err != nil {
		log.Error().Err(err).Uint("user_id", id).Msg("Failed to compute rank")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, ranked)
}

// HandleLeaderboard returns the top standings for a category set.
func (h *RankHandler) HandleLeaderboard(c *gin.Context) {
	types, err := parseEventTypes(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
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

	standings, err := h.rank.Leaderboard(c.Request.Context(), types, limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to compute leaderboard")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": standings})
}

// RegisterRoutes registers the handler's routes
func (h *RankHandler) RegisterRoutes(router *gin.Engine) {
	router.GET("/users/:id/rank", h.HandleGetUserRank)
	router.GET("/leaderboard", h.HandleLeaderboard)
}

func parseEventTypes(c *gin.Context) ([]models.EventType, error) {
	values := c.QueryArray("event_type")
	types := make([]models.EventType, 0, len(values))
	for _, value := range values {
		t, err := models.ParseEventType(value)
		if err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	return types, nil
}
