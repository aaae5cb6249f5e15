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
	"example.com/testnet/services/points/internal/tracing"
)

// EventsHandler handles event ledger HTTP requests
type EventsHandler struct {
	events *service.EventService
	tracer tracing.Tracer
}

// NewEventsHandler creates a new events handler
func NewEventsHandler(events *service.EventService, tracer tracing.Tracer) *EventsHandler {
	return &EventsHandler{events: events, tracer: tracer}
}

// CreateEventRequest is an incoming event sighting.
type CreateEventRequest struct {
	Type       string     `json:"type" binding:"required"`
	UserID     uint       `json:"user_id" binding:"required"`
	Points     *int64     `json:"points"`
	OccurredAt *time.Time `json:"occurred_at"`
	URL        *string    `json:"url"`
	BlockID    *uint      `json:"block_id"`
	DepositID  *uint      `json:"deposit_id"`
}

// CreateEventResponse reports the upsert outcome. Created is false when the
// event fell outside the eligibility window and was not recorded.
type CreateEventResponse struct {
	Created bool                      `json:"created"`
	Event   *models.EventWithMetadata `json:"event,omitempty"`
}

// HandleCreateEvent upserts an event.
func (h *EventsHandler) HandleCreateEvent(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-create-event")
	defer h.tracer.EndTransaction(txn)

	var req CreateEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	eventType, err := models.ParseEventType(req.Type)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.tracer.AddAttribute(txn, "type", string(eventType))
	h.tracer.AddAttribute(txn, "user_id", req.UserID)

	event, err := h.events.Create(c.Request.Context(), service.CreateEventOptions{
		Type:       eventType,
		UserID:     req.UserID,
		Points:     req.Points,
		OccurredAt: req.OccurredAt,
		URL:        req.URL,
		BlockID:    req.BlockID,
		DepositID:  req.DepositID,
	})
	if err != nil {
		h.tracer.RecordError(txn, err)
		switch {
		case errors.Is(err, service.ErrConflictingExternalKeys):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, repository.ErrDuplicateKey):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			log.Error().Err(err).Msg("Failed to create event")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		}
		return
	}

	if event == nil {
		// Outside the eligibility window: accepted, not recorded.
		c.JSON(http.StatusOK, CreateEventResponse{Created: false})
		return
	}

	c.JSON(http.StatusCreated, CreateEventResponse{Created: true, Event: event})
}

// HandleGetEvent returns one event by id.
func (h *EventsHandler) HandleGetEvent(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	event, err := h.events.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
			return
		}
		log.Error().Err(err).Msg("Failed to get event")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, event)
}

// HandleRetractEvent soft-deletes an event. Idempotent.
func (h *EventsHandler) HandleRetractEvent(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-retract-event")
	defer h.tracer.EndTransaction(txn)

	id, err := parseUintParam(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	event, err := h.events.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
			return
		}
		h.tracer.RecordError(txn, err)
		log.Error().Err(err).Msg("Failed to load event for retraction")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	retracted, err := h.events.Retract(c.Request.Context(), event)
	if err != nil {
		h.tracer.RecordError(txn, err)
		log.Error().Err(err).Msg("Failed to retract event")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, retracted)
}

// RegisterRoutes registers the handler's routes
func (h *EventsHandler) RegisterRoutes(router *gin.Engine) {
	router.POST("/events", h.HandleCreateEvent)
	router.GET("/events/:id", h.HandleGetEvent)
	router.POST("/events/:id/retract", h.HandleRetractEvent)
}

func parseUintParam(c *gin.Context, name string) (uint, error) {
	value, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil {
		return 0, errors.Errorf("invalid %s", name)
	}
	return uint(value), nil
}
