package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/clearlane/onboard/internal/models"
	"github.com/clearlane/onboard/internal/trackers"
	appErrors "github.com/clearlane/onboard/pkg/errors"
	"github.com/clearlane/onboard/pkg/response"
)

// ApplicationHandler serves the authenticated application surface. Every
// route here sits behind the session middleware; the tracker id always comes
// from the validated session, never from the request.
type ApplicationHandler struct {
	trackers *trackers.Service
}

func NewApplicationHandler(trackerSvc *trackers.Service) *ApplicationHandler {
	return &ApplicationHandler{trackers: trackerSvc}
}

type advanceRequest struct {
	Step    int            `json:"step" validate:"required,min=1,max=50"`
	Profile map[string]any `json:"profile"`
}

// GET /api/application
func (h *ApplicationHandler) Get(c *gin.Context) {
	tracker, err := h.trackers.Get(requestContext(c), currentTrackerID(c))
	if err != nil {
		response.Error(c, trackerError(err))
		return
	}

	response.Success(c, http.StatusOK, trackerPayload(tracker))
}

// POST /api/application/advance
func (h *ApplicationHandler) Advance(c *gin.Context) {
	var req advanceRequest
	if !bindAndValidate(c, &req) {
		return
	}

	tracker, err := h.trackers.Advance(requestContext(c), currentTrackerID(c), req.Step, req.Profile)
	if err != nil {
		response.Error(c, trackerError(err))
		return
	}

	response.Success(c, http.StatusOK, trackerPayload(tracker))
}

// POST /api/application/submit
func (h *ApplicationHandler) Submit(c *gin.Context) {
	tracker, err := h.trackers.Submit(requestContext(c), currentTrackerID(c))
	if err != nil {
		response.Error(c, trackerError(err))
		return
	}

	response.Success(c, http.StatusOK, trackerPayload(tracker))
}

func trackerPayload(t *models.Tracker) gin.H {
	payload := gin.H{
		"id":           t.ID,
		"status":       t.Status,
		"current_step": t.CurrentStep,
		"created_at":   t.CreatedAt,
		"updated_at":   t.UpdatedAt,
	}

	if len(t.Profile) > 0 {
		var profile map[string]any
		if err := json.Unmarshal(t.Profile, &profile); err == nil {
			payload["profile"] = profile
		}
	}

	return payload
}

func trackerError(err error) error {
	switch {
	case errors.Is(err, trackers.ErrTrackerNotFound):
		return appErrors.ErrNotFound
	case errors.Is(err, trackers.ErrTrackerClosed):
		return appErrors.ErrConflict
	default:
		return appErrors.ErrInternalServer
	}
}
