package call

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"peercall-backend/internal/domain"
	apperrors "peercall-backend/pkg/errors"
	"peercall-backend/pkg/response"
)

// CallService is the service surface the REST handlers dispatch to.
type CallService interface {
	StartCall(ctx context.Context, callerID, targetID uuid.UUID, withVideo, withAudio bool) (*domain.Call, error)
	AcceptCall(ctx context.Context, calleeID, callID uuid.UUID, withVideo, withAudio bool) (*domain.Call, error)
	DeclineCall(ctx context.Context, calleeID, callID uuid.UUID) (*domain.Call, error)
	EndCall(ctx context.Context, userID, callID uuid.UUID, reason domain.EndReason) (*domain.Call, error)
	ToggleMedia(ctx context.Context, userID, callID uuid.UUID, mediaType domain.MediaType, muted bool) (*domain.Call, error)
	GetActiveCall(ctx context.Context, userID uuid.UUID) (*domain.Call, error)
	GetCall(ctx context.Context, userID, callID uuid.UUID) (*domain.Call, error)
	GetCallHistory(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Call, error)
}

// Handler handles call HTTP requests. The WebSocket is the primary
// surface for in-call commands; this REST surface mirrors it for clients
// without an open socket and serves history queries.
type Handler struct {
	callService CallService
}

// NewHandler creates a new call handler
func NewHandler(callService CallService) *Handler {
	return &Handler{
		callService: callService,
	}
}

// StartCallRequest represents a start call request
type StartCallRequest struct {
	TargetID  string `json:"target_id" binding:"required,uuid"`
	WithVideo bool   `json:"with_video"`
	WithAudio bool   `json:"with_audio"`
}

// AnswerRequest carries the answering side's media choices
type AnswerRequest struct {
	WithVideo bool `json:"with_video"`
	WithAudio bool `json:"with_audio"`
}

// EndCallRequest represents an end call request
type EndCallRequest struct {
	Reason string `json:"reason"`
}

// ToggleMediaRequest represents a media toggle request
type ToggleMediaRequest struct {
	MediaType string `json:"media_type" binding:"required,oneof=audio video"`
	Muted     *bool  `json:"muted" binding:"required"`
}

// StartCall starts a call to a target user
// POST /v1/calls/start
func (h *Handler) StartCall(c *gin.Context) {
	var req StartCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	userID, ok := currentUser(c)
	if !ok {
		return
	}

	targetID, err := uuid.Parse(req.TargetID)
	if err != nil {
		response.ValidationError(c, "Invalid target_id")
		return
	}

	started, err := h.callService.StartCall(c.Request.Context(), userID, targetID, req.WithVideo, req.WithAudio)
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, started)
}

// AcceptCall answers a ringing call
// POST /v1/calls/:id/accept
func (h *Handler) AcceptCall(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	callID, ok := callIDParam(c)
	if !ok {
		return
	}

	// Body is optional; answering without one defaults to audio only
	req := AnswerRequest{WithAudio: true}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.ValidationError(c, err.Error())
			return
		}
	}

	accepted, err := h.callService.AcceptCall(c.Request.Context(), userID, callID, req.WithVideo, req.WithAudio)
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, http.StatusOK, accepted)
}

// DeclineCall rejects a ringing call
// POST /v1/calls/:id/decline
func (h *Handler) DeclineCall(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	callID, ok := callIDParam(c)
	if !ok {
		return
	}

	declined, err := h.callService.DeclineCall(c.Request.Context(), userID, callID)
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, http.StatusOK, declined)
}

// EndCall hangs up a call
// POST /v1/calls/:id/end
func (h *Handler) EndCall(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	callID, ok := callIDParam(c)
	if !ok {
		return
	}

	// Body is optional; an empty reason falls back to user_hangup
	var req EndCallRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.ValidationError(c, err.Error())
			return
		}
	}

	ended, err := h.callService.EndCall(c.Request.Context(), userID, callID, domain.EndReason(req.Reason))
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, http.StatusOK, ended)
}

// ToggleMedia flips one of the caller's media flags
// POST /v1/calls/:id/media
func (h *Handler) ToggleMedia(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	callID, ok := callIDParam(c)
	if !ok {
		return
	}

	var req ToggleMediaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	updated, err := h.callService.ToggleMedia(c.Request.Context(), userID, callID,
		domain.MediaType(req.MediaType), *req.Muted)
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, http.StatusOK, updated)
}

// GetActiveCall returns the user's current non-terminal call, if any
// GET /v1/calls/active
func (h *Handler) GetActiveCall(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	active, err := h.callService.GetActiveCall(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"call": active})
}

// GetCall returns one call the user participated in
// GET /v1/calls/:id
func (h *Handler) GetCall(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	callID, ok := callIDParam(c)
	if !ok {
		return
	}

	found, err := h.callService.GetCall(c.Request.Context(), userID, callID)
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, http.StatusOK, found)
}

// GetCallHistory lists the user's past calls, newest first
// GET /v1/calls/history?limit=20&offset=0
func (h *Handler) GetCallHistory(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	limit := parseIntQuery(c, "limit", 20)
	offset := parseIntQuery(c, "offset", 0)

	calls, err := h.callService.GetCallHistory(c.Request.Context(), userID, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"calls":  calls,
		"limit":  limit,
		"offset": offset,
	})
}

// currentUser extracts the authenticated user id set by the auth middleware.
func currentUser(c *gin.Context) (uuid.UUID, bool) {
	userIDVal, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "Not authenticated")
		return uuid.Nil, false
	}

	userID, ok := userIDVal.(uuid.UUID)
	if !ok {
		response.InternalError(c, "Invalid user ID")
		return uuid.Nil, false
	}

	return userID, true
}

func callIDParam(c *gin.Context) (uuid.UUID, bool) {
	callID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid call id")
		return uuid.Nil, false
	}
	return callID, true
}

func parseIntQuery(c *gin.Context, key string, defaultValue int) int {
	raw := c.Query(key)
	if raw == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return defaultValue
	}
	return n
}

// respondError maps service errors onto the response envelope.
func respondError(c *gin.Context, err error) {
	appErr := apperrors.GetAppError(err)
	response.Error(c, appErr.StatusCode, string(appErr.Code), appErr.Message)
}
