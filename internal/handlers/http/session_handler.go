package http

import (
	"context"
	"errors"
	"io"
	"net/http"

	"livecast/internal/core/domain"
	"livecast/internal/core/services"
	apperrors "livecast/pkg/errors"
	"livecast/pkg/utils"
	"livecast/pkg/validation"

	"github.com/gin-gonic/gin"
)

// SessionService is the part of the session controller the control API drives.
type SessionService interface {
	SetCampaign(ctx context.Context, req services.CampaignRequest) error
	Configure(ctx context.Context) (domain.PreviewHandle, error)
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	ForceClose(ctx context.Context) error
	Reset(ctx context.Context) error
	SwitchCamera(ctx context.Context) error
	SetExposure(ctx context.Context, value float64) error
	SetOrientation(ctx context.Context, o domain.Orientation) error
	ToggleMute(ctx context.Context) (domain.MicState, error)
	EnterBackground(ctx context.Context) error
	ResumeForeground(ctx context.Context) error
	Snapshot() domain.Snapshot
	Subscribe() (<-chan domain.Snapshot, func())
}

type SessionHandler struct {
	sessions             SessionService
	defaultResolution    domain.Resolution
	defaultStabilization domain.StabilizationMode
}

// NewSessionHandler builds the handler. The defaults apply when a campaign
// request leaves resolution or stabilization empty.
func NewSessionHandler(sessions SessionService, resolution domain.Resolution, stabilization domain.StabilizationMode) *SessionHandler {
	return &SessionHandler{
		sessions:             sessions,
		defaultResolution:    resolution,
		defaultStabilization: stabilization,
	}
}

func (h *SessionHandler) SetupRoutes(router gin.IRouter) {
	api := router.Group("/api/v1/session")
	{
		api.GET("", h.GetSession)
		api.GET("/events", h.StreamEvents)
		api.POST("/campaign", h.SetCampaign)
		api.POST("/configure", h.Configure)
		api.POST("/start", h.Start)
		api.POST("/stop", h.Stop)
		api.POST("/close", h.Close)
		api.POST("/reset", h.Reset)

		// Media controls
		api.POST("/camera/switch", h.SwitchCamera)
		api.POST("/exposure", h.SetExposure)
		api.POST("/orientation", h.SetOrientation)
		api.POST("/mic/toggle", h.ToggleMic)

		// App lifecycle
		api.POST("/lifecycle/background", h.EnterBackground)
		api.POST("/lifecycle/foreground", h.EnterForeground)
	}
}

type CampaignRequest struct {
	CampaignID    string `json:"campaign_id" binding:"required,max=100"`
	PageID        string `json:"page_id" binding:"max=100"`
	Resolution    string `json:"resolution"`
	Stabilization string `json:"stabilization"`
}

type ExposureRequest struct {
	Value *float64 `json:"value" binding:"required"`
}

type OrientationRequest struct {
	Orientation string `json:"orientation" binding:"required"`
}

func (h *SessionHandler) GetSession(c *gin.Context) {
	c.JSON(http.StatusOK, h.sessions.Snapshot())
}

// StreamEvents pushes every published snapshot as a server-sent event until
// the client goes away.
func (h *SessionHandler) StreamEvents(c *gin.Context) {
	snapshots, unsubscribe := h.sessions.Subscribe()
	defer unsubscribe()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case snap, ok := <-snapshots:
			if !ok {
				return false
			}
			c.SSEvent("snapshot", snap)
			return true
		case <-ctx.Done():
			return false
		}
	})
}

func (h *SessionHandler) SetCampaign(c *gin.Context) {
	var req CampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError("invalid request format"))
		return
	}

	req.CampaignID = utils.SanitizeString(req.CampaignID)
	req.PageID = utils.SanitizeString(req.PageID)
	if err := validation.ValidateCampaignID(req.CampaignID); err != nil {
		c.Error(apperrors.NewInvalidInputError(err.Error()))
		return
	}
	if req.PageID != "" {
		if err := validation.ValidatePageID(req.PageID); err != nil {
			c.Error(apperrors.NewInvalidInputError(err.Error()))
			return
		}
	}

	resolution := h.defaultResolution
	if req.Resolution != "" {
		if err := validation.ValidateResolution(req.Resolution); err != nil {
			c.Error(apperrors.NewInvalidInputError(err.Error()))
			return
		}
		resolution = domain.ParseResolution(req.Resolution)
	}
	stabilization := h.defaultStabilization
	if req.Stabilization != "" {
		mode, err := domain.ParseStabilizationMode(req.Stabilization)
		if err != nil {
			c.Error(apperrors.NewInvalidInputError(err.Error()))
			return
		}
		stabilization = mode
	}

	err := h.sessions.SetCampaign(c.Request.Context(), services.CampaignRequest{
		CampaignID:    domain.CampaignID(req.CampaignID),
		PageID:        domain.PageID(req.PageID),
		Resolution:    resolution,
		Stabilization: stabilization,
	})
	if err != nil {
		c.Error(mapSessionError(err))
		return
	}
	c.JSON(http.StatusOK, h.sessions.Snapshot())
}

func (h *SessionHandler) Configure(c *gin.Context) {
	preview, err := h.sessions.Configure(c.Request.Context())
	if err != nil {
		c.Error(mapSessionError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"preview": preview})
}

func (h *SessionHandler) Start(c *gin.Context) {
	h.run(c, http.StatusAccepted, h.sessions.Start)
}

func (h *SessionHandler) Stop(c *gin.Context) {
	h.run(c, http.StatusOK, h.sessions.Stop)
}

func (h *SessionHandler) Close(c *gin.Context) {
	h.run(c, http.StatusOK, h.sessions.ForceClose)
}

func (h *SessionHandler) Reset(c *gin.Context) {
	h.run(c, http.StatusOK, h.sessions.Reset)
}

func (h *SessionHandler) SwitchCamera(c *gin.Context) {
	h.run(c, http.StatusOK, h.sessions.SwitchCamera)
}

func (h *SessionHandler) SetExposure(c *gin.Context) {
	var req ExposureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError("invalid request format"))
		return
	}
	if err := validation.ValidateExposure(*req.Value); err != nil {
		c.Error(apperrors.NewInvalidInputError(err.Error()))
		return
	}
	h.run(c, http.StatusOK, func(ctx context.Context) error {
		return h.sessions.SetExposure(ctx, *req.Value)
	})
}

func (h *SessionHandler) SetOrientation(c *gin.Context) {
	var req OrientationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError("invalid request format"))
		return
	}
	o, err := domain.ParseOrientation(req.Orientation)
	if err != nil {
		c.Error(apperrors.NewInvalidInputError(err.Error()))
		return
	}
	h.run(c, http.StatusOK, func(ctx context.Context) error {
		return h.sessions.SetOrientation(ctx, o)
	})
}

func (h *SessionHandler) ToggleMic(c *gin.Context) {
	mic, err := h.sessions.ToggleMute(c.Request.Context())
	if err != nil {
		c.Error(mapSessionError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"mic": mic})
}

func (h *SessionHandler) EnterBackground(c *gin.Context) {
	h.run(c, http.StatusOK, h.sessions.EnterBackground)
}

func (h *SessionHandler) EnterForeground(c *gin.Context) {
	h.run(c, http.StatusOK, h.sessions.ResumeForeground)
}

// run applies an intent and answers with the resulting snapshot.
func (h *SessionHandler) run(c *gin.Context, status int, fn func(ctx context.Context) error) {
	if err := fn(c.Request.Context()); err != nil {
		c.Error(mapSessionError(err))
		return
	}
	c.JSON(status, h.sessions.Snapshot())
}

func mapSessionError(err error) *apperrors.AppError {
	switch {
	case apperrors.IsAppError(err):
		return apperrors.GetAppError(err)
	case errors.Is(err, domain.ErrNoCampaign):
		return apperrors.Wrap(err, apperrors.ErrCodeNotFound, "no campaign selected")
	case errors.Is(err, domain.ErrSessionActive),
		errors.Is(err, domain.ErrSessionTerminal),
		errors.Is(err, domain.ErrInvalidTransition):
		return apperrors.NewSessionConflictError(err)
	case errors.Is(err, domain.ErrNotConnected):
		return apperrors.NewSignalingUnavailableError(err)
	case errors.Is(err, domain.ErrSessionClosed),
		errors.Is(err, context.DeadlineExceeded):
		return apperrors.Wrap(err, apperrors.ErrCodeServiceUnavailable, "session controller unavailable")
	default:
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "internal server error")
	}
}
