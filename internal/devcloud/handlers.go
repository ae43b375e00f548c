//go:build !tinygo

package devcloud

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"tigermeter/internal/logs"
)

const maxInstructionBody = 16 << 10

// Handler wires the HTTP layer to the service.
type Handler struct {
	svc *Service
	log *logs.Zap
}

func NewHandler(svc *Service, log *logs.Zap) *Handler {
	return &Handler{svc: svc, log: log}
}

// InitRoutes builds the router. Device endpoints live under /api, operator
// endpoints under /api with a user token and /api/admin with an admin token.
func (h *Handler) InitRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", h.health)

	api := router.Group("/api")
	{
		api.POST("/device-claims", h.issueClaim)
		api.GET("/device-claims/:code/poll", h.pollClaim)
		api.POST("/devices/:id/heartbeat", h.heartbeat)
	}

	user := api.Group("", h.userMiddleware)
	{
		user.POST("/device-claims/:code/attach", h.attach)
		user.PUT("/devices/:id/display", h.setDisplay)
	}

	admin := api.Group("/admin", h.userMiddleware, h.adminOnly)
	{
		admin.GET("/devices", h.listDevices)
		admin.GET("/devices/:id", h.getDevice)
		admin.DELETE("/devices/:id", h.deleteDevice)
		admin.POST("/devices/:id/revoke", h.revoke)
		admin.POST("/devices/:id/factory-reset", h.factoryReset)
		admin.PATCH("/devices/:id/settings", h.updateSettings)
		admin.PUT("/devices/:id/display", h.setDisplay)
	}
	return router
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// fail writes {"message": ...} with the status the error maps to.
func (h *Handler) fail(c *gin.Context, event string, err error) {
	status, msg := http.StatusInternalServerError, "Internal error"
	switch {
	case errors.Is(err, ErrInvalidMAC):
		status, msg = http.StatusBadRequest, "Invalid MAC"
	case errors.Is(err, ErrBadSignature):
		status, msg = http.StatusUnauthorized, "Invalid signature"
	case errors.Is(err, ErrInvalidCode):
		status, msg = http.StatusBadRequest, "Invalid code"
	case errors.Is(err, ErrCodeExpired) && event == "attach":
		status, msg = http.StatusBadRequest, "Expired code"
	case errors.Is(err, ErrCodeExpired):
		status, msg = http.StatusGone, "Expired"
	case errors.Is(err, ErrAlreadyClaimed):
		status, msg = http.StatusConflict, "Already claimed"
	case errors.Is(err, ErrNotFound):
		status, msg = http.StatusNotFound, "Not found"
	case errors.Is(err, ErrInvalidSecret):
		status, msg = http.StatusUnauthorized, "Invalid or expired secret"
	case errors.Is(err, ErrRevoked):
		status, msg = http.StatusForbidden, "Device revoked"
	case errors.Is(err, ErrForbidden):
		status, msg = http.StatusForbidden, "Forbidden"
	case errors.Is(err, ErrNotActive):
		status, msg = http.StatusConflict, "Device must be active"
	case errors.Is(err, ErrBadInstruction):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, ErrNothingToUpdate):
		status, msg = http.StatusBadRequest, "No settings to update"
	}
	if h.log != nil {
		if status >= http.StatusInternalServerError {
			h.log.Errorw(event+"_failed", "err", err)
		} else {
			h.log.Infow(event+"_rejected", "status", status, "err", err)
		}
	}
	c.JSON(status, gin.H{"message": msg})
}

func (h *Handler) bindJSONOrBadRequest(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		if h.log != nil {
			h.log.Infow("bad_request_body", "path", c.FullPath(), "err", err)
		}
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid JSON body"})
		return false
	}
	return true
}

func (h *Handler) issueClaim(c *gin.Context) {
	var req ClaimRequest
	if !h.bindJSONOrBadRequest(c, &req) {
		return
	}
	res, err := h.svc.IssueClaim(c.Request.Context(), req)
	if err != nil {
		h.fail(c, "issue_claim", err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) pollClaim(c *gin.Context) {
	res, err := h.svc.Poll(c.Request.Context(), c.Param("code"))
	if errors.Is(err, ErrClaimPending) {
		c.JSON(http.StatusAccepted, gin.H{"status": ClaimPending})
		return
	}
	if err != nil {
		h.fail(c, "poll_claim", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) heartbeat(c *gin.Context) {
	secret, ok := bearer(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "Missing bearer"})
		return
	}
	var req HeartbeatRequest
	if !h.bindJSONOrBadRequest(c, &req) {
		return
	}
	res, err := h.svc.Heartbeat(c.Request.Context(), c.Param("id"), secret, req)
	if err != nil {
		h.fail(c, "heartbeat", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) attach(c *gin.Context) {
	id, err := h.svc.Attach(c.Request.Context(), c.Param("code"), c.GetString(ctxUserID))
	if err != nil {
		h.fail(c, "attach", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deviceId": id, "message": "Attached"})
}

func (h *Handler) setDisplay(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxInstructionBody))
	if err != nil || !json.Valid(raw) {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid JSON body"})
		return
	}
	owner := c.GetString(ctxUserID)
	if c.GetString(ctxRole) == RoleAdmin {
		owner = ""
	}
	hash, err := h.svc.SetDisplay(c.Request.Context(), c.Param("id"), owner, raw)
	if err != nil {
		h.fail(c, "set_display", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"displayHash": hash})
}

func (h *Handler) listDevices(c *gin.Context) {
	devs, err := h.svc.ListDevices(c.Request.Context())
	if err != nil {
		h.fail(c, "list_devices", err)
		return
	}
	if devs == nil {
		devs = []Device{}
	}
	c.JSON(http.StatusOK, gin.H{"devices": devs})
}

func (h *Handler) getDevice(c *gin.Context) {
	dev, err := h.svc.Device(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "get_device", err)
		return
	}
	c.JSON(http.StatusOK, dev)
}

func (h *Handler) deleteDevice(c *gin.Context) {
	h.simple(c, "delete_device", h.svc.Delete, "Deleted")
}

func (h *Handler) revoke(c *gin.Context) {
	h.simple(c, "revoke", h.svc.Revoke, "Revoked")
}

func (h *Handler) factoryReset(c *gin.Context) {
	h.simple(c, "factory_reset", h.svc.QueueFactoryReset, "Factory reset queued")
}

func (h *Handler) simple(c *gin.Context, event string, op func(context.Context, string) error, msg string) {
	if err := op(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, event, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

func (h *Handler) updateSettings(c *gin.Context) {
	var in Settings
	if !h.bindJSONOrBadRequest(c, &in) {
		return
	}
	dev, err := h.svc.UpdateSettings(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		h.fail(c, "update_settings", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"autoUpdate": dev.AutoUpdate, "demoMode": dev.DemoMode})
}
