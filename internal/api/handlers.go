package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"gridcon-pcs/internal/controller"
	"gridcon-pcs/internal/gridcon/errcatalog"
)

// SetpointRequest is the body of PUT /api/v1/setpoint.
type SetpointRequest struct {
	ActivePower   *float64 `json:"active_power" binding:"required"`
	ReactivePower float64  `json:"reactive_power"`
}

type DeviceConfigResponse struct {
	Host           string `json:"host"`
	Port           int    `json:"port"`
	UnitID         uint8  `json:"unit_id"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	InverterCount  int    `json:"inverter_count"`
}

// DeviceConfigRequest describes a Gridcon unit to probe.
type DeviceConfigRequest struct {
	Host           string `json:"host" binding:"required"`
	Port           int    `json:"port" binding:"required,min=1,max=65535"`
	UnitID         uint8  `json:"unit_id" binding:"required,min=1,max=247"`
	TimeoutSeconds int    `json:"timeout_seconds" binding:"required,min=1,max=60"`
	InverterCount  int    `json:"inverter_count" binding:"omitempty,min=1,max=3"`
}

func (s *Server) healthHandler(c *gin.Context) {
	status := "healthy"
	deviceOnline := false
	unrecoverable := false
	state := ""

	if snap := s.controller.Snapshot(); snap != nil {
		deviceOnline = snap.CycleOK
		unrecoverable = snap.Unrecoverable
		state = snap.GridTieState
	}
	if unrecoverable {
		status = "unrecoverable"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":         status,
		"device_online":  deviceOnline,
		"grid_tie_state": state,
		"running":        s.controller.IsRunning(),
		"timestamp":      time.Now(),
	})
}

func (s *Server) statusHandler(c *gin.Context) {
	snap := s.controller.Snapshot()
	if snap == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "No data available yet",
		})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) errorLookupHandler(c *gin.Context) {
	code, err := errcatalog.ParseCode(c.Param("code"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entry, err := s.catalog.Lookup(code)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":           err.Error(),
			"code":            errcatalog.Entry{Code: code}.Hex(),
			"acknowledgeable": true,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":            entry.Hex(),
		"name":            entry.Name,
		"text":            entry.Text,
		"level":           entry.Level,
		"acknowledge":     entry.Acknowledge,
		"reaction":        entry.Reaction,
		"hard_reset":      entry.HardReset,
		"acknowledgeable": s.catalog.Acknowledgeable(code),
	})
}

func (s *Server) resetHandler(c *gin.Context) {
	if err := s.controller.Reset(); err != nil {
		s.commandError(c, err)
		return
	}
	s.logger.Info().Str("remote", c.ClientIP()).Msg("reset requested")
	c.JSON(http.StatusAccepted, gin.H{
		"message": "Reset scheduled for the next cycle",
	})
}

func (s *Server) getSetpointHandler(c *gin.Context) {
	snap := s.controller.Snapshot()
	if snap == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "No data available yet"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"active_power":   snap.ActivePower,
		"reactive_power": snap.ReactivePower,
		"power_applied":  snap.PowerApplied,
		"max_apparent":   snap.MaxApparent,
	})
}

func (s *Server) setpointHandler(c *gin.Context) {
	var req SetpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.controller.SetPower(*req.ActivePower, req.ReactivePower); err != nil {
		s.commandError(c, err)
		return
	}
	s.logger.Info().
		Float64("active_power", *req.ActivePower).
		Float64("reactive_power", req.ReactivePower).
		Str("remote", c.ClientIP()).
		Msg("setpoint requested")

	c.JSON(http.StatusAccepted, gin.H{
		"active_power":   *req.ActivePower,
		"reactive_power": req.ReactivePower,
	})
}

func (s *Server) commandError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, controller.ErrInvalidSetpoint):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, controller.ErrBusy):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (s *Server) getDeviceConfigHandler(c *gin.Context) {
	if s.config == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No configuration loaded"})
		return
	}

	s.configMutex.RLock()
	defer s.configMutex.RUnlock()

	c.JSON(http.StatusOK, DeviceConfigResponse{
		Host:           s.config.Device.Host,
		Port:           s.config.Device.Port,
		UnitID:         s.config.Device.UnitID,
		TimeoutSeconds: int(s.config.Device.Timeout.Seconds()),
		InverterCount:  s.config.Device.InverterCount,
	})
}

// Test a device address without touching the running controller
func (s *Server) testDeviceConfigHandler(c *gin.Context) {
	var req DeviceConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "success": false})
		return
	}
	if s.testDevice == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "Device test not available", "success": false})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), time.Duration(req.TimeoutSeconds)*time.Second*2)
	defer cancel()

	if err := s.testDevice(ctx, req); err != nil {
		c.JSON(http.StatusOK, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Connection successful",
	})
}
