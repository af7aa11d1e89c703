package handler

import (
	"net/http"

	"github.com/alanyoungcy/yieldbridge/internal/service"
)

// MonitorReader exposes the monitor snapshot.
type MonitorReader interface {
	Status() service.MonitorStatus
}

// MonitorHandler serves GET /api/monitor.
type MonitorHandler struct {
	monitor MonitorReader
}

func NewMonitorHandler(m MonitorReader) *MonitorHandler {
	return &MonitorHandler{monitor: m}
}

func (h *MonitorHandler) GetStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.monitor.Status())
}
