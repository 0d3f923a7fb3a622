package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// handleStatus reports link statistics and, when wired, bridge counters.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"version":           s.version,
		"link_connected":    s.link.IsConnected(),
		"link":              s.link.Stats(),
		"websocket_clients": s.hub.ClientCount(),
	}
	if s.bridge != nil {
		resp["bridge"] = s.bridge.Status()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleInventory lists the group addresses and devices seen on the bus.
func (s *Server) handleInventory(w http.ResponseWriter, r *http.Request) {
	if s.inventory == nil {
		writeError(w, r, http.StatusServiceUnavailable, ErrCodeUnavailable, "bus inventory is not enabled")
		return
	}

	groups, err := s.inventory.GroupAddresses(r.Context())
	if err != nil {
		s.logger.Error("listing group addresses", "error", err)
		writeError(w, r, http.StatusInternalServerError, ErrCodeInternal, "failed to list group addresses")
		return
	}
	devices, err := s.inventory.Devices(r.Context())
	if err != nil {
		s.logger.Error("listing bus devices", "error", err)
		writeError(w, r, http.StatusInternalServerError, ErrCodeInternal, "failed to list devices")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"group_addresses": groups,
		"devices":         devices,
		"count": map[string]int{
			"group_addresses": len(groups),
			"devices":         len(devices),
		},
	})
}

// handleDeviceState returns the bridge's cached state for one device.
func (s *Server) handleDeviceState(w http.ResponseWriter, r *http.Request) {
	if s.bridge == nil {
		writeError(w, r, http.StatusServiceUnavailable, ErrCodeUnavailable, "bridge is not enabled")
		return
	}

	id := chi.URLParam(r, "id")
	state, ok := s.bridge.DeviceState(id)
	if !ok {
		writeError(w, r, http.StatusNotFound, ErrCodeNotFound, "no state for device "+id)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": id,
		"state":     state,
	})
}
