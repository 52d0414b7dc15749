package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/espleds-core/internal/control"
	"github.com/nerrad567/espleds-core/internal/controller"
	"github.com/nerrad567/espleds-core/internal/discovery"
	"github.com/nerrad567/espleds-core/internal/history"
)

// maxAddressLen bounds the {address} path parameter.
const maxAddressLen = 64

// deviceResponse is one registered device plus the intended settings of its
// controller, when one exists.
type deviceResponse struct {
	discovery.Device
	DisplayName string            `json:"display_name"`
	Settings    *control.Settings `json:"settings,omitempty"`
	Pending     bool              `json:"pending"`
}

// settingsResponse is returned by the settings and refresh endpoints.
type settingsResponse struct {
	Address  string            `json:"address"`
	Settings control.Settings  `json:"settings"`
	Pending  bool              `json:"pending"`
	Errors   map[string]string `json:"errors,omitempty"`
}

// setParameterRequest is the body of PUT .../settings/{parameter}.
type setParameterRequest struct {
	Value *control.Value `json:"value"`
}

// setParameterResponse acknowledges a queued write.
type setParameterResponse struct {
	Address   string           `json:"address"`
	Parameter string           `json:"parameter"`
	Value     control.Value    `json:"value"`
	Settings  control.Settings `json:"settings"`
}

func (s *Server) describe(d discovery.Device) deviceResponse {
	resp := deviceResponse{Device: d, DisplayName: d.DisplayName()}
	if c, ok := s.manager.Lookup(d.Address); ok {
		settings := c.Settings()
		resp.Settings = &settings
		resp.Pending = c.Pending()
	}
	return resp
}

// handleListDevices returns every registered device, sorted by address.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	snapshot := s.devices.Snapshot()
	devices := make([]deviceResponse, 0, len(snapshot))
	for _, d := range snapshot {
		devices = append(devices, s.describe(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns a single registered device.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	d, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.describe(d))
}

// handleGetSettings returns the intended settings for a device. The first
// request for a device creates its controller and reads the device.
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	d, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}

	c, existed := s.manager.Lookup(d.Address)
	if !existed {
		var err error
		if c, err = s.manager.Controller(d.Address); err != nil {
			s.writeControllerError(w, err)
			return
		}
		if _, err := c.Refresh(r.Context()); err != nil {
			s.logger.Warn("initial settings read incomplete", "address", d.Address, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, settingsResponse{
		Address:  d.Address,
		Settings: c.Settings(),
		Pending:  c.Pending(),
	})
}

// handleRefresh re-reads every parameter from the device. Parameters that
// could not be read take their defaults and are listed under "errors"; the
// response is still 200 because the settings are usable.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	d, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}

	c, err := s.manager.Controller(d.Address)
	if err != nil {
		s.writeControllerError(w, err)
		return
	}

	settings, err := c.Refresh(r.Context())
	resp := settingsResponse{Address: d.Address, Settings: settings, Pending: c.Pending()}
	if err != nil {
		re, partial := control.AsRefreshError(err)
		if !partial {
			s.writeControllerError(w, err)
			return
		}
		resp.Errors = make(map[string]string, len(re.Failures))
		for p, perr := range re.Failures {
			resp.Errors[string(p)] = perr.Error()
		}
		s.logger.Warn("device refresh incomplete",
			"address", d.Address,
			"failed", len(re.Failures),
			"request_id", requestID(r.Context()),
		)
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleSetParameter queues a parameter write. The write is coalesced with
// other pending writes for the same parameter, so the response is 202 and
// the device's echo arrives later on device.settings_changed.
func (s *Server) handleSetParameter(w http.ResponseWriter, r *http.Request) {
	d, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}

	p, err := control.ParseParameter(chi.URLParam(r, "parameter"))
	if err != nil {
		writeNotFound(w, "unknown parameter")
		return
	}

	var req setParameterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if errors.Is(err, control.ErrInvalidValue) {
			writeValidationError(w, err.Error())
			return
		}
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Value == nil {
		writeBadRequest(w, "value field is required")
		return
	}
	if p.Numeric() == req.Value.IsText() {
		kind := "text"
		if p.Numeric() {
			kind = "a number"
		}
		writeValidationError(w, fmt.Sprintf("%s expects %s", p, kind))
		return
	}

	v := p.Clamp(*req.Value)
	if err := s.manager.Send(d.Address, history.SourceAPI, p, v); err != nil {
		s.writeControllerError(w, err)
		return
	}

	resp := setParameterResponse{Address: d.Address, Parameter: string(p), Value: v}
	if c, ok := s.manager.Lookup(d.Address); ok {
		resp.Settings = c.Settings()
	}

	s.logger.Debug("parameter write queued",
		"address", d.Address,
		"parameter", string(p),
		"value", v.String(),
		"request_id", requestID(r.Context()),
	)
	writeJSON(w, http.StatusAccepted, resp)
}

// lookupDevice resolves {address} to a registered device, writing a 400 or
// 404 response when it cannot.
func (s *Server) lookupDevice(w http.ResponseWriter, r *http.Request) (discovery.Device, bool) {
	address := chi.URLParam(r, "address")
	if address == "" || len(address) > maxAddressLen {
		writeBadRequest(w, "invalid device address")
		return discovery.Device{}, false
	}
	d, ok := s.devices.Get(address)
	if !ok {
		writeNotFound(w, "device not found")
		return discovery.Device{}, false
	}
	return d, true
}

func (s *Server) writeControllerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, controller.ErrClosed):
		writeUnavailable(w, "device controllers are shutting down")
	case errors.Is(err, control.ErrUnknownParameter):
		writeNotFound(w, "unknown parameter")
	default:
		s.logger.Error("device controller error", "error", err)
		writeInternalError(w, "device controller error")
	}
}
