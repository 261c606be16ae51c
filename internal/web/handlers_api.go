package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"camlink/internal/coordinator"
	"camlink/internal/signaling"
)

const maxBodyBytes = 1 << 20

func (s *Server) handleAPIListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.coord.ListDeviceStates()
	if err != nil {
		s.logger.Error("list devices", "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	s.writeJSON(w, http.StatusOK, devices)
}

func (s *Server) handleAPIGetDevice(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	dev, err := s.coord.GetDeviceState(id)
	if err != nil {
		if coordinator.IsNotFound(err) {
			s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "device not found"})
			return
		}
		s.logger.Error("get device", "device", id, "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	s.writeJSON(w, http.StatusOK, dev)
}

func (s *Server) handleAPIStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.coord.Stats()
	if err != nil {
		s.logger.Error("stats", "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

type secretRequest struct {
	Secret string `json:"secret"`
}

func (s *Server) handleAPIRegisterSecret(w http.ResponseWriter, r *http.Request) {
	var req secretRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Secret == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "secret is required"})
		return
	}
	s.coord.RegisterDeviceSecret(r.PathValue("id"), req.Secret)
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleAPICheckDevice reports the state before the info request went out;
// device is null for an ID that never reported.
func (s *Server) handleAPICheckDevice(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	dev, err := s.coord.CheckDevice(r.Context(), id)
	if err != nil {
		s.writeError(w, "check device", id, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "device": dev})
}

func (s *Server) handleAPIRequestInfo(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.writeResult(w, "request info", id, s.coord.RequestDeviceInfo(r.Context(), id))
}

func (s *Server) handleAPIFormatStorage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.writeResult(w, "format storage", id, s.coord.FormatStorage(r.Context(), id))
}

func (s *Server) handleAPIReboot(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.writeResult(w, "reboot", id, s.coord.Reboot(r.Context(), id))
}

type toggleRequest struct {
	Enable bool `json:"enable"`
}

func (s *Server) handleAPISetRotation(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if !s.decode(w, r, &req) {
		return
	}
	id := r.PathValue("id")
	s.writeResult(w, "set rotation", id, s.coord.SetRotation(r.Context(), id, req.Enable))
}

func (s *Server) handleAPISetFloodlight(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if !s.decode(w, r, &req) {
		return
	}
	id := r.PathValue("id")
	s.writeResult(w, "set floodlight", id, s.coord.SetFloodlight(r.Context(), id, req.Enable))
}

type directionRequest struct {
	Direction string `json:"direction"`
}

func (s *Server) handleAPIDirection(w http.ResponseWriter, r *http.Request) {
	var req directionRequest
	if !s.decode(w, r, &req) {
		return
	}
	id := r.PathValue("id")
	s.writeResult(w, "direction", id, s.coord.SendDirection(r.Context(), id, req.Direction))
}

type sendCommandRequest struct {
	Code   *int           `json:"code"`
	Fields map[string]any `json:"fields"`
}

func (s *Server) handleAPISendCommand(w http.ResponseWriter, r *http.Request) {
	var req sendCommandRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Code == nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "code is required"})
		return
	}
	id := r.PathValue("id")
	s.writeResult(w, "send command", id, s.coord.SendCommand(r.Context(), id, *req.Code, req.Fields))
}

type offerRequest struct {
	SessionID string `json:"sid"`
	RTC       string `json:"rtc"`
}

func (s *Server) handleAPIRequestOffer(w http.ResponseWriter, r *http.Request) {
	var req offerRequest
	if !s.decode(w, r, &req) {
		return
	}
	id := r.PathValue("id")
	sid, err := s.coord.RequestWebRTCOffer(r.Context(), id, req.SessionID, req.RTC)
	if err != nil {
		s.writeError(w, "request offer", id, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "sid": sid})
}

type answerRequest struct {
	SessionID string `json:"sid"`
	SDP       string `json:"sdp"`
}

func (s *Server) handleAPISendAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if !s.decode(w, r, &req) {
		return
	}
	id := r.PathValue("id")
	s.writeResult(w, "send answer", id, s.coord.SendWebRTCAnswer(r.Context(), id, req.SessionID, req.SDP))
}

type candidateRequest struct {
	SessionID string `json:"sid"`
	Candidate string `json:"candidate"`
}

func (s *Server) handleAPISendCandidate(w http.ResponseWriter, r *http.Request) {
	var req candidateRequest
	if !s.decode(w, r, &req) {
		return
	}
	id := r.PathValue("id")
	s.writeResult(w, "send candidate", id, s.coord.SendWebRTCCandidate(r.Context(), id, req.SessionID, req.Candidate))
}

func (s *Server) handleAPIGetOffer(w http.ResponseWriter, r *http.Request) {
	sid := r.PathValue("sid")
	offer, err := s.coord.GetLatestOffer(r.Context(), sid)
	if err != nil {
		if errors.Is(err, signaling.ErrNotFound) {
			s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "offer not found"})
			return
		}
		s.logger.Error("get offer", "sid", sid, "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	s.writeJSON(w, http.StatusOK, offer)
}

// handleAPIDrainCandidates returns the candidate strings only; entries
// without one are skipped.
func (s *Server) handleAPIDrainCandidates(w http.ResponseWriter, r *http.Request) {
	sid := r.PathValue("sid")
	msgs, err := s.coord.DrainCandidates(r.Context(), sid)
	if err != nil {
		s.logger.Error("drain candidates", "sid", sid, "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	candidates := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if m.Candidate != "" {
			candidates = append(candidates, m.Candidate)
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"sid": sid, "candidates": candidates})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return false
	}
	return true
}

func (s *Server) writeResult(w http.ResponseWriter, op, deviceID string, err error) {
	if err != nil {
		s.writeError(w, op, deviceID, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeError maps coordinator errors to status codes: caller mistakes are
// 400, unknown devices 404, and anything on the publish path 502.
func (s *Server) writeError(w http.ResponseWriter, op, deviceID string, err error) {
	switch {
	case errors.Is(err, coordinator.ErrInvalidArgument):
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case coordinator.IsNotFound(err):
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "device not found"})
	default:
		s.logger.Warn(op, "device", deviceID, "err", err)
		s.writeJSON(w, http.StatusBadGateway, map[string]string{"error": "device unreachable"})
	}
}
