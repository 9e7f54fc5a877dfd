package main

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"

	"wamux/internal/constants"
	apperrors "wamux/internal/errors"
	"wamux/internal/models"
	"wamux/internal/service"
	"wamux/internal/tracing"
	"wamux/internal/validation"
	"wamux/pkg/whatsapp/types"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	qrcode "github.com/skip2/go-qrcode"
)

const qrImageSize = 256

type startSessionRequest struct {
	SessionID    string `json:"sessionId"`
	PairingPhone string `json:"pairingPhone,omitempty"`
	PrintQR      *bool  `json:"printQR,omitempty"`
}

type sessionSummary struct {
	ID     string               `json:"id"`
	Status models.SessionStatus `json:"status"`
}

type sessionStatusResponse struct {
	models.SessionSnapshot
	QRCodeURL string `json:"qrCodeUrl,omitempty"`
}

type webhookRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
}

type webhooksResponse struct {
	SessionID string                       `json:"sessionId"`
	Webhooks  []models.WebhookSubscription `json:"webhooks"`
}

type sendRequest struct {
	SessionID string `json:"sessionId"`
	To        string `json:"to"`
	Text      string `json:"text"`
}

type locationRequest struct {
	SessionID string   `json:"sessionId"`
	To        string   `json:"to"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

type presenceRequest struct {
	SessionID string `json:"sessionId"`
	To        string `json:"to"`
}

var presenceKinds = map[string]types.Presence{
	"typing":    types.PresenceComposing,
	"recording": types.PresenceRecording,
	"paused":    types.PresencePaused,
}

func (s *Server) handleListSessions() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snaps := s.sessions.Snapshots()
		out := make([]sessionSummary, 0, len(snaps))
		for _, snap := range snaps {
			out = append(out, sessionSummary{ID: snap.ID, Status: snap.Status})
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		s.writeJSON(w, http.StatusOK, out)
	}
}

func (s *Server) handleStartSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req startSessionRequest
		if err := s.decode(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}

		_, err := s.sessions.StartSession(r.Context(), req.SessionID, service.SessionOptions{
			PairingPhone: req.PairingPhone,
			PrintQR:      req.PrintQR,
		})
		if apperrors.IsCode(err, apperrors.ErrCodeAlreadyRunning) {
			s.writeJSON(w, http.StatusOK, map[string]string{
				"message":   "Session already running",
				"sessionId": req.SessionID,
			})
			return
		}
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		s.writeJSON(w, http.StatusCreated, map[string]string{
			"message":   "Session started",
			"sessionId": req.SessionID,
		})
	}
}

func (s *Server) handleSessionStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		snap, ok := s.sessions.SessionStatus(id)
		if !ok {
			s.writeJSON(w, http.StatusNotFound, map[string]string{"sessionId": id, "status": "NOT_FOUND"})
			return
		}

		resp := sessionStatusResponse{SessionSnapshot: snap}
		if resp.Status == models.SessionStatusAwaitingScan && resp.QR != "" {
			png, err := qrcode.Encode(resp.QR, qrcode.Medium, qrImageSize)
			if err != nil {
				s.logger.WithError(err).WithField(constants.LogFieldSession, id).Warn("Failed to encode QR image")
			} else {
				resp.QRCodeURL = "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
			}
		}
		s.writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) handleDeleteSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		keep := false
		if raw := r.URL.Query().Get("keepCredentials"); raw != "" {
			v, err := strconv.ParseBool(raw)
			if err != nil {
				s.writeError(w, r, apperrors.NewInvalidInputError("keepCredentials", "must be true or false"))
				return
			}
			keep = v
		}

		if err := s.sessions.DeleteSession(r.Context(), id, !keep); err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"message":            "Session deleted",
			"sessionId":          id,
			"credentialsDeleted": !keep,
		})
	}
}

func (s *Server) handleListWebhooks() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		subs, err := s.webhooks.List(r.Context(), id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, webhooksResponse{SessionID: id, Webhooks: subs})
	}
}

func (s *Server) handleRegisterWebhook() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		var req webhookRequest
		if err := s.decode(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		subs, err := s.webhooks.Register(r.Context(), id, req.URL, req.Events)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, webhooksResponse{SessionID: id, Webhooks: subs})
	}
}

func (s *Server) handleUnregisterWebhook() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		url := r.URL.Query().Get("url")
		if url == "" && r.ContentLength != 0 {
			var req webhookRequest
			if err := s.decode(w, r, &req); err != nil {
				s.writeError(w, r, err)
				return
			}
			url = req.URL
		}
		subs, err := s.webhooks.Unregister(r.Context(), id, url)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, webhooksResponse{SessionID: id, Webhooks: subs})
	}
}

func (s *Server) handleSend() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sendRequest
		if err := s.decode(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		sent, err := s.sessions.SendText(r.Context(), req.SessionID, req.To, req.Text)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"message": "Message sent",
			"result":  sent,
		})
	}
}

func (s *Server) handleSendLocation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req locationRequest
		if err := s.decode(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		if req.Latitude == nil || req.Longitude == nil {
			s.writeError(w, r, apperrors.NewInvalidInputError("location", "latitude and longitude are required"))
			return
		}
		sent, err := s.sessions.SendLocation(r.Context(), req.SessionID, req.To, *req.Latitude, *req.Longitude)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"message": "Location sent",
			"result":  sent,
		})
	}
}

func (s *Server) handlePresence() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		presence, ok := presenceKinds[mux.Vars(r)["kind"]]
		if !ok {
			s.writeError(w, r, apperrors.NewInvalidInputError("presence", "must be typing, recording or paused"))
			return
		}
		var req presenceRequest
		if err := s.decode(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := s.sessions.SendPresence(r.Context(), req.SessionID, req.To, presence); err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"message": "Presence sent", "presence": string(presence)})
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	if err := validation.ValidateHTTPRequestSize(r, maxRequestBodyBytes); err != nil {
		return err
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperrors.NewInvalidInputError("body", "request body must be valid JSON")
	}
	return nil
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	info := tracing.GetRequestInfo(r.Context())
	status := apperrors.HTTPStatusCode(err)

	fields := logrus.Fields{
		constants.LogFieldRequestID:  info.RequestID,
		constants.LogFieldStatusCode: status,
		constants.LogFieldURL:        r.URL.Path,
	}
	if status >= http.StatusInternalServerError {
		apperrors.LogError(s.logger, err, "Request failed", fields)
	} else {
		apperrors.LogWarn(s.logger, err, "Request rejected", fields)
	}

	s.writeJSON(w, status, apperrors.ToHTTPResponse(err, info.RequestID))
}
