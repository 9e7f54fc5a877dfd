package main

import (
	"encoding/json"
	"net/http"

	"wamux/internal/constants"
	"wamux/internal/metrics"
	"wamux/internal/tracing"

	"github.com/sirupsen/logrus"
)

// handleMetrics returns a snapshot of the in-memory metrics registry.
func (s *Server) handleMetrics() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		info := tracing.GetRequestInfo(r.Context())

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")

		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")

		if err := encoder.Encode(metrics.GetSnapshot()); err != nil {
			s.logger.WithFields(logrus.Fields{
				constants.LogFieldRequestID: info.RequestID,
				constants.LogFieldTraceID:   info.TraceID,
			}).WithError(err).Error("Failed to encode metrics response")

			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
	}
}
