package main

import (
	"encoding/json"
	"net/http"

	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/zerolog/log"

	"github.com/fpang/voice-draft-pipeline/internal/jobs"
	"github.com/fpang/voice-draft-pipeline/internal/objstore"
	"github.com/fpang/voice-draft-pipeline/internal/recording"
)

const sessionsPrefix = "/sessions/"

type statusServer struct {
	store  objstore.Store
	bucket string
}

// routes returns the HTTP handler. Responses are gzip-compressed when the
// client accepts it; long transcripts compress well.
func (s *statusServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(sessionsPrefix, s.handleSession)
	return gzhttp.GzipHandler(mux)
}

func (s *statusServer) handleSession(w http.ResponseWriter, r *http.Request) {
	sessionID, action, ok := jobs.ParseSessionRoute(r.URL.Path, sessionsPrefix)
	if !ok || action != "transcript" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	session, err := recording.SanitizeSessionID(sessionID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	st, err := recording.ReadStatus(r.Context(), s.store, s.bucket, session)
	if err != nil {
		log.Error().Err(err).Str("sessionId", session).Msg("Failed to read session status")
		writeError(w, http.StatusBadGateway, "storage unavailable")
		return
	}
	log.Debug().Str("sessionId", session).Str("status", st.State).Int("chunks", st.Chunks).Msg("Session status served")
	writeJSON(w, http.StatusOK, st)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
