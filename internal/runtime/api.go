package runtime

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/livebabel/babel-core/internal/voiceprofile"
)

// maxSampleBytes caps voice sample uploads at roughly a minute of
// uncompressed 48 kHz stereo audio.
const maxSampleBytes = 12 << 20

func (r *Runtime) routes(metricsHandler http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}
	mux.HandleFunc("POST /v1/voice-profiles", r.handleProfileUpload)
	mux.HandleFunc("GET /v1/voice-profiles/{id}", r.handleProfileStatus)
	mux.HandleFunc("POST /v1/speaker", r.handleSetSpeaker)
	mux.HandleFunc("GET /v1/lanes", r.handleLanes)
	return mux
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.orch.Healthy() && r.ingress.Healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) handleProfileUpload(w http.ResponseWriter, req *http.Request) {
	sample, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxSampleBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "voice sample too large")
		return
	}

	speakerID, err := r.profiles.Submit(req.Context(), sample)
	if err != nil {
		if errors.Is(err, voiceprofile.ErrQueueFull) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"speaker_id": speakerID,
		"status":     string(voiceprofile.StatusPending),
	})
}

func (r *Runtime) handleProfileStatus(w http.ResponseWriter, req *http.Request) {
	profile, err := r.profiles.Status(req.Context(), req.PathValue("id"))
	if err != nil {
		if errors.Is(err, voiceprofile.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	body := map[string]string{
		"speaker_id": profile.SpeakerID,
		"status":     string(profile.Status),
	}
	if profile.Status == voiceprofile.StatusFailed {
		body["reason"] = profile.FailureReason
	}
	writeJSON(w, http.StatusOK, body)
}

func (r *Runtime) handleSetSpeaker(w http.ResponseWriter, req *http.Request) {
	var body struct {
		SpeakerID string `json:"speaker_id"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	r.orch.SetSpeaker(body.SpeakerID)
	writeJSON(w, http.StatusOK, map[string]string{"speaker_id": body.SpeakerID})
}

func (r *Runtime) handleLanes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, r.orch.Snapshot())
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Warn("failed to encode response", slog.String("error", err.Error()))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
