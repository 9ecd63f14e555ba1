package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/antoniostano/japlvoice/internal/session"
	"github.com/antoniostano/japlvoice/internal/twilio"
	"github.com/antoniostano/japlvoice/internal/voice"
)

// turnFailureBody is returned with HTTP 500 when a turn fails and no announcement is configured.
const turnFailureBody = "Erreur lors de la génération de la réponse"

const forgetTimeout = 2 * time.Second

func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	if s.orchestrator == nil {
		respondText(w, http.StatusServiceUnavailable, "orchestrator not configured")
		return
	}
	callSID := strings.TrimSpace(r.PostFormValue(twilio.ParamCallSID))
	if callSID != "" {
		sess, created, err := s.sessions.Open(callSID, r.PostFormValue(twilio.ParamFrom), r.PostFormValue(twilio.ParamTo))
		if err == nil && created {
			s.metrics.ObserveCallEvent("started")
			s.metrics.SetActiveCalls(s.sessions.ActiveCount())
			s.logger.Info("call started",
				zap.String("call_sid", callSID),
				zap.String("session_id", sess.ID),
			)
		}
	}

	markup, err := s.orchestrator.Dialog().Greet().Marshal()
	if err != nil {
		s.logger.Error("render greeting", zap.Error(err))
		respondText(w, http.StatusInternalServerError, turnFailureBody)
		return
	}
	respondTwiML(w, http.StatusOK, markup)
}

func (s *Server) handleRecording(w http.ResponseWriter, r *http.Request) {
	if s.orchestrator == nil {
		respondText(w, http.StatusServiceUnavailable, "orchestrator not configured")
		return
	}
	callSID := strings.TrimSpace(r.PostFormValue(twilio.ParamCallSID))
	if callSID != "" {
		if err := s.sessions.Touch(callSID); errors.Is(err, session.ErrNotFound) {
			// The greeting may have been served by another instance or before a restart.
			if _, created, err := s.sessions.Open(callSID, r.PostFormValue(twilio.ParamFrom), r.PostFormValue(twilio.ParamTo)); err == nil && created {
				s.metrics.ObserveCallEvent("resumed")
				s.metrics.SetActiveCalls(s.sessions.ActiveCount())
			}
		}
	}

	turn, err := s.orchestrator.RunTurn(r.Context(), voice.TurnRequest{
		CallSID:            callSID,
		RecordingReference: r.PostFormValue(twilio.ParamRecordingURL),
	})
	if err != nil {
		s.respondTurnFailure(w, callSID, err)
		return
	}
	if callSID != "" {
		_, _ = s.sessions.RecordTurn(callSID, turn.ID)
	}
	respondTwiML(w, http.StatusOK, turn.Markup)
}

func (s *Server) respondTurnFailure(w http.ResponseWriter, callSID string, err error) {
	s.logger.Error("recording webhook failed", zap.String("call_sid", callSID), zap.Error(err))
	dialog := s.orchestrator.Dialog()
	if dialog.HasFailureAnnouncement() {
		markup, mErr := dialog.Failure().Marshal()
		if mErr == nil {
			respondTwiML(w, http.StatusOK, markup)
			return
		}
		s.logger.Error("render failure announcement", zap.Error(mErr))
	}
	respondText(w, http.StatusInternalServerError, turnFailureBody)
}

func (s *Server) handleRecordingStatus(w http.ResponseWriter, r *http.Request) {
	status := strings.TrimSpace(r.PostFormValue(twilio.ParamRecordingStatus))
	duration, _ := strconv.Atoi(r.PostFormValue(twilio.ParamRecordingDuration))
	s.logger.Info("recording status",
		zap.String("call_sid", r.PostFormValue(twilio.ParamCallSID)),
		zap.String("recording_sid", r.PostFormValue(twilio.ParamRecordingSID)),
		zap.String("status", status),
		zap.Int("duration_seconds", duration),
	)
	if status != "" {
		s.metrics.ObserveCallEvent("recording_" + status)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCallStatus(w http.ResponseWriter, r *http.Request) {
	callSID := strings.TrimSpace(r.PostFormValue(twilio.ParamCallSID))
	status := strings.TrimSpace(r.PostFormValue(twilio.ParamCallStatus))
	if callSID == "" || !twilio.IsTerminalCallStatus(status) {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	sess, err := s.sessions.End(callSID, status)
	if err == nil {
		s.metrics.ObserveCallEvent("ended")
		s.metrics.SetActiveCalls(s.sessions.ActiveCount())
		s.logger.Info("call ended",
			zap.String("call_sid", callSID),
			zap.String("status", status),
			zap.Int("turns", sess.TurnCount),
			zap.Duration("duration", sess.LastActivityAt.Sub(sess.StartedAt)),
		)
	}
	if s.history != nil {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), forgetTimeout)
		defer cancel()
		if err := s.history.Forget(ctx, callSID); err != nil {
			s.logger.Warn("forget call history", zap.String("call_sid", callSID), zap.Error(err))
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	if s.clips == nil {
		respondError(w, http.StatusNotFound, "not_found", "hosted playback disabled")
		return
	}
	clip, err := s.clips.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusNotFound, "not_found", "clip not found or expired")
		return
	}
	w.Header().Set("Content-Type", clip.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(clip.Len()))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(clip.Data)
}
