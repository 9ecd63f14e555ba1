package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"go.uber.org/zap"

	"github.com/antoniostano/japlvoice/internal/twilio"
)

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// webhook counts responses per Twilio route.
func (s *Server) webhook(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		h(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.ObserveWebhook(route, status)
	}
}

// requireTwilioSignature rejects webhooks whose X-Twilio-Signature does not match the public URL
// and posted form.
func (s *Server) requireTwilioSignature(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			respondText(w, http.StatusBadRequest, "invalid form body")
			return
		}
		fullURL := s.cfg.PublicURL + r.URL.RequestURI()
		if !twilio.ValidSignature(s.cfg.TwilioAuthToken, fullURL, r.PostForm, r.Header.Get(twilio.SignatureHeader)) {
			s.metrics.ObserveCallEvent("signature_rejected")
			s.logger.Warn("twilio signature rejected",
				zap.String("path", r.URL.Path),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
			respondText(w, http.StatusForbidden, "invalid signature")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// callRateKey gives every call its own webhook budget. Twilio posts all calls from a few shared
// addresses, so the client IP is only used for requests that name no call.
func callRateKey(r *http.Request) (string, error) {
	if callSID := strings.TrimSpace(r.PostFormValue(twilio.ParamCallSID)); callSID != "" {
		return "call:" + r.PostFormValue(twilio.ParamAccountSID) + ":" + callSID, nil
	}
	return httprate.KeyByIP(r)
}
