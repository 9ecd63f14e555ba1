package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap/zaptest"

	"github.com/antoniostano/japlvoice/internal/audio"
	"github.com/antoniostano/japlvoice/internal/config"
	"github.com/antoniostano/japlvoice/internal/memory"
	"github.com/antoniostano/japlvoice/internal/observability"
	"github.com/antoniostano/japlvoice/internal/session"
	"github.com/antoniostano/japlvoice/internal/twilio"
	"github.com/antoniostano/japlvoice/internal/voice"
)

type transcribeFunc func(ctx context.Context, ref string) (string, error)

func (f transcribeFunc) Transcribe(ctx context.Context, ref string, _ voice.TranscribeOptions) (string, error) {
	return f(ctx, ref)
}

type replyFunc func(ctx context.Context, req voice.ReplyRequest) (string, error)

func (f replyFunc) GenerateReply(ctx context.Context, req voice.ReplyRequest) (string, error) {
	return f(ctx, req)
}

type synthFunc func(ctx context.Context, text string) (audio.Clip, error)

func (f synthFunc) Synthesize(ctx context.Context, text string, _ voice.VoiceConfig) (audio.Clip, error) {
	return f(ctx, text)
}

var testDialog = twilio.Dialog{
	Greeting:                "Bonjour, comment puis-je vous aider?",
	Reprompt:                "Pouvez-vous répéter?",
	Language:                "fr-FR",
	RecordAction:            "/twilio/recording",
	RecordingStatusCallback: "/twilio/recording-status",
	MaxRecordingSeconds:     60,
	MultiTurn:               true,
}

type fixture struct {
	cfg       config.Config
	tr        voice.Transcriber
	gen       voice.ReplyGenerator
	synth     voice.Synthesizer
	publisher audio.Publisher
	clips     ClipSource
	history   memory.Store
	dialog    twilio.Dialog
	timeout   time.Duration
}

func (f fixture) server(t *testing.T) (*Server, *session.Manager) {
	t.Helper()
	if f.tr == nil {
		f.tr = transcribeFunc(func(context.Context, string) (string, error) { return "bonjour", nil })
	}
	if f.gen == nil {
		f.gen = replyFunc(func(context.Context, voice.ReplyRequest) (string, error) { return "Bonjour, je vais bien", nil })
	}
	if f.synth == nil {
		f.synth = synthFunc(func(context.Context, string) (audio.Clip, error) {
			return audio.NewClip([]byte("ID3 reply"), audio.ContentTypeMPEG), nil
		})
	}
	if f.dialog.Greeting == "" {
		f.dialog = testDialog
	}
	if f.cfg.CallInactivity == 0 {
		f.cfg.CallInactivity = time.Minute
	}
	logger := zaptest.NewLogger(t)
	metrics := observability.NewMetricsWithRegistry("test_httpapi", prometheus.NewRegistry())
	orch, err := voice.NewOrchestrator(voice.Deps{
		Transcriber:  f.tr,
		Generator:    f.gen,
		Synthesizers: voice.Synthesizers{voice.StrategyRequestResponse: f.synth},
		Publisher:    f.publisher,
		History:      f.history,
		Metrics:      metrics,
		Logger:       logger,
	}, voice.Options{StepTimeout: f.timeout, Dialog: f.dialog, HistoryTurns: 4})
	if err != nil {
		t.Fatalf("NewOrchestrator() error = %v", err)
	}
	sessions := session.NewManager(f.cfg.CallInactivity)
	return New(f.cfg, Deps{
		Sessions:     sessions,
		Orchestrator: orch,
		History:      f.history,
		Clips:        f.clips,
		Metrics:      metrics,
		Logger:       logger,
	}), sessions
}

func postForm(t *testing.T, ts *httptest.Server, path string, form url.Values) (*http.Response, string) {
	t.Helper()
	res, err := http.PostForm(ts.URL+path, form)
	if err != nil {
		t.Fatalf("POST %s error = %v", path, err)
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("reading %s body failed: %v", path, err)
	}
	return res, string(body)
}

func TestRootBanner(t *testing.T) {
	srv, _ := fixture{}.server(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	res, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET / error = %v", err)
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)
	if res.StatusCode != http.StatusOK || string(body) != rootBanner {
		t.Fatalf("GET / = %d %q", res.StatusCode, body)
	}
}

func TestVoiceWebhookGreets(t *testing.T) {
	srv, sessions := fixture{}.server(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	res, err := http.Post(ts.URL+"/twilio/voice", "application/x-www-form-urlencoded", nil)
	if err != nil {
		t.Fatalf("POST /twilio/voice error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", res.StatusCode)
	}
	if ct := res.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/xml") {
		t.Fatalf("Content-Type = %q, want text/xml", ct)
	}
	body, _ := io.ReadAll(res.Body)
	doc, err := twilio.Parse(body)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	says := doc.Find("Say")
	if len(says) != 1 || says[0].Text != testDialog.Greeting {
		t.Fatalf("Say = %+v, want greeting", says)
	}
	records := doc.Find("Record")
	if len(records) != 1 || records[0].Attrs["action"] != "/twilio/recording" {
		t.Fatalf("Record = %+v, want action /twilio/recording", records)
	}
	if records[0].Attrs["transcribe"] != "false" || records[0].Attrs["maxLength"] != "60" {
		t.Fatalf("Record attrs = %+v", records[0].Attrs)
	}
	if sessions.ActiveCount() != 0 {
		t.Fatalf("ActiveCount() = %d, want no session without CallSid", sessions.ActiveCount())
	}

	postForm(t, ts, "/twilio/voice", url.Values{twilio.ParamCallSID: {"CA1"}, twilio.ParamFrom: {"+33100000000"}})
	if sessions.ActiveCount() != 1 {
		t.Fatalf("ActiveCount() = %d, want 1", sessions.ActiveCount())
	}
}

func TestRecordingWebhookPlaysReply(t *testing.T) {
	payload := make([]byte, 2048)
	for i := range payload {
		payload[i] = byte(255 - i%256)
	}
	var (
		mu                             sync.Mutex
		gotRef, gotTranscript, gotText string
	)
	srv, sessions := fixture{
		tr: transcribeFunc(func(_ context.Context, ref string) (string, error) {
			mu.Lock()
			defer mu.Unlock()
			gotRef = ref
			return "bonjour", nil
		}),
		gen: replyFunc(func(_ context.Context, req voice.ReplyRequest) (string, error) {
			mu.Lock()
			defer mu.Unlock()
			gotTranscript = req.Transcript
			return "Bonjour, je vais bien", nil
		}),
		synth: synthFunc(func(_ context.Context, text string) (audio.Clip, error) {
			mu.Lock()
			defer mu.Unlock()
			gotText = text
			return audio.NewClip(payload, audio.ContentTypeMPEG), nil
		}),
	}.server(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	postForm(t, ts, "/twilio/voice", url.Values{twilio.ParamCallSID: {"CA1"}})
	res, body := postForm(t, ts, "/twilio/recording", url.Values{
		twilio.ParamCallSID:      {"CA1"},
		twilio.ParamRecordingURL: {"https://api.example.com/rec123"},
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", res.StatusCode, body)
	}
	mu.Lock()
	defer mu.Unlock()
	if gotRef != "https://api.example.com/rec123" || gotTranscript != "bonjour" || gotText != "Bonjour, je vais bien" {
		t.Fatalf("pipeline saw ref=%q transcript=%q text=%q", gotRef, gotTranscript, gotText)
	}

	doc, err := twilio.Parse([]byte(body))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	plays := doc.Find("Play")
	if len(plays) != 1 {
		t.Fatalf("Play verbs = %d in %s", len(plays), body)
	}
	clip, err := audio.ParseDataURI(plays[0].Text)
	if err != nil {
		t.Fatalf("ParseDataURI() error = %v", err)
	}
	if string(clip.Data) != string(payload) {
		t.Fatalf("decoded %d bytes, want the exact 2048 synthesized bytes", len(clip.Data))
	}

	sess, err := sessions.Get("CA1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if sess.TurnCount != 1 || sess.LastTurnID == "" {
		t.Fatalf("session = %+v, want one recorded turn", sess)
	}
}

func TestRecordingWebhookTranscriptionTimeout(t *testing.T) {
	var synthCalled atomic.Bool
	srv, _ := fixture{
		tr: transcribeFunc(func(ctx context.Context, _ string) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		}),
		synth: synthFunc(func(context.Context, string) (audio.Clip, error) {
			synthCalled.Store(true)
			return audio.Clip{}, nil
		}),
		timeout: 30 * time.Millisecond,
	}.server(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	res, body := postForm(t, ts, "/twilio/recording", url.Values{
		twilio.ParamCallSID:      {"CA1"},
		twilio.ParamRecordingURL: {"https://api.example.com/rec123"},
	})
	if res.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", res.StatusCode)
	}
	if strings.TrimSpace(body) == "" || strings.Contains(body, "<Play") {
		t.Fatalf("body = %q, want a non-empty error body without Play", body)
	}
	if synthCalled.Load() {
		t.Fatalf("synthesizer ran after transcription failed")
	}
}

func TestRecordingWebhookFailureAnnouncement(t *testing.T) {
	dialog := testDialog
	dialog.FailureAnnouncement = "Désolé, une erreur est survenue."
	srv, _ := fixture{
		gen: replyFunc(func(context.Context, voice.ReplyRequest) (string, error) {
			return "", errors.New("upstream down")
		}),
		dialog: dialog,
	}.server(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	res, body := postForm(t, ts, "/twilio/recording", url.Values{
		twilio.ParamCallSID:      {"CA1"},
		twilio.ParamRecordingURL: {"https://api.example.com/rec123"},
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 with announcement", res.StatusCode)
	}
	doc, err := twilio.Parse([]byte(body))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(doc.Find("Say")) != 1 || len(doc.Find("Hangup")) != 1 || len(doc.Find("Play")) != 0 {
		t.Fatalf("markup = %s, want Say then Hangup", body)
	}
}

func TestRecordingWebhookMissingRecordingURL(t *testing.T) {
	srv, _ := fixture{}.server(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	res, _ := postForm(t, ts, "/twilio/recording", url.Values{twilio.ParamCallSID: {"CA1"}})
	if res.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", res.StatusCode)
	}
}

func TestHostedPlaybackServesClip(t *testing.T) {
	store := audio.NewMemoryStore("https://voice.example.com/twilio/audio", time.Minute)
	srv, _ := fixture{publisher: store, clips: store}.server(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	_, body := postForm(t, ts, "/twilio/recording", url.Values{
		twilio.ParamCallSID:      {"CA1"},
		twilio.ParamRecordingURL: {"https://api.example.com/rec123"},
	})
	doc, err := twilio.Parse([]byte(body))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	plays := doc.Find("Play")
	if len(plays) != 1 {
		t.Fatalf("markup = %s, want one Play", body)
	}
	u, err := url.Parse(plays[0].Text)
	if err != nil || !strings.HasPrefix(u.Path, "/twilio/audio/") {
		t.Fatalf("Play URL = %q, want hosted clip", plays[0].Text)
	}

	res, err := http.Get(ts.URL + u.Path)
	if err != nil {
		t.Fatalf("GET clip error = %v", err)
	}
	defer res.Body.Close()
	data, _ := io.ReadAll(res.Body)
	if res.StatusCode != http.StatusOK || string(data) != "ID3 reply" {
		t.Fatalf("GET clip = %d %q", res.StatusCode, data)
	}
	if res.Header.Get("Content-Type") != audio.ContentTypeMPEG {
		t.Fatalf("Content-Type = %q", res.Header.Get("Content-Type"))
	}

	missing, err := http.Get(ts.URL + "/twilio/audio/nope.mp3")
	if err != nil {
		t.Fatalf("GET missing clip error = %v", err)
	}
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("missing clip status = %d, want 404", missing.StatusCode)
	}
}

func TestCallStatusEndsSessionAndForgetsHistory(t *testing.T) {
	history := memory.NewInMemoryStore(0)
	srv, sessions := fixture{history: history}.server(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	postForm(t, ts, "/twilio/voice", url.Values{twilio.ParamCallSID: {"CA1"}})
	postForm(t, ts, "/twilio/recording", url.Values{
		twilio.ParamCallSID:      {"CA1"},
		twilio.ParamRecordingURL: {"https://api.example.com/rec123"},
	})
	if history.Calls() != 1 {
		t.Fatalf("history calls = %d, want 1", history.Calls())
	}

	res, _ := postForm(t, ts, "/twilio/call-status", url.Values{twilio.ParamCallSID: {"CA1"}, twilio.ParamCallStatus: {"in-progress"}})
	if res.StatusCode != http.StatusNoContent || sessions.ActiveCount() != 1 {
		t.Fatalf("non-terminal status: code %d, active %d", res.StatusCode, sessions.ActiveCount())
	}

	res, _ = postForm(t, ts, "/twilio/call-status", url.Values{twilio.ParamCallSID: {"CA1"}, twilio.ParamCallStatus: {"completed"}})
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", res.StatusCode)
	}
	if sessions.ActiveCount() != 0 {
		t.Fatalf("ActiveCount() = %d, want 0", sessions.ActiveCount())
	}
	if history.Calls() != 0 {
		t.Fatalf("history calls = %d, want 0 after completion", history.Calls())
	}
}

func TestRecordingStatusAcknowledged(t *testing.T) {
	srv, _ := fixture{}.server(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	res, body := postForm(t, ts, "/twilio/recording-status", url.Values{
		twilio.ParamCallSID:           {"CA1"},
		twilio.ParamRecordingSID:      {"RE1"},
		twilio.ParamRecordingStatus:   {"completed"},
		twilio.ParamRecordingDuration: {"4"},
	})
	if res.StatusCode != http.StatusNoContent || body != "" {
		t.Fatalf("recording-status = %d %q, want empty 204", res.StatusCode, body)
	}
}

func TestTwilioSignatureRequired(t *testing.T) {
	cfg := config.Config{
		PublicURL:               "https://voice.example.com",
		TwilioAuthToken:         "secret",
		TwilioValidateSignature: true,
	}
	srv, _ := fixture{cfg: cfg}.server(t)
	router := srv.Router()

	form := url.Values{twilio.ParamCallSID: {"CA1"}}
	cases := []struct {
		name      string
		signature string
		want      int
	}{
		{"missing", "", http.StatusForbidden},
		{"wrong", "bm90LWEtc2lnbmF0dXJl", http.StatusForbidden},
		{"valid", twilio.Signature("secret", "https://voice.example.com/twilio/voice", form), http.StatusOK},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/twilio/voice", strings.NewReader(form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			if tc.signature != "" {
				req.Header.Set(twilio.SignatureHeader, tc.signature)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestOperationalEndpoints(t *testing.T) {
	srv, _ := fixture{cfg: config.Config{VoiceProvider: "mock", HistoryTurns: 6}}.server(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	for _, path := range []string{"/healthz", "/readyz", "/v1/perf/latency", "/metrics"} {
		res, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s error = %v", path, err)
		}
		res.Body.Close()
		if res.StatusCode != http.StatusOK {
			t.Fatalf("GET %s status = %d, want 200", path, res.StatusCode)
		}
	}

	res, err := http.Get(ts.URL + "/v1/onboarding/status")
	if err != nil {
		t.Fatalf("GET /v1/onboarding/status error = %v", err)
	}
	defer res.Body.Close()
	var payload map[string]any
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload["voice_provider"] != "mock" || payload["live_providers"] != false {
		t.Fatalf("payload = %+v, want mock providers", payload)
	}
	if payload["history_store"] != "in-memory" {
		t.Fatalf("history_store = %v, want in-memory", payload["history_store"])
	}
	if _, ok := payload["checks"]; !ok {
		t.Fatalf("missing checks in response: %+v", payload)
	}
}

func serveForm(router http.Handler, path string, form url.Values, header http.Header) int {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec.Code
}

func TestWebhookRateLimitIsPerCall(t *testing.T) {
	srv, _ := fixture{cfg: config.Config{RateLimitPerMinute: 3}}.server(t)
	router := srv.Router()

	for _, callSID := range []string{"CA1", "CA2", "CA3", "CA4", "CA5"} {
		form := url.Values{twilio.ParamCallSID: {callSID}, twilio.ParamAccountSID: {"AC1"}}
		if code := serveForm(router, "/twilio/voice", form, nil); code != http.StatusOK {
			t.Fatalf("voice %s = %d, want 200 for a fresh call", callSID, code)
		}
	}

	form := url.Values{twilio.ParamCallSID: {"CA1"}, twilio.ParamAccountSID: {"AC1"}}
	for i := 0; i < 2; i++ {
		if code := serveForm(router, "/twilio/call-status", form, nil); code != http.StatusNoContent {
			t.Fatalf("call-status #%d = %d, want 204", i+1, code)
		}
	}
	if code := serveForm(router, "/twilio/call-status", form, nil); code != http.StatusTooManyRequests {
		t.Fatalf("fourth CA1 webhook = %d, want 429", code)
	}
}

func TestWebhookRateLimitForwardedFor(t *testing.T) {
	cases := []struct {
		name       string
		trustProxy bool
		wantLast   int
	}{
		{name: "ignored without a trusted proxy", wantLast: http.StatusTooManyRequests},
		{name: "honored behind a trusted proxy", trustProxy: true, wantLast: http.StatusNoContent},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			srv, _ := fixture{cfg: config.Config{RateLimitPerMinute: 2, TrustProxy: tc.trustProxy}}.server(t)
			router := srv.Router()

			var code int
			for i := 1; i <= 3; i++ {
				header := http.Header{"X-Forwarded-For": {fmt.Sprintf("198.51.100.%d", i)}}
				code = serveForm(router, "/twilio/recording-status", url.Values{twilio.ParamRecordingStatus: {"completed"}}, header)
			}
			if code != tc.wantLast {
				t.Fatalf("third request = %d, want %d", code, tc.wantLast)
			}
		})
	}
}

func TestForgedWebhooksDoNotSpendCallBudget(t *testing.T) {
	cfg := config.Config{
		PublicURL:               "https://voice.example.com",
		TwilioAuthToken:         "secret",
		TwilioValidateSignature: true,
		RateLimitPerMinute:      1,
	}
	srv, _ := fixture{cfg: cfg}.server(t)
	router := srv.Router()

	form := url.Values{twilio.ParamCallSID: {"CA1"}}
	forged := http.Header{twilio.SignatureHeader: {"bm90LWEtc2lnbmF0dXJl"}}
	for i := 0; i < 3; i++ {
		if code := serveForm(router, "/twilio/voice", form, forged); code != http.StatusForbidden {
			t.Fatalf("forged webhook = %d, want 403", code)
		}
	}
	valid := http.Header{twilio.SignatureHeader: {twilio.Signature("secret", "https://voice.example.com/twilio/voice", form)}}
	if code := serveForm(router, "/twilio/voice", form, valid); code != http.StatusOK {
		t.Fatalf("signed webhook = %d, want 200 after forged attempts", code)
	}
}
