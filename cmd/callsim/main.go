package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/antoniostano/japlvoice/internal/audio"
	"github.com/antoniostano/japlvoice/internal/twilio"
)

type options struct {
	baseURL        string
	publicURL      string
	authToken      string
	callSID        string
	from           string
	to             string
	recordingURL   string
	turns          int
	interTurnDelay time.Duration
	turnTimeout    time.Duration
	fetchAudio     bool
	verbose        bool
}

type turnResult struct {
	Turn       int
	Status     int
	Latency    time.Duration
	AudioBytes int
	AudioType  string
	Reprompt   bool
	HungUp     bool
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "callsim: %v\n", err)
		os.Exit(2)
	}
	results, err := run(context.Background(), cfg, &http.Client{Timeout: cfg.turnTimeout})
	printSummary(os.Stdout, results)
	if err != nil {
		fmt.Fprintf(os.Stderr, "callsim: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	fs := flag.NewFlagSet("callsim", flag.ContinueOnError)
	var cfg options
	var interTurnMS, turnTimeoutMS int

	fs.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:3000", "voice service base URL")
	fs.StringVar(&cfg.publicURL, "public-url", "", "URL the service validates signatures against (defaults to base-url)")
	fs.StringVar(&cfg.authToken, "auth-token", os.Getenv("TWILIO_AUTH_TOKEN"), "sign webhooks with this Twilio auth token")
	fs.StringVar(&cfg.callSID, "call-sid", "", "CallSid to use (random when empty)")
	fs.StringVar(&cfg.from, "from", "+33100000001", "caller number")
	fs.StringVar(&cfg.to, "to", "+33100000002", "called number")
	fs.StringVar(&cfg.recordingURL, "recording-url", "https://api.example.com/recordings/turn-%d", "recording URL per turn; %d is replaced by the turn number")
	fs.IntVar(&cfg.turns, "turns", 3, "number of recording turns")
	fs.IntVar(&interTurnMS, "inter-turn-ms", 250, "delay between turns in milliseconds")
	fs.IntVar(&turnTimeoutMS, "turn-timeout-ms", 45000, "timeout per webhook in milliseconds")
	fs.BoolVar(&cfg.fetchAudio, "fetch-audio", true, "download hosted <Play> URLs to measure their size")
	fs.BoolVar(&cfg.verbose, "verbose", true, "print call progress")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	cfg.publicURL = strings.TrimRight(strings.TrimSpace(cfg.publicURL), "/")
	if cfg.publicURL == "" {
		cfg.publicURL = cfg.baseURL
	}
	if cfg.turns <= 0 {
		return options{}, fmt.Errorf("turns must be > 0")
	}
	if interTurnMS < 0 {
		interTurnMS = 0
	}
	if turnTimeoutMS < 1000 {
		turnTimeoutMS = 1000
	}
	cfg.interTurnDelay = time.Duration(interTurnMS) * time.Millisecond
	cfg.turnTimeout = time.Duration(turnTimeoutMS) * time.Millisecond
	if strings.TrimSpace(cfg.callSID) == "" {
		cfg.callSID = "CA" + strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	return cfg, nil
}

// run plays the Twilio side of one call: greeting, recording turns, completion.
func run(ctx context.Context, cfg options, client *http.Client) ([]turnResult, error) {
	base := url.Values{
		twilio.ParamCallSID:    {cfg.callSID},
		twilio.ParamAccountSID: {"ACcallsim"},
		twilio.ParamFrom:       {cfg.from},
		twilio.ParamTo:         {cfg.to},
	}

	greetForm := cloneValues(base)
	greetForm.Set(twilio.ParamCallStatus, "in-progress")
	status, body, err := post(ctx, client, cfg, "/twilio/voice", greetForm)
	if err != nil {
		return nil, fmt.Errorf("greeting: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("greeting: status %d: %s", status, strings.TrimSpace(string(body)))
	}
	doc, err := twilio.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("greeting: %w", err)
	}
	action, err := recordAction(doc)
	if err != nil {
		return nil, fmt.Errorf("greeting: %w", err)
	}
	if cfg.verbose {
		fmt.Printf("callsim: call=%s greeted, recording action=%s\n", cfg.callSID, action)
	}

	results := make([]turnResult, 0, cfg.turns)
	for i := 1; i <= cfg.turns; i++ {
		if i > 1 && cfg.interTurnDelay > 0 {
			time.Sleep(cfg.interTurnDelay)
		}
		form := cloneValues(base)
		form.Set(twilio.ParamRecordingURL, recordingURLFor(cfg.recordingURL, i))
		form.Set(twilio.ParamRecordingSID, fmt.Sprintf("REcallsim%d", i))

		start := time.Now()
		status, body, err := post(ctx, client, cfg, action, form)
		res := turnResult{Turn: i, Status: status, Latency: time.Since(start)}
		if err != nil {
			return results, fmt.Errorf("turn %d: %w", i, err)
		}
		if status != http.StatusOK {
			results = append(results, res)
			return results, fmt.Errorf("turn %d: status %d: %s", i, status, strings.TrimSpace(string(body)))
		}
		doc, err := twilio.Parse(body)
		if err != nil {
			return results, fmt.Errorf("turn %d: %w", i, err)
		}
		if err := inspectTurn(ctx, client, cfg, doc, &res); err != nil {
			return results, fmt.Errorf("turn %d: %w", i, err)
		}
		results = append(results, res)
		if cfg.verbose {
			fmt.Printf("callsim: turn %d/%d latency=%s audio=%dB type=%s reprompt=%t\n",
				i, cfg.turns, res.Latency.Round(time.Millisecond), res.AudioBytes, res.AudioType, res.Reprompt)
		}
		if res.HungUp {
			break
		}
		if next, err := recordAction(doc); err == nil {
			action = next
		}
	}

	endForm := cloneValues(base)
	endForm.Set(twilio.ParamCallStatus, "completed")
	if _, _, err := post(ctx, client, cfg, "/twilio/call-status", endForm); err != nil {
		return results, fmt.Errorf("call-status: %w", err)
	}
	return results, nil
}

func inspectTurn(ctx context.Context, client *http.Client, cfg options, doc *twilio.Document, res *turnResult) error {
	res.HungUp = len(doc.Find("Hangup")) > 0
	plays := doc.Find("Play")
	if len(plays) == 0 {
		if len(doc.Find("Say")) == 0 {
			return fmt.Errorf("markup has neither <Play> nor <Say>")
		}
		res.Reprompt = !res.HungUp
		return nil
	}
	src := strings.TrimSpace(plays[0].Text)
	if strings.HasPrefix(src, "data:") {
		clip, err := audio.ParseDataURI(src)
		if err != nil {
			return err
		}
		res.AudioBytes, res.AudioType = clip.Len(), clip.ContentType
		return nil
	}
	if !cfg.fetchAudio {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch play url: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("fetch play url: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch play url: status %d", resp.StatusCode)
	}
	clip := audio.NewClip(data, resp.Header.Get("Content-Type"))
	res.AudioBytes, res.AudioType = clip.Len(), clip.ContentType
	return nil
}

func post(ctx context.Context, client *http.Client, cfg options, path string, form url.Values) (int, []byte, error) {
	target := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		target = cfg.baseURL + path
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if cfg.authToken != "" {
		signed := strings.Replace(target, cfg.baseURL, cfg.publicURL, 1)
		req.Header.Set(twilio.SignatureHeader, twilio.Signature(cfg.authToken, signed, form))
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

func recordAction(doc *twilio.Document) (string, error) {
	records := doc.Find("Record")
	if len(records) == 0 {
		return "", fmt.Errorf("markup has no <Record>")
	}
	action := strings.TrimSpace(records[0].Attrs["action"])
	if action == "" {
		return "", fmt.Errorf("<Record> has no action")
	}
	return action, nil
}

func recordingURLFor(template string, turn int) string {
	if strings.Contains(template, "%d") {
		return fmt.Sprintf(template, turn)
	}
	return template
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}

func printSummary(w io.Writer, results []turnResult) {
	if len(results) == 0 {
		fmt.Fprintln(w, "callsim: no turns completed")
		return
	}
	latencies := make([]time.Duration, 0, len(results))
	totalBytes := 0
	for _, r := range results {
		latencies = append(latencies, r.Latency)
		totalBytes += r.AudioBytes
	}
	fmt.Fprintf(w, "callsim: turns=%d p50=%s p95=%s max=%s audio_bytes=%d\n",
		len(results),
		percentile(latencies, 0.50).Round(time.Millisecond),
		percentile(latencies, 0.95).Round(time.Millisecond),
		percentile(latencies, 1).Round(time.Millisecond),
		totalBytes,
	)
}

// percentile uses nearest-rank on a sorted copy.
func percentile(values []time.Duration, p float64) time.Duration {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), values...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[len(sorted)-1]
	}
	rank := int(p*float64(len(sorted))+0.999999) - 1
	if rank < 0 {
		rank = 0
	}
	return sorted[rank]
}
