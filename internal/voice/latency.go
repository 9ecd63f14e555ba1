package voice

import (
	"sort"
	"sync"
	"time"
)

const defaultLatencySamples = 256

// StepLatency summarizes the recent attempts of one pipeline step.
type StepLatency struct {
	Step     Step    `json:"step"`
	Samples  int     `json:"samples"`
	Failures int     `json:"failures"`
	LastMS   float64 `json:"last_ms"`
	P50MS    float64 `json:"p50_ms"`
	P95MS    float64 `json:"p95_ms"`
	MaxMS    float64 `json:"max_ms"`
	// OverBudget counts samples that used more than half of the step timeout.
	OverBudget int `json:"over_budget"`
}

// OutcomeLatency summarizes whole turns that ended with one outcome.
type OutcomeLatency struct {
	Outcome Outcome `json:"outcome"`
	Count   int     `json:"count"`
	P50MS   float64 `json:"p50_ms"`
	P95MS   float64 `json:"p95_ms"`
}

type LatencyReport struct {
	GeneratedAt   time.Time        `json:"generated_at"`
	WindowSize    int              `json:"window_size"`
	StepTimeoutMS float64          `json:"step_timeout_ms"`
	TurnBudgetMS  float64          `json:"turn_budget_ms"`
	Steps         []StepLatency    `json:"steps"`
	Turns         []OutcomeLatency `json:"turns"`
}

type latencyRing struct {
	values   []time.Duration
	next     int
	full     bool
	total    int
	failures int
}

func (r *latencyRing) add(d time.Duration) {
	r.values[r.next] = d
	r.next = (r.next + 1) % len(r.values)
	if r.next == 0 {
		r.full = true
	}
	r.total++
}

func (r *latencyRing) last() time.Duration {
	i := r.next - 1
	if i < 0 {
		i = len(r.values) - 1
	}
	return r.values[i]
}

func (r *latencyRing) sorted() []time.Duration {
	n := r.next
	if r.full {
		n = len(r.values)
	}
	out := append([]time.Duration(nil), r.values[:n]...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// latencyWindow keeps the most recent step and turn durations of one orchestrator.
type latencyWindow struct {
	mu    sync.Mutex
	size  int
	steps map[Step]*latencyRing
	turns map[Outcome]*latencyRing
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = defaultLatencySamples
	}
	return &latencyWindow{
		size:  size,
		steps: make(map[Step]*latencyRing),
		turns: make(map[Outcome]*latencyRing),
	}
}

func (w *latencyWindow) newRing() *latencyRing {
	return &latencyRing{values: make([]time.Duration, w.size)}
}

func (w *latencyWindow) observeStep(step Step, d time.Duration, failed bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.steps[step]
	if !ok {
		r = w.newRing()
		w.steps[step] = r
	}
	r.add(d)
	if failed {
		r.failures++
	}
}

func (w *latencyWindow) observeTurn(outcome Outcome, d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.turns[outcome]
	if !ok {
		r = w.newRing()
		w.turns[outcome] = r
	}
	r.add(d)
}

func (w *latencyWindow) report(stepTimeout, turnBudget time.Duration) LatencyReport {
	w.mu.Lock()
	defer w.mu.Unlock()

	rep := LatencyReport{
		GeneratedAt:   time.Now().UTC(),
		WindowSize:    w.size,
		StepTimeoutMS: millis(stepTimeout),
		TurnBudgetMS:  millis(turnBudget),
		Steps:         []StepLatency{},
		Turns:         []OutcomeLatency{},
	}
	for _, step := range []Step{StepTranscription, StepGeneration, StepSynthesis, StepPlayback} {
		r, ok := w.steps[step]
		if !ok {
			continue
		}
		samples := r.sorted()
		over := 0
		for _, d := range samples {
			if stepTimeout > 0 && d > stepTimeout/2 {
				over++
			}
		}
		rep.Steps = append(rep.Steps, StepLatency{
			Step:       step,
			Samples:    len(samples),
			Failures:   r.failures,
			LastMS:     millis(r.last()),
			P50MS:      millis(nearestRank(samples, 50)),
			P95MS:      millis(nearestRank(samples, 95)),
			MaxMS:      millis(samples[len(samples)-1]),
			OverBudget: over,
		})
	}
	for _, outcome := range []Outcome{OutcomeReplied, OutcomeNoSpeech, OutcomeFailed} {
		r, ok := w.turns[outcome]
		if !ok {
			continue
		}
		samples := r.sorted()
		rep.Turns = append(rep.Turns, OutcomeLatency{
			Outcome: outcome,
			Count:   r.total,
			P50MS:   millis(nearestRank(samples, 50)),
			P95MS:   millis(nearestRank(samples, 95)),
		})
	}
	return rep
}

func nearestRank(sorted []time.Duration, p int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := (p*len(sorted) + 99) / 100
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
