package alerts

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/obsidianstack/gpuburn/burner/internal/config"
	"github.com/obsidianstack/gpuburn/pkg/types"
)

const (
	defaultCooldown = 15 * time.Minute
	maxHistoryLen   = 200
)

// Alert states.
const (
	StateFiring   = "firing"
	StateResolved = "resolved"
)

// Alert is a single alert event produced by the rule engine.
type Alert struct {
	ID         string     `json:"id"`
	RunID      string     `json:"run_id,omitempty"`
	RuleName   string     `json:"rule_name"`
	Device     int        `json:"device"`
	Severity   string     `json:"severity"`
	Message    string     `json:"message"`
	Value      float64    `json:"value"`
	FiredAt    time.Time  `json:"fired_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	State      string     `json:"state"`
}

// Engine evaluates alert rules against snapshots and delivers webhook
// notifications when rules fire or resolve. Engine is safe for concurrent use.
type Engine struct {
	rules    []config.AlertRule
	webhooks []config.WebhookConfig
	client   *http.Client
	now      func() time.Time

	mu       sync.Mutex
	active   map[string]*Alert    // key: "rule:device"
	lastFire map[string]time.Time // for cooldown
	history  []*Alert             // resolved alerts, oldest first

	inflight sync.WaitGroup
}

// New creates an Engine from the alert configuration. An Engine without
// rules is valid; Evaluate is then a no-op.
func New(cfg config.AlertsConfig) *Engine {
	return &Engine{
		rules:    cfg.Rules,
		webhooks: cfg.Webhooks,
		client:   &http.Client{Timeout: 10 * time.Second},
		now:      time.Now,
		active:   make(map[string]*Alert),
		lastFire: make(map[string]time.Time),
	}
}

// Evaluate tests every rule against every device of snap.
func (e *Engine) Evaluate(snap types.Snapshot) {
	if len(e.rules) == 0 {
		return
	}
	now := e.now()
	for _, rule := range e.rules {
		for _, d := range snap.Devices {
			e.evaluateOne(rule, snap.RunID, d, now)
		}
	}
}

func (e *Engine) evaluateOne(rule config.AlertRule, runID string, d types.DeviceStatus, now time.Time) {
	key := rule.Name + ":" + strconv.Itoa(d.Index)
	fires, value := evalCondition(rule.Condition, d)

	e.mu.Lock()
	if fires {
		cooldown := rule.Cooldown
		if cooldown <= 0 {
			cooldown = defaultCooldown
		}
		if _, firing := e.active[key]; firing {
			e.mu.Unlock()
			return
		}
		if last, ok := e.lastFire[key]; ok && now.Sub(last) < cooldown {
			e.mu.Unlock()
			return
		}
		sev := rule.Severity
		if sev == "" {
			sev = "warning"
		}
		a := &Alert{
			ID:       uuid.NewString(),
			RunID:    runID,
			RuleName: rule.Name,
			Device:   d.Index,
			Severity: sev,
			Value:    value,
			Message: fmt.Sprintf("[%s] %s fired on GPU %d: %s (value %.2f)",
				sev, rule.Name, d.Index, rule.Condition, value),
			FiredAt: now,
			State:   StateFiring,
		}
		e.active[key] = a
		e.lastFire[key] = now
		alertCopy := *a
		e.mu.Unlock()

		slog.Warn("alert fired", "rule", rule.Name, "device", d.Index, "value", value, "severity", sev)
		e.dispatch(&alertCopy)
		return
	}

	a, ok := e.active[key]
	if !ok {
		e.mu.Unlock()
		return
	}
	resolved := now
	a.State = StateResolved
	a.ResolvedAt = &resolved
	delete(e.active, key)
	e.history = append(e.history, a)
	if len(e.history) > maxHistoryLen {
		e.history = e.history[len(e.history)-maxHistoryLen:]
	}
	alertCopy := *a
	e.mu.Unlock()

	slog.Info("alert resolved", "rule", rule.Name, "device", d.Index)
	e.dispatch(&alertCopy)
}

// Active returns copies of the firing alerts followed by the resolved ones,
// newest first within each group.
func (e *Engine) Active() []Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	firing := make([]Alert, 0, len(e.active))
	for _, a := range e.active {
		firing = append(firing, *a)
	}
	sort.Slice(firing, func(i, j int) bool { return firing[i].FiredAt.After(firing[j].FiredAt) })

	out := firing
	for i := len(e.history) - 1; i >= 0; i-- {
		out = append(out, *e.history[i])
	}
	return out
}

// Flush waits for every pending webhook delivery.
func (e *Engine) Flush() {
	e.inflight.Wait()
}

func (e *Engine) dispatch(a *Alert) {
	if len(e.webhooks) == 0 {
		return
	}
	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()
		e.deliver(a)
	}()
}
