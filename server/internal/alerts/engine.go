package alerts

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/echoscope/echoscope/pkg/types"
	"github.com/echoscope/echoscope/server/internal/config"
)

const (
	defaultCooldown   = 15 * time.Minute
	maxHistoryLen     = 200
	recentWindowHours = 1
)

// Alert represents a single alert event produced by the rule engine.
type Alert struct {
	ID         string      `json:"id"`
	RuleName   string      `json:"rule_name"`
	Source     string      `json:"source"`
	Severity   string      `json:"severity"`
	Message    string      `json:"message"`
	Value      float64     `json:"value"`
	Level      types.Level `json:"level"`
	Report     string      `json:"report_id,omitempty"`
	FiredAt    time.Time   `json:"fired_at"`
	ResolvedAt *time.Time  `json:"resolved_at,omitempty"`
	State      string      `json:"state"` // "firing" | "resolved"
}

// Engine evaluates alert rules against incoming HealthReports and delivers
// notifications when rules fire or resolve.
//
// Engine is safe for concurrent use.
type Engine struct {
	rules    []config.AlertRule
	webhooks []config.WebhookConfig

	mu       sync.Mutex
	active   map[string]*Alert    // key: "ruleName:source"
	lastFire map[string]time.Time // last fire time per key (for cooldown)
	history  []*Alert             // recently resolved alerts

	client    *http.Client
	newMailer func(apiKey string) Mailer
	now       func() time.Time
	wg        sync.WaitGroup
}

// New creates an Engine from the server alert configuration.
// An Engine with empty rules is valid; Evaluate becomes a no-op.
// Rules whose condition does not parse are logged and skipped.
func New(cfg config.AlertsConfig) *Engine {
	rules := make([]config.AlertRule, 0, len(cfg.Rules))
	for _, r := range cfg.Rules {
		if _, _, _, err := parseCondition(r.Condition); err != nil {
			slog.Warn("alerts: ignoring rule", "rule", r.Name, "err", err)
			continue
		}
		rules = append(rules, r)
	}
	return &Engine{
		rules:     rules,
		webhooks:  cfg.Webhooks,
		active:    make(map[string]*Alert),
		lastFire:  make(map[string]time.Time),
		client:    &http.Client{Timeout: 10 * time.Second},
		newMailer: NewBrevoMailer,
		now:       time.Now,
	}
}

// Evaluate tests all configured rules against rep.
// Alerts that fire are stored and delivery is triggered asynchronously.
// Alerts that were firing but whose condition is now false are resolved.
func (e *Engine) Evaluate(rep types.HealthReport) {
	if len(e.rules) == 0 {
		return
	}

	now := e.now()
	for _, rule := range e.rules {
		key := rule.Name + ":" + rep.SourceFilename
		fires, value := evalCondition(rule.Condition, rep)

		e.mu.Lock()

		if fires {
			cooldown := rule.Cooldown
			if cooldown <= 0 {
				cooldown = defaultCooldown
			}
			if _, firing := e.active[key]; firing || now.Sub(e.lastFire[key]) <= cooldown {
				e.mu.Unlock()
				continue
			}
			sev := rule.Severity
			if sev == "" {
				sev = "warning"
			}
			a := &Alert{
				ID:       fmt.Sprintf("%s:%s:%d", rule.Name, rep.SourceFilename, now.UnixNano()),
				RuleName: rule.Name,
				Source:   rep.SourceFilename,
				Severity: sev,
				Value:    value,
				Level:    rep.Level,
				Report:   rep.ID,
				Message: fmt.Sprintf("[%s] %s fired on %s: %s (value %.2f, score %d %s)",
					sev, rule.Name, rep.SourceFilename, rule.Condition, value, rep.Score, rep.Level),
				FiredAt: now,
				State:   "firing",
			}
			e.active[key] = a
			e.lastFire[key] = now
			alertCopy := *a
			e.mu.Unlock()

			slog.Warn("alerts: fired",
				"rule", rule.Name,
				"source", rep.SourceFilename,
				"value", value,
				"severity", sev,
			)
			e.dispatch(&alertCopy)
			continue
		}

		a, ok := e.active[key]
		if !ok {
			e.mu.Unlock()
			continue
		}
		resolved := now
		a.State = "resolved"
		a.ResolvedAt = &resolved
		a.Message = fmt.Sprintf("[resolved] %s on %s: score %d %s",
			rule.Name, rep.SourceFilename, rep.Score, rep.Level)
		delete(e.active, key)

		e.history = append(e.history, a)
		if len(e.history) > maxHistoryLen {
			e.history = e.history[len(e.history)-maxHistoryLen:]
		}
		alertCopy := *a
		e.mu.Unlock()

		slog.Info("alerts: resolved",
			"rule", rule.Name,
			"source", rep.SourceFilename,
		)
		e.dispatch(&alertCopy)
	}
}

// Active returns copies of all currently firing alerts plus any alerts
// resolved within the past hour, sorted newest first.
func (e *Engine) Active() []*Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.now().Add(-recentWindowHours * time.Hour)
	out := make([]*Alert, 0, len(e.active))

	for _, a := range e.active {
		cp := *a
		out = append(out, &cp)
	}
	for _, a := range e.history {
		if a.ResolvedAt != nil && a.ResolvedAt.After(cutoff) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return latest(out[i]).After(latest(out[j]))
	})
	return out
}

// Wait blocks until every in-flight delivery has finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) dispatch(a *Alert) {
	if len(e.webhooks) == 0 {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.deliver(a)
	}()
}

func latest(a *Alert) time.Time {
	if a.ResolvedAt != nil {
		return *a.ResolvedAt
	}
	return a.FiredAt
}
