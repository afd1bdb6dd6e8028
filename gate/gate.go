// Package gate decides whether an inbound request may reach the extraction
// pipeline. It combines fixed-window throttles with a blocklist of target
// URLs that point at internal resources.
package gate

import (
	"context"
	"log/slog"
	"net"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/use-agent/pluck/ratelimit"
)

// Rule names, also used as counter-store key prefixes and log values.
const (
	RuleIP           = "req/ip"
	RuleDomain       = "req/domain"
	RuleGlobal       = "req/global"
	RuleMaliciousURL = "block/malicious-url"
)

// globalScope is the single counter shared by every client.
const globalScope = "global"

// Action is the gate's verdict.
type Action int

const (
	ActionAdmit Action = iota
	ActionThrottle
	ActionBlock
)

func (a Action) String() string {
	switch a {
	case ActionThrottle:
		return "throttle"
	case ActionBlock:
		return "block"
	default:
		return "admit"
	}
}

// Request is what the gate knows about an inbound call.
type Request struct {
	ClientIP  string
	Path      string
	TargetURL string
}

// Decision is computed per request and never stored.
type Decision struct {
	Action      Action
	Rule        string
	Scope       string
	Limit       int
	Remaining   int
	Window      time.Duration
	WindowStart time.Time
	ResetAt     time.Time
}

// Admitted reports whether the pipeline may continue.
func (d Decision) Admitted() bool { return d.Action == ActionAdmit }

// Throttle is one fixed-window rule.
type Throttle struct {
	Name   string
	Limit  int
	Window time.Duration
	// Scope returns the counter scope for r, or false when the rule does
	// not apply to r.
	Scope func(r Request) (string, bool)
}

// maliciousURL is a cheap pre-filter over the raw target string. It is
// intentionally broader than the url guard's parsed checks.
var maliciousURL = regexp.MustCompile(`(?i)localhost|127\.0\.0\.1|0\.0\.0\.0|10\.\d{1,3}\.\d{1,3}\.\d{1,3}|172\.(1[6-9]|2\d|3[01])\.\d{1,3}\.\d{1,3}|192\.168\.\d{1,3}\.\d{1,3}|file://|javascript:|data:`)

// IsMaliciousURL reports whether target matches the blocklist.
func IsMaliciousURL(target string) bool {
	return target != "" && maliciousURL.MatchString(target)
}

// Config describes the default rule set.
type Config struct {
	PathPrefix string
	HealthPath string

	IPLimit      int
	IPWindow     time.Duration
	DomainLimit  int
	DomainWindow time.Duration
	GlobalLimit  int
	GlobalWindow time.Duration

	// Production disables the loopback safelist.
	Production bool
}

// Gate evaluates the blocklist, safelist and throttles. It is safe for
// concurrent use; all shared state lives in the Store.
type Gate struct {
	store            ratelimit.Store
	throttles        []Throttle
	healthPath       string
	safelistLoopback bool
	logger           *slog.Logger
	now              func() time.Time
}

// New builds a Gate with the ip, domain and global throttles.
func New(store ratelimit.Store, cfg Config, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	prefix := cfg.PathPrefix

	throttles := []Throttle{
		{
			Name:   RuleIP,
			Limit:  cfg.IPLimit,
			Window: cfg.IPWindow,
			Scope: func(r Request) (string, bool) {
				return r.ClientIP, strings.HasPrefix(r.Path, prefix)
			},
		},
		{
			Name:   RuleDomain,
			Limit:  cfg.DomainLimit,
			Window: cfg.DomainWindow,
			Scope: func(r Request) (string, bool) {
				host := TargetHost(r.TargetURL)
				if host == "" {
					return "", false
				}
				return r.ClientIP + ":" + host, true
			},
		},
		{
			Name:   RuleGlobal,
			Limit:  cfg.GlobalLimit,
			Window: cfg.GlobalWindow,
			Scope: func(r Request) (string, bool) {
				return globalScope, strings.HasPrefix(r.Path, prefix)
			},
		},
	}

	return &Gate{
		store:            store,
		throttles:        throttles,
		healthPath:       cfg.HealthPath,
		safelistLoopback: !cfg.Production,
		logger:           logger,
		now:              time.Now,
	}
}

// Check evaluates r. Counter-store failures are logged and the affected
// rule admits the request.
func (g *Gate) Check(ctx context.Context, r Request) Decision {
	if g.healthPath != "" && r.Path == g.healthPath {
		return Decision{Action: ActionAdmit}
	}

	if IsMaliciousURL(r.TargetURL) {
		d := Decision{Action: ActionBlock, Rule: RuleMaliciousURL, Scope: r.ClientIP}
		g.logger.Warn("request blocked",
			"ip", r.ClientIP,
			"path", r.Path,
			"rule", d.Rule,
			"timestamp", g.now().UTC().Format(time.RFC3339),
		)
		return d
	}

	if g.safelistLoopback && isLoopback(r.ClientIP) {
		return Decision{Action: ActionAdmit}
	}

	for _, t := range g.throttles {
		scope, ok := t.Scope(r)
		if !ok || t.Limit <= 0 || t.Window <= 0 {
			continue
		}

		res, err := g.store.IncrementAndCheck(ctx, t.Name, scope, t.Limit, t.Window)
		if err != nil {
			g.logger.Warn("throttle counter unavailable, admitting",
				"rule", t.Name,
				"scope", scope,
				"error", err,
			)
			continue
		}
		if res.Allowed {
			continue
		}

		d := Decision{
			Action:      ActionThrottle,
			Rule:        t.Name,
			Scope:       scope,
			Limit:       t.Limit,
			Remaining:   0,
			Window:      t.Window,
			WindowStart: res.WindowStart,
			ResetAt:     res.ResetAt,
		}
		g.logger.Warn("request throttled",
			"ip", r.ClientIP,
			"path", r.Path,
			"rule", d.Rule,
			"scope", d.Scope,
			"count", res.Count,
			"limit", d.Limit,
			"timestamp", g.now().UTC().Format(time.RFC3339),
		)
		return d
	}

	return Decision{Action: ActionAdmit}
}

// TargetHost returns the lowercased host of target, or "" when it cannot be
// parsed. Scheme-less input has no host.
func TargetHost(target string) string {
	if target == "" {
		return ""
	}
	u, err := url.Parse(strings.TrimSpace(target))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

func isLoopback(ip string) bool {
	parsed := net.ParseIP(ip)
	return parsed != nil && parsed.IsLoopback()
}
