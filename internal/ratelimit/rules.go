package ratelimit

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Proton-105/earnyha-bot/pkg/config"
)

// Rule allows Limit hits per Window.
type Rule struct {
	Limit  int
	Window time.Duration
}

type ruleSet struct {
	enabled   bool
	global    Rule
	perUser   Rule
	commands  map[string]Rule
	whitelist map[int64]struct{}
}

// Rules holds the active limits. Update swaps them atomically, so the
// config watcher can reload them while updates are being checked. The
// zero value has rate limiting disabled.
type Rules struct {
	current atomic.Pointer[ruleSet]
}

// NewRules builds Rules from cfg. Malformed rules are left out, which
// disables their scope; use Update to learn about them.
func NewRules(cfg config.RateLimitConfig) *Rules {
	r := &Rules{}
	_ = r.Update(cfg)
	return r
}

// Update replaces the active rules. Rules with a missing or invalid
// window are skipped and reported in the returned error; the rest apply.
func (r *Rules) Update(cfg config.RateLimitConfig) error {
	set := &ruleSet{
		enabled:   cfg.Enabled,
		commands:  make(map[string]Rule, len(cfg.Commands)),
		whitelist: make(map[int64]struct{}, len(cfg.Whitelist)),
	}
	for _, id := range cfg.Whitelist {
		set.whitelist[id] = struct{}{}
	}

	var errs []error
	parse := func(name string, rc config.RateLimitRule) (Rule, bool) {
		if rc.Limit <= 0 && rc.Window == "" {
			return Rule{}, false
		}
		rule, err := parseRule(rc)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return Rule{}, false
		}
		return rule, true
	}

	set.global, _ = parse("global", cfg.Global)
	set.perUser, _ = parse("per_user", cfg.PerUser)
	for cmd, rc := range cfg.Commands {
		if rule, ok := parse("commands."+cmd, rc); ok {
			set.commands[normalizeCommand(cmd)] = rule
		}
	}

	r.current.Store(set)
	return errors.Join(errs...)
}

// Enabled reports whether rate limiting is switched on.
func (r *Rules) Enabled() bool {
	return r.load().enabled
}

// IsWhitelisted reports whether userID bypasses every limit.
func (r *Rules) IsWhitelisted(userID int64) bool {
	_, ok := r.load().whitelist[userID]
	return ok
}

// Lookup returns the rule for scope. command, with or without its slash,
// is only consulted for ScopeCommand. ok is false when the scope has no
// usable rule.
func (r *Rules) Lookup(scope Scope, command string) (rule Rule, ok bool) {
	set := r.load()
	switch scope {
	case ScopeGlobal:
		rule = set.global
	case ScopeUser:
		rule = set.perUser
	case ScopeCommand:
		rule = set.commands[normalizeCommand(command)]
	}
	return rule, rule.Limit > 0 && rule.Window > 0
}

// load returns the active set; a zero Rules behaves as disabled.
func (r *Rules) load() *ruleSet {
	if set := r.current.Load(); set != nil {
		return set
	}
	return &ruleSet{}
}

func normalizeCommand(cmd string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(cmd), "/"))
}

func parseRule(rc config.RateLimitRule) (Rule, error) {
	if rc.Window == "" {
		return Rule{}, errors.New("window is not set")
	}
	window, err := time.ParseDuration(rc.Window)
	if err != nil {
		return Rule{}, err
	}
	if window <= 0 {
		return Rule{}, fmt.Errorf("window %s must be positive", window)
	}
	return Rule{Limit: rc.Limit, Window: window}, nil
}
