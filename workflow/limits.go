package workflow

import (
	"encoding/json"
	"sync"
	"time"
)

// Limits bounds per-user and per-run resource use. Zero values disable
// the corresponding check.
type Limits struct {
	// MaxConcurrentPerUser caps simultaneously running workflows per user.
	MaxConcurrentPerUser int

	// MaxTokensPerDay caps total tokens a user may consume per UTC day.
	MaxTokensPerDay int

	// MaxBlueprintBytes caps the serialized blueprint size.
	MaxBlueprintBytes int

	// MaxSteps caps node visits in one run.
	MaxSteps int

	// MaxRunDuration is the per-run wall-clock deadline.
	MaxRunDuration time.Duration
}

// DefaultLimits returns production defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxConcurrentPerUser: 4,
		MaxTokensPerDay:      500_000,
		MaxBlueprintBytes:    256 * 1024,
		MaxSteps:             256,
		MaxRunDuration:       5 * time.Minute,
	}
}

// Limiter enforces Limits across runs. Safe for concurrent use.
type Limiter struct {
	limits Limits

	mu       sync.Mutex
	inflight map[string]int
	tokens   map[string]int
	day      string // UTC date the token counters belong to
}

// NewLimiter creates a Limiter with the given bounds.
func NewLimiter(limits Limits) *Limiter {
	return &Limiter{
		limits:   limits,
		inflight: make(map[string]int),
		tokens:   make(map[string]int),
		day:      utcDay(time.Now()),
	}
}

// Limits returns the configured bounds.
func (l *Limiter) Limits() Limits { return l.limits }

// Acquire admits a run for the user, or fails with a LimitError when
// the user is at their concurrency or daily token cap. Every successful
// Acquire must be paired with a Release.
func (l *Limiter) Acquire(userID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover(time.Now())

	if cap := l.limits.MaxConcurrentPerUser; cap > 0 && l.inflight[userID] >= cap {
		return Errorf(KindLimit, "user %s already has %d running workflows", userID, cap)
	}
	if cap := l.limits.MaxTokensPerDay; cap > 0 && l.tokens[userID] >= cap {
		return Errorf(KindLimit, "user %s exceeded the daily token cap of %d", userID, cap)
	}
	l.inflight[userID]++
	return nil
}

// Release returns a concurrency slot.
func (l *Limiter) Release(userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inflight[userID] > 0 {
		l.inflight[userID]--
	}
	if l.inflight[userID] == 0 {
		delete(l.inflight, userID)
	}
}

// RecordTokens charges tokens against the user's daily budget. Counters
// roll over at UTC midnight.
func (l *Limiter) RecordTokens(userID string, tokens int) {
	if tokens <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover(time.Now())
	l.tokens[userID] += tokens
}

// TokensToday returns the user's consumption for the current UTC day.
func (l *Limiter) TokensToday(userID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover(time.Now())
	return l.tokens[userID]
}

// Inflight returns the user's running workflow count.
func (l *Limiter) Inflight(userID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inflight[userID]
}

// CheckBlueprintSize fails with a LimitError when the serialized
// blueprint exceeds the configured size.
func (l *Limiter) CheckBlueprintSize(bp *Blueprint) error {
	if l.limits.MaxBlueprintBytes <= 0 || bp == nil {
		return nil
	}
	data, err := json.Marshal(bp)
	if err != nil {
		return Errorf(KindValidation, "blueprint is not serializable")
	}
	if len(data) > l.limits.MaxBlueprintBytes {
		return Errorf(KindLimit, "blueprint size %d exceeds the %d byte cap", len(data), l.limits.MaxBlueprintBytes)
	}
	return nil
}

// CheckSteps fails with a LimitError when a run has used up its node
// visit budget.
func (l *Limiter) CheckSteps(steps int) error {
	if l.limits.MaxSteps > 0 && steps >= l.limits.MaxSteps {
		return Errorf(KindLimit, "run exceeded the %d step cap", l.limits.MaxSteps)
	}
	return nil
}

// rollover resets daily counters when the UTC day changes. Caller holds
// the lock.
func (l *Limiter) rollover(now time.Time) {
	day := utcDay(now)
	if day != l.day {
		l.day = day
		l.tokens = make(map[string]int)
	}
}

func utcDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
