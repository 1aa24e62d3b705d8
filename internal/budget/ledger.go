// Package budget implements the cost ledger that governs all paid provider
// calls. Every paid call is preceded by an atomic check-and-reserve against
// the configured limit hierarchy; the tightest applicable limit governs.
package budget

import (
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/assetsmith/internal/config"
)

// ErrExhausted marks a paid call that was denied because the ledger refused
// the reservation. It is not an item fault: it halts new work globally and
// the item ends in a distinct budget-exhausted state, not failed.
var ErrExhausted = eris.New("budget: exhausted")

// Reason explains why a reservation was denied.
type Reason string

const (
	ReasonGranted      Reason = "granted"
	ReasonSessionLimit Reason = "session_limit"
	ReasonDailyLimit   Reason = "daily_limit"
	ReasonHardCeiling  Reason = "hard_ceiling"
)

// Ledger tracks cumulative spend against the session, daily and hard-ceiling
// limits. It is the only writer of its counters; all mutation happens under
// its lock. A denied reservation never mutates state.
type Ledger struct {
	mu sync.Mutex

	cfg config.BudgetConfig

	// spent is the session total, including any baseline carried in from a
	// resumed run.
	spent float64
	// processSpent is spend committed by this process only; the daily limit
	// is checked against dailyBaseline + processSpent so a resumed run does
	// not double-count its own prior spend.
	processSpent  float64
	dailyBaseline float64

	halted bool
}

// NewLedger creates a ledger with the given limits. sessionBaseline is the
// spent_so_far carried over when resuming a run; dailyBaseline is today's
// completed spend across all runs, loaded from the store.
func NewLedger(cfg config.BudgetConfig, sessionBaseline, dailyBaseline float64) *Ledger {
	return &Ledger{
		cfg:           cfg,
		spent:         sessionBaseline,
		dailyBaseline: dailyBaseline,
	}
}

// Reserve atomically checks spent + amount against every enabled limit and,
// if all pass, increments spent and grants the reservation. On denial the
// ledger is left unchanged, the halt flag is set, and the governing limit is
// returned.
func (l *Ledger) Reserve(amount float64) (bool, Reason) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.halted {
		return false, l.denyReason(amount)
	}

	if reason := l.denyReason(amount); reason != ReasonGranted {
		l.halted = true
		zap.L().Warn("budget: reservation denied, halting new work",
			zap.String("limit", string(reason)),
			zap.Float64("requested", amount),
			zap.Float64("spent", l.spent),
		)
		return false, reason
	}

	l.spent += amount
	l.processSpent += amount
	return true, ReasonGranted
}

// Release reverses a reservation that was never consumed, e.g. when
// generation failed after reserving.
func (l *Ledger) Release(amount float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.spent -= amount
	l.processSpent -= amount
	if l.spent < 0 {
		l.spent = 0
	}
	if l.processSpent < 0 {
		l.processSpent = 0
	}
}

// Settle adjusts a reservation to the actual amount charged. Actual cost at
// or below the reservation releases the difference; providers never bill
// above the reserved estimate in this pipeline, so upward settlement is not
// supported.
func (l *Ledger) Settle(reserved, actual float64) {
	if actual < reserved {
		l.Release(reserved - actual)
	}
}

// Spent returns the current session spend.
func (l *Ledger) Spent() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.spent
}

// Halted reports whether a reservation has been denied; once halted, no
// further reservations are granted for the run.
func (l *Ledger) Halted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.halted
}

// denyReason returns the tightest limit that amount would breach, or
// ReasonGranted. Caller holds l.mu.
func (l *Ledger) denyReason(amount float64) Reason {
	if l.cfg.HardCeiling > 0 && l.spent+amount > l.cfg.HardCeiling {
		return ReasonHardCeiling
	}
	if l.cfg.SessionLimit > 0 && l.spent+amount > l.cfg.SessionLimit {
		return ReasonSessionLimit
	}
	if l.cfg.DailyLimit > 0 && l.dailyBaseline+l.processSpent+amount > l.cfg.DailyLimit {
		return ReasonDailyLimit
	}
	return ReasonGranted
}
