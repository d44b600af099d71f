// Package confirm waits for a submitted transaction to reach a terminal
// state by polling the ledger at a fixed interval.
package confirm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fredfun/settlement-engine/internal/model"
)

var (
	// ErrSettlementFailed is returned when the ledger explicitly rejected
	// the transaction.
	ErrSettlementFailed = errors.New("confirm: settlement failed")

	// ErrConfirmationTimeout is returned when neither confirmation nor
	// failure was observed in time. The transaction may still land.
	ErrConfirmationTimeout = errors.New("confirm: confirmation timeout")
)

// StatusReader reads the current ledger status of a handle.
type StatusReader interface {
	OperationStatus(ctx context.Context, handle string) (model.LedgerStatus, error)
}

// Poller polls a StatusReader until a terminal state is observed.
type Poller struct {
	Reader   StatusReader
	Interval time.Duration
	// MaxAttempts bounds the number of status reads. Zero means unbounded.
	MaxAttempts int
	// Timeout bounds the total wait. Zero means unbounded.
	Timeout time.Duration
	// ReadTimeout bounds a single status read. Zero means Interval.
	ReadTimeout time.Duration

	log *slog.Logger
}

// NativePoller matches native transfers: 30 reads one second apart.
func NativePoller(r StatusReader) *Poller {
	return &Poller{Reader: r, Interval: time.Second, MaxAttempts: 30, log: slog.With("component", "confirm")}
}

// BundlePoller matches token transfers and swaps: one read a second for up
// to sixty seconds.
func BundlePoller(r StatusReader) *Poller {
	return &Poller{Reader: r, Interval: time.Second, Timeout: 60 * time.Second, log: slog.With("component", "confirm")}
}

// Await polls until handle is confirmed, rejected or the budget runs out.
//
// Returns StatusConfirmed with a nil error, StatusFailed wrapping
// ErrSettlementFailed, or StatusTimedOut wrapping ErrConfirmationTimeout.
// Transient read errors use up an attempt and polling continues.
//
// Cancelling ctx does not stop the wait: once a transaction is submitted
// its outcome is always observed up to the poller's own budget.
func (p *Poller) Await(ctx context.Context, handle string) (model.SettlementStatus, error) {
	if p.MaxAttempts <= 0 && p.Timeout <= 0 {
		return model.StatusSubmitted, errors.New("confirm: poller needs MaxAttempts or Timeout")
	}
	interval := p.Interval
	if interval <= 0 {
		interval = time.Second
	}
	readTimeout := p.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = interval
	}
	log := p.log
	if log == nil {
		log = slog.With("component", "confirm")
	}

	ctx = context.WithoutCancel(ctx)
	var deadline time.Time
	if p.Timeout > 0 {
		deadline = time.Now().Add(p.Timeout)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		readDeadline := time.Now().Add(readTimeout)
		if !deadline.IsZero() && deadline.Add(interval).Before(readDeadline) {
			readDeadline = deadline.Add(interval)
		}
		readCtx, cancel := context.WithDeadline(ctx, readDeadline)
		st, err := p.Reader.OperationStatus(readCtx, handle)
		cancel()

		switch {
		case err != nil:
			log.Warn("status read failed", "handle", handle, "attempt", attempt, "error", err)
		case st.Failure != "":
			log.Warn("settlement rejected", "handle", handle, "reason", st.Failure)
			return model.StatusFailed, fmt.Errorf("%w: %s", ErrSettlementFailed, st.Failure)
		case st.Confirmed:
			log.Info("settlement confirmed", "handle", handle, "attempts", attempt)
			return model.StatusConfirmed, nil
		}

		if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
			break
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			break
		}
		<-ticker.C
		if !deadline.IsZero() && time.Now().After(deadline) {
			break
		}
	}

	log.Warn("confirmation timed out", "handle", handle)
	return model.StatusTimedOut, fmt.Errorf("%w: %s", ErrConfirmationTimeout, handle)
}
