package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/poanetwork/tokenbridge-relayer/db"
	"github.com/poanetwork/tokenbridge-relayer/entity"
)

// ErrReservationLost is returned to a reservation owner whose token was taken over.
var ErrReservationLost = errors.New("reservation lost")

// Reservation is the outcome of a reservation attempt.
// When Granted is false, Record holds the state that prevented it.
type Reservation struct {
	Granted bool
	Token   string
	Record  *entity.ProcessedRecord
}

// Ledger is the durable exactly-once guard over processed records.
// Every state change is a single compare-and-set on the record.
type Ledger struct {
	repo     entity.ProcessedRecordsRepo
	now      func() time.Time
	newToken func() string
}

func New(repo entity.ProcessedRecordsRepo) *Ledger {
	return &Ledger{
		repo:     repo,
		now:      time.Now,
		newToken: uuid.NewString,
	}
}

// Observe stores the event as seen unless it is already known and returns the stored record.
func (l *Ledger) Observe(ctx context.Context, ev *entity.LockEvent) (*entity.ProcessedRecord, error) {
	record, err := l.repo.Ensure(ctx, entity.NewProcessedRecord(ev))
	if err != nil {
		return nil, fmt.Errorf("can't observe event %s: %w", ev.ID, err)
	}
	return record, nil
}

func (l *Ledger) Get(ctx context.Context, eventID string) (*entity.ProcessedRecord, error) {
	record, err := l.repo.GetByEventID(ctx, eventID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("event %s is unknown: %w", eventID, entity.ErrInvalidTransition)
		}
		return nil, err
	}
	return record, nil
}

func (l *Ledger) StatusOf(ctx context.Context, eventID string) (entity.Status, error) {
	record, err := l.Get(ctx, eventID)
	if err != nil {
		return "", err
	}
	return record.Status, nil
}

// Reserve moves a seen event to submitting under a fresh reservation token.
// Exactly one of concurrent callers is granted the reservation.
func (l *Ledger) Reserve(ctx context.Context, eventID string) (*Reservation, error) {
	token := l.newToken()
	record, err := l.repo.Transition(ctx, &entity.Transition{
		EventID:     eventID,
		From:        []entity.Status{entity.StatusSeen},
		To:          entity.StatusSubmitting,
		NewToken:    &token,
		IncAttempts: true,
	})
	if err != nil {
		return nil, fmt.Errorf("can't reserve event %s: %w", eventID, err)
	}
	if record != nil {
		return &Reservation{Granted: true, Token: token, Record: record}, nil
	}
	record, err = l.Get(ctx, eventID)
	if err != nil {
		return nil, err
	}
	return &Reservation{Record: record}, nil
}

// Reclaim takes over an in-flight reservation untouched for longer than lease.
// The previous owner is fenced out, its RecordSigned calls fail with ErrReservationLost.
// A zero lease is used only once the signed unlock transaction is known to be dead.
func (l *Ledger) Reclaim(ctx context.Context, eventID string, lease time.Duration) (*Reservation, error) {
	token := l.newToken()
	t := &entity.Transition{
		EventID:     eventID,
		From:        []entity.Status{entity.StatusSubmitting, entity.StatusSubmitted},
		To:          entity.StatusSubmitting,
		NewToken:    &token,
		IncAttempts: true,
	}
	if lease > 0 {
		staleBefore := l.now().Add(-lease)
		t.StaleBefore = &staleBefore
	}
	record, err := l.repo.Transition(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("can't reclaim event %s: %w", eventID, err)
	}
	if record != nil {
		return &Reservation{Granted: true, Token: token, Record: record}, nil
	}
	record, err = l.Get(ctx, eventID)
	if err != nil {
		return nil, err
	}
	return &Reservation{Record: record}, nil
}

// Release returns a reservation that never produced a signed transaction back to seen.
func (l *Ledger) Release(ctx context.Context, eventID, token string, reason string) error {
	record, err := l.repo.Transition(ctx, &entity.Transition{
		EventID:    eventID,
		From:       []entity.Status{entity.StatusSubmitting},
		To:         entity.StatusSeen,
		Token:      &token,
		ClearToken: true,
		LastError:  &reason,
	})
	if err != nil {
		return fmt.Errorf("can't release event %s: %w", eventID, err)
	}
	if record != nil {
		return nil
	}
	if _, err = l.Get(ctx, eventID); err != nil {
		return err
	}
	return fmt.Errorf("can't release event %s: %w", eventID, ErrReservationLost)
}

// RecordSigned stores the signed unlock transaction before it is broadcast.
func (l *Ledger) RecordSigned(ctx context.Context, eventID, token string, txHash common.Hash, raw []byte) error {
	record, err := l.repo.Transition(ctx, &entity.Transition{
		EventID:      eventID,
		From:         []entity.Status{entity.StatusSubmitting},
		To:           entity.StatusSubmitting,
		Token:        &token,
		UnlockTxHash: &txHash,
		UnlockRawTx:  raw,
	})
	if err != nil {
		return fmt.Errorf("can't record signed tx of event %s: %w", eventID, err)
	}
	if record != nil {
		return nil
	}
	if _, err = l.Get(ctx, eventID); err != nil {
		return err
	}
	return fmt.Errorf("can't record signed tx of event %s: %w", eventID, ErrReservationLost)
}

// RecordRebroadcastFailed charges a failed rebroadcast of the signed unlock transaction to the attempt budget.
func (l *Ledger) RecordRebroadcastFailed(ctx context.Context, record *entity.ProcessedRecord, reason string) (*entity.ProcessedRecord, error) {
	updated, err := l.repo.Transition(ctx, &entity.Transition{
		EventID:     record.EventID,
		From:        []entity.Status{record.Status},
		To:          record.Status,
		Token:       record.ReservationToken,
		IncAttempts: true,
		LastError:   &reason,
	})
	if err != nil {
		return nil, fmt.Errorf("can't record failed rebroadcast of event %s: %w", record.EventID, err)
	}
	if updated != nil {
		return updated, nil
	}
	if _, err = l.Get(ctx, record.EventID); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("can't record failed rebroadcast of event %s: %w", record.EventID, ErrReservationLost)
}

func (l *Ledger) RecordSubmitted(ctx context.Context, eventID string, txHash common.Hash) error {
	return l.transition(ctx, &entity.Transition{
		EventID:      eventID,
		From:         []entity.Status{entity.StatusSubmitting},
		To:           entity.StatusSubmitted,
		UnlockTxHash: &txHash,
	})
}

func (l *Ledger) RecordConfirmed(ctx context.Context, eventID string) error {
	return l.transition(ctx, &entity.Transition{
		EventID:    eventID,
		From:       []entity.Status{entity.StatusSubmitted},
		To:         entity.StatusConfirmed,
		ClearToken: true,
	})
}

// RecordFailed marks the event as permanently failed.
// Seen events fail only when they can't be routed to any destination.
func (l *Ledger) RecordFailed(ctx context.Context, eventID string, reason string) error {
	return l.transition(ctx, &entity.Transition{
		EventID:    eventID,
		From:       []entity.Status{entity.StatusSeen, entity.StatusSubmitting, entity.StatusSubmitted},
		To:         entity.StatusFailed,
		ClearToken: true,
		LastError:  &reason,
	})
}

// Requeue returns a failed event to seen, allowed only when no unlock transaction was ever signed for it.
func (l *Ledger) Requeue(ctx context.Context, eventID string) error {
	record, err := l.Get(ctx, eventID)
	if err != nil {
		return err
	}
	if record.Status != entity.StatusFailed {
		return fmt.Errorf("can't requeue event %s in status %s: %w", eventID, record.Status, entity.ErrInvalidTransition)
	}
	if record.UnlockTxHash != nil {
		return fmt.Errorf("can't requeue event %s with signed unlock tx %s: %w", eventID, record.UnlockTxHash, entity.ErrInvalidTransition)
	}
	return l.transition(ctx, &entity.Transition{
		EventID:       eventID,
		From:          []entity.Status{entity.StatusFailed},
		To:            entity.StatusSeen,
		ClearToken:    true,
		ResetAttempts: true,
	})
}

// transition applies t, treating a repeated transition into the current status as a no-op.
func (l *Ledger) transition(ctx context.Context, t *entity.Transition) error {
	record, err := l.repo.Transition(ctx, t)
	if err != nil {
		return fmt.Errorf("can't move event %s to %s: %w", t.EventID, t.To, err)
	}
	if record != nil {
		return nil
	}
	record, err = l.Get(ctx, t.EventID)
	if err != nil {
		return err
	}
	if record.Status == t.To {
		return nil
	}
	return fmt.Errorf("can't move event %s from %s to %s: %w", t.EventID, record.Status, t.To, entity.ErrInvalidTransition)
}
