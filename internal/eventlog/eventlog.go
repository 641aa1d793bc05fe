// Package eventlog is the append-only, hash-chained record of workflow
// stages. There is no update or delete.
package eventlog

import (
	"context"
	"errors"
	"fmt"

	"github.com/davidahmann/creditgate/internal/audit"
	"github.com/davidahmann/creditgate/internal/keylock"
	"github.com/davidahmann/creditgate/internal/store"
	"github.com/davidahmann/creditgate/pkg/types"
)

var ErrChainBroken = errors.New("event chain broken")

type Log struct {
	store store.Store
	locks keylock.Map
}

func New(s store.Store) *Log {
	return &Log{store: s}
}

// Append links ev to the previous event of requestID and stores it. The
// sequence number is assigned here and the timestamp never goes backwards.
func (l *Log) Append(ctx context.Context, requestID string, ev types.WorkflowEvent) (types.WorkflowEvent, error) {
	unlock := l.locks.Lock(requestID)
	defer unlock()

	payload, err := store.NormalizePayload(ev.Payload)
	if err != nil {
		return types.WorkflowEvent{}, fmt.Errorf("encode %s payload: %w", ev.Stage, err)
	}
	ev.Payload = payload
	ev.Timestamp = ev.Timestamp.UTC()
	ev.Seq = 1
	ev.PrevDigest = ""

	prev, err := l.store.LastEvent(ctx, requestID)
	switch {
	case err == nil:
		ev.Seq = prev.Seq + 1
		ev.PrevDigest = prev.Digest
		if ev.Timestamp.Before(prev.Timestamp) {
			ev.Timestamp = prev.Timestamp
		}
	case errors.Is(err, store.ErrNotFound):
	default:
		return types.WorkflowEvent{}, fmt.Errorf("read event head: %w", err)
	}

	if ev.Digest, err = audit.ChainDigest(ev.PrevDigest, ev); err != nil {
		return types.WorkflowEvent{}, fmt.Errorf("digest %s event: %w", ev.Stage, err)
	}
	if err := l.store.AppendEvent(ctx, requestID, ev); err != nil {
		return types.WorkflowEvent{}, fmt.Errorf("append %s event: %w", ev.Stage, err)
	}
	return ev, nil
}

// List returns the events written by the latest attempt, in order. A
// request without events yields an empty slice.
func (l *Log) List(ctx context.Context, requestID string) ([]types.WorkflowEvent, error) {
	all, err := l.store.ListEvents(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return []types.WorkflowEvent{}, nil
	}
	latest := all[len(all)-1].Attempt
	out := make([]types.WorkflowEvent, 0, len(types.Stages()))
	for _, ev := range all {
		if ev.Attempt == latest {
			out = append(out, ev)
		}
	}
	return out, nil
}

// History returns every event of every attempt.
func (l *Log) History(ctx context.Context, requestID string) ([]types.WorkflowEvent, error) {
	return l.store.ListEvents(ctx, requestID)
}

// Head is the digest of the newest event, or "" when there is none.
func (l *Log) Head(ctx context.Context, requestID string) (string, error) {
	ev, err := l.store.LastEvent(ctx, requestID)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return ev.Digest, nil
}

// Verify recomputes the whole chain for requestID.
func (l *Log) Verify(ctx context.Context, requestID string) error {
	all, err := l.store.ListEvents(ctx, requestID)
	if err != nil {
		return err
	}
	return VerifyChain(all)
}

// VerifyChain checks sequence continuity, back links and digests.
func VerifyChain(events []types.WorkflowEvent) error {
	prev := ""
	for i, ev := range events {
		if ev.Seq != int64(i+1) {
			return fmt.Errorf("%w: seq %d at position %d", ErrChainBroken, ev.Seq, i)
		}
		if ev.PrevDigest != prev {
			return fmt.Errorf("%w: seq %d does not link to its predecessor", ErrChainBroken, ev.Seq)
		}
		want, err := audit.ChainDigest(prev, ev)
		if err != nil {
			return err
		}
		if ev.Digest != want {
			return fmt.Errorf("%w: seq %d digest mismatch", ErrChainBroken, ev.Seq)
		}
		prev = ev.Digest
	}
	return nil
}
