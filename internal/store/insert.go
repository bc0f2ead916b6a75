package store

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"agentlens.local/projects/lens-gateway/internal/event"
)

// InsertEvents appends a batch of pre-hashed events to one session's chain.
// The batch is checked before anything is written: intra-batch links,
// continuity against the stored chain head, and a recomputation of every
// event's hash. Events and their aggregate updates commit in one
// transaction; already-persisted ids are skipped so a partially-applied
// batch can be retried verbatim. Returns the number of newly inserted
// events.
func (s *Store) InsertEvents(ctx context.Context, tenantID string, batch []event.Event) (int, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return 0, validationf("tenant id is required")
	}
	if len(batch) == 0 {
		return 0, validationf("event batch must not be empty")
	}

	// Tenant stamping below must not leak into the caller's slice.
	batch = append([]event.Event(nil), batch...)

	sessionID := batch[0].SessionID
	for i := range batch {
		ev := &batch[i]
		if ev.TenantID == "" {
			ev.TenantID = tenantID
		}
		if ev.TenantID != tenantID {
			return 0, validationf("event %s belongs to tenant %q, batch is scoped to %q", ev.ID, ev.TenantID, tenantID)
		}
		if err := ev.Validate(); err != nil {
			return 0, &ValidationError{Msg: err.Error()}
		}
		if ev.SessionID != sessionID {
			return 0, validationf("batch spans sessions %q and %q; one session per batch", sessionID, ev.SessionID)
		}
	}

	for i := 1; i < len(batch); i++ {
		if !event.VerifyLink(batch[i], &batch[i-1].Hash) {
			return 0, chainErrorf(sessionID, i, "broken link within batch: event %s does not chain onto %s", batch[i].ID, batch[i-1].ID)
		}
	}
	for i, ev := range batch {
		computed, err := event.ComputeHash(ev)
		if err != nil {
			return 0, &ValidationError{Msg: err.Error()}
		}
		if computed != ev.Hash {
			return 0, chainErrorf(sessionID, i, "hash mismatch for event %s", ev.ID)
		}
	}

	var inserted []event.Event
	err := s.withRetry(ctx, func() error {
		inserted = inserted[:0]
		return s.gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := s.dialect.SetTenantContext(tx, tenantID); err != nil {
				return err
			}
			if err := s.lockSessionForAppend(tx, tenantID, batch[0]); err != nil {
				return err
			}

			// If the first event is already stored this is a retry of a
			// partially-applied batch; the continuity check against the
			// head was settled when it was first accepted.
			var headCount int64
			if err := tx.Model(&eventRow{}).
				Where("id = ? AND tenant_id = ?", batch[0].ID, tenantID).
				Count(&headCount).Error; err != nil {
				return err
			}
			if headCount == 0 {
				head, err := lastHashTx(tx, tenantID, sessionID)
				if err != nil {
					return err
				}
				if !event.VerifyLink(batch[0], head) {
					return chainErrorf(sessionID, 0, "stale prevHash: session chain head has advanced")
				}
			}

			for _, ev := range batch {
				var count int64
				if err := tx.Model(&eventRow{}).
					Where("id = ? AND tenant_id = ?", ev.ID, tenantID).
					Count(&count).Error; err != nil {
					return err
				}
				if count > 0 {
					continue
				}
				row, err := eventRowFrom(ev)
				if err != nil {
					return err
				}
				if err := tx.Create(&row).Error; err != nil {
					return err
				}
				if err := s.applyAggregates(tx, ev); err != nil {
					return err
				}
				inserted = append(inserted, ev)
			}
			return nil
		})
	})
	if err != nil {
		return 0, err
	}

	if s.publisher != nil && len(inserted) > 0 {
		s.publisher.Publish(ctx, inserted)
	}
	return len(inserted), nil
}

// lockSessionForAppend creates the session row if it does not exist yet and
// takes a row lock on it, serializing concurrent appends to the same
// session on the networked engine. The embedded engine has a single writer
// and needs no lock.
func (s *Store) lockSessionForAppend(tx *gorm.DB, tenantID string, first event.Event) error {
	now := s.now()
	bare := sessionRow{
		ID:        first.SessionID,
		TenantID:  tenantID,
		AgentID:   first.AgentID,
		StartedAt: first.Timestamp.UTC(),
		Status:    string(SessionActive),
		Tags:      "[]",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&bare).Error; err != nil {
		return err
	}

	q := tx.Where("id = ? AND tenant_id = ?", first.SessionID, tenantID)
	if s.dialect.LocksForUpdate() {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var row sessionRow
	return q.Take(&row).Error
}

func lastHashTx(tx *gorm.DB, tenantID, sessionID string) (*string, error) {
	var row eventRow
	err := tx.
		Where("tenant_id = ? AND session_id = ?", tenantID, sessionID).
		Order(`"timestamp" DESC, id DESC`).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row.Hash, nil
}
