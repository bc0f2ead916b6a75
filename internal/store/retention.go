package store

import (
	"context"
	"time"

	"gorm.io/gorm"
)

const retentionBatchSize = 500

// ApplyRetention deletes events older than the cutoff, then removes any
// session row left with no events — a two-phase sweep so sessions are
// never orphaned mid-retention. Deletes run in small batches, each in its
// own transaction, so the sweep holds no long-lived locks and re-running
// it after a crash only removes what is still stale. An empty tenantID
// sweeps every tenant.
func (s *Store) ApplyRetention(ctx context.Context, tenantID string, olderThan time.Time) (*RetentionResult, error) {
	if olderThan.IsZero() {
		return nil, validationf("retention cutoff is required")
	}
	result := &RetentionResult{}
	cutoff := olderThan.UTC()

	for {
		var ids []string
		q := s.gdb.WithContext(ctx).Model(&eventRow{}).Where(`"timestamp" < ?`, cutoff)
		if tenantID != "" {
			q = q.Where("tenant_id = ?", tenantID)
		}
		if err := q.Limit(retentionBatchSize).Pluck("id", &ids).Error; err != nil {
			return result, err
		}
		if len(ids) == 0 {
			break
		}
		var deleted int64
		err := s.withRetry(ctx, func() error {
			return s.gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				res := tx.Where("id IN ?", ids).Delete(&eventRow{})
				if res.Error != nil {
					return res.Error
				}
				deleted = res.RowsAffected
				return nil
			})
		})
		if err != nil {
			return result, err
		}
		result.EventsDeleted += deleted
		if err := ctx.Err(); err != nil {
			return result, err
		}
	}

	for {
		type sessionKey struct {
			ID       string
			TenantID string
		}
		var keys []sessionKey
		q := s.gdb.WithContext(ctx).Model(&sessionRow{}).
			Select("id, tenant_id").
			Where("NOT EXISTS (SELECT 1 FROM events WHERE events.session_id = sessions.id AND events.tenant_id = sessions.tenant_id)")
		if tenantID != "" {
			q = q.Where("sessions.tenant_id = ?", tenantID)
		}
		if err := q.Limit(retentionBatchSize).Scan(&keys).Error; err != nil {
			return result, err
		}
		if len(keys) == 0 {
			break
		}
		var deleted int64
		err := s.withRetry(ctx, func() error {
			deleted = 0
			return s.gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				for _, key := range keys {
					res := tx.Where("id = ? AND tenant_id = ?", key.ID, key.TenantID).Delete(&sessionRow{})
					if res.Error != nil {
						return res.Error
					}
					deleted += res.RowsAffected
				}
				return nil
			})
		})
		if err != nil {
			return result, err
		}
		result.SessionsDeleted += deleted
		if err := ctx.Err(); err != nil {
			return result, err
		}
	}

	return result, nil
}
