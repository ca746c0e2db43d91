package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
)

const defaultAuditLimit = 100

// InsertUsage appends a usage row.
func (s *Store) InsertUsage(ctx context.Context, rec UsageRecord) error {
	if err := s.ensureReady(); err != nil {
		return err
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	query, args, err := s.sq.Insert("usage_events").
		Columns("request_id", "provider", "model", "input_tokens", "cached_tokens", "output_tokens", "cost_usd", "created_at").
		Values(rec.RequestID, rec.Provider, rec.Model, rec.InputTokens, rec.CachedTokens, rec.OutputTokens, rec.CostUSD, rec.CreatedAt.UTC()).
		ToSql()
	if err != nil {
		return fmt.Errorf("build usage insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert usage: %w", err)
	}
	return nil
}

// InsertAudit appends a denial row.
func (s *Store) InsertAudit(ctx context.Context, rec AuditRecord) error {
	if err := s.ensureReady(); err != nil {
		return err
	}
	if strings.TrimSpace(rec.Kind) == "" {
		return fmt.Errorf("audit kind required")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	query, args, err := s.sq.Insert("audit_events").
		Columns("request_id", "identity", "role", "kind", "reason", "collection", "operation", "prompt", "created_at").
		Values(rec.RequestID, rec.Identity, rec.Role, rec.Kind, rec.Reason, rec.Collection, rec.Operation, rec.Prompt, rec.CreatedAt.UTC()).
		ToSql()
	if err != nil {
		return fmt.Errorf("build audit insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	return nil
}

// RecentAudit returns denials newest first.
func (s *Store) RecentAudit(ctx context.Context, filter AuditFilter) ([]AuditRecord, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultAuditLimit
	}
	conditions := squirrel.Eq{}
	if id := strings.TrimSpace(filter.Identity); id != "" {
		conditions["identity"] = id
	}
	if kind := strings.TrimSpace(filter.Kind); kind != "" {
		conditions["kind"] = kind
	}
	sel := s.sq.Select("id", "request_id", "identity", "role", "kind", "reason", "collection", "operation", "prompt", "created_at").
		From("audit_events").
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(limit))
	if len(conditions) > 0 {
		sel = sel.Where(conditions)
	}
	if !filter.Since.IsZero() {
		sel = sel.Where(squirrel.GtOrEq{"created_at": filter.Since.UTC()})
	}
	query, args, err := sel.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build audit query: %w", err)
	}
	records := []AuditRecord{}
	if err := s.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, fmt.Errorf("select audit: %w", err)
	}
	return records, nil
}

// UsageTotals sums usage rows recorded at or after since. A zero since sums
// everything.
func (s *Store) UsageTotals(ctx context.Context, since time.Time) (UsageTotals, error) {
	if err := s.ensureReady(); err != nil {
		return UsageTotals{}, err
	}
	sel := s.sq.Select(
		"COUNT(*) AS calls",
		"COALESCE(SUM(input_tokens), 0) AS input_tokens",
		"COALESCE(SUM(cached_tokens), 0) AS cached_tokens",
		"COALESCE(SUM(output_tokens), 0) AS output_tokens",
		"COALESCE(SUM(cost_usd), 0) AS cost_usd",
	).From("usage_events")
	if !since.IsZero() {
		sel = sel.Where(squirrel.GtOrEq{"created_at": since.UTC()})
	}
	query, args, err := sel.ToSql()
	if err != nil {
		return UsageTotals{}, fmt.Errorf("build usage totals: %w", err)
	}
	var totals UsageTotals
	if err := s.db.GetContext(ctx, &totals, query, args...); err != nil {
		return UsageTotals{}, fmt.Errorf("select usage totals: %w", err)
	}
	return totals, nil
}

// Prune deletes rows older than the configured retention and reports how many
// were removed. It is a no-op without a retention window.
func (s *Store) Prune(ctx context.Context) (int64, error) {
	if err := s.ensureReady(); err != nil {
		return 0, err
	}
	if s.retention <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-s.retention).UTC()
	var removed int64
	for _, table := range []string{"usage_events", "audit_events"} {
		query, args, err := s.sq.Delete(table).Where(squirrel.Lt{"created_at": cutoff}).ToSql()
		if err != nil {
			return removed, fmt.Errorf("build prune %s: %w", table, err)
		}
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return removed, fmt.Errorf("prune %s: %w", table, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			removed += n
		}
	}
	return removed, nil
}
