package economy

import (
	"context"
	"log"
	"time"
)

// StartRetentionWorker clears idempotency keys from ledger rows older than
// the configured retention window. The rows themselves are immutable and
// stay; only the uniqueness claim on the key is released so old keys can be
// reused safely.
func (s *Service) StartRetentionWorker(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	log.Printf("[ECON] Starting idempotency retention worker (every 1h, keep %d days)", s.cfg.IdempotencyRetentionDays)

	// Run once on startup.
	s.clearExpiredKeys(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Printf("[ECON] Retention worker stopped")
			return
		case <-ticker.C:
			s.clearExpiredKeys(ctx)
		}
	}
}

func (s *Service) clearExpiredKeys(ctx context.Context) {
	days := s.cfg.IdempotencyRetentionDays
	if days <= 0 {
		days = 7
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE wallet_transactions
		SET idempotency_key = NULL
		WHERE idempotency_key IS NOT NULL
		  AND created_at < NOW() - make_interval(days => $1)`, days)
	if err != nil {
		log.Printf("[ECON] Idempotency key cleanup failed: %v", err)
		return
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		log.Printf("[ECON] ✓ Cleared %d expired idempotency key(s)", n)
	}
}
