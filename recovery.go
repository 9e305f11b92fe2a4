package cortex

import (
	"context"
	"log/slog"
	"time"
)

// RecoveryReport summarizes what startup Recovery found and fixed, per
// SPEC_FULL.md §4.9.
type RecoveryReport struct {
	StalledReset      int
	PendingDepth      int
	OrphansDeleted    int
	OrphanedOpsFailed int
}

// orphanedOpsReason is stamped onto pending ops that Recovery fails out at
// startup because they were left dangling by a prior process.
const orphanedOpsReason = "orphaned from prior session"

// Recover runs the full startup recovery sweep described in SPEC_FULL.md
// §4.9, before the Processing Loop is allowed to tick:
//  1. load the latest checkpoint (informational only)
//  2. reset stalled (processing) bus rows back to pending
//  3. report queue depth
//  4. delete orphaned bus rows
//  5. run the backing store's integrity check
//  6. fail out long-orphaned pending ops left over from a prior session
func Recover(ctx context.Context, bus Bus, sessions SessionStore, orphanAge time.Duration, logger *slog.Logger) (RecoveryReport, error) {
	logger = OrDiscard(logger)
	var report RecoveryReport

	if _, err := bus.LoadLatestCheckpoint(ctx); err != nil {
		logger.Info("recovery: no prior checkpoint", "error", err)
	}

	reset, err := bus.ResetStalledMessages(ctx)
	if err != nil {
		return report, err
	}
	report.StalledReset = reset

	pending, err := bus.PeekPending(ctx)
	if err != nil {
		return report, err
	}
	report.PendingDepth = len(pending)

	orphans, err := bus.DeleteOrphans(ctx)
	if err != nil {
		return report, err
	}
	report.OrphansDeleted = orphans

	if err := bus.Integrity(ctx); err != nil {
		return report, err
	}

	ops, err := sessions.GetPendingOps(ctx)
	if err != nil {
		return report, err
	}
	now := Now()
	for _, op := range ops {
		if op.Status != PendingOpPending {
			continue
		}
		if now.Sub(op.DispatchedAt) < orphanAge {
			continue
		}
		if err := sessions.FailPendingOp(ctx, op.ID, orphanedOpsReason); err != nil {
			logger.Warn("recovery: failed to fail orphaned pending op", "id", op.ID, "error", err)
			continue
		}
		report.OrphanedOpsFailed++
	}

	logger.Info("recovery complete",
		"stalled_reset", report.StalledReset,
		"pending_depth", report.PendingDepth,
		"orphans_deleted", report.OrphansDeleted,
		"orphaned_ops_failed", report.OrphanedOpsFailed,
	)
	return report, nil
}
