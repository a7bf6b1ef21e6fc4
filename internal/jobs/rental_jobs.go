package jobs

import (
	"context"

	"cark-backend/internal/logger"
)

const CancelExpiredDepositsJob = "cancel-expired-deposits"

// CancelExpiredDeposits cancels self-drive rentals whose deposit deadline has
// passed without payment
func (jr *JobRunner) CancelExpiredDeposits() {
	_, _ = jr.runCancelExpiredDeposits()
}

func (jr *JobRunner) runCancelExpiredDeposits() (bool, error) {
	return jr.runWithRecovery(CancelExpiredDepositsJob, func(ctx context.Context) error {
		count, err := jr.services.SelfDrive.ExpireDeposits(ctx, jr.now())
		if err != nil {
			return err
		}
		logger.WithJob(CancelExpiredDepositsJob).Info("Canceled rentals with expired deposits", "count", count)
		return nil
	})
}
