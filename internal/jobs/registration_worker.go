package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/siiriylonen/NDL-VuFind2-sub001/internal/payment"
)

// Registrar drives a single transaction through the registration state
// machine. The worker reuses the exact path the API uses, so a re-drive
// cannot take a shortcut around the balance check.
type Registrar interface {
	ReconcileAndRegister(ctx context.Context, transactionID string) payment.Outcome
}

type PendingLister interface {
	ListAwaitingOlderThan(ctx context.Context, age time.Duration, limit int32) ([]payment.Transaction, error)
}

// Worker re-drives transactions whose registration never completed,
// e.g. because the webhook raced a backend outage.
type Worker struct {
	pending   PendingLister
	registrar Registrar
	minAge    time.Duration
	logger    *slog.Logger
}

func NewWorker(pending PendingLister, registrar Registrar, minAge time.Duration, logger *slog.Logger) *Worker {
	if minAge <= 0 {
		minAge = 10 * time.Minute
	}
	return &Worker{pending: pending, registrar: registrar, minAge: minAge, logger: logger}
}

func (w *Worker) RunOnce(ctx context.Context, batchSize int32) error {
	pending, err := w.pending.ListAwaitingOlderThan(ctx, w.minAge, batchSize)
	if err != nil {
		return err
	}

	for _, tx := range pending {
		out := w.registrar.ReconcileAndRegister(ctx, tx.TransactionID)
		if out.Success() {
			w.logger.Info("re-drive completed", "transaction_id", tx.TransactionID, "outcome", string(out.Code))
			continue
		}
		// Transport faults stay in awaiting_registration and will be
		// picked up on a later run; anything else is already recorded
		// on the row.
		w.logger.Warn("re-drive did not register", "transaction_id", tx.TransactionID, "outcome", string(out.Code), "message", out.Message)
	}

	return nil
}
