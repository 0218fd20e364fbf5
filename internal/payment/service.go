package payment

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/siiriylonen/NDL-VuFind2-sub001/internal/fees"
	"github.com/siiriylonen/NDL-VuFind2-sub001/internal/ils"
)

const reasonPatronLoginError = "patron_login_error"

type OutcomeCode string

const (
	OutcomeRegistered        OutcomeCode = "registered"
	OutcomeAlreadyRegistered OutcomeCode = "already_registered"
	OutcomeInProgress        OutcomeCode = "in_progress"
	OutcomeDelayed           OutcomeCode = "delayed"
	OutcomeFailed            OutcomeCode = "failed"
	OutcomeNotFound          OutcomeCode = "not_found"
	OutcomeTransportError    OutcomeCode = "transport_error"
)

// Outcome is the state machine's only public result. The service never
// returns an error across this boundary; transport problems are an
// outcome kind of their own so callers can retry them.
type Outcome struct {
	Code    OutcomeCode
	Message string
}

// Success reports whether the caller should treat the outcome as a
// completed confirmation. A concurrent confirmation that lost the race
// is a success for its caller: the payment is being registered.
func (o Outcome) Success() bool {
	switch o.Code {
	case OutcomeRegistered, OutcomeAlreadyRegistered, OutcomeInProgress:
		return true
	}
	return false
}

// DriverResolver hands out the undecorated driver for a source.
type DriverResolver interface {
	DriverFor(source string) (ils.Driver, error)
}

// Service owns the payment transaction lifecycle from "paid at
// gateway" to "registered as paid in the ILS". Only this service may
// mark fees paid.
type Service struct {
	repo           Repository
	resolver       DriverResolver
	sessions       *ils.SessionManager
	credentials    CredentialStore
	publisher      StatusPublisher
	logger         *slog.Logger
	internalNumber func() string
}

func NewService(repo Repository, resolver DriverResolver, sessions *ils.SessionManager, credentials CredentialStore, publisher StatusPublisher, logger *slog.Logger) *Service {
	return &Service{
		repo:           repo,
		resolver:       resolver,
		sessions:       sessions,
		credentials:    credentials,
		publisher:      publisher,
		logger:         logger,
		internalNumber: uuid.NewString,
	}
}

// NotifyPaid handles the gateway's server-to-server confirmation. The
// transaction row is created here if the register path has not created
// it yet, then registration is driven the same way.
func (s *Service) NotifyPaid(ctx context.Context, in CreateInput) Outcome {
	if _, err := s.repo.CreateIfAbsent(ctx, in); err != nil {
		return Outcome{Code: OutcomeTransportError, Message: "storing transaction failed"}
	}
	return s.ReconcileAndRegister(ctx, in.TransactionID)
}

// ReconcileAndRegister turns a successful gateway payment into a
// confirmed ILS write-off exactly once. Both the browser register
// request and the gateway webhook land here and must tolerate being
// called more than once for the same transaction.
func (s *Service) ReconcileAndRegister(ctx context.Context, transactionID string) Outcome {
	tx, err := s.repo.GetByTransactionID(ctx, transactionID)
	if errors.Is(err, ErrNotFound) {
		return Outcome{Code: OutcomeNotFound, Message: "unknown transaction"}
	}
	if err != nil {
		return Outcome{Code: OutcomeTransportError, Message: "loading transaction failed"}
	}

	if out, done := s.terminalOutcome(tx); done {
		return out
	}

	won, err := s.repo.BeginRegistration(ctx, transactionID)
	if err != nil {
		return Outcome{Code: OutcomeTransportError, Message: "starting registration failed"}
	}
	if !won {
		// Lost the race or the state moved under us; report what the
		// row says now.
		current, err := s.repo.GetByTransactionID(ctx, transactionID)
		if err != nil {
			return Outcome{Code: OutcomeTransportError, Message: "loading transaction failed"}
		}
		if out, done := s.terminalOutcome(current); done {
			return out
		}
		return Outcome{Code: OutcomeInProgress, Message: "registration already in progress"}
	}

	return s.register(ctx, tx)
}

func (s *Service) terminalOutcome(tx *Transaction) (Outcome, bool) {
	switch tx.Status {
	case StatusRegistered:
		return Outcome{Code: OutcomeAlreadyRegistered, Message: "payment already registered"}, true
	case StatusRegistrationInProgress:
		return Outcome{Code: OutcomeInProgress, Message: "registration already in progress"}, true
	case StatusRegistrationFailed:
		return Outcome{Code: OutcomeFailed, Message: tx.ErrorMessage}, true
	case StatusFinesUpdated:
		return Outcome{Code: OutcomeDelayed, Message: "payment is delayed, we will process it"}, true
	}
	return Outcome{}, false
}

// register runs with the registration claimed. Every exit path must
// leave the row in a deliberate state.
func (s *Service) register(ctx context.Context, tx *Transaction) Outcome {
	driver, err := s.resolver.DriverFor(tx.Source)
	if err != nil {
		return s.fail(ctx, tx, "unresolvable backend source "+tx.Source)
	}

	username, password, err := s.credentials.PatronCredentials(ctx, tx.UserID)
	if err != nil || username != tx.CatUsername {
		return s.fail(ctx, tx, reasonPatronLoginError)
	}

	patron, err := s.sessions.Login(ctx, driver, username, password)
	if err != nil {
		if ils.IsKind(err, ils.KindTransport) {
			return s.release(ctx, tx, "backend unreachable during login")
		}
		return s.fail(ctx, tx, reasonPatronLoginError)
	}

	engine, err := fees.NewEngine(driver)
	if err != nil {
		return s.fail(ctx, tx, err.Error())
	}

	if err := engine.CheckBalance(ctx, patron, tx.AmountMinor, tx.FineIDs); err != nil {
		if ils.IsKind(err, ils.KindConsistency) {
			return s.delay(ctx, tx)
		}
		if ils.IsKind(err, ils.KindTransport) {
			// Nothing written yet; hand the transaction back so a
			// retry stays possible.
			return s.release(ctx, tx, "backend unreachable during reconciliation")
		}
		return s.fail(ctx, tx, err.Error())
	}

	if err := engine.ApplyPayment(ctx, patron, tx.AmountMinor, tx.TransactionID, s.internalNumber(), tx.FineIDs); err != nil {
		return s.fail(ctx, tx, err.Error())
	}

	if err := s.repo.MarkRegistered(ctx, tx.TransactionID); err != nil {
		// The backend write landed; the status row is now behind. The
		// guard keeps a re-run from double-paying because the balance
		// check will see the reduced balance.
		s.logger.Error("payment registered but status update failed", "transaction_id", tx.TransactionID, "err", err)
		return Outcome{Code: OutcomeTransportError, Message: "registration result could not be stored"}
	}

	s.publish(tx.TransactionID, StatusRegistered, "")
	s.logger.Info("payment registered", "transaction_id", tx.TransactionID, "source", tx.Source, "amount_minor", tx.AmountMinor)
	return Outcome{Code: OutcomeRegistered, Message: "payment registered"}
}

func (s *Service) fail(ctx context.Context, tx *Transaction, message string) Outcome {
	if err := s.repo.MarkFailed(ctx, tx.TransactionID, message); err != nil {
		s.logger.Error("marking transaction failed errored", "transaction_id", tx.TransactionID, "err", err)
	}
	s.publish(tx.TransactionID, StatusRegistrationFailed, message)
	s.logger.Warn("payment registration failed", "transaction_id", tx.TransactionID, "reason", message)
	return Outcome{Code: OutcomeFailed, Message: message}
}

func (s *Service) delay(ctx context.Context, tx *Transaction) Outcome {
	if err := s.repo.MarkFinesUpdated(ctx, tx.TransactionID); err != nil {
		s.logger.Error("marking transaction fines-updated errored", "transaction_id", tx.TransactionID, "err", err)
	}
	msg := "payment is delayed, we will process it"
	s.publish(tx.TransactionID, StatusFinesUpdated, msg)
	s.logger.Info("payment delayed, fine balance changed", "transaction_id", tx.TransactionID)
	return Outcome{Code: OutcomeDelayed, Message: msg}
}

func (s *Service) release(ctx context.Context, tx *Transaction, message string) Outcome {
	if err := s.repo.ReleaseRegistration(ctx, tx.TransactionID); err != nil {
		s.logger.Error("releasing registration errored", "transaction_id", tx.TransactionID, "err", err)
	}
	return Outcome{Code: OutcomeTransportError, Message: message}
}

func (s *Service) publish(transactionID string, status Status, message string) {
	if s.publisher != nil {
		s.publisher.PublishStatus(transactionID, status, message)
	}
}

// Get exposes the stored transaction for status polling.
func (s *Service) Get(ctx context.Context, transactionID string) (*Transaction, error) {
	return s.repo.GetByTransactionID(ctx, transactionID)
}

// ResetFailed moves a failed transaction back to awaiting registration
// so an operator can re-drive it. Only registration_failed rows move.
func (s *Service) ResetFailed(ctx context.Context, transactionID string) (bool, error) {
	return s.repo.ResetFailed(ctx, transactionID)
}
