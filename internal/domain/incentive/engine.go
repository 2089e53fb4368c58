package incentive

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/telecare/telecare/internal/domain/account"
	"github.com/telecare/telecare/internal/domain/scheduling"
	"github.com/telecare/telecare/internal/platform/events"
	"github.com/telecare/telecare/internal/platform/notification"
	"github.com/telecare/telecare/internal/platform/payment"
)

var tracer = otel.Tracer("github.com/telecare/telecare/internal/domain/incentive")

// Accounts resolves the wallet of each party.
type Accounts interface {
	GetAccount(ctx context.Context, id string) (*account.Account, error)
}

type Config struct {
	Amount          decimal.Decimal
	TransferTimeout time.Duration
}

type Engine struct {
	store    Store
	accounts Accounts
	payments payment.Transferer
	notify   notification.Sink
	events   events.Publisher
	cfg      Config
	logger   zerolog.Logger
	now      func() time.Time
}

func NewEngine(store Store, accounts Accounts, payments payment.Transferer, notify notification.Sink,
	pub events.Publisher, cfg Config, logger zerolog.Logger) *Engine {
	if notify == nil {
		notify = notification.Discard
	}
	if pub == nil {
		pub = events.Nop
	}
	if cfg.TransferTimeout <= 0 {
		cfg.TransferTimeout = 30 * time.Second
	}
	return &Engine{
		store:    store,
		accounts: accounts,
		payments: payments,
		notify:   notify,
		events:   pub,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Hook settles in the background once an appointment is accepted.
func (e *Engine) Hook() scheduling.Hook {
	return scheduling.Hook{
		Name:  "settle-incentive",
		On:    []scheduling.Status{scheduling.StatusAccepted},
		Async: true,
		Run: func(ctx context.Context, a *scheduling.Appointment) error {
			_, err := e.Settle(ctx, a.ID)
			return err
		},
	}
}

// Settle pays both parties of an accepted appointment. The first caller to
// claim the appointment performs the transfers; every later call returns
// the stored record without touching the chain. A record left incomplete by
// a crash is never retried, since a leg may already have landed.
func (e *Engine) Settle(ctx context.Context, id uuid.UUID) (*scheduling.IncentiveTx, error) {
	ctx, span := tracer.Start(ctx, "incentive.settle")
	defer span.End()
	span.SetAttributes(attribute.String("appointment_id", id.String()))

	a, err := e.store.GetAppointment(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load appointment")
		return nil, err
	}
	if a.IncentiveTx != nil {
		return a.IncentiveTx, nil
	}
	if a.Status != scheduling.StatusAccepted {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotAccepted, id, a.Status)
	}

	rec := &scheduling.IncentiveTx{
		Doctor:    scheduling.Leg{Outcome: scheduling.LegPending},
		Patient:   scheduling.Leg{Outcome: scheduling.LegPending},
		StartedAt: e.now().UTC(),
	}
	claimed, err := e.store.Claim(ctx, id, rec)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "claim")
		return nil, err
	}
	if !claimed {
		// lost the race to a concurrent caller
		a, err := e.store.GetAppointment(ctx, id)
		if err != nil {
			return nil, err
		}
		if a.IncentiveTx == nil {
			return nil, fmt.Errorf("%w: %s is %s", ErrNotAccepted, id, a.Status)
		}
		return a.IncentiveTx, nil
	}

	var (
		wg                sync.WaitGroup
		doctorT, patientT *Transfer
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		rec.Doctor, doctorT = e.leg(ctx, a, RoleDoctor, a.DoctorID)
	}()
	go func() {
		defer wg.Done()
		rec.Patient, patientT = e.leg(ctx, a, RolePatient, a.PatientID)
	}()
	wg.Wait()

	sentAt := e.now().UTC()
	rec.SentAt = &sentAt

	var transfers []*Transfer
	for _, t := range []*Transfer{doctorT, patientT} {
		if t != nil {
			transfers = append(transfers, t)
		}
	}
	storeErr := e.store.Complete(ctx, id, rec, transfers)
	if storeErr != nil {
		span.RecordError(storeErr)
		span.SetStatus(codes.Error, "store settlement")
		e.logger.Error().Err(storeErr).Str("appointment_id", id.String()).
			Str("doctor_tx", rec.Doctor.TxID).Str("patient_tx", rec.Patient.TxID).
			Msg("settlement transfers made but record not stored")
	}

	e.logger.Info().
		Str("appointment_id", id.String()).
		Str("doctor_outcome", string(rec.Doctor.Outcome)).
		Str("patient_outcome", string(rec.Patient.Outcome)).
		Msg("incentive settled")

	e.announce(ctx, a, rec)
	return rec, storeErr
}

// leg runs one transfer and never returns an error: every failure becomes
// the leg's recorded outcome.
func (e *Engine) leg(ctx context.Context, a *scheduling.Appointment, role Role, uid string) (scheduling.Leg, *Transfer) {
	ctx, span := tracer.Start(ctx, "incentive.leg")
	defer span.End()
	span.SetAttributes(attribute.String("leg", string(role)), attribute.String("user_id", uid))

	log := e.logger.With().Str("appointment_id", a.ID.String()).Str("leg", string(role)).Str("user_id", uid).Logger()

	wallet, err := e.wallet(ctx, uid)
	if err != nil {
		out := scheduling.Leg{Outcome: scheduling.LegTransferFailed, Reason: err.Error()}
		if errors.Is(err, ErrWalletMissing) {
			out = scheduling.Leg{Outcome: scheduling.LegWalletMissing, Reason: "no wallet registered"}
		}
		span.SetAttributes(attribute.String("outcome", string(out.Outcome)))
		log.Warn().Err(err).Msg("settlement leg skipped")
		return out, nil
	}

	tctx, cancel := context.WithTimeout(ctx, e.cfg.TransferTimeout)
	defer cancel()
	txID, err := e.payments.Transfer(tctx, wallet, e.cfg.Amount)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrTransferFailed, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "transfer")
		span.SetAttributes(attribute.String("outcome", string(scheduling.LegTransferFailed)))
		log.Warn().Err(err).Msg("settlement transfer failed")
		return scheduling.Leg{Outcome: scheduling.LegTransferFailed, Reason: err.Error()}, nil
	}

	span.SetAttributes(attribute.String("outcome", string(scheduling.LegSent)), attribute.String("tx_id", txID))
	return scheduling.Leg{Outcome: scheduling.LegSent, TxID: txID}, &Transfer{
		ID:            uuid.New(),
		AppointmentID: a.ID,
		RecipientID:   uid,
		Role:          role,
		Wallet:        wallet,
		Amount:        e.cfg.Amount,
		TxID:          txID,
	}
}

func (e *Engine) wallet(ctx context.Context, uid string) (string, error) {
	acct, err := e.accounts.GetAccount(ctx, uid)
	if errors.Is(err, account.ErrNotFound) {
		return "", fmt.Errorf("%w: account %s not found", ErrWalletMissing, uid)
	}
	if err != nil {
		return "", err
	}
	w := acct.Wallet()
	if w == "" {
		return "", ErrWalletMissing
	}
	return w, nil
}

type settledEvent struct {
	AppointmentID string                 `json:"appointment_id"`
	Amount        string                 `json:"amount"`
	Record        scheduling.IncentiveTx `json:"incentive_tx"`
}

// announce tells each party how their leg went, only after both legs have
// resolved.
func (e *Engine) announce(ctx context.Context, a *scheduling.Appointment, rec *scheduling.IncentiveTx) {
	for _, p := range []struct {
		uid string
		leg scheduling.Leg
	}{{a.DoctorID, rec.Doctor}, {a.PatientID, rec.Patient}} {
		if err := e.notify.Notify(ctx, p.uid, e.message(a, p.leg)); err != nil {
			e.logger.Warn().Err(err).Str("appointment_id", a.ID.String()).Str("user_id", p.uid).Msg("settlement notification failed")
		}
	}

	err := e.events.Publish(ctx, events.New(events.IncentiveSettled, settledEvent{
		AppointmentID: a.ID.String(),
		Amount:        e.cfg.Amount.String(),
		Record:        *rec,
	}))
	if err != nil {
		e.logger.Warn().Err(err).Str("appointment_id", a.ID.String()).Msg("publish event failed")
	}
}

func (e *Engine) message(a *scheduling.Appointment, leg scheduling.Leg) string {
	when := fmt.Sprintf("your appointment on %s at %s", a.Date, a.Time)
	switch leg.Outcome {
	case scheduling.LegSent:
		return fmt.Sprintf("You received %s SOL for %s. Transaction: %s", e.cfg.Amount, when, leg.TxID)
	case scheduling.LegWalletMissing:
		return fmt.Sprintf("Your %s SOL incentive for %s was not sent because no wallet is registered.", e.cfg.Amount, when)
	default:
		return fmt.Sprintf("Your %s SOL incentive for %s could not be sent.", e.cfg.Amount, when)
	}
}

// ListIncentives returns the caller's received transfers, newest first.
func (e *Engine) ListIncentives(ctx context.Context, uid string, limit, offset int) ([]*Transfer, int, error) {
	return e.store.ListByRecipient(ctx, uid, limit, offset)
}
