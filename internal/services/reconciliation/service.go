package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"waqf-reconciliation-backend/internal/models"
	"waqf-reconciliation-backend/internal/repository"
	"waqf-reconciliation-backend/internal/services/matching"
	"waqf-reconciliation-backend/internal/statement"
)

var tracer = otel.Tracer("Reconciliation")

var ErrStatementImported = errors.New("statement already imported")

type SessionStore interface {
	Create(ctx context.Context, rec repository.SessionRecord) error
	Load(ctx context.Context, id uuid.UUID) (repository.SessionRecord, error)
	Save(ctx context.Context, rec repository.SessionRecord) error
	List(ctx context.Context, status string, limit int) ([]models.ReconciliationSession, error)
	FindByStatement(ctx context.Context, account, statementID string) (*models.ReconciliationSession, error)
}

type LedgerSource interface {
	FindCandidates(ctx context.Context, account string, from, to time.Time) ([]models.LedgerEntry, error)
	FindByIDs(ctx context.Context, ids []uuid.UUID) ([]models.LedgerEntry, error)
}

// Locker serializes mutations of one session across API instances.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func() error) error
}

type ServiceConfig struct {
	Session SessionConfig
	// CandidateWindowDays widens the ledger lookup around the statement's
	// value dates.
	CandidateWindowDays int
}

type Service struct {
	sessions SessionStore
	ledger   LedgerSource
	locker   Locker
	cfg      ServiceConfig
}

func NewService(sessions SessionStore, ledger LedgerSource, locker Locker, cfg ServiceConfig) *Service {
	if cfg.CandidateWindowDays <= 0 {
		cfg.CandidateWindowDays = 30
	}
	return &Service{sessions: sessions, ledger: ledger, locker: locker, cfg: cfg}
}

// ImportStatement opens a session for a parsed statement. A statement with an
// id can be imported once per account.
func (s *Service) ImportStatement(ctx context.Context, stmt *statement.Statement) (Summary, error) {
	ctx, span := tracer.Start(ctx, "Importing statement")
	defer span.End()

	if stmt.StatementID != "" {
		existing, err := s.sessions.FindByStatement(ctx, stmt.AccountIdentifier, stmt.StatementID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			span.RecordError(err)
			return Summary{}, err
		}
		if existing != nil {
			return Summary{}, fmt.Errorf("%w: %s in session %s", ErrStatementImported, stmt.StatementID, existing.ID)
		}
	}

	header := models.ReconciliationSession{
		ID:                  uuid.New(),
		StatementID:         stmt.StatementID,
		AccountIdentifier:   stmt.AccountIdentifier,
		Currency:            stmt.Currency,
		Format:              string(stmt.Format),
		OpeningBalanceMinor: stmt.OpeningBalanceMinor,
		ClosingBalanceMinor: stmt.ClosingBalanceMinor,
		Status:              models.SessionOpen,
	}
	txs := make([]models.BankTransaction, len(stmt.Transactions))
	for i, tx := range stmt.Transactions {
		if tx.ID == uuid.Nil {
			tx.ID = uuid.New()
		}
		tx.SessionID = header.ID
		txs[i] = tx
	}
	span.SetAttributes(
		attribute.String("session.id", header.ID.String()),
		attribute.Int("session.transactions", len(txs)),
	)

	if err := s.sessions.Create(ctx, repository.SessionRecord{Header: header, Transactions: txs}); err != nil {
		span.RecordError(err)
		return Summary{}, err
	}
	logrus.WithFields(logrus.Fields{
		"session_id":   header.ID,
		"account":      header.AccountIdentifier,
		"transactions": len(txs),
		"warnings":     len(stmt.Warnings),
	}).Info("statement imported")

	return NewSession(SessionState{Header: header, Transactions: txs}, s.cfg.Session).Summary(), nil
}

func (s *Service) ListSessions(ctx context.Context, status string, limit int) ([]models.ReconciliationSession, error) {
	return s.sessions.List(ctx, status, limit)
}

// Report returns the current summary of a session.
func (s *Service) Report(ctx context.Context, id uuid.UUID) (Summary, error) {
	ctx, span := tracer.Start(ctx, "Building session report")
	defer span.End()

	sess, err := s.load(ctx, id)
	if err != nil {
		span.RecordError(err)
		return Summary{}, err
	}
	return sess.Summary(), nil
}

func (s *Service) ListCandidates(ctx context.Context, sessionID, txID uuid.UUID) ([]matching.MatchCandidate, error) {
	sess, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return sess.Candidates(txID)
}

func (s *Service) ApplyAutoMatches(ctx context.Context, sessionID uuid.UUID) ([]models.Match, error) {
	var created []models.Match
	err := s.mutate(ctx, "Applying auto matches", sessionID, func(sess *Session) error {
		var err error
		created, err = sess.ApplyAutoMatches()
		return err
	})
	if err == nil {
		logrus.WithFields(logrus.Fields{"session_id": sessionID, "matched": len(created)}).Info("auto matching applied")
	}
	return created, err
}

func (s *Service) ConfirmManualMatch(ctx context.Context, sessionID, txID, ledgerID uuid.UUID, userID string) (models.Match, error) {
	var m models.Match
	err := s.mutate(ctx, "Confirming manual match", sessionID, func(sess *Session) error {
		var err error
		m, err = sess.ConfirmManualMatch(txID, ledgerID, userID)
		return err
	})
	return m, err
}

func (s *Service) Unmatch(ctx context.Context, sessionID, txID uuid.UUID, userID string) error {
	return s.mutate(ctx, "Removing match", sessionID, func(sess *Session) error {
		return sess.Unmatch(txID, userID)
	})
}

func (s *Service) MarkReconcilingItem(ctx context.Context, sessionID, itemID uuid.UUID, kind models.ReconcilingKind, userID string) (models.ReconcilingItem, error) {
	var item models.ReconcilingItem
	err := s.mutate(ctx, "Tagging reconciling item", sessionID, func(sess *Session) error {
		var err error
		item, err = sess.MarkReconcilingItem(itemID, kind, userID)
		return err
	})
	return item, err
}

func (s *Service) ClearReconcilingItem(ctx context.Context, sessionID, itemID uuid.UUID, userID string) error {
	return s.mutate(ctx, "Clearing reconciling item", sessionID, func(sess *Session) error {
		return sess.ClearReconcilingItem(itemID, userID)
	})
}

// Close reconciles the session. An unbalanced session is left untouched.
func (s *Service) Close(ctx context.Context, sessionID uuid.UUID, userID string) (Summary, error) {
	var sum Summary
	err := s.mutate(ctx, "Closing session", sessionID, func(sess *Session) error {
		if err := sess.Close(userID); err != nil {
			return err
		}
		sum = sess.Summary()
		return nil
	})
	if err != nil {
		var unbalanced *UnbalancedError
		if errors.As(err, &unbalanced) {
			logrus.WithFields(logrus.Fields{
				"session_id": sessionID,
				"difference": unbalanced.DifferenceMinor,
				"unresolved": len(unbalanced.Unresolved),
			}).Warn("session close rejected")
		}
		return Summary{}, err
	}
	logrus.WithFields(logrus.Fields{"session_id": sessionID, "closed_by": userID}).Info("session reconciled")
	return sum, nil
}

func (s *Service) RecordAdjustment(ctx context.Context, sessionID uuid.UUID, userID, reason string, txID, ledgerID *uuid.UUID) (models.MatchAuditLog, error) {
	var entry models.MatchAuditLog
	err := s.mutate(ctx, "Recording adjustment", sessionID, func(sess *Session) error {
		entry = sess.RecordAdjustment(userID, reason, txID, ledgerID)
		return nil
	})
	return entry, err
}

// mutate loads the session under its lock, applies fn and persists the result.
// Nothing is written when fn fails.
func (s *Service) mutate(ctx context.Context, op string, id uuid.UUID, fn func(*Session) error) error {
	ctx, span := tracer.Start(ctx, op)
	defer span.End()
	span.SetAttributes(attribute.String("session.id", id.String()))

	err := s.locker.WithLock(ctx, "session:"+id.String(), func() error {
		sess, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(sess); err != nil {
			return err
		}
		return s.sessions.Save(ctx, toRecord(sess.State()))
	})
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// load rebuilds a session with the ledger entries posted around its value
// dates plus every entry it already references.
func (s *Service) load(ctx context.Context, id uuid.UUID) (*Session, error) {
	rec, err := s.sessions.Load(ctx, id)
	if err != nil {
		return nil, err
	}

	var ledger []models.LedgerEntry
	if from, to, ok := valueDateRange(rec.Transactions); ok {
		window := time.Duration(s.cfg.CandidateWindowDays) * 24 * time.Hour
		ledger, err = s.ledger.FindCandidates(ctx, rec.Header.AccountIdentifier, from.Add(-window), to.Add(window))
		if err != nil {
			return nil, fmt.Errorf("failed to load ledger candidates: %w", err)
		}
	}

	have := make(map[uuid.UUID]bool, len(ledger))
	for _, e := range ledger {
		have[e.ID] = true
	}
	var missing []uuid.UUID
	for _, m := range rec.Matches {
		if !have[m.LedgerEntryID] {
			missing = append(missing, m.LedgerEntryID)
			have[m.LedgerEntryID] = true
		}
	}
	for _, item := range rec.Reconciling {
		if item.Side == models.SideLedger && !have[item.ItemID] {
			missing = append(missing, item.ItemID)
			have[item.ItemID] = true
		}
	}
	if len(missing) > 0 {
		extra, err := s.ledger.FindByIDs(ctx, missing)
		if err != nil {
			return nil, fmt.Errorf("failed to load referenced ledger entries: %w", err)
		}
		found := make(map[uuid.UUID]bool, len(extra))
		for _, e := range extra {
			found[e.ID] = true
		}
		for _, id := range missing {
			if !found[id] {
				return nil, fmt.Errorf("session %s, ledger entry %s: %w", rec.Header.ID, id, ErrLedgerEntryMissing)
			}
		}
		ledger = append(ledger, extra...)
	}

	return NewSession(SessionState{
		Header:       rec.Header,
		Transactions: rec.Transactions,
		Ledger:       ledger,
		Matches:      rec.Matches,
		Reconciling:  rec.Reconciling,
		Audit:        rec.Audit,
	}, s.cfg.Session), nil
}

// valueDateRange spans the parsed value dates. Lines whose date could not be
// parsed carry the zero time and are left out.
func valueDateRange(txs []models.BankTransaction) (from, to time.Time, ok bool) {
	for _, tx := range txs {
		if tx.ValueDate.IsZero() {
			continue
		}
		if !ok || tx.ValueDate.Before(from) {
			from = tx.ValueDate
		}
		if !ok || tx.ValueDate.After(to) {
			to = tx.ValueDate
		}
		ok = true
	}
	return from, to, ok
}

func toRecord(state SessionState) repository.SessionRecord {
	return repository.SessionRecord{
		Header:       state.Header,
		Transactions: state.Transactions,
		Matches:      state.Matches,
		Reconciling:  state.Reconciling,
		Audit:        state.Audit,
	}
}
