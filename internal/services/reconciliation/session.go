package reconciliation

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"waqf-reconciliation-backend/internal/models"
	"waqf-reconciliation-backend/internal/services/matching"
)

var (
	ErrSessionClosed = errors.New("reconciliation session is closed")
	ErrNotFound      = errors.New("item not found in session")
	ErrNotMatched    = errors.New("bank transaction is not matched")
	ErrInvalidKind   = errors.New("invalid reconciling item kind")

	ErrLedgerEntryMissing = errors.New("referenced ledger entry is not loaded")
)

// ConflictError is returned when a side of a requested pairing is already
// matched or tagged.
type ConflictError struct {
	Side string
	ID   uuid.UUID
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %s is already matched", e.Side, e.ID)
}

// UnbalancedError is returned by Close while a difference or an unresolved
// bank transaction remains.
type UnbalancedError struct {
	DifferenceMinor int64
	Unresolved      []uuid.UUID
}

func (e *UnbalancedError) Error() string {
	if len(e.Unresolved) > 0 {
		return fmt.Sprintf("unmatched item remains: %d bank transaction(s) neither matched nor tagged (difference %d)", len(e.Unresolved), e.DifferenceMinor)
	}
	return fmt.Sprintf("session is unbalanced by %d minor units", e.DifferenceMinor)
}

type SessionConfig struct {
	Matching matching.Config
	// EpsilonMinor is the tolerated difference; close requires difference < epsilon.
	EpsilonMinor int64
}

func DefaultSessionConfig() SessionConfig {
	return SessionConfig{Matching: matching.DefaultConfig(), EpsilonMinor: 1}
}

// Session owns one statement's match lifecycle. It is not safe for
// concurrent use; callers serialize access per session id.
type Session struct {
	header models.ReconciliationSession
	engine *matching.Engine
	eps    int64
	now    func() time.Time

	transactions []models.BankTransaction
	txIndex      map[uuid.UUID]int
	ledger       []models.LedgerEntry
	ledgerIndex  map[uuid.UUID]int

	matchByTx     map[uuid.UUID]models.Match
	matchByLedger map[uuid.UUID]uuid.UUID
	reconciling   map[uuid.UUID]models.ReconcilingItem
	audit         []models.MatchAuditLog
}

// SessionState is everything needed to rebuild a session.
type SessionState struct {
	Header       models.ReconciliationSession
	Transactions []models.BankTransaction
	Ledger       []models.LedgerEntry
	Matches      []models.Match
	Reconciling  []models.ReconcilingItem
	Audit        []models.MatchAuditLog
}

func NewSession(state SessionState, cfg SessionConfig) *Session {
	if cfg.EpsilonMinor <= 0 {
		cfg.EpsilonMinor = 1
	}
	s := &Session{
		header:        state.Header,
		engine:        matching.NewEngine(cfg.Matching),
		eps:           cfg.EpsilonMinor,
		now:           func() time.Time { return time.Now().UTC() },
		txIndex:       make(map[uuid.UUID]int),
		ledgerIndex:   make(map[uuid.UUID]int),
		matchByTx:     make(map[uuid.UUID]models.Match),
		matchByLedger: make(map[uuid.UUID]uuid.UUID),
		reconciling:   make(map[uuid.UUID]models.ReconcilingItem),
		audit:         append([]models.MatchAuditLog(nil), state.Audit...),
	}
	if s.header.Status == "" {
		s.header.Status = models.SessionOpen
	}

	s.transactions = append([]models.BankTransaction(nil), state.Transactions...)
	sort.SliceStable(s.transactions, func(i, j int) bool {
		return s.transactions[i].LineNumber < s.transactions[j].LineNumber
	})
	for i, tx := range s.transactions {
		s.txIndex[tx.ID] = i
	}
	for _, entry := range state.Ledger {
		if _, dup := s.ledgerIndex[entry.ID]; dup {
			continue
		}
		s.ledgerIndex[entry.ID] = len(s.ledger)
		s.ledger = append(s.ledger, entry)
	}
	for _, m := range state.Matches {
		s.matchByTx[m.BankTransactionID] = m
		s.matchByLedger[m.LedgerEntryID] = m.BankTransactionID
	}
	for _, item := range state.Reconciling {
		s.reconciling[item.ItemID] = item
	}
	return s
}

func (s *Session) ID() uuid.UUID                         { return s.header.ID }
func (s *Session) Status() models.SessionStatus          { return s.header.Status }
func (s *Session) Header() models.ReconciliationSession  { return s.header }
func (s *Session) Transactions() []models.BankTransaction { return s.transactions }

// State returns the current session contents for persistence.
func (s *Session) State() SessionState {
	state := SessionState{
		Header:       s.header,
		Transactions: s.transactions,
		Ledger:       s.ledger,
		Audit:        s.audit,
	}
	for _, tx := range s.transactions {
		if m, ok := s.matchByTx[tx.ID]; ok {
			state.Matches = append(state.Matches, m)
		}
	}
	for _, item := range s.reconciling {
		state.Reconciling = append(state.Reconciling, item)
	}
	sort.Slice(state.Reconciling, func(i, j int) bool {
		return state.Reconciling[i].TaggedAt.Before(state.Reconciling[j].TaggedAt)
	})
	return state
}

func (s *Session) Matches() []models.Match {
	return s.State().Matches
}

func (s *Session) AuditTrail() []models.MatchAuditLog {
	return s.audit
}

func (s *Session) ensureOpen() error {
	if s.header.Status != models.SessionOpen {
		return ErrSessionClosed
	}
	return nil
}

// availableLedger returns ledger entries not consumed by a match or tag.
func (s *Session) availableLedger() []models.LedgerEntry {
	out := make([]models.LedgerEntry, 0, len(s.ledger))
	for _, entry := range s.ledger {
		if s.ledgerConsumed(entry.ID) {
			continue
		}
		out = append(out, entry)
	}
	return out
}

func (s *Session) ledgerConsumed(id uuid.UUID) bool {
	if _, ok := s.matchByLedger[id]; ok {
		return true
	}
	_, tagged := s.reconciling[id]
	return tagged
}

func (s *Session) txResolved(id uuid.UUID) bool {
	if _, ok := s.matchByTx[id]; ok {
		return true
	}
	_, tagged := s.reconciling[id]
	return tagged
}

// ApplyAutoMatches confirms the top candidate of every unresolved bank
// transaction when it reaches the auto-match threshold and its ledger entry is
// still free. Transactions are visited in statement line order, so the first
// line wins a contested ledger entry.
func (s *Session) ApplyAutoMatches() ([]models.Match, error) {
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}

	var created []models.Match
	for _, tx := range s.transactions {
		if s.txResolved(tx.ID) {
			continue
		}
		candidates := s.engine.Rank(tx, s.ledger)
		if len(candidates) == 0 {
			continue
		}
		top := candidates[0]
		if top.Decision != matching.DecisionAuto || s.ledgerConsumed(top.LedgerEntryID) {
			continue
		}
		m := s.addMatch(tx.ID, top.LedgerEntryID, models.ConfirmedByAuto, top.OverallScore)
		s.record(models.AuditActionAutoMatch, &m.BankTransactionID, &m.LedgerEntryID, models.ConfirmedByAuto, "", top.RuleBreakdown)
		created = append(created, m)
	}
	return created, nil
}

// Candidates ranks the free ledger entries for one bank transaction for
// operator review.
func (s *Session) Candidates(txID uuid.UUID) ([]matching.MatchCandidate, error) {
	i, ok := s.txIndex[txID]
	if !ok {
		return nil, ErrNotFound
	}
	return s.engine.Rank(s.transactions[i], s.availableLedger()), nil
}

func (s *Session) ConfirmManualMatch(txID, ledgerID uuid.UUID, userID string) (models.Match, error) {
	if err := s.ensureOpen(); err != nil {
		return models.Match{}, err
	}
	txPos, ok := s.txIndex[txID]
	if !ok {
		return models.Match{}, fmt.Errorf("bank transaction %s: %w", txID, ErrNotFound)
	}
	ledgerPos, ok := s.ledgerIndex[ledgerID]
	if !ok {
		return models.Match{}, fmt.Errorf("ledger entry %s: %w", ledgerID, ErrNotFound)
	}
	if s.txResolved(txID) {
		return models.Match{}, &ConflictError{Side: "bank transaction", ID: txID}
	}
	if s.ledgerConsumed(ledgerID) {
		return models.Match{}, &ConflictError{Side: "ledger entry", ID: ledgerID}
	}

	score := s.engine.Score(s.transactions[txPos], s.ledger[ledgerPos])
	m := s.addMatch(txID, ledgerID, userID, score.OverallScore)
	s.record(models.AuditActionManualMatch, &txID, &ledgerID, userID, "", score.RuleBreakdown)
	return m, nil
}

func (s *Session) addMatch(txID, ledgerID uuid.UUID, by string, confidence float64) models.Match {
	m := models.Match{
		ID:                       uuid.New(),
		SessionID:                s.header.ID,
		BankTransactionID:        txID,
		LedgerEntryID:            ledgerID,
		ConfirmedAt:              s.now(),
		ConfirmedBy:              by,
		ConfidenceAtConfirmation: confidence,
	}
	s.matchByTx[txID] = m
	s.matchByLedger[ledgerID] = txID
	return m
}

// Unmatch removes the match of a bank transaction, returning both sides to
// the unmatched pools.
func (s *Session) Unmatch(txID uuid.UUID, userID string) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	m, ok := s.matchByTx[txID]
	if !ok {
		return ErrNotMatched
	}
	delete(s.matchByTx, txID)
	delete(s.matchByLedger, m.LedgerEntryID)
	s.record(models.AuditActionUnmatch, &txID, &m.LedgerEntryID, userID, "", nil)
	return nil
}

// MarkReconcilingItem tags a bank transaction or ledger entry as a known
// timing difference.
func (s *Session) MarkReconcilingItem(itemID uuid.UUID, kind models.ReconcilingKind, userID string) (models.ReconcilingItem, error) {
	if err := s.ensureOpen(); err != nil {
		return models.ReconcilingItem{}, err
	}
	if !kind.Valid() {
		return models.ReconcilingItem{}, fmt.Errorf("%w %q", ErrInvalidKind, kind)
	}

	var side models.ItemSide
	var txRef, ledgerRef *uuid.UUID
	switch {
	case s.hasTx(itemID):
		side, txRef = models.SideBank, &itemID
		if _, matched := s.matchByTx[itemID]; matched {
			return models.ReconcilingItem{}, &ConflictError{Side: "bank transaction", ID: itemID}
		}
	case s.hasLedger(itemID):
		side, ledgerRef = models.SideLedger, &itemID
		if _, matched := s.matchByLedger[itemID]; matched {
			return models.ReconcilingItem{}, &ConflictError{Side: "ledger entry", ID: itemID}
		}
	default:
		return models.ReconcilingItem{}, ErrNotFound
	}
	if _, tagged := s.reconciling[itemID]; tagged {
		return models.ReconcilingItem{}, &ConflictError{Side: string(side) + " item", ID: itemID}
	}

	item := models.ReconcilingItem{
		ID:        uuid.New(),
		SessionID: s.header.ID,
		ItemID:    itemID,
		Side:      side,
		Kind:      kind,
		TaggedBy:  userID,
		TaggedAt:  s.now(),
	}
	s.reconciling[itemID] = item
	s.record(models.AuditActionTag, txRef, ledgerRef, userID, string(kind), nil)
	return item, nil
}

func (s *Session) ClearReconcilingItem(itemID uuid.UUID, userID string) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	item, ok := s.reconciling[itemID]
	if !ok {
		return ErrNotFound
	}
	delete(s.reconciling, itemID)
	if item.Side == models.SideBank {
		s.record(models.AuditActionUntag, &itemID, nil, userID, string(item.Kind), nil)
	} else {
		s.record(models.AuditActionUntag, nil, &itemID, userID, string(item.Kind), nil)
	}
	return nil
}

func (s *Session) hasTx(id uuid.UUID) bool {
	_, ok := s.txIndex[id]
	return ok
}

func (s *Session) hasLedger(id uuid.UUID) bool {
	_, ok := s.ledgerIndex[id]
	return ok
}

// BookBalanceMinor is the opening balance plus matched ledger amounts (signed
// by the bank direction) plus bank-side reconciling items. Ledger-side items
// are timing differences already absent from the statement, so they do not
// move the balance. A match whose ledger entry is not loaded adds nothing and
// keeps its transaction unresolved.
func (s *Session) BookBalanceMinor() int64 {
	book := s.header.OpeningBalanceMinor
	for _, tx := range s.transactions {
		if m, ok := s.matchByTx[tx.ID]; ok {
			if e, found := s.matchedEntry(m); found {
				book += tx.Direction.Sign() * e.AmountMinor
			}
			continue
		}
		if item, ok := s.reconciling[tx.ID]; ok && item.Side == models.SideBank {
			book += tx.SignedAmountMinor()
		}
	}
	return book
}

func (s *Session) matchedEntry(m models.Match) (models.LedgerEntry, bool) {
	i, ok := s.ledgerIndex[m.LedgerEntryID]
	if !ok {
		return models.LedgerEntry{}, false
	}
	return s.ledger[i], true
}

// ComputeDifference returns |book balance - bank closing balance|.
func (s *Session) ComputeDifference() int64 {
	d := s.BookBalanceMinor() - s.header.ClosingBalanceMinor
	if d < 0 {
		return -d
	}
	return d
}

// Unresolved lists bank transactions neither matched nor tagged, plus those
// matched to an entry that is not loaded, in line order.
func (s *Session) Unresolved() []uuid.UUID {
	var ids []uuid.UUID
	for _, tx := range s.transactions {
		m, matched := s.matchByTx[tx.ID]
		if !s.txResolved(tx.ID) || (matched && !s.hasLedger(m.LedgerEntryID)) {
			ids = append(ids, tx.ID)
		}
	}
	return ids
}

// Close moves the session to reconciled. It is terminal.
func (s *Session) Close(userID string) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	diff := s.ComputeDifference()
	unresolved := s.Unresolved()
	if diff >= s.eps || len(unresolved) > 0 {
		return &UnbalancedError{DifferenceMinor: diff, Unresolved: unresolved}
	}
	now := s.now()
	s.header.Status = models.SessionReconciled
	s.header.ClosedAt = &now
	s.header.ClosedBy = userID
	s.record(models.AuditActionClose, nil, nil, userID, "", nil)
	return nil
}

// RecordAdjustment appends an audit entry. It is the only write allowed after
// close.
func (s *Session) RecordAdjustment(userID, reason string, txID, ledgerID *uuid.UUID) models.MatchAuditLog {
	return s.record(models.AuditActionAdjustment, txID, ledgerID, userID, reason, nil)
}

func (s *Session) record(action string, txID, ledgerID *uuid.UUID, by, reason string, details any) models.MatchAuditLog {
	entry := models.MatchAuditLog{
		ID:            uuid.New(),
		SessionID:     s.header.ID,
		TransactionID: copyID(txID),
		LedgerEntryID: copyID(ledgerID),
		Action:        action,
		PerformedBy:   by,
		Reason:        reason,
		CreatedAt:     s.now(),
	}
	if details != nil {
		if raw, err := json.Marshal(details); err == nil {
			entry.Details = raw
		}
	}
	s.audit = append(s.audit, entry)
	return entry
}

func copyID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

// Summary is the serializable session report.
type Summary struct {
	SessionID           uuid.UUID                `json:"session_id"`
	StatementID         string                   `json:"statement_id"`
	AccountIdentifier   string                   `json:"account_identifier"`
	Currency            string                   `json:"currency"`
	Status              models.SessionStatus     `json:"status"`
	OpeningBalanceMinor int64                    `json:"opening_balance_minor"`
	ClosingBalanceMinor int64                    `json:"closing_balance_minor"`
	BookBalanceMinor    int64                    `json:"book_balance_minor"`
	DifferenceMinor     int64                    `json:"difference_minor"`
	TotalTransactions   int                      `json:"total_transactions"`
	MatchedCount        int                      `json:"matched_count"`
	AutoMatchedCount    int                      `json:"auto_matched_count"`
	ReconcilingCount    int                      `json:"reconciling_count"`
	NeedsReviewCount    int                      `json:"needs_review_count"`
	Unresolved          []uuid.UUID              `json:"unresolved"`
	Matches             []models.Match           `json:"matches"`
	ReconcilingItems    []models.ReconcilingItem `json:"reconciling_items"`
	AuditTrail          []models.MatchAuditLog   `json:"audit_trail"`
}

func (s *Session) Summary() Summary {
	state := s.State()
	sum := Summary{
		SessionID:           s.header.ID,
		StatementID:         s.header.StatementID,
		AccountIdentifier:   s.header.AccountIdentifier,
		Currency:            s.header.Currency,
		Status:              s.header.Status,
		OpeningBalanceMinor: s.header.OpeningBalanceMinor,
		ClosingBalanceMinor: s.header.ClosingBalanceMinor,
		BookBalanceMinor:    s.BookBalanceMinor(),
		DifferenceMinor:     s.ComputeDifference(),
		TotalTransactions:   len(s.transactions),
		MatchedCount:        len(state.Matches),
		ReconcilingCount:    len(state.Reconciling),
		Unresolved:          s.Unresolved(),
		Matches:             state.Matches,
		ReconcilingItems:    state.Reconciling,
		AuditTrail:          s.audit,
	}
	for _, m := range state.Matches {
		if m.ConfirmedBy == models.ConfirmedByAuto {
			sum.AutoMatchedCount++
		}
	}
	for _, tx := range s.transactions {
		if tx.NeedsReview {
			sum.NeedsReviewCount++
		}
	}
	return sum
}
