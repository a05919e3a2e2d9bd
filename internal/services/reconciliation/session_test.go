package reconciliation

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"waqf-reconciliation-backend/internal/models"
)

var valueDate = time.Date(2025, 1, 16, 0, 0, 0, 0, time.UTC)

func credit(line int, ref string, amount int64) models.BankTransaction {
	return models.BankTransaction{
		ID:           uuid.New(),
		LineNumber:   line,
		ValueDate:    valueDate,
		AmountMinor:  amount,
		Direction:    models.DirectionCredit,
		Reference:    ref,
		RawNarrative: ref,
	}
}

func entry(ref string, amount int64, shiftDays int) models.LedgerEntry {
	return models.LedgerEntry{
		ID:          uuid.New(),
		AmountMinor: amount,
		PostingDate: valueDate.AddDate(0, 0, shiftDays),
		Reference:   ref,
		Description: ref,
	}
}

func newTestSession(opening, closing int64, txs []models.BankTransaction, ledger []models.LedgerEntry) *Session {
	return NewSession(SessionState{
		Header: models.ReconciliationSession{
			ID:                  uuid.New(),
			StatementID:         "STMT-1",
			Currency:            "SAR",
			OpeningBalanceMinor: opening,
			ClosingBalanceMinor: closing,
		},
		Transactions: txs,
		Ledger:       ledger,
	}, DefaultSessionConfig())
}

func TestSession_AutoMatchAndClose(t *testing.T) {
	tx := credit(1, "INV-2025-001", 350000)
	a := entry("INV-2025-001", 350000, 0)
	b := entry("INV-2025-999", 350000, 5)
	s := newTestSession(850000, 1200000, []models.BankTransaction{tx}, []models.LedgerEntry{b, a})

	created, err := s.ApplyAutoMatches()
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, a.ID, created[0].LedgerEntryID)
	assert.Equal(t, models.ConfirmedByAuto, created[0].ConfirmedBy)
	assert.GreaterOrEqual(t, created[0].ConfidenceAtConfirmation, 0.95)

	assert.Equal(t, int64(0), s.ComputeDifference())
	require.NoError(t, s.Close("auditor-1"))
	assert.Equal(t, models.SessionReconciled, s.Status())

	trail := s.AuditTrail()
	require.Len(t, trail, 2)
	assert.Equal(t, models.AuditActionAutoMatch, trail[0].Action)
	assert.Equal(t, models.AuditActionClose, trail[1].Action)
}

func TestSession_AutoMatchBelowThresholdIsSkipped(t *testing.T) {
	tx := credit(1, "INV-1", 1000)
	weak := entry("OTHER", 1000, 2)
	s := newTestSession(0, 1000, []models.BankTransaction{tx}, []models.LedgerEntry{weak})

	created, err := s.ApplyAutoMatches()
	require.NoError(t, err)
	assert.Empty(t, created)
	assert.Empty(t, s.Matches())

	candidates, err := s.Candidates(tx.ID)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Less(t, candidates[0].OverallScore, 0.95)
}

func TestSession_FirstLineWinsContestedLedgerEntry(t *testing.T) {
	first := credit(1, "INV-7", 5000)
	second := credit(2, "INV-7", 5000)
	only := entry("INV-7", 5000, 0)
	s := newTestSession(0, 10000, []models.BankTransaction{second, first}, []models.LedgerEntry{only})

	created, err := s.ApplyAutoMatches()
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, first.ID, created[0].BankTransactionID)

	err = s.Close("auditor-1")
	var unbalanced *UnbalancedError
	require.ErrorAs(t, err, &unbalanced)
	assert.Equal(t, []uuid.UUID{second.ID}, unbalanced.Unresolved)
}

func TestSession_OneToOneInvariant(t *testing.T) {
	txs := []models.BankTransaction{credit(1, "INV-AA", 100), credit(2, "INV-AA", 100), credit(3, "INV-BB", 200)}
	ledger := []models.LedgerEntry{entry("INV-AA", 100, 0), entry("INV-BB", 200, 0)}
	s := newTestSession(0, 400, txs, ledger)

	_, err := s.ApplyAutoMatches()
	require.NoError(t, err)

	var conflict *ConflictError
	_, err = s.ConfirmManualMatch(txs[1].ID, ledger[0].ID, "ops-1")
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "ledger entry", conflict.Side)

	_, err = s.ConfirmManualMatch(txs[0].ID, ledger[1].ID, "ops-1")
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "bank transaction", conflict.Side)

	seenTx := map[uuid.UUID]bool{}
	seenLedger := map[uuid.UUID]bool{}
	for _, m := range s.Matches() {
		assert.False(t, seenTx[m.BankTransactionID])
		assert.False(t, seenLedger[m.LedgerEntryID])
		seenTx[m.BankTransactionID] = true
		seenLedger[m.LedgerEntryID] = true
	}
	assert.Len(t, s.Matches(), 2)
}

func TestSession_UnmatchedItemBlocksCloseEvenWhenBalanced(t *testing.T) {
	matched := credit(1, "INV-1", 350000)
	stray := credit(2, "", 1)
	refund := models.BankTransaction{
		ID: uuid.New(), LineNumber: 3, ValueDate: valueDate,
		AmountMinor: 1, Direction: models.DirectionDebit,
	}
	s := newTestSession(850000, 1200000,
		[]models.BankTransaction{matched, stray, refund},
		[]models.LedgerEntry{entry("INV-1", 350000, 0)})

	_, err := s.ApplyAutoMatches()
	require.NoError(t, err)
	require.Equal(t, int64(0), s.ComputeDifference())

	err = s.Close("auditor-1")
	var unbalanced *UnbalancedError
	require.ErrorAs(t, err, &unbalanced)
	assert.Equal(t, int64(0), unbalanced.DifferenceMinor)
	assert.Len(t, unbalanced.Unresolved, 2)
	assert.Contains(t, err.Error(), "unmatched item remains")
	assert.Equal(t, models.SessionOpen, s.Status())
}

func TestSession_CloseFailsWhenDifferenceRemains(t *testing.T) {
	tx := credit(1, "INV-1", 1000)
	s := newTestSession(0, 1500, []models.BankTransaction{tx}, []models.LedgerEntry{entry("INV-1", 1000, 0)})

	_, err := s.ApplyAutoMatches()
	require.NoError(t, err)

	err = s.Close("auditor-1")
	var unbalanced *UnbalancedError
	require.ErrorAs(t, err, &unbalanced)
	assert.Equal(t, int64(500), unbalanced.DifferenceMinor)
	assert.Empty(t, unbalanced.Unresolved)
}

func TestSession_ReconcilingItemsCountTowardBalance(t *testing.T) {
	deposit := credit(1, "DEP-1", 700)
	cheque := models.BankTransaction{
		ID: uuid.New(), LineNumber: 2, ValueDate: valueDate,
		AmountMinor: 200, Direction: models.DirectionDebit, Reference: "CHQ-1",
	}
	pending := entry("CHQ-9", 300, 0)
	s := newTestSession(1000, 1500, []models.BankTransaction{deposit, cheque}, []models.LedgerEntry{pending})

	_, err := s.MarkReconcilingItem(deposit.ID, models.DepositInTransit, "ops-1")
	require.NoError(t, err)
	item, err := s.MarkReconcilingItem(cheque.ID, models.OutstandingCheck, "ops-1")
	require.NoError(t, err)
	assert.Equal(t, models.SideBank, item.Side)

	ledgerItem, err := s.MarkReconcilingItem(pending.ID, models.OutstandingCheck, "ops-1")
	require.NoError(t, err)
	assert.Equal(t, models.SideLedger, ledgerItem.Side)

	_, err = s.MarkReconcilingItem(deposit.ID, models.DepositInTransit, "ops-1")
	var conflict *ConflictError
	assert.ErrorAs(t, err, &conflict)

	_, err = s.MarkReconcilingItem(uuid.New(), models.DepositInTransit, "ops-1")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.MarkReconcilingItem(deposit.ID, models.ReconcilingKind("nope"), "ops-1")
	assert.Error(t, err)

	assert.Equal(t, int64(1500), s.BookBalanceMinor())
	assert.Equal(t, int64(0), s.ComputeDifference())
	require.NoError(t, s.Close("auditor-1"))

	sum := s.Summary()
	assert.Equal(t, 3, sum.ReconcilingCount)
	assert.Equal(t, 0, sum.MatchedCount)
	assert.Empty(t, sum.Unresolved)
}

func TestSession_LedgerSideItemLeavesDifferenceUnchanged(t *testing.T) {
	deposit := credit(1, "DEP-1", 700)
	pending := entry("CHQ-9", 300, 0)
	s := newTestSession(1000, 1700, []models.BankTransaction{deposit}, []models.LedgerEntry{pending})

	_, err := s.MarkReconcilingItem(deposit.ID, models.DepositInTransit, "ops-1")
	require.NoError(t, err)
	before := s.ComputeDifference()
	assert.Equal(t, int64(0), before)

	item, err := s.MarkReconcilingItem(pending.ID, models.OutstandingCheck, "ops-1")
	require.NoError(t, err)
	assert.Equal(t, models.SideLedger, item.Side)
	assert.Equal(t, before, s.ComputeDifference())
	assert.Equal(t, int64(1700), s.BookBalanceMinor())
}

func TestSession_MatchToUnloadedEntryIsUnresolved(t *testing.T) {
	tx := credit(1, "INV-1", 500)
	newState := func(ledger []models.LedgerEntry) SessionState {
		return SessionState{
			Header: models.ReconciliationSession{
				ID:                  uuid.New(),
				StatementID:         "STMT-1",
				Currency:            "SAR",
				OpeningBalanceMinor: 500,
				ClosingBalanceMinor: 1000,
			},
			Transactions: []models.BankTransaction{tx},
			Ledger:       ledger,
			Matches: []models.Match{{
				ID:                uuid.New(),
				BankTransactionID: tx.ID,
				LedgerEntryID:     uuid.New(),
				ConfirmedBy:       "ops-1",
			}},
		}
	}

	t.Run("unrelated entry is not read", func(t *testing.T) {
		s := NewSession(newState([]models.LedgerEntry{entry("OTHER", 99999, 0)}), DefaultSessionConfig())
		assert.Equal(t, int64(500), s.BookBalanceMinor())
		assert.Equal(t, int64(500), s.ComputeDifference())
		assert.Equal(t, []uuid.UUID{tx.ID}, s.Unresolved())

		var unbalanced *UnbalancedError
		require.ErrorAs(t, s.Close("auditor-1"), &unbalanced)
		assert.Equal(t, []uuid.UUID{tx.ID}, unbalanced.Unresolved)
		assert.Equal(t, models.SessionOpen, s.Status())
	})

	t.Run("empty pool", func(t *testing.T) {
		s := NewSession(newState(nil), DefaultSessionConfig())
		assert.NotPanics(t, func() {
			assert.Equal(t, int64(500), s.ComputeDifference())
		})
		assert.Equal(t, []uuid.UUID{tx.ID}, s.Unresolved())
	})
}

func TestSession_UnmatchReturnsBothSides(t *testing.T) {
	tx := credit(1, "INV-1", 1000)
	led := entry("INV-1", 1000, 0)
	s := newTestSession(0, 1000, []models.BankTransaction{tx}, []models.LedgerEntry{led})

	_, err := s.ConfirmManualMatch(tx.ID, led.ID, "ops-1")
	require.NoError(t, err)

	require.NoError(t, s.Unmatch(tx.ID, "ops-1"))
	assert.Empty(t, s.Matches())
	assert.ErrorIs(t, s.Unmatch(tx.ID, "ops-1"), ErrNotMatched)

	candidates, err := s.Candidates(tx.ID)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, led.ID, candidates[0].LedgerEntryID)

	m, err := s.ConfirmManualMatch(tx.ID, led.ID, "ops-2")
	require.NoError(t, err)
	assert.Equal(t, "ops-2", m.ConfirmedBy)
}

func TestSession_ClosedSessionRejectsMutations(t *testing.T) {
	tx := credit(1, "INV-1", 1000)
	led := entry("INV-1", 1000, 0)
	s := newTestSession(0, 1000, []models.BankTransaction{tx}, []models.LedgerEntry{led})

	_, err := s.ApplyAutoMatches()
	require.NoError(t, err)
	require.NoError(t, s.Close("auditor-1"))

	_, err = s.ApplyAutoMatches()
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.ErrorIs(t, s.Unmatch(tx.ID, "ops-1"), ErrSessionClosed)
	_, err = s.ConfirmManualMatch(tx.ID, led.ID, "ops-1")
	assert.ErrorIs(t, err, ErrSessionClosed)
	_, err = s.MarkReconcilingItem(tx.ID, models.DepositInTransit, "ops-1")
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.ErrorIs(t, s.ClearReconcilingItem(tx.ID, "ops-1"), ErrSessionClosed)
	assert.ErrorIs(t, s.Close("auditor-1"), ErrSessionClosed)

	before := len(s.AuditTrail())
	adj := s.RecordAdjustment("auditor-2", "bank fee journal posted", &tx.ID, nil)
	assert.Equal(t, models.AuditActionAdjustment, adj.Action)
	assert.Len(t, s.AuditTrail(), before+1)
	assert.Len(t, s.Matches(), 1)
}

func TestSession_ManualMatchUnknownIDs(t *testing.T) {
	tx := credit(1, "INV-1", 1000)
	s := newTestSession(0, 1000, []models.BankTransaction{tx}, nil)

	_, err := s.ConfirmManualMatch(uuid.New(), uuid.New(), "ops-1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.ConfirmManualMatch(tx.ID, uuid.New(), "ops-1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Candidates(uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSession_ClearReconcilingItem(t *testing.T) {
	tx := credit(1, "DEP-1", 500)
	s := newTestSession(0, 500, []models.BankTransaction{tx}, nil)

	_, err := s.MarkReconcilingItem(tx.ID, models.DepositInTransit, "ops-1")
	require.NoError(t, err)
	require.NoError(t, s.ClearReconcilingItem(tx.ID, "ops-1"))
	assert.ErrorIs(t, s.ClearReconcilingItem(tx.ID, "ops-1"), ErrNotFound)

	assert.Equal(t, []uuid.UUID{tx.ID}, s.Unresolved())
	actions := []string{}
	for _, a := range s.AuditTrail() {
		actions = append(actions, a.Action)
	}
	assert.Equal(t, []string{models.AuditActionTag, models.AuditActionUntag}, actions)
}

func TestSession_StateRoundTrip(t *testing.T) {
	tx := credit(1, "INV-1", 1000)
	led := entry("INV-1", 1000, 0)
	s := newTestSession(0, 1000, []models.BankTransaction{tx}, []models.LedgerEntry{led})
	_, err := s.ApplyAutoMatches()
	require.NoError(t, err)

	restored := NewSession(s.State(), DefaultSessionConfig())
	assert.Equal(t, s.Matches(), restored.Matches())
	assert.Equal(t, int64(0), restored.ComputeDifference())

	_, err = restored.ConfirmManualMatch(tx.ID, led.ID, "ops-1")
	var conflict *ConflictError
	assert.ErrorAs(t, err, &conflict)
}
