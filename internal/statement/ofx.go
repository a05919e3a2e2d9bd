package statement

import (
	"fmt"
	"io"
	"strings"

	"github.com/aclindsa/ofxgo"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"waqf-reconciliation-backend/internal/models"
)

// ParseOFX reads the first bank statement of an OFX/QFX response. OFX carries
// only the ledger balance, so the opening balance is derived from it.
func ParseOFX(r io.Reader) (*Statement, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read OFX file: %w", err)
	}
	resp, err := ofxgo.ParseResponse(strings.NewReader(strings.TrimLeft(string(content), " \t\r\n")))
	if err != nil {
		return nil, fmt.Errorf("failed to parse OFX file: %w", err)
	}

	for _, msg := range resp.Bank {
		src, ok := msg.(*ofxgo.StatementResponse)
		if !ok {
			continue
		}
		stmt := &Statement{
			StatementID:       string(src.TrnUID),
			Format:            FormatOFX,
			AccountIdentifier: string(src.BankAcctFrom.AcctID),
			Currency:          src.CurDef.String(),
		}

		closing, err := toMinor(src.BalAmt.FloatString(2), ".")
		if err != nil {
			stmt.warn(&ParseError{Field: "LEDGERBAL", Raw: src.BalAmt.String(), Err: err})
		}
		stmt.ClosingBalanceMinor = closing
		stmt.ClosingDate = src.DtAsOf.Time

		if src.BankTranList != nil {
			for _, t := range src.BankTranList.Transactions {
				tx, err := convertOFXTransaction(t, stmt.AccountIdentifier)
				if err != nil {
					stmt.warn(err)
					continue
				}
				tx.LineNumber = len(stmt.Transactions) + 1
				stmt.Transactions = append(stmt.Transactions, tx)
			}
			stmt.OpeningDate = src.BankTranList.DtStart.Time
		}
		stmt.OpeningBalanceMinor = stmt.ClosingBalanceMinor - stmt.MovementMinor()

		logrus.WithFields(logrus.Fields{
			"account":      stmt.AccountIdentifier,
			"transactions": len(stmt.Transactions),
		}).Debug("parsed OFX statement")
		return stmt, nil
	}
	return nil, ErrEmptyStatement
}

func convertOFXTransaction(t ofxgo.Transaction, account string) (models.BankTransaction, error) {
	amount, err := toMinor(t.TrnAmt.FloatString(2), ".")
	if err != nil || amount == 0 {
		return models.BankTransaction{}, &ParseError{Field: "STMTTRN/TRNAMT", Raw: t.TrnAmt.String(), Err: err}
	}
	dir := models.DirectionCredit
	if amount < 0 {
		dir = models.DirectionDebit
		amount = -amount
	}

	ref := string(t.RefNum)
	if ref == "" {
		ref = string(t.CheckNum)
	}
	narrative := strings.TrimSpace(string(t.Name) + " " + string(t.Memo))
	if ref == "" {
		ref = referenceFromNarrative(narrative)
	}

	return models.BankTransaction{
		ID:                uuid.New(),
		AccountIdentifier: account,
		ValueDate:         t.DtPosted.Time,
		AmountMinor:       amount,
		Direction:         dir,
		Reference:         ref,
		BankReference:     string(t.FiTID),
		RawNarrative:      narrative,
	}, nil
}
