package statement

import (
	"bufio"
	"errors"
	"io"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"waqf-reconciliation-backend/internal/models"
)

type FieldKind string

const (
	KindStatementRef   FieldKind = "statement_reference"
	KindAccount        FieldKind = "account"
	KindOpeningBalance FieldKind = "opening_balance"
	KindClosingBalance FieldKind = "closing_balance"
	KindTransaction    FieldKind = "transaction"
	KindNarrative      FieldKind = "narrative"
	KindContinuation   FieldKind = "continuation"
	KindIgnored        FieldKind = "ignored"
)

// Balance is a signed :60: or :62: balance.
type Balance struct {
	Direction   models.Direction
	Date        string
	Currency    string
	AmountMinor int64
}

// SignedMinor applies the credit/debit indicator.
func (b Balance) SignedMinor() int64 {
	return b.Direction.Sign() * b.AmountMinor
}

// Field is one parsed MT940 line.
type Field struct {
	Tag         string
	Kind        FieldKind
	Value       string
	Balance     *Balance
	Transaction *models.BankTransaction
}

var (
	tagPattern          = regexp.MustCompile(`^:(\d{2}[A-Z]?):(.*)$`)
	balancePattern      = regexp.MustCompile(`^([CD])(\d{6})([A-Z]{3})(\d+,\d*)$`)
	transactionPattern  = regexp.MustCompile(`^(\d{6})(\d{4})?(RC|RD|C|D)([A-Z])?(\d+,\d*)([NFS][A-Z0-9]{3})(.*?)(?://(.*))?$`)
	narrativeRefPattern = regexp.MustCompile(`(?i)(?:/EREF/|EREF\+|REF:\s*)([A-Z0-9][A-Z0-9\-/]{2,34})`)
)

// ParseLine parses a single MT940 line. Lines without a tag are returned as
// continuation text. A :61: line with an unreadable value date still yields a
// transaction together with a *ParseError so the caller can flag it.
func ParseLine(line string) (Field, error) {
	line = strings.TrimRight(line, "\r\n")
	m := tagPattern.FindStringSubmatch(line)
	if m == nil {
		return Field{Kind: KindContinuation, Value: strings.TrimSpace(line)}, nil
	}
	tag, value := m[1], strings.TrimSpace(m[2])
	field := Field{Tag: tag, Value: value}

	switch tag {
	case "20":
		field.Kind = KindStatementRef
	case "25":
		field.Kind = KindAccount
	case "28C", "21", "64", "65":
		field.Kind = KindIgnored
	case "60F", "60M":
		field.Kind = KindOpeningBalance
		b, err := parseBalance(tag, value)
		if err != nil {
			return field, err
		}
		field.Balance = b
	case "62F", "62M":
		field.Kind = KindClosingBalance
		b, err := parseBalance(tag, value)
		if err != nil {
			return field, err
		}
		field.Balance = b
	case "61":
		field.Kind = KindTransaction
		tx, err := parseTransaction(value)
		field.Transaction = tx
		if err != nil {
			return field, err
		}
	case "86":
		field.Kind = KindNarrative
	default:
		return field, ErrUnknownTag
	}
	return field, nil
}

func parseBalance(tag, value string) (*Balance, error) {
	m := balancePattern.FindStringSubmatch(value)
	if m == nil {
		return nil, &ParseError{Field: tag, Raw: value}
	}
	amount, err := toMinor(m[4], ",")
	if err != nil {
		return nil, &ParseError{Field: tag, Raw: value, Err: err}
	}
	dir := models.DirectionCredit
	if m[1] == "D" {
		dir = models.DirectionDebit
	}
	return &Balance{Direction: dir, Date: m[2], Currency: m[3], AmountMinor: amount}, nil
}

func parseTransaction(value string) (*models.BankTransaction, error) {
	m := transactionPattern.FindStringSubmatch(value)
	if m == nil {
		return nil, &ParseError{Field: "61", Raw: value}
	}
	amount, err := toMinor(m[5], ",")
	if err != nil {
		return nil, &ParseError{Field: "61", Raw: value, Err: err}
	}
	if amount <= 0 {
		return nil, &ParseError{Field: "61", Raw: value, Err: errors.New("amount must be positive")}
	}

	tx := &models.BankTransaction{
		ID:            uuid.New(),
		AmountMinor:   amount,
		Direction:     indicatorDirection(m[3]),
		Reference:     cleanReference(m[7]),
		BankReference: strings.TrimSpace(m[8]),
	}

	date, err := parseYYMMDD(m[1])
	if err != nil {
		tx.NeedsReview = true
		return tx, &ParseError{Field: "61 value date", Raw: m[1], Err: err}
	}
	tx.ValueDate = date
	return tx, nil
}

// indicatorDirection maps C/D and the reversal codes RC/RD to a direction.
func indicatorDirection(code string) models.Direction {
	switch code {
	case "D", "RC":
		return models.DirectionDebit
	default:
		return models.DirectionCredit
	}
}

func cleanReference(ref string) string {
	ref = strings.TrimSpace(ref)
	if strings.EqualFold(ref, "NONREF") {
		return ""
	}
	return ref
}

func referenceFromNarrative(narrative string) string {
	if m := narrativeRefPattern.FindStringSubmatch(narrative); m != nil {
		return m[1]
	}
	return ""
}

// ParseMT940 accumulates tagged lines into a statement. Malformed fields are
// recorded as warnings and parsing continues.
func ParseMT940(r io.Reader) (*Statement, error) {
	stmt := &Statement{Format: FormatMT940}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var current *models.BankTransaction
	seenBalance := false
	lineNo := 0

	flush := func() {
		if current == nil {
			return
		}
		current.RawNarrative = strings.TrimSpace(current.RawNarrative)
		if current.Reference == "" {
			current.Reference = referenceFromNarrative(current.RawNarrative)
		}
		current.AccountIdentifier = stmt.AccountIdentifier
		current.LineNumber = len(stmt.Transactions) + 1
		stmt.Transactions = append(stmt.Transactions, *current)
		current = nil
	}

	// lastKind tracks which field a continuation line belongs to.
	var lastKind FieldKind
	for scanner.Scan() {
		lineNo++
		raw := scanner.Text()
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" || strings.HasPrefix(trimmed, "{") || trimmed == "-}" || trimmed == "-" {
			continue
		}

		field, err := ParseLine(trimmed)
		if errors.Is(err, ErrUnknownTag) {
			logrus.WithFields(logrus.Fields{"line": lineNo, "tag": field.Tag}).Debug("skipping unrecognized MT940 tag")
			lastKind = KindIgnored
			continue
		}

		switch field.Kind {
		case KindStatementRef:
			stmt.StatementID = field.Value
		case KindAccount:
			stmt.AccountIdentifier = field.Value
		case KindOpeningBalance, KindClosingBalance:
			if err != nil {
				stmt.warn(err)
				break
			}
			seenBalance = true
			if field.Kind == KindOpeningBalance {
				stmt.OpeningBalanceMinor = field.Balance.SignedMinor()
				stmt.OpeningDate, _ = parseYYMMDD(field.Balance.Date)
			} else {
				stmt.ClosingBalanceMinor = field.Balance.SignedMinor()
				stmt.ClosingDate, _ = parseYYMMDD(field.Balance.Date)
			}
			if stmt.Currency == "" {
				stmt.Currency = field.Balance.Currency
			}
		case KindTransaction:
			flush()
			if err != nil {
				stmt.warn(err)
			}
			current = field.Transaction
		case KindNarrative:
			if current != nil {
				current.RawNarrative += " " + field.Value
			}
		case KindContinuation:
			if current != nil && (lastKind == KindNarrative || lastKind == KindTransaction) {
				current.RawNarrative += " " + field.Value
				continue
			}
		}
		lastKind = field.Kind
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	flush()

	if !seenBalance && len(stmt.Transactions) == 0 {
		return nil, ErrEmptyStatement
	}
	stmt.checkBalances()
	return stmt, nil
}
