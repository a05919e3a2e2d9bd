// Package statement turns bank statement text into normalized bank
// transactions. MT940 tagged lines, ISO 20022 camt.053 documents and OFX bank
// statements are supported; every format produces the same Statement value.
package statement

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"waqf-reconciliation-backend/internal/models"
)

type Format string

const (
	FormatMT940   Format = "mt940"
	FormatCAMT053 Format = "camt053"
	FormatOFX     Format = "ofx"
)

var (
	ErrUnknownTag        = errors.New("unrecognized statement tag")
	ErrEmptyStatement    = errors.New("statement contains no balances or transactions")
	ErrUnsupportedFormat = errors.New("unsupported statement format")
)

// ParseError reports a statement field whose value could not be extracted.
type ParseError struct {
	Field string
	Raw   string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse %s %q: %v", e.Field, e.Raw, e.Err)
	}
	return fmt.Sprintf("parse %s %q", e.Field, e.Raw)
}

func (e *ParseError) Unwrap() error { return e.Err }

type Statement struct {
	StatementID         string                   `json:"statement_id"`
	Format              Format                   `json:"format"`
	AccountIdentifier   string                   `json:"account_identifier"`
	Currency            string                   `json:"currency"`
	OpeningBalanceMinor int64                    `json:"opening_balance_minor"`
	ClosingBalanceMinor int64                    `json:"closing_balance_minor"`
	OpeningDate         time.Time                `json:"opening_date"`
	ClosingDate         time.Time                `json:"closing_date"`
	Transactions        []models.BankTransaction `json:"transactions"`
	Warnings            []string                 `json:"warnings,omitempty"`
}

// MovementMinor is the signed sum of all parsed transactions.
func (s *Statement) MovementMinor() int64 {
	var total int64
	for _, tx := range s.Transactions {
		total += tx.SignedAmountMinor()
	}
	return total
}

func (s *Statement) warn(err error) {
	s.Warnings = append(s.Warnings, err.Error())
}

// checkBalances records a warning when opening + movements != closing.
func (s *Statement) checkBalances() {
	if len(s.Transactions) == 0 {
		return
	}
	if diff := s.OpeningBalanceMinor + s.MovementMinor() - s.ClosingBalanceMinor; diff != 0 {
		s.Warnings = append(s.Warnings, fmt.Sprintf("balances do not roll forward: difference %d minor units", diff))
	}
}

// Parse reads a statement in the given format. An empty format is detected
// from the content.
func Parse(format Format, r io.Reader) (*Statement, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read statement: %w", err)
	}
	if format == "" {
		format = DetectFormat(data)
	}

	switch format {
	case FormatMT940:
		return ParseMT940(bytes.NewReader(data))
	case FormatCAMT053:
		return ParseCAMT053(bytes.NewReader(data))
	case FormatOFX:
		return ParseOFX(bytes.NewReader(data))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// DetectFormat sniffs the statement format from its content.
func DetectFormat(data []byte) Format {
	head := string(data)
	if len(head) > 4096 {
		head = head[:4096]
	}
	switch {
	case strings.Contains(head, "OFXHEADER") || strings.Contains(strings.ToUpper(head), "<OFX>"):
		return FormatOFX
	case strings.Contains(head, "BkToCstmrStmt") || strings.Contains(head, "camt.053"):
		return FormatCAMT053
	case strings.Contains(head, ":61:") || strings.Contains(head, ":60F:") || strings.Contains(head, ":20:"):
		return FormatMT940
	}
	return ""
}

// toMinor converts a decimal amount string into minor units, rounding half-up.
// sep is the decimal separator used by the source format.
func toMinor(raw string, sep string) (int64, error) {
	s := strings.TrimSpace(raw)
	if sep != "." {
		s = strings.ReplaceAll(s, sep, ".")
	}
	s = strings.TrimSuffix(s, ".")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	return d.Shift(2).Round(0).IntPart(), nil
}

// expandYear applies the two-digit year policy: YY < 70 is 20YY, otherwise 19YY.
func expandYear(yy int) int {
	if yy < 70 {
		return 2000 + yy
	}
	return 1900 + yy
}

func parseYYMMDD(raw string) (time.Time, error) {
	if len(raw) != 6 || strings.Trim(raw, "0123456789") != "" {
		return time.Time{}, errors.New("expected YYMMDD")
	}
	yy, _ := strconv.Atoi(raw[0:2])
	mm, _ := strconv.Atoi(raw[2:4])
	dd, _ := strconv.Atoi(raw[4:6])
	t := time.Date(expandYear(yy), time.Month(mm), dd, 0, 0, 0, 0, time.UTC)
	if t.Month() != time.Month(mm) || t.Day() != dd {
		return time.Time{}, errors.New("date out of range")
	}
	return t, nil
}
