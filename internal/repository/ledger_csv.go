package repository

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"waqf-reconciliation-backend/internal/models"
)

var ledgerColumns = []string{"account", "posting_date", "amount", "reference", "description"}

// ReadLedgerCSV reads ledger entries from a delimited file with a header row.
// The delimiter (comma, semicolon or tab) is taken from the header. Rows that
// cannot be used are skipped and reported as warnings.
func ReadLedgerCSV(r io.Reader) ([]models.LedgerEntry, []string, error) {
	br := bufio.NewReader(r)
	sample, _ := br.Peek(1024)

	reader := csv.NewReader(br)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.Comma = sniffDelimiter(string(sample))

	header, err := reader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("cannot read CSV header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range ledgerColumns[:3] {
		if _, ok := col[name]; !ok {
			return nil, nil, fmt.Errorf("missing CSV column %q", name)
		}
	}
	field := func(rec []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var (
		entries  []models.LedgerEntry
		warnings []string
	)
	for row := 2; ; row++ {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("row %d: %v", row, err))
			continue
		}
		if strings.Join(rec, "") == "" {
			continue
		}

		amount, err := decimal.NewFromString(field(rec, "amount"))
		if err != nil || !amount.IsPositive() {
			warnings = append(warnings, fmt.Sprintf("row %d: invalid amount %q", row, field(rec, "amount")))
			continue
		}
		posted, err := parseLedgerDate(field(rec, "posting_date"))
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("row %d: invalid posting date %q", row, field(rec, "posting_date")))
			continue
		}
		account := field(rec, "account")
		if account == "" {
			warnings = append(warnings, fmt.Sprintf("row %d: account is empty", row))
			continue
		}

		entries = append(entries, models.LedgerEntry{
			ID:                uuid.New(),
			AccountIdentifier: account,
			AmountMinor:       amount.Shift(2).Round(0).IntPart(),
			PostingDate:       posted,
			Reference:         field(rec, "reference"),
			Description:       field(rec, "description"),
		})
	}
	return entries, warnings, nil
}

func sniffDelimiter(sample string) rune {
	line, _, _ := strings.Cut(sample, "\n")
	switch {
	case strings.Contains(line, "\t"):
		return '\t'
	case strings.Count(line, ";") > strings.Count(line, ","):
		return ';'
	default:
		return ','
	}
}

func parseLedgerDate(raw string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02", "02-01-2006", "02/01/2006"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.New("unrecognized date")
}
