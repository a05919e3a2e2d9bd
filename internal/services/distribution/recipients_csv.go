package distribution

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"
)

// ReadRecipientsCSV reads "id,name,account_number,amount,currency" rows after
// a header line. Amounts are decimal major units. Rows with a malformed amount
// are kept with a zero amount so the processor records them as failed items.
func ReadRecipientsCSV(r io.Reader) ([]Recipient, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("cannot read CSV header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range []string{"id", "amount"} {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("missing CSV column %q", name)
		}
	}
	get := func(rec []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var out []Recipient
	for line := 2; ; line++ {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		id := get(rec, "id")
		if id == "" {
			continue
		}
		var minor int64
		if amount, err := decimal.NewFromString(get(rec, "amount")); err == nil {
			minor = amount.Shift(2).Round(0).IntPart()
		}
		out = append(out, Recipient{
			ID:            id,
			Name:          get(rec, "name"),
			AccountNumber: get(rec, "account_number"),
			AmountMinor:   minor,
			Currency:      get(rec, "currency"),
		})
	}
	return out, nil
}
