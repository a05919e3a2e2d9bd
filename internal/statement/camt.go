package statement

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"waqf-reconciliation-backend/internal/models"
)

type camtDocument struct {
	Statements []camtStatement `xml:"BkToCstmrStmt>Stmt"`
}

type camtStatement struct {
	ID      string        `xml:"Id"`
	IBAN    string        `xml:"Acct>Id>IBAN"`
	Other   string        `xml:"Acct>Id>Othr>Id"`
	Ccy     string        `xml:"Acct>Ccy"`
	Balance []camtBalance `xml:"Bal"`
	Entries []camtEntry   `xml:"Ntry"`
}

type camtAmount struct {
	Value    string `xml:",chardata"`
	Currency string `xml:"Ccy,attr"`
}

type camtBalance struct {
	Code      string     `xml:"Tp>CdOrPrtry>Cd"`
	Amount    camtAmount `xml:"Amt"`
	Indicator string     `xml:"CdtDbtInd"`
	Date      string     `xml:"Dt>Dt"`
}

type camtEntry struct {
	EntryRef   string     `xml:"NtryRef"`
	Amount     camtAmount `xml:"Amt"`
	Indicator  string     `xml:"CdtDbtInd"`
	ValueDate  string     `xml:"ValDt>Dt"`
	BookDate   string     `xml:"BookgDt>Dt"`
	AddtlInfo  string     `xml:"AddtlNtryInf"`
	EndToEndID []string   `xml:"NtryDtls>TxDtls>Refs>EndToEndId"`
	Ustrd      []string   `xml:"NtryDtls>TxDtls>RmtInf>Ustrd"`
}

func camtDirection(ind string) (models.Direction, bool) {
	switch strings.ToUpper(strings.TrimSpace(ind)) {
	case "CRDT":
		return models.DirectionCredit, true
	case "DBIT":
		return models.DirectionDebit, true
	}
	return "", false
}

func parseISODate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) > 10 {
		raw = raw[:10]
	}
	return time.Parse("2006-01-02", raw)
}

// ParseCAMT053 reads the first statement of an ISO 20022 camt.053 document.
func ParseCAMT053(r io.Reader) (*Statement, error) {
	var doc camtDocument
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode camt.053: %w", err)
	}
	if len(doc.Statements) == 0 {
		return nil, ErrEmptyStatement
	}
	src := doc.Statements[0]

	stmt := &Statement{
		StatementID:       strings.TrimSpace(src.ID),
		Format:            FormatCAMT053,
		AccountIdentifier: strings.TrimSpace(src.IBAN),
		Currency:          strings.TrimSpace(src.Ccy),
	}
	if stmt.AccountIdentifier == "" {
		stmt.AccountIdentifier = strings.TrimSpace(src.Other)
	}

	seenBalance := false
	for _, bal := range src.Balance {
		amount, err := toMinor(bal.Amount.Value, ".")
		if err != nil {
			stmt.warn(&ParseError{Field: "Bal/" + bal.Code, Raw: bal.Amount.Value, Err: err})
			continue
		}
		dir, ok := camtDirection(bal.Indicator)
		if !ok {
			stmt.warn(&ParseError{Field: "Bal/CdtDbtInd", Raw: bal.Indicator})
			continue
		}
		date, _ := parseISODate(bal.Date)
		if stmt.Currency == "" {
			stmt.Currency = bal.Amount.Currency
		}
		switch bal.Code {
		case "OPBD", "PRCD":
			stmt.OpeningBalanceMinor = dir.Sign() * amount
			stmt.OpeningDate = date
			seenBalance = true
		case "CLBD":
			stmt.ClosingBalanceMinor = dir.Sign() * amount
			stmt.ClosingDate = date
			seenBalance = true
		}
	}

	for i, entry := range src.Entries {
		field := fmt.Sprintf("Ntry[%d]", i+1)
		amount, err := toMinor(entry.Amount.Value, ".")
		if err != nil || amount <= 0 {
			stmt.warn(&ParseError{Field: field + "/Amt", Raw: entry.Amount.Value, Err: err})
			continue
		}
		dir, ok := camtDirection(entry.Indicator)
		if !ok {
			stmt.warn(&ParseError{Field: field + "/CdtDbtInd", Raw: entry.Indicator})
			continue
		}

		tx := models.BankTransaction{
			ID:                uuid.New(),
			LineNumber:        len(stmt.Transactions) + 1,
			AccountIdentifier: stmt.AccountIdentifier,
			AmountMinor:       amount,
			Direction:         dir,
			Reference:         camtReference(entry),
			BankReference:     strings.TrimSpace(entry.EntryRef),
			RawNarrative:      strings.TrimSpace(strings.Join(append([]string{entry.AddtlInfo}, entry.Ustrd...), " ")),
		}

		dateRaw := entry.ValueDate
		if dateRaw == "" {
			dateRaw = entry.BookDate
		}
		date, err := parseISODate(dateRaw)
		if err != nil {
			tx.NeedsReview = true
			stmt.warn(&ParseError{Field: field + "/ValDt", Raw: dateRaw, Err: err})
		}
		tx.ValueDate = date
		stmt.Transactions = append(stmt.Transactions, tx)
	}

	if !seenBalance && len(stmt.Transactions) == 0 {
		return nil, ErrEmptyStatement
	}
	stmt.checkBalances()
	return stmt, nil
}

func camtReference(entry camtEntry) string {
	for _, id := range entry.EndToEndID {
		id = strings.TrimSpace(id)
		if id != "" && !strings.EqualFold(id, "NOTPROVIDED") {
			return id
		}
	}
	for _, u := range entry.Ustrd {
		if ref := referenceFromNarrative(u); ref != "" {
			return ref
		}
	}
	return ""
}
