package statement

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"waqf-reconciliation-backend/internal/models"
)

const sampleMT940 = `{1:F01BANKSARIXXXX0000000000}{4:
:20:STMT-2025-01
:25:SA0380000000608010167519
:28C:00001/001
:60F:C250115SAR850000,00
:61:2501160116C350000,00NTRFINV-2025-001//BANKREF1
:86:Waqf donation Al Noor
Foundation
:61:250117D1500,00NCHKNONREF
:86:Cheque payment /EREF/CHQ-778
:62F:C250117SAR1198500,00
-}`

const sampleCAMT = `<?xml version="1.0" encoding="UTF-8"?>
<Document xmlns="urn:iso:std:iso:20022:tech:xsd:camt.053.001.02">
  <BkToCstmrStmt>
    <Stmt>
      <Id>CAMT-2025-01</Id>
      <Acct><Id><IBAN>SA0380000000608010167519</IBAN></Id><Ccy>SAR</Ccy></Acct>
      <Bal>
        <Tp><CdOrPrtry><Cd>OPBD</Cd></CdOrPrtry></Tp>
        <Amt Ccy="SAR">850000.00</Amt>
        <CdtDbtInd>CRDT</CdtDbtInd>
        <Dt><Dt>2025-01-15</Dt></Dt>
      </Bal>
      <Bal>
        <Tp><CdOrPrtry><Cd>CLBD</Cd></CdOrPrtry></Tp>
        <Amt Ccy="SAR">1200000.00</Amt>
        <CdtDbtInd>CRDT</CdtDbtInd>
        <Dt><Dt>2025-01-16</Dt></Dt>
      </Bal>
      <Ntry>
        <NtryRef>E2E-1</NtryRef>
        <Amt Ccy="SAR">350000.00</Amt>
        <CdtDbtInd>CRDT</CdtDbtInd>
        <BookgDt><Dt>2025-01-16</Dt></BookgDt>
        <ValDt><Dt>2025-01-16</Dt></ValDt>
        <AddtlNtryInf>Waqf donation</AddtlNtryInf>
        <NtryDtls><TxDtls>
          <Refs><EndToEndId>INV-2025-001</EndToEndId></Refs>
          <RmtInf><Ustrd>Al Noor Foundation</Ustrd></RmtInf>
        </TxDtls></NtryDtls>
      </Ntry>
      <Ntry>
        <Amt Ccy="SAR">abc</Amt>
        <CdtDbtInd>DBIT</CdtDbtInd>
      </Ntry>
    </Stmt>
  </BkToCstmrStmt>
</Document>`

const sampleOFX = `OFXHEADER:100
DATA:OFXSGML
VERSION:102
SECURITY:NONE
ENCODING:USASCII
CHARSET:1252
COMPRESSION:NONE
OLDFILEUID:NONE
NEWFILEUID:NONE

<OFX>
<SIGNONMSGSRSV1>
<SONRS>
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<DTSERVER>20250131120000[0:GMT]
<LANGUAGE>ENG
</SONRS>
</SIGNONMSGSRSV1>
<BANKMSGSRSV1>
<STMTTRNRS>
<TRNUID>1
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<STMTRS>
<CURDEF>SAR
<BANKACCTFROM>
<BANKID>80000
<ACCTID>608010167519
<ACCTTYPE>CHECKING
</BANKACCTFROM>
<BANKTRANLIST>
<DTSTART>20250101120000[0:GMT]
<DTEND>20250131120000[0:GMT]
<STMTTRN>
<TRNTYPE>CREDIT
<DTPOSTED>20250116120000[0:GMT]
<TRNAMT>3500.00
<FITID>2025011601
<REFNUM>INV-2025-001
<NAME>AL NOOR FOUNDATION
</STMTTRN>
<STMTTRN>
<TRNTYPE>CHECK
<DTPOSTED>20250120120000[0:GMT]
<TRNAMT>-500.00
<FITID>2025012001
<CHECKNUM>1234
<NAME>CHECK #1234
</STMTTRN>
</BANKTRANLIST>
<LEDGERBAL>
<BALAMT>10000.00
<DTASOF>20250131120000[0:GMT]
</LEDGERBAL>
</STMTRS>
</STMTTRNRS>
</BANKMSGSRSV1>
</OFX>`

func TestParseLine_OpeningBalance(t *testing.T) {
	field, err := ParseLine(":60F:C250115SAR850000,00")
	require.NoError(t, err)

	assert.Equal(t, KindOpeningBalance, field.Kind)
	require.NotNil(t, field.Balance)
	assert.Equal(t, models.DirectionCredit, field.Balance.Direction)
	assert.Equal(t, "SAR", field.Balance.Currency)
	assert.Equal(t, "250115", field.Balance.Date)
	assert.Equal(t, int64(85000000), field.Balance.AmountMinor)
	assert.Equal(t, int64(85000000), field.Balance.SignedMinor())
}

func TestParseLine_DebitClosingBalance(t *testing.T) {
	field, err := ParseLine(":62M:D250131SAR12,5")
	require.NoError(t, err)

	assert.Equal(t, KindClosingBalance, field.Kind)
	assert.Equal(t, int64(-1250), field.Balance.SignedMinor())
}

func TestParseLine_Transaction(t *testing.T) {
	tests := []struct {
		name      string
		line      string
		amount    int64
		direction models.Direction
		reference string
		bankRef   string
		valueDate time.Time
	}{
		{
			name:      "credit with entry date and bank reference",
			line:      ":61:2501160116C350000,00NTRFINV-2025-001//BANKREF1",
			amount:    35000000,
			direction: models.DirectionCredit,
			reference: "INV-2025-001",
			bankRef:   "BANKREF1",
			valueDate: time.Date(2025, 1, 16, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "debit with funds code",
			line:      ":61:991231DR25,10NMSCREF-9",
			amount:    2510,
			direction: models.DirectionDebit,
			reference: "REF-9",
			valueDate: time.Date(1999, 12, 31, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "reversal of credit is a debit",
			line:      ":61:250116RC100,NTRFNONREF",
			amount:    10000,
			direction: models.DirectionDebit,
			reference: "",
			valueDate: time.Date(2025, 1, 16, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			field, err := ParseLine(tt.line)
			require.NoError(t, err)
			require.NotNil(t, field.Transaction)

			tx := field.Transaction
			assert.Equal(t, tt.amount, tx.AmountMinor)
			assert.Equal(t, tt.direction, tx.Direction)
			assert.Equal(t, tt.reference, tx.Reference)
			assert.Equal(t, tt.bankRef, tx.BankReference)
			assert.Equal(t, tt.valueDate, tx.ValueDate)
			assert.False(t, tx.NeedsReview)
		})
	}
}

func TestParseLine_Errors(t *testing.T) {
	_, err := ParseLine(":99:whatever")
	assert.ErrorIs(t, err, ErrUnknownTag)

	var perr *ParseError
	_, err = ParseLine(":60F:X250115SAR1,00")
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "60F", perr.Field)

	_, err = ParseLine(":61:250116C0,00NTRFREF")
	require.ErrorAs(t, err, &perr)

	field, err := ParseLine(":61:251332C10,00NTRFREF1")
	require.ErrorAs(t, err, &perr)
	require.NotNil(t, field.Transaction)
	assert.True(t, field.Transaction.NeedsReview)
	assert.Equal(t, int64(1000), field.Transaction.AmountMinor)
}

func TestParseLine_Continuation(t *testing.T) {
	field, err := ParseLine("  more narrative  ")
	require.NoError(t, err)
	assert.Equal(t, KindContinuation, field.Kind)
	assert.Equal(t, "more narrative", field.Value)
}

func TestParseMT940(t *testing.T) {
	stmt, err := ParseMT940(strings.NewReader(sampleMT940))
	require.NoError(t, err)

	assert.Equal(t, "STMT-2025-01", stmt.StatementID)
	assert.Equal(t, "SA0380000000608010167519", stmt.AccountIdentifier)
	assert.Equal(t, "SAR", stmt.Currency)
	assert.Equal(t, int64(85000000), stmt.OpeningBalanceMinor)
	assert.Equal(t, int64(119850000), stmt.ClosingBalanceMinor)
	assert.Empty(t, stmt.Warnings)

	require.Len(t, stmt.Transactions, 2)
	first, second := stmt.Transactions[0], stmt.Transactions[1]

	assert.Equal(t, 1, first.LineNumber)
	assert.Equal(t, "INV-2025-001", first.Reference)
	assert.Equal(t, "Waqf donation Al Noor Foundation", first.RawNarrative)
	assert.Equal(t, stmt.AccountIdentifier, first.AccountIdentifier)

	assert.Equal(t, 2, second.LineNumber)
	assert.Equal(t, models.DirectionDebit, second.Direction)
	assert.Equal(t, "CHQ-778", second.Reference)

	for _, tx := range stmt.Transactions {
		assert.Positive(t, tx.AmountMinor)
		assert.True(t, tx.Direction.Valid())
	}
}

func TestParseMT940_MalformedLinesBecomeWarnings(t *testing.T) {
	input := strings.Join([]string{
		":25:ACC-1",
		":60F:C250115SAR100,00",
		":61:251340C10,00NTRFBADDATE",
		":61:garbage",
		":99:unknown tag",
		":62F:C250116SAR110,00",
	}, "\n")

	stmt, err := ParseMT940(strings.NewReader(input))
	require.NoError(t, err)

	require.Len(t, stmt.Transactions, 1)
	assert.True(t, stmt.Transactions[0].NeedsReview)
	assert.Len(t, stmt.Warnings, 2)
}

func TestParseMT940_Empty(t *testing.T) {
	_, err := ParseMT940(strings.NewReader(":20:X\n:25:ACC\n"))
	assert.ErrorIs(t, err, ErrEmptyStatement)
}

func TestParseMT940_UnbalancedWarning(t *testing.T) {
	input := ":60F:C250115SAR100,00\n:61:250116C10,00NTRFA1\n:62F:C250116SAR200,00\n"
	stmt, err := ParseMT940(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, stmt.Warnings, 1)
	assert.Contains(t, stmt.Warnings[0], "difference -9000")
}

func TestParseCAMT053(t *testing.T) {
	stmt, err := ParseCAMT053(strings.NewReader(sampleCAMT))
	require.NoError(t, err)

	assert.Equal(t, "CAMT-2025-01", stmt.StatementID)
	assert.Equal(t, "SA0380000000608010167519", stmt.AccountIdentifier)
	assert.Equal(t, "SAR", stmt.Currency)
	assert.Equal(t, int64(85000000), stmt.OpeningBalanceMinor)
	assert.Equal(t, int64(120000000), stmt.ClosingBalanceMinor)

	require.Len(t, stmt.Transactions, 1)
	tx := stmt.Transactions[0]
	assert.Equal(t, int64(35000000), tx.AmountMinor)
	assert.Equal(t, models.DirectionCredit, tx.Direction)
	assert.Equal(t, "INV-2025-001", tx.Reference)
	assert.Equal(t, "E2E-1", tx.BankReference)
	assert.Equal(t, "Waqf donation Al Noor Foundation", tx.RawNarrative)
	assert.Equal(t, time.Date(2025, 1, 16, 0, 0, 0, 0, time.UTC), tx.ValueDate)

	require.Len(t, stmt.Warnings, 1)
	assert.Contains(t, stmt.Warnings[0], "Ntry[2]/Amt")
}

func TestParseOFX(t *testing.T) {
	stmt, err := ParseOFX(strings.NewReader(sampleOFX))
	require.NoError(t, err)

	assert.Equal(t, FormatOFX, stmt.Format)
	assert.Equal(t, "608010167519", stmt.AccountIdentifier)
	assert.Equal(t, "SAR", stmt.Currency)
	assert.Equal(t, int64(1000000), stmt.ClosingBalanceMinor)
	assert.Equal(t, int64(700000), stmt.OpeningBalanceMinor)

	require.Len(t, stmt.Transactions, 2)
	assert.Equal(t, "INV-2025-001", stmt.Transactions[0].Reference)
	assert.Equal(t, int64(350000), stmt.Transactions[0].AmountMinor)
	assert.Equal(t, models.DirectionCredit, stmt.Transactions[0].Direction)

	assert.Equal(t, "1234", stmt.Transactions[1].Reference)
	assert.Equal(t, int64(50000), stmt.Transactions[1].AmountMinor)
	assert.Equal(t, models.DirectionDebit, stmt.Transactions[1].Direction)
}

func TestParse_DetectsFormat(t *testing.T) {
	tests := []struct {
		input  string
		format Format
	}{
		{sampleMT940, FormatMT940},
		{sampleCAMT, FormatCAMT053},
		{sampleOFX, FormatOFX},
	}
	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			assert.Equal(t, tt.format, DetectFormat([]byte(tt.input)))

			stmt, err := Parse("", strings.NewReader(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.format, stmt.Format)
		})
	}

	_, err := Parse("", strings.NewReader("hello"))
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))
}

func TestExpandYear(t *testing.T) {
	assert.Equal(t, 2069, expandYear(69))
	assert.Equal(t, 1970, expandYear(70))
	assert.Equal(t, 2000, expandYear(0))
}

func TestToMinorRoundsHalfUp(t *testing.T) {
	v, err := toMinor("10,005", ",")
	require.NoError(t, err)
	assert.Equal(t, int64(1001), v)

	v, err = toMinor("850000,", ",")
	require.NoError(t, err)
	assert.Equal(t, int64(85000000), v)
}
