package matching

import (
	"math"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/texttheater/golang-levenshtein/levenshtein"

	"waqf-reconciliation-backend/internal/models"
)

type Rule string

// Rules in priority order. Priority only breaks ties; every rule is scored.
const (
	RuleExactReference        Rule = "exact_reference"
	RuleAmountEquality        Rule = "amount_equality"
	RuleDateProximity         Rule = "date_proximity"
	RuleDescriptionSimilarity Rule = "description_similarity"
)

var RulePriority = []Rule{
	RuleExactReference,
	RuleAmountEquality,
	RuleDateProximity,
	RuleDescriptionSimilarity,
}

type Decision string

const (
	DecisionAuto   Decision = "auto"
	DecisionManual Decision = "manual"
)

type Config struct {
	AutoMatchThreshold float64
	DateToleranceDays  int
	// Weights per rule; missing rules weigh 1.
	Weights map[Rule]float64
}

func DefaultConfig() Config {
	return Config{
		AutoMatchThreshold: 0.95,
		DateToleranceDays:  3,
	}
}

type RuleScore struct {
	Rule   Rule    `json:"rule"`
	Score  float64 `json:"score"`
	Weight float64 `json:"weight"`
}

type MatchCandidate struct {
	BankTransactionID uuid.UUID        `json:"bank_transaction_id"`
	LedgerEntryID     uuid.UUID        `json:"ledger_entry_id"`
	ScoreComponents   map[Rule]float64 `json:"score_components"`
	OverallScore      float64          `json:"overall_score"`
	RuleBreakdown     []RuleScore      `json:"rule_breakdown"`
	Decision          Decision         `json:"decision"`
}

type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) *Engine {
	if cfg.AutoMatchThreshold <= 0 {
		cfg.AutoMatchThreshold = DefaultConfig().AutoMatchThreshold
	}
	if cfg.DateToleranceDays < 0 {
		cfg.DateToleranceDays = 0
	}
	return &Engine{cfg: cfg}
}

func (e *Engine) Config() Config {
	return e.cfg
}

func (e *Engine) weight(r Rule) float64 {
	if w, ok := e.cfg.Weights[r]; ok && w >= 0 {
		return w
	}
	return 1
}

// Score evaluates every rule for one pair.
func (e *Engine) Score(tx models.BankTransaction, entry models.LedgerEntry) MatchCandidate {
	components := map[Rule]float64{
		RuleExactReference:        referenceScore(tx.Reference, entry.Reference),
		RuleAmountEquality:        amountScore(tx.AmountMinor, entry.AmountMinor),
		RuleDateProximity:         dateScore(tx.ValueDate, entry.PostingDate, e.cfg.DateToleranceDays),
		RuleDescriptionSimilarity: descriptionScore(tx.RawNarrative+" "+tx.Reference, entry.Description),
	}

	var sum, weights float64
	breakdown := make([]RuleScore, 0, len(RulePriority))
	for _, r := range RulePriority {
		w := e.weight(r)
		sum += w * components[r]
		weights += w
		breakdown = append(breakdown, RuleScore{Rule: r, Score: components[r], Weight: w})
	}
	overall := 0.0
	if weights > 0 {
		overall = clamp01(sum / weights)
	}

	c := MatchCandidate{
		BankTransactionID: tx.ID,
		LedgerEntryID:     entry.ID,
		ScoreComponents:   components,
		OverallScore:      overall,
		RuleBreakdown:     breakdown,
	}
	c.Decision = e.Decide(c)
	return c
}

// Decide applies the auto-match threshold.
func (e *Engine) Decide(c MatchCandidate) Decision {
	if c.OverallScore >= e.cfg.AutoMatchThreshold {
		return DecisionAuto
	}
	return DecisionManual
}

// Rank scores tx against every pool entry and returns candidates best first.
// When no entry has an equal amount the transaction is unmatched and the
// result is empty.
func (e *Engine) Rank(tx models.BankTransaction, pool []models.LedgerEntry) []MatchCandidate {
	candidates := make([]MatchCandidate, 0, len(pool))
	amountHit := false
	for _, entry := range pool {
		c := e.Score(tx, entry)
		if c.ScoreComponents[RuleAmountEquality] > 0 {
			amountHit = true
		}
		if c.OverallScore > 0 {
			candidates = append(candidates, c)
		}
	}
	if !amountHit {
		return nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return better(candidates[i], candidates[j])
	})
	return candidates
}

// better orders by overall score, then by sub-scores in rule priority.
func better(a, b MatchCandidate) bool {
	if a.OverallScore != b.OverallScore {
		return a.OverallScore > b.OverallScore
	}
	for _, r := range RulePriority {
		if a.ScoreComponents[r] != b.ScoreComponents[r] {
			return a.ScoreComponents[r] > b.ScoreComponents[r]
		}
	}
	return false
}

func referenceScore(a, b string) float64 {
	na, nb := NormalizeReference(a), NormalizeReference(b)
	if na == "" || na != nb {
		return 0
	}
	return 1
}

// NormalizeReference upper-cases and drops everything but letters and digits.
func NormalizeReference(ref string) string {
	var sb strings.Builder
	for _, r := range strings.ToUpper(ref) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func amountScore(a, b int64) float64 {
	if a == b {
		return 1
	}
	return 0
}

func dateScore(a, b time.Time, toleranceDays int) float64 {
	if a.IsZero() || b.IsZero() {
		return 0
	}
	days := math.Abs(math.Round(dayStart(a).Sub(dayStart(b)).Hours() / 24))
	if toleranceDays == 0 {
		if days == 0 {
			return 1
		}
		return 0
	}
	return math.Max(0, 1-days/float64(toleranceDays))
}

func dayStart(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// descriptionScore averages, over the ledger description tokens, the best
// Levenshtein similarity against any bank narrative token.
func descriptionScore(bankText, ledgerText string) float64 {
	bTokens := tokenize(bankText)
	lTokens := tokenize(ledgerText)
	if len(bTokens) == 0 || len(lTokens) == 0 {
		return 0
	}

	total := 0.0
	for _, lt := range lTokens {
		best := 0.0
		for _, bt := range bTokens {
			if sim := tokenSimilarity(lt, bt); sim > best {
				best = sim
			}
		}
		total += best
	}
	return clamp01(total / float64(len(lTokens)))
}

func tokenSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}
	ra, rb := []rune(a), []rune(b)
	maxLen := max(len(ra), len(rb))
	dist := levenshtein.DistanceForStrings(ra, rb, levenshtein.DefaultOptionsWithSub)
	return clamp01(1 - float64(dist)/float64(maxLen))
}

func tokenize(s string) []string {
	s = strings.ToUpper(s)
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) > 1 {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}
