package finance

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MatchSuggestion is a candidate invoice for a bank transaction
type MatchSuggestion struct {
	InvoiceID      uuid.UUID       `json:"invoice_id"`
	Folio          string          `json:"folio"`
	IssuerID       string          `json:"issuer_id"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	Balance        decimal.Decimal `json:"balance"`
	Difference     decimal.Decimal `json:"difference"` // balance - transaction amount
	ExactAmount    bool            `json:"exact_amount"`
	ReferenceMatch bool            `json:"reference_match"`
	DaysApart      int             `json:"days_apart"`
}

// MatchStrategy ranks open invoices against a transaction without mutating either
type MatchStrategy interface {
	Name() string
	Suggest(tx *BankTransaction, invoices []Invoice, limit int) []MatchSuggestion
}

// AmountDateMatchStrategy prefers invoices named in the transaction reference,
// then exact balance matches, then the smallest amount difference, then the
// closest issue date.
type AmountDateMatchStrategy struct {
	Epsilon decimal.Decimal
	// MaxDaysApart drops candidates issued too far from the transaction date; zero disables it
	MaxDaysApart int
}

// NewAmountDateMatchStrategy creates the default matching strategy
func NewAmountDateMatchStrategy(epsilon decimal.Decimal) *AmountDateMatchStrategy {
	return &AmountDateMatchStrategy{Epsilon: epsilon, MaxDaysApart: 180}
}

// Name returns the strategy name
func (s *AmountDateMatchStrategy) Name() string {
	return "amount_date"
}

// Suggest ranks unsettled invoices for tx
func (s *AmountDateMatchStrategy) Suggest(tx *BankTransaction, invoices []Invoice, limit int) []MatchSuggestion {
	if tx == nil || len(invoices) == 0 {
		return []MatchSuggestion{}
	}

	haystack := strings.ToUpper(tx.Reference + " " + tx.Description)
	suggestions := make([]MatchSuggestion, 0, len(invoices))

	for i := range invoices {
		inv := &invoices[i]
		if inv.IsSettled(s.Epsilon) {
			continue
		}
		days := daysApart(tx.Date, inv.IssuedAt)
		if s.MaxDaysApart > 0 && days > s.MaxDaysApart {
			continue
		}
		balance := inv.Balance()
		diff := balance.Sub(tx.Amount)
		suggestions = append(suggestions, MatchSuggestion{
			InvoiceID:      inv.ID,
			Folio:          inv.Folio,
			IssuerID:       inv.IssuerID,
			TotalAmount:    inv.TotalAmount,
			Balance:        balance,
			Difference:     diff,
			ExactAmount:    diff.Abs().LessThanOrEqual(s.Epsilon),
			ReferenceMatch: referenceMentions(haystack, inv),
			DaysApart:      days,
		})
	}

	sort.SliceStable(suggestions, func(i, j int) bool {
		a, b := suggestions[i], suggestions[j]
		if a.ReferenceMatch != b.ReferenceMatch {
			return a.ReferenceMatch
		}
		if a.ExactAmount != b.ExactAmount {
			return a.ExactAmount
		}
		if c := a.Difference.Abs().Cmp(b.Difference.Abs()); c != 0 {
			return c < 0
		}
		return a.DaysApart < b.DaysApart
	})

	if limit > 0 && len(suggestions) > limit {
		suggestions = suggestions[:limit]
	}
	return suggestions
}

func referenceMentions(haystack string, inv *Invoice) bool {
	if strings.TrimSpace(haystack) == "" {
		return false
	}
	if inv.FiscalUUID != nil && strings.Contains(haystack, strings.ToUpper(*inv.FiscalUUID)) {
		return true
	}
	// Short folios like "1" would match almost any reference.
	if inv.Folio != NoFolio && len(inv.Folio) >= 3 {
		return strings.Contains(haystack, strings.ToUpper(inv.Folio))
	}
	return false
}

func daysApart(a, b time.Time) int {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return int(d.Hours() / 24)
}
