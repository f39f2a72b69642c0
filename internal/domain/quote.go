package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// QuoteFlag adjusts which fee schedule a quote uses.
type QuoteFlag string

// FlagIsCollection selects the schedule for funds sourced from a collection link.
const FlagIsCollection QuoteFlag = "IS_COLLECTION"

// HasFlag reports whether flag is present in flags.
func HasFlag(flags []QuoteFlag, flag QuoteFlag) bool {
	for _, candidate := range flags {
		if QuoteFlag(strings.ToUpper(strings.TrimSpace(string(candidate)))) == flag {
			return true
		}
	}
	return false
}

// Quote is a deterministic conversion quote. All amounts are in the target currency.
type Quote struct {
	SourceCurrency      string          `json:"source_currency"`
	TargetCurrency      string          `json:"target_currency"`
	Amount              decimal.Decimal `json:"amount"`
	Rate                decimal.Decimal `json:"rate"`
	NobaFee             decimal.Decimal `json:"noba_fee"`
	ProcessingFee       decimal.Decimal `json:"processing_fee"`
	TotalFee            decimal.Decimal `json:"total_fee"`
	QuoteAmount         decimal.Decimal `json:"quote_amount"`
	QuoteAmountWithFees decimal.Decimal `json:"quote_amount_with_fees"`
}

// Fees returns the quote's fee lines for freezing into a transaction.
func (q *Quote) Fees() []TransactionFee {
	return []TransactionFee{
		{Amount: q.NobaFee, Currency: q.TargetCurrency, Type: FeeTypeNoba},
		{Amount: q.ProcessingFee, Currency: q.TargetCurrency, Type: FeeTypeProcessing},
	}
}
