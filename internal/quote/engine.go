// Package quote computes deterministic conversion quotes with fees.
package quote

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/transfa/settlement-service/internal/domain"
)

// Schedule is one fee schedule. FixedFee is expressed in the source currency and is
// converted at the quote rate; NobaFee is a flat amount in the target currency.
type Schedule struct {
	FixedFee   decimal.Decimal
	Multiplier decimal.Decimal
	NobaFee    decimal.Decimal
}

type Config struct {
	SourceCurrency string
	TargetCurrency string
	Standard       Schedule
	Collection     Schedule
}

// Request is the input to Quote.
type Request struct {
	Amount         decimal.Decimal    `json:"amount"`
	SourceCurrency string             `json:"source_currency"`
	TargetCurrency string             `json:"target_currency"`
	Flags          []domain.QuoteFlag `json:"flags,omitempty"`
}

type Engine struct {
	cfg   Config
	rates RateProvider
}

func NewEngine(cfg Config, rates RateProvider) *Engine {
	cfg.SourceCurrency = domain.NormalizeCurrency(cfg.SourceCurrency)
	cfg.TargetCurrency = domain.NormalizeCurrency(cfg.TargetCurrency)
	return &Engine{cfg: cfg, rates: rates}
}

// Quote converts req.Amount into the target currency and subtracts fees. Every
// monetary output is rounded half-up to the target currency's minor unit.
func (e *Engine) Quote(ctx context.Context, req Request) (*domain.Quote, error) {
	source := domain.NormalizeCurrency(req.SourceCurrency)
	target := domain.NormalizeCurrency(req.TargetCurrency)

	if !req.Amount.IsPositive() {
		return nil, domain.NewError(domain.KindValidation, "amount must be positive")
	}
	if !domain.ValidCurrency(source) || !domain.ValidCurrency(target) {
		return nil, domain.NewError(domain.KindValidation, "invalid currency code")
	}
	if source != e.cfg.SourceCurrency || target != e.cfg.TargetCurrency {
		return nil, fmt.Errorf("%s->%s: %w", source, target, domain.ErrUnsupportedCurrencyPair)
	}

	rate, err := e.rates.Rate(ctx, source, target)
	if err != nil {
		if errors.Is(err, domain.ErrRateNotConfigured) {
			return nil, err
		}
		return nil, fmt.Errorf("resolve rate %s->%s: %w", source, target, err)
	}
	if !rate.IsPositive() {
		return nil, fmt.Errorf("%s->%s: %w", source, target, domain.ErrRateNotConfigured)
	}

	schedule := e.cfg.Standard
	if domain.HasFlag(req.Flags, domain.FlagIsCollection) {
		schedule = e.cfg.Collection
	}

	places := domain.CurrencyPrecision(target)
	rawQuoteAmount := req.Amount.Mul(rate)
	rawProcessingFee := schedule.FixedFee.Mul(rate).Add(rawQuoteAmount.Mul(schedule.Multiplier))

	quoteAmount := rawQuoteAmount.Round(places)
	processingFee := rawProcessingFee.Round(places)
	nobaFee := schedule.NobaFee.Round(places)
	totalFee := nobaFee.Add(processingFee)
	withFees := quoteAmount.Sub(totalFee)

	if !withFees.IsPositive() {
		return nil, fmt.Errorf("quote amount %s after fees %s: %w", quoteAmount.StringFixed(places), totalFee.StringFixed(places), domain.ErrAmountTooLow)
	}

	return &domain.Quote{
		SourceCurrency:      source,
		TargetCurrency:      target,
		Amount:              req.Amount,
		Rate:                rate,
		NobaFee:             nobaFee,
		ProcessingFee:       processingFee,
		TotalFee:            totalFee,
		QuoteAmount:         quoteAmount,
		QuoteAmountWithFees: withFees,
	}, nil
}
