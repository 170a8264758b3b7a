package llm

import (
	"context"
	"errors"

	"github.com/travis-true/Pocket-Appraisal/internal/capture"
	"github.com/travis-true/Pocket-Appraisal/internal/card"
)

// Stage failures. The pipeline matches on these with errors.Is to pick the
// user-facing message; wrapped detail is for logs only.
var (
	// ErrIdentificationMalformed means the identification response was not
	// valid JSON even after fence stripping.
	ErrIdentificationMalformed = errors.New("could not identify the card from the provided images: the AI response was not valid JSON")

	// ErrIdentificationIncomplete means the response parsed but player, year
	// or set was missing.
	ErrIdentificationIncomplete = errors.New("could not identify the card's essential details; please use clearer images")

	// ErrPricingMalformed means the pricing response was not valid JSON.
	ErrPricingMalformed = errors.New("could not retrieve pricing data: the AI response was not valid JSON")
)

// Usage contains token usage and cost information.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
	TotalTokens  int64
	CostUSD      float64
}

// Add accumulates another call's usage into u.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
	u.CostUSD += other.CostUSD
}

// IdentificationResult bundles the identified card with call usage.
type IdentificationResult struct {
	Card  *card.IdentifiedCard
	Usage Usage
}

// PricingOutcome bundles the pricing record with call usage.
type PricingOutcome struct {
	Pricing *card.PricingResult
	Usage   Usage
}

// Identifier turns front/back card images into a structured identity record.
type Identifier interface {
	// IdentifyCard makes a single identification attempt. No retries.
	IdentifyCard(ctx context.Context, front, back capture.RawImage) (*IdentificationResult, error)
}

// Pricer turns a card identity into a structured pricing record.
type Pricer interface {
	// FetchPricing makes a single pricing attempt. No retries.
	FetchPricing(ctx context.Context, identity card.Identity) (*PricingOutcome, error)
}

// Appraiser is the combined inference surface the pipeline depends on.
type Appraiser interface {
	Identifier
	Pricer
}
