package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/travis-true/Pocket-Appraisal/internal/capture"
	"github.com/travis-true/Pocket-Appraisal/internal/card"
)

const geminiModel = "gemini-2.5-flash"

// Gemini pricing (per million tokens)
const (
	geminiInputPricePerMillion  = 0.30 // $0.30 per 1M input tokens (text/image)
	geminiOutputPricePerMillion = 2.50 // $2.50 per 1M output tokens (including thinking)
)

const identificationPrompt = `You are a sports card expert, specializing in both identification and professional grading. Based on the provided front and back images of this sports card, perform two tasks:

1. **Identification**: Identify the Year, Manufacturer/Set, Player Name, and Card Number. Also, identify if this is a specific parallel or variation. If it is a parallel, describe it (e.g., 'Refractor', 'Prizm Silver', 'Gold /10').

2. **Condition Assessment**: Analyze the card's condition based on centering, corners, edges, and surface. Provide a suggested raw grade on a scale of 1 to 10 (e.g., 8.5, 9, 10). Also, provide a list of specific observations about the card's condition.

Respond with ONLY a JSON object with the keys: "year", "set", "player", "cardNumber", "parallelDescription", "suggestedGrade" (as a number), and "conditionNotes" (as an array of strings). If a field cannot be identified, return null for its value. The grade and notes should be based on a critical assessment of the images.`

const pricingPrompt = `You are a sports card pricing expert. For the card: %s #%s, provide a list of its common parallels and recent sales prices.
The prices should reflect the current market for both RAW (ungraded) and top-graded conditions (like PSA 10 or BGS 9.5).
For each price (raw and graded), provide the source of the data (e.g., eBay, 130point.com) including its name and a direct URL to the sales data if available. Provide separate sources for raw and graded prices. Also include the date range for the sales (e.g., 'Last 30 days').`

// GeminiAppraiser uses Google's Gemini API for card identification and
// pricing lookups.
type GeminiAppraiser struct {
	client *genai.Client
}

// NewGeminiAppraiser creates a new Gemini-based appraiser.
// It uses the GEMINI_API_KEY environment variable for authentication.
func NewGeminiAppraiser(ctx context.Context) (*GeminiAppraiser, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: os.Getenv("GEMINI_API_KEY"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiAppraiser{client: client}, nil
}

// IdentifyCard implements the Identifier interface using Gemini. The model
// response is free-form text that should be JSON; it is parsed through
// parseIdentification, never trusted as-is. A single attempt, no retries.
func (g *GeminiAppraiser) IdentifyCard(ctx context.Context, front, back capture.RawImage) (*IdentificationResult, error) {
	parts := []*genai.Part{
		genai.NewPartFromText(identificationPrompt),
		{InlineData: &genai.Blob{Data: front.Payload, MIMEType: front.MIMEType}},
		{InlineData: &genai.Blob{Data: back.Payload, MIMEType: back.MIMEType}},
	}
	contents := []*genai.Content{
		genai.NewContentFromParts(parts, genai.RoleUser),
	}

	result, err := g.client.Models.GenerateContent(ctx, geminiModel, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to generate content: %w", err)
	}

	if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("%w: empty response from Gemini", ErrIdentificationMalformed)
	}

	identified, err := parseIdentification(result.Text())
	if err != nil {
		return nil, err
	}

	usage := usageFromMetadata(result.UsageMetadata)
	log.Info().
		Str("model", geminiModel).
		Int64("inputTokens", usage.InputTokens).
		Int64("outputTokens", usage.OutputTokens).
		Float64("costUSD", usage.CostUSD).
		Str("card", identified.Label()).
		Msg("identification llm call")

	return &IdentificationResult{Card: identified, Usage: usage}, nil
}

// identificationPayload mirrors the JSON the model is asked to emit. All
// fields are pointers so "absent" decodes to nil, never to an empty value.
type identificationPayload struct {
	Player              *string  `json:"player"`
	Year                *string  `json:"year"`
	Set                 *string  `json:"set"`
	CardNumber          *string  `json:"cardNumber"`
	ParallelDescription *string  `json:"parallelDescription"`
	SuggestedGrade      *float64 `json:"suggestedGrade"`
	ConditionNotes      []string `json:"conditionNotes"`
}

func parseIdentification(text string) (*card.IdentifiedCard, error) {
	jsonStr, err := extractJSONObject(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIdentificationMalformed, err)
	}

	var payload identificationPayload
	if err := json.Unmarshal([]byte(jsonStr), &payload); err != nil {
		return nil, fmt.Errorf("%w: %v (response: %s)", ErrIdentificationMalformed, err, jsonStr)
	}

	if strPtrEmpty(payload.Player) || strPtrEmpty(payload.Year) || strPtrEmpty(payload.Set) {
		return nil, ErrIdentificationIncomplete
	}

	identified := &card.IdentifiedCard{
		Identity: card.Identity{
			Player: *payload.Player,
			Year:   *payload.Year,
			Set:    *payload.Set,
		},
		ParallelDescription: payload.ParallelDescription,
		SuggestedGrade:      payload.SuggestedGrade,
		ConditionNotes:      payload.ConditionNotes,
	}
	if payload.CardNumber != nil {
		identified.CardNumber = *payload.CardNumber
	}
	return identified, nil
}

func strPtrEmpty(s *string) bool {
	return s == nil || *s == ""
}

// FetchPricing implements the Pricer interface using Gemini's structured
// output. The response schema constrains the model to the pricing envelope,
// but the response is still parsed defensively. A single attempt, no retries.
func (g *GeminiAppraiser) FetchPricing(ctx context.Context, identity card.Identity) (*PricingOutcome, error) {
	prompt := fmt.Sprintf(pricingPrompt, identity.Label(), identity.CardNumber)

	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   pricingSchema(),
	}

	result, err := g.client.Models.GenerateContent(ctx, geminiModel, []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{genai.NewPartFromText(prompt)}, genai.RoleUser),
	}, config)
	if err != nil {
		return nil, fmt.Errorf("failed to generate content: %w", err)
	}

	if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("%w: empty response from Gemini", ErrPricingMalformed)
	}

	pricing, err := parsePricing(result.Text())
	if err != nil {
		return nil, err
	}

	usage := usageFromMetadata(result.UsageMetadata)
	log.Info().
		Str("model", geminiModel).
		Int64("inputTokens", usage.InputTokens).
		Int64("outputTokens", usage.OutputTokens).
		Float64("costUSD", usage.CostUSD).
		Str("card", identity.Label()).
		Int("parallels", len(pricing.Parallels)).
		Msg("pricing llm call")

	return &PricingOutcome{Pricing: pricing, Usage: usage}, nil
}

func parsePricing(text string) (*card.PricingResult, error) {
	jsonStr, err := extractJSONObject(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPricingMalformed, err)
	}

	var pricing card.PricingResult
	if err := json.Unmarshal([]byte(jsonStr), &pricing); err != nil {
		return nil, fmt.Errorf("%w: %v (response: %s)", ErrPricingMalformed, err, jsonStr)
	}

	// The schema requires parallels but a null still decodes to nil.
	if pricing.Parallels == nil {
		pricing.Parallels = []card.PriceEntry{}
	}
	return &pricing, nil
}

// pricingSchema describes the {baseCard, parallels} envelope the pricing
// call constrains the model with.
func pricingSchema() *genai.Schema {
	sourceSchema := &genai.Schema{
		Type:        genai.TypeObject,
		Description: "Source of the pricing data.",
		Properties: map[string]*genai.Schema{
			"name": {Type: genai.TypeString, Description: "Name of the source, e.g., 'eBay Sold'"},
			"url":  {Type: genai.TypeString, Description: "Direct URL to the source, or null if not available."},
		},
		Required: []string{"name"},
	}

	priceEntrySchema := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"name":         {Type: genai.TypeString, Description: "Description of the card or parallel, e.g., 'Base' or 'Silver Prizm'"},
			"rawPrice":     {Type: genai.TypeString, Description: "Price range for a raw/ungraded card, e.g., '$10 - $15' or 'N/A'"},
			"gradedPrice":  {Type: genai.TypeString, Description: "Price range for a top-graded card (PSA 10/BGS 9.5), e.g., '$50 - $75' or 'N/A'"},
			"rawSource":    sourceSchema,
			"gradedSource": sourceSchema,
			"dateRange":    {Type: genai.TypeString, Description: "Date range for the sales data, e.g., 'Last 30 days'"},
		},
		Required: []string{"name", "rawPrice", "gradedPrice", "rawSource", "gradedSource", "dateRange"},
	}

	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"baseCard": priceEntrySchema,
			"parallels": {
				Type:  genai.TypeArray,
				Items: priceEntrySchema,
			},
		},
		Required: []string{"baseCard", "parallels"},
	}
}

// extractJSONObject extracts a JSON object from text that may contain
// markdown code fences (with or without a language tag) or other formatting.
// Idempotent: extracting from already-extracted JSON returns it unchanged.
func extractJSONObject(text string) (string, error) {
	text = strings.TrimSpace(text)
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end <= start {
		return "", fmt.Errorf("no JSON object found in response: %s", text)
	}
	return text[start : end+1], nil
}

func usageFromMetadata(md *genai.GenerateContentResponseUsageMetadata) Usage {
	usage := Usage{}
	if md == nil {
		return usage
	}
	usage.InputTokens = int64(md.PromptTokenCount)
	usage.OutputTokens = int64(md.CandidatesTokenCount)
	usage.TotalTokens = int64(md.TotalTokenCount)
	usage.CostUSD = calculateGeminiCost(usage.InputTokens, usage.OutputTokens)
	return usage
}

func calculateGeminiCost(inputTokens, outputTokens int64) float64 {
	inputCost := float64(inputTokens) / 1_000_000 * geminiInputPricePerMillion
	outputCost := float64(outputTokens) / 1_000_000 * geminiOutputPricePerMillion
	return inputCost + outputCost
}
