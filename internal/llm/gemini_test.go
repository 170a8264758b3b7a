package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validIdentificationJSON = `{
	"player": "Ja Morant",
	"year": "2019",
	"set": "Panini Prizm",
	"cardNumber": "249",
	"parallelDescription": "Silver Prizm",
	"suggestedGrade": 8.5,
	"conditionNotes": ["Slight corner wear on back", "Centering 60/40"]
}`

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "bare object",
			input: `{"player": "Ja Morant"}`,
			want:  `{"player": "Ja Morant"}`,
		},
		{
			name:  "fenced with language tag",
			input: "```json\n{\"player\": \"Ja Morant\"}\n```",
			want:  `{"player": "Ja Morant"}`,
		},
		{
			name:  "fenced without language tag",
			input: "```\n{\"player\": \"Ja Morant\"}\n```",
			want:  `{"player": "Ja Morant"}`,
		},
		{
			name:  "surrounding prose",
			input: "Here is the card:\n{\"player\": \"Ja Morant\"}\nHope that helps!",
			want:  `{"player": "Ja Morant"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractJSONObject(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			// Extraction is idempotent: extracting twice equals extracting once.
			again, err := extractJSONObject(got)
			require.NoError(t, err)
			assert.Equal(t, got, again)
		})
	}
}

func TestExtractJSONObject_NoObject(t *testing.T) {
	_, err := extractJSONObject("I could not identify this card.")
	assert.Error(t, err)
}

func TestParseIdentification_Success(t *testing.T) {
	identified, err := parseIdentification(validIdentificationJSON)
	require.NoError(t, err)

	assert.Equal(t, "Ja Morant", identified.Player)
	assert.Equal(t, "2019", identified.Year)
	assert.Equal(t, "Panini Prizm", identified.Set)
	assert.Equal(t, "249", identified.CardNumber)
	require.NotNil(t, identified.ParallelDescription)
	assert.Equal(t, "Silver Prizm", *identified.ParallelDescription)
	require.NotNil(t, identified.SuggestedGrade)
	assert.Equal(t, 8.5, *identified.SuggestedGrade)
	assert.Equal(t, []string{"Slight corner wear on back", "Centering 60/40"}, identified.ConditionNotes)
}

func TestParseIdentification_FencedEqualsUnfenced(t *testing.T) {
	fenced := "```json\n" + validIdentificationJSON + "\n```"

	plain, err := parseIdentification(validIdentificationJSON)
	require.NoError(t, err)
	wrapped, err := parseIdentification(fenced)
	require.NoError(t, err)

	assert.Equal(t, plain, wrapped)
}

func TestParseIdentification_AbsentFieldsStayNil(t *testing.T) {
	identified, err := parseIdentification(`{"player": "Ja Morant", "year": "2019", "set": "Panini Prizm"}`)
	require.NoError(t, err)

	assert.Equal(t, "", identified.CardNumber)
	assert.Nil(t, identified.ParallelDescription)
	assert.Nil(t, identified.SuggestedGrade)
	assert.Nil(t, identified.ConditionNotes)
}

func TestParseIdentification_NullIsNotEmpty(t *testing.T) {
	// An explicit null parallel must not surface as an empty string.
	identified, err := parseIdentification(`{"player": "Ja Morant", "year": "2019", "set": "Panini Prizm", "parallelDescription": null}`)
	require.NoError(t, err)
	assert.Nil(t, identified.ParallelDescription)
}

func TestParseIdentification_MissingEssentialFields(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{"missing player", `{"year": "2019", "set": "Panini Prizm"}`},
		{"missing year", `{"player": "Ja Morant", "set": "Panini Prizm"}`},
		{"missing set", `{"player": "Ja Morant", "year": "2019"}`},
		{"null player", `{"player": null, "year": "2019", "set": "Panini Prizm"}`},
		{"empty player", `{"player": "", "year": "2019", "set": "Panini Prizm"}`},
		{"all missing", `{"cardNumber": "249"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseIdentification(tt.json)
			assert.ErrorIs(t, err, ErrIdentificationIncomplete)
		})
	}
}

func TestParseIdentification_Malformed(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"not json at all", "Sorry, I can't tell what card this is."},
		{"truncated object", `{"player": "Ja Morant", "year":`},
		{"invalid json inside braces", `{player: Ja Morant}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseIdentification(tt.text)
			assert.ErrorIs(t, err, ErrIdentificationMalformed)
		})
	}
}

const validPricingJSON = `{
	"baseCard": {
		"name": "Base",
		"rawPrice": "$10 - $15",
		"gradedPrice": "$50 - $75",
		"rawSource": {"name": "eBay Sold", "url": "https://ebay.com/sold"},
		"gradedSource": {"name": "130point.com", "url": null},
		"dateRange": "Last 30 days"
	},
	"parallels": [
		{
			"name": "Silver Prizm",
			"rawPrice": "$40 - $60",
			"gradedPrice": "$200 - $300",
			"rawSource": {"name": "eBay Sold", "url": null},
			"gradedSource": {"name": "eBay Sold", "url": null},
			"dateRange": "Last 90 days"
		}
	]
}`

func TestParsePricing_Success(t *testing.T) {
	pricing, err := parsePricing(validPricingJSON)
	require.NoError(t, err)

	assert.Equal(t, "Base", pricing.BaseCard.Name)
	assert.Equal(t, "$10 - $15", pricing.BaseCard.RawPrice)
	assert.Equal(t, "eBay Sold", pricing.BaseCard.RawSource.Name)
	require.NotNil(t, pricing.BaseCard.RawSource.URL)
	assert.Equal(t, "https://ebay.com/sold", *pricing.BaseCard.RawSource.URL)
	assert.Nil(t, pricing.BaseCard.GradedSource.URL)

	require.Len(t, pricing.Parallels, 1)
	assert.Equal(t, "Silver Prizm", pricing.Parallels[0].Name)
}

func TestParsePricing_EmptyParallels(t *testing.T) {
	pricing, err := parsePricing(`{
		"baseCard": {
			"name": "Base",
			"rawPrice": "N/A",
			"gradedPrice": "N/A",
			"rawSource": {"name": "eBay Sold"},
			"gradedSource": {"name": "eBay Sold"},
			"dateRange": "Last 30 days"
		},
		"parallels": []
	}`)
	require.NoError(t, err)

	assert.NotNil(t, pricing.Parallels)
	assert.Len(t, pricing.Parallels, 0)
}

func TestParsePricing_NullParallelsNormalized(t *testing.T) {
	pricing, err := parsePricing(`{
		"baseCard": {
			"name": "Base",
			"rawPrice": "N/A",
			"gradedPrice": "N/A",
			"rawSource": {"name": "eBay Sold"},
			"gradedSource": {"name": "eBay Sold"},
			"dateRange": "Last 30 days"
		},
		"parallels": null
	}`)
	require.NoError(t, err)

	assert.NotNil(t, pricing.Parallels)
	assert.Empty(t, pricing.Parallels)
}

func TestParsePricing_Malformed(t *testing.T) {
	_, err := parsePricing("The market is too volatile to price this card.")
	assert.ErrorIs(t, err, ErrPricingMalformed)
}

func TestParsePricing_FencedEqualsUnfenced(t *testing.T) {
	fenced := "```json\n" + validPricingJSON + "\n```"

	plain, err := parsePricing(validPricingJSON)
	require.NoError(t, err)
	wrapped, err := parsePricing(fenced)
	require.NoError(t, err)

	assert.Equal(t, plain, wrapped)
}

func TestCalculateGeminiCost(t *testing.T) {
	cost := calculateGeminiCost(1_000_000, 1_000_000)
	assert.InDelta(t, geminiInputPricePerMillion+geminiOutputPricePerMillion, cost, 1e-9)
}
