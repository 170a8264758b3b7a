package card

// Identity is the tuple that labels a specific trading card printing.
// Player, Year and Set are mandatory for any lookup; CardNumber is optional.
type Identity struct {
	Player     string `json:"player"`
	Year       string `json:"year"`
	Set        string `json:"set"`
	CardNumber string `json:"cardNumber"`
}

// Validate reports whether the identity carries the mandatory fields.
// Year must be numeric-formatted text.
func (i Identity) Validate() bool {
	if i.Player == "" || i.Year == "" || i.Set == "" {
		return false
	}
	return isNumericYear(i.Year)
}

func isNumericYear(year string) bool {
	if year == "" {
		return false
	}
	for _, c := range year {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// Label returns the human-readable "year set player" form used in progress
// messages and pricing prompts.
func (i Identity) Label() string {
	return i.Year + " " + i.Set + " " + i.Player
}

// IdentifiedCard is an Identity augmented with what the model saw on the
// physical card. Optional fields are pointers so a field the model omitted
// stays distinguishable from one it returned empty.
type IdentifiedCard struct {
	Identity
	ParallelDescription *string  `json:"parallelDescription"`
	SuggestedGrade      *float64 `json:"suggestedGrade"`
	ConditionNotes      []string `json:"conditionNotes"`
}

// PriceSource names where a price figure came from.
type PriceSource struct {
	Name string  `json:"name"`
	URL  *string `json:"url"`
}

// PriceEntry holds market prices for one card or parallel. Prices are
// free-text ranges ("$10 - $15") or "N/A"; no currency parsing happens here.
type PriceEntry struct {
	Name         string      `json:"name"`
	RawPrice     string      `json:"rawPrice"`
	GradedPrice  string      `json:"gradedPrice"`
	RawSource    PriceSource `json:"rawSource"`
	GradedSource PriceSource `json:"gradedSource"`
	DateRange    string      `json:"dateRange"`
}

// PricingResult is the full pricing record for a card. BaseCard is always
// present; Parallels may be empty but never nil.
type PricingResult struct {
	BaseCard  PriceEntry   `json:"baseCard"`
	Parallels []PriceEntry `json:"parallels"`
}
