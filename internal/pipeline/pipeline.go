package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/travis-true/Pocket-Appraisal/internal/capture"
	"github.com/travis-true/Pocket-Appraisal/internal/card"
	"github.com/travis-true/Pocket-Appraisal/internal/llm"
)

// User-facing messages. The orchestrator is the only place stage errors are
// converted to display text.
const (
	msgFetchingPrices   = "Fetching prices and parallels..."
	msgIdentifying      = "Identifying card from images..."
	msgMissingFields    = "Player, year, and set are required."
	msgTimedOut         = "The request timed out. Please try again."
	msgUnknown          = "An unknown error occurred."
	baseCardDescription = "Base Card"
)

// DefaultStageTimeout bounds each inference call. The upstream service has no
// timeout of its own, so an explicit bound is required to keep a run from
// suspending indefinitely.
const DefaultStageTimeout = 2 * time.Minute

// State is the pipeline outcome state. Exactly one holds at a time.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateSuccess
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateSuccess:
		return "success"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is the single current state of a pipeline run. It is replaced
// wholesale on every transition; readers never observe partial writes.
type Outcome struct {
	State    State
	Progress string               // set while Loading
	Card     *card.IdentifiedCard // set on Success
	Pricing  *card.PricingResult  // set on Success
	Usage    llm.Usage            // aggregated over both stages
	Err      string               // set on Failed
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithStageTimeout overrides the per-stage timeout.
func WithStageTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.stageTimeout = d }
}

// Pipeline sequences identification and pricing into one run and holds the
// single shared outcome. At most one run's result is ever observable: each
// run gets a generation number at start, and a completion only publishes if
// its generation is still the latest.
type Pipeline struct {
	appraiser    llm.Appraiser
	stageTimeout time.Duration

	mu         sync.Mutex
	generation uint64
	outcome    Outcome
}

// New creates a pipeline around the given appraiser.
func New(appraiser llm.Appraiser, opts ...Option) *Pipeline {
	p := &Pipeline{
		appraiser:    appraiser,
		stageTimeout: DefaultStageTimeout,
		outcome:      Outcome{State: StateIdle},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Outcome returns a snapshot of the current outcome.
func (p *Pipeline) Outcome() Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outcome
}

// RunManual prices a manually entered card identity, skipping identification.
// The returned outcome is this run's result; the shared outcome only reflects
// it if no newer run started in the meantime.
func (p *Pipeline) RunManual(ctx context.Context, identity card.Identity) Outcome {
	gen := p.begin(msgFetchingPrices)

	if !identity.Validate() {
		return p.publish(gen, Outcome{State: StateFailed, Err: msgMissingFields})
	}

	parallel := baseCardDescription
	identified := &card.IdentifiedCard{
		Identity:            identity,
		ParallelDescription: &parallel,
	}
	return p.price(ctx, gen, identified, llm.Usage{})
}

// RunFromImages identifies a card from its front and back images, then prices
// the identified card. A failed identification ends the run; pricing is never
// attempted.
func (p *Pipeline) RunFromImages(ctx context.Context, front, back capture.RawImage) Outcome {
	gen := p.begin(msgIdentifying)

	stageCtx, cancel := context.WithTimeout(ctx, p.stageTimeout)
	result, err := p.appraiser.IdentifyCard(stageCtx, front, back)
	cancel()
	if err != nil {
		log.Warn().Err(err).Msg("identification failed")
		return p.publish(gen, Outcome{State: StateFailed, Err: userMessage(err)})
	}

	identified := result.Card
	p.setProgress(gen, fmt.Sprintf("Card identified! Fetching prices for %s...", identified.Label()))

	return p.price(ctx, gen, identified, result.Usage)
}

// price runs the pricing stage and publishes the final outcome. Condition
// fields on the identified card are display-only and do not affect the
// pricing request.
func (p *Pipeline) price(ctx context.Context, gen uint64, identified *card.IdentifiedCard, usage llm.Usage) Outcome {
	stageCtx, cancel := context.WithTimeout(ctx, p.stageTimeout)
	result, err := p.appraiser.FetchPricing(stageCtx, identified.Identity)
	cancel()
	if err != nil {
		log.Warn().Err(err).Msg("pricing failed")
		return p.publish(gen, Outcome{State: StateFailed, Err: userMessage(err)})
	}

	usage.Add(result.Usage)
	return p.publish(gen, Outcome{
		State:   StateSuccess,
		Card:    identified,
		Pricing: result.Pricing,
		Usage:   usage,
	})
}

// begin starts a new run: bumps the generation so any in-flight run becomes
// stale, and replaces the outcome with Loading. Prior success or error state
// is gone the moment a new run starts.
func (p *Pipeline) begin(progress string) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.generation++
	p.outcome = Outcome{State: StateLoading, Progress: progress}
	log.Debug().Uint64("generation", p.generation).Str("progress", progress).Msg("pipeline run started")
	return p.generation
}

// setProgress updates the loading message if the run is still current.
func (p *Pipeline) setProgress(gen uint64, progress string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.generation {
		return
	}
	p.outcome = Outcome{State: StateLoading, Progress: progress}
}

// publish stores the outcome if the run is still current. Stale completions
// are discarded silently; the run's own outcome is returned either way.
func (p *Pipeline) publish(gen uint64, outcome Outcome) Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.generation {
		log.Debug().Uint64("generation", gen).Uint64("current", p.generation).Msg("discarding stale pipeline outcome")
		return outcome
	}
	p.outcome = outcome
	return outcome
}

// userMessage maps a stage error to its user-facing message. Anything not in
// the taxonomy becomes the unknown-error message.
func userMessage(err error) string {
	switch {
	case errors.Is(err, llm.ErrIdentificationMalformed):
		return llm.ErrIdentificationMalformed.Error()
	case errors.Is(err, llm.ErrIdentificationIncomplete):
		return llm.ErrIdentificationIncomplete.Error()
	case errors.Is(err, llm.ErrPricingMalformed):
		return llm.ErrPricingMalformed.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return msgTimedOut
	default:
		return msgUnknown
	}
}
