package llm

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/travis-true/Pocket-Appraisal/internal/capture"
	"github.com/travis-true/Pocket-Appraisal/internal/card"
	"github.com/travis-true/Pocket-Appraisal/internal/storage"
)

// CachedAppraiser wraps an Appraiser with SQLite caching. Cache failures are
// logged and ignored; they never fail a request.
type CachedAppraiser struct {
	inner Appraiser
	store storage.AppraisalStore
}

// NewCachedAppraiser creates a cached appraiser.
func NewCachedAppraiser(inner Appraiser, store storage.AppraisalStore) *CachedAppraiser {
	return &CachedAppraiser{inner: inner, store: store}
}

// hashImages creates a SHA256 digest from image payloads.
// Includes length prefix for each image to prevent boundary collisions.
func hashImages(images ...[]byte) string {
	h := sha256.New()
	for _, img := range images {
		// Write length to prevent boundary collisions (e.g. [A,B] vs [AB])
		binary.Write(h, binary.LittleEndian, int64(len(img)))
		h.Write(img)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// identityKey builds the pricing cache key from the identity tuple.
func identityKey(identity card.Identity) string {
	return strings.Join([]string{identity.Year, identity.Set, identity.Player, identity.CardNumber}, "|")
}

// IdentifyCard implements the Identifier interface with caching.
func (c *CachedAppraiser) IdentifyCard(ctx context.Context, front, back capture.RawImage) (*IdentificationResult, error) {
	digest := hashImages(front.Payload, back.Payload)

	if c.store != nil {
		cached, err := c.store.GetIdentification(digest)
		if err != nil {
			log.Warn().Err(err).Msg("failed to check identification cache")
		} else if cached != nil {
			log.Debug().Str("digest", digest[:16]).Msg("identification cache hit")
			// Zero usage for cached result
			return &IdentificationResult{Card: cached}, nil
		}
	}

	result, err := c.inner.IdentifyCard(ctx, front, back)
	if err != nil {
		return nil, err
	}

	if c.store != nil && result.Card != nil {
		if err := c.store.SetIdentification(digest, result.Card); err != nil {
			log.Warn().Err(err).Msg("failed to cache identification result")
		} else {
			log.Debug().Str("digest", digest[:16]).Msg("cached identification result")
		}
	}

	return result, nil
}

// FetchPricing implements the Pricer interface with caching.
func (c *CachedAppraiser) FetchPricing(ctx context.Context, identity card.Identity) (*PricingOutcome, error) {
	key := identityKey(identity)

	if c.store != nil {
		cached, err := c.store.GetPricing(key)
		if err != nil {
			log.Warn().Err(err).Msg("failed to check pricing cache")
		} else if cached != nil {
			log.Debug().Str("key", key).Msg("pricing cache hit")
			return &PricingOutcome{Pricing: cached}, nil
		}
	}

	result, err := c.inner.FetchPricing(ctx, identity)
	if err != nil {
		return nil, err
	}

	if c.store != nil && result.Pricing != nil {
		if err := c.store.SetPricing(key, result.Pricing); err != nil {
			log.Warn().Err(err).Msg("failed to cache pricing result")
		} else {
			log.Debug().Str("key", key).Msg("cached pricing result")
		}
	}

	return result, nil
}
