package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/travis-true/Pocket-Appraisal/internal/card"
)

// AppraisalStore defines the interface for the inference response caches.
// Both caches are content-addressed: identification by a digest of the image
// payloads, pricing by the identity tuple. Entries are never enumerated, so
// there is no browsable lookup history.
type AppraisalStore interface {
	// GetIdentification returns a cached identification, or nil, nil if the
	// digest has never been seen.
	GetIdentification(imageDigest string) (*card.IdentifiedCard, error)
	SetIdentification(imageDigest string, identified *card.IdentifiedCard) error

	// GetPricing returns a cached pricing record, or nil, nil on a miss.
	GetPricing(identityKey string) (*card.PricingResult, error)
	SetPricing(identityKey string, pricing *card.PricingResult) error

	Close() error
}

// SQLiteStore is an AppraisalStore backed by a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteStore creates a new SQLite-based appraisal store at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// WAL mode and busy timeout for better concurrency
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Set file permissions (only works on creation)
	if err := os.Chmod(dbPath, 0600); err != nil && !os.IsNotExist(err) {
		// Ignore error if file doesn't exist yet
	}

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) init() error {
	identificationQuery := `
	CREATE TABLE IF NOT EXISTS identification_cache (
		image_digest TEXT PRIMARY KEY,
		record TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	if _, err := s.db.Exec(identificationQuery); err != nil {
		return fmt.Errorf("failed to create identification_cache table: %w", err)
	}

	pricingQuery := `
	CREATE TABLE IF NOT EXISTS pricing_cache (
		identity_key TEXT PRIMARY KEY,
		record TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	if _, err := s.db.Exec(pricingQuery); err != nil {
		return fmt.Errorf("failed to create pricing_cache table: %w", err)
	}

	return nil
}

// GetIdentification retrieves a cached identification result by image digest.
// Returns nil, nil if no cache entry exists.
func (s *SQLiteStore) GetIdentification(imageDigest string) (*card.IdentifiedCard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var record string
	err := s.db.QueryRow(
		"SELECT record FROM identification_cache WHERE image_digest = ?",
		imageDigest,
	).Scan(&record)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query identification cache: %w", err)
	}

	var identified card.IdentifiedCard
	if err := json.Unmarshal([]byte(record), &identified); err != nil {
		return nil, fmt.Errorf("failed to decode cached identification: %w", err)
	}
	return &identified, nil
}

// SetIdentification stores an identification result in the cache.
func (s *SQLiteStore) SetIdentification(imageDigest string, identified *card.IdentifiedCard) error {
	record, err := json.Marshal(identified)
	if err != nil {
		return fmt.Errorf("failed to encode identification: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(`
		INSERT INTO identification_cache (image_digest, record)
		VALUES (?, ?)
		ON CONFLICT(image_digest) DO UPDATE SET
			record = excluded.record,
			created_at = CURRENT_TIMESTAMP
	`, imageDigest, string(record))
	if err != nil {
		return fmt.Errorf("failed to cache identification: %w", err)
	}
	return nil
}

// GetPricing retrieves a cached pricing record by identity key.
// Returns nil, nil if no cache entry exists.
func (s *SQLiteStore) GetPricing(identityKey string) (*card.PricingResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var record string
	err := s.db.QueryRow(
		"SELECT record FROM pricing_cache WHERE identity_key = ?",
		identityKey,
	).Scan(&record)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query pricing cache: %w", err)
	}

	var pricing card.PricingResult
	if err := json.Unmarshal([]byte(record), &pricing); err != nil {
		return nil, fmt.Errorf("failed to decode cached pricing: %w", err)
	}
	return &pricing, nil
}

// SetPricing stores a pricing record in the cache.
func (s *SQLiteStore) SetPricing(identityKey string, pricing *card.PricingResult) error {
	record, err := json.Marshal(pricing)
	if err != nil {
		return fmt.Errorf("failed to encode pricing: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(`
		INSERT INTO pricing_cache (identity_key, record)
		VALUES (?, ?)
		ON CONFLICT(identity_key) DO UPDATE SET
			record = excluded.record,
			created_at = CURRENT_TIMESTAMP
	`, identityKey, string(record))
	if err != nil {
		return fmt.Errorf("failed to cache pricing: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
