package store

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/www-e/formnew/internal/roster"
)

// Memory keeps the serialized document in process memory. Used in tests and
// for throwaway dev runs; SaveErr lets tests inject persistence failures.
type Memory struct {
	mu      sync.Mutex
	raw     []byte
	SaveErr error
	Saves   int
}

// NewMemory creates an empty in-memory document store.
func NewMemory() *Memory {
	return &Memory{}
}

// LoadDocument decodes the stored blob, (nil, nil) when nothing was saved.
func (m *Memory) LoadDocument(_ context.Context) (*roster.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.raw == nil {
		return nil, nil
	}
	var doc roster.Document
	if err := json.Unmarshal(m.raw, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// SaveDocument serializes and stores the document, or fails with SaveErr.
func (m *Memory) SaveDocument(_ context.Context, doc *roster.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	m.raw = raw
	m.Saves++
	return nil
}
