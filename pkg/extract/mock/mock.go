// Package mock provides a test double for the extract.Extractor interface.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/podforge/podforge/pkg/extract"
)

// Extractor is a mock implementation of extract.Extractor. Results are
// keyed by source; sources without an entry return an error, which lets a
// test mark individual sources as broken.
type Extractor struct {
	mu sync.Mutex

	// Results maps source locator to the extraction result.
	Results map[string]*extract.Result

	// Err, if non-nil, is returned for every source regardless of Results.
	Err error

	// Calls records every extracted source in order.
	Calls []string
}

// Extract implements extract.Extractor.
func (e *Extractor) Extract(_ context.Context, source string) (*extract.Result, error) {
	e.mu.Lock()
	e.Calls = append(e.Calls, source)
	err := e.Err
	res := e.Results[source]
	e.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, fmt.Errorf("mock: no content for %s", source)
	}
	return res, nil
}

var _ extract.Extractor = (*Extractor)(nil)
