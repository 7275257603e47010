// Package index keeps a reduced projection of workflow instances per media package.
package index

import (
	"context"
	"sync"

	"github.com/dukex/mediaflow/pkg/protocol"
)

// MemoryIndex is an in-process protocol.Index.
type MemoryIndex struct {
	mu      sync.RWMutex
	entries map[string]protocol.IndexEntry
}

var _ protocol.Index = (*MemoryIndex)(nil)

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{entries: make(map[string]protocol.IndexEntry)}
}

func documentKey(organization, mediaPackageID string) string {
	return organization + "/" + mediaPackageID
}

func (i *MemoryIndex) UpdateWorkflow(_ context.Context, entry protocol.IndexEntry) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.entries[documentKey(entry.Organization, entry.MediaPackageID)] = entry

	return nil
}

// RemoveWorkflow keeps the document and clears its workflow fields. A document
// already describing another workflow is left alone.
func (i *MemoryIndex) RemoveWorkflow(_ context.Context, organization, mediaPackageID, workflowID string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	key := documentKey(organization, mediaPackageID)
	if entry, ok := i.entries[key]; !ok || entry.WorkflowID != workflowID {
		return nil
	}

	i.entries[key] = protocol.IndexEntry{MediaPackageID: mediaPackageID, Organization: organization}

	return nil
}

// Get returns the document of the media package.
func (i *MemoryIndex) Get(organization, mediaPackageID string) (protocol.IndexEntry, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	entry, ok := i.entries[documentKey(organization, mediaPackageID)]

	return entry, ok
}
