package harvest

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// CombinationStore persists query combinations. Implementations must enforce
// the compound uniqueness of the (location, category, dork) triple.
type CombinationStore interface {
	// CreateCombination inserts the record. When the triple already exists the
	// insert is a no-op and created is false.
	CreateCombination(ctx context.Context, c Combination) (created bool, err error)
	GetCombination(ctx context.Context, id uuid.UUID) (Combination, error)
	GetCombinationByTriple(ctx context.Context, t Triple) (Combination, error)
	UpdateCombination(ctx context.Context, c Combination) error
	// ResetCombination deletes all links for the combination and writes the
	// zeroed record in a single atomic operation.
	ResetCombination(ctx context.Context, c Combination) error
}

// LinkStore persists harvested links. Implementations must enforce the
// (combination, canonical URL) uniqueness invariant per row, so duplicate
// inserts are absorbed individually rather than failing the batch.
type LinkStore interface {
	// InsertLinks bulk-inserts the batch and returns the number of rows that
	// actually landed (duplicates excluded).
	InsertLinks(ctx context.Context, links []Link) (int, error)
	ListLinks(ctx context.Context, combinationID uuid.UUID) ([]Link, error)
}

// DorkStore resolves dork references to their query text.
type DorkStore interface {
	GetDork(ctx context.Context, id uuid.UUID) (Dork, error)
}

// CredentialResolver turns a credential reference into a decrypted credential.
type CredentialResolver interface {
	Resolve(ctx context.Context, id uuid.UUID) (Credential, error)
}

// SearchClient performs one paginated fetch against the external provider.
// Provider failures are returned as *ProviderError; transport failures as
// plain errors.
type SearchClient interface {
	Search(ctx context.Context, query string, cred Credential, startIndex int) (SearchPage, error)
}

// Locker is the per-combination single-flight guard. Acquire never blocks;
// callers must treat false as "busy, try later". Release is unconditional.
type Locker interface {
	Acquire(id uuid.UUID) bool
	Release(id uuid.UUID)
}

// Publisher pushes page-completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// BlobStore writes export artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// RunQueue provides enqueue/dequeue semantics for orchestrator runs.
type RunQueue interface {
	Enqueue(ctx context.Context, req RunRequest) error
	Dequeue(ctx context.Context) (RunRequest, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record IDs (UUIDs).
type IDGenerator interface {
	NewRawID() (uuid.UUID, error)
}
