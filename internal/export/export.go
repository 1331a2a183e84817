// Package export renders harvested links as CSV artifacts and writes them to
// a blob store.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/linkforge/harvester/internal/harvest"
)

var csvHeader = []string{
	"rank", "page_number", "url", "canonical_url",
	"title", "snippet", "display_link", "formatted_url", "fetched_at",
}

// Exporter snapshots a combination's links into a CSV object.
type Exporter struct {
	combos harvest.CombinationStore
	links  harvest.LinkStore
	blobs  harvest.BlobStore
	clock  harvest.Clock
	logger *zap.Logger
}

// New wires an Exporter.
func New(combos harvest.CombinationStore, links harvest.LinkStore, blobs harvest.BlobStore, clock harvest.Clock, logger *zap.Logger) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{
		combos: combos,
		links:  links,
		blobs:  blobs,
		clock:  clock,
		logger: logger,
	}
}

// Result describes one finished export.
type Result struct {
	URI       string    `json:"uri"`
	LinkCount int       `json:"link_count"`
	CreatedAt time.Time `json:"created_at"`
}

// Export writes all links of the combination, ordered by rank, to the blob
// store and returns the artifact location.
func (e *Exporter) Export(ctx context.Context, combinationID uuid.UUID) (Result, error) {
	if _, err := e.combos.GetCombination(ctx, combinationID); err != nil {
		return Result{}, err
	}
	links, err := e.links.ListLinks(ctx, combinationID)
	if err != nil {
		return Result{}, fmt.Errorf("list links: %w", err)
	}

	data, err := renderCSV(links)
	if err != nil {
		return Result{}, err
	}

	now := e.clock.Now().UTC()
	path := fmt.Sprintf("exports/%s/links-%s.csv", combinationID, now.Format("20060102T150405Z"))
	uri, err := e.blobs.PutObject(ctx, path, "text/csv", data)
	if err != nil {
		return Result{}, fmt.Errorf("write export object: %w", err)
	}

	e.logger.Info("export written",
		zap.String("combination_id", combinationID.String()),
		zap.String("uri", uri),
		zap.Int("link_count", len(links)))
	return Result{URI: uri, LinkCount: len(links), CreatedAt: now}, nil
}

func renderCSV(links []harvest.Link) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	for _, link := range links {
		row := []string{
			strconv.Itoa(link.Rank),
			strconv.Itoa(link.PageNumber),
			link.URL,
			link.CanonicalURL,
			link.Title,
			link.Snippet,
			link.DisplayLink,
			link.FormattedURL,
			link.FetchedAt.UTC().Format(time.RFC3339),
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}
