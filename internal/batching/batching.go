// Package batching groups disagreement records into the fixed size batches
// shown on the version control dashboard. The grouping is informational; the
// version ledger decides which version is trained.
package batching

import (
	"fmt"

	"github.com/dili-feedback-server/internal/domain"
)

// DefaultSize is the number of disagreements that make up one batch
const DefaultSize = 10

// Batch is one chunk of disagreement records
type Batch struct {
	Index    int                      `json:"index"`
	Label    string                   `json:"label"`
	Records  []*domain.FeedbackRecord `json:"records"`
	Complete bool                     `json:"complete"`
}

// Chunk splits records into consecutive batches of size, in input order.
// Only the last batch may be short. A non-positive size uses DefaultSize.
func Chunk(records []*domain.FeedbackRecord, size int) []Batch {
	if size <= 0 {
		size = DefaultSize
	}

	batches := make([]Batch, 0, (len(records)+size-1)/size)
	for start := 0; start < len(records); start += size {
		end := start + size
		if end > len(records) {
			end = len(records)
		}
		i := len(batches)
		batches = append(batches, Batch{
			Index:    i,
			Label:    fmt.Sprintf("Version %d.0", i+1),
			Records:  records[start:end:end],
			Complete: end-start == size,
		})
	}
	return batches
}

// CompleteCount returns how many full batches n records make
func CompleteCount(n int64, size int) int64 {
	if size <= 0 {
		size = DefaultSize
	}
	return n / int64(size)
}

// TargetVersion is the version the next training run aims for: one past the
// number of complete batches.
func TargetVersion(disagreements int64, size int) int64 {
	return CompleteCount(disagreements, size) + 1
}
