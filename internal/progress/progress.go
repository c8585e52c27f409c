package progress

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sallandpioneers/forgeflow/internal/remote"
)

// Status messages
const (
	StatusCoding          = "🔨 Implementing..."
	StatusTesting         = "🧪 Writing and running tests..."
	StatusReview          = "🔎 Reviewing and merging..."
	StatusWaitingPipeline = "⏳ Waiting for pipeline..."
	StatusRetrying        = "🔄 Retrying issue (attempt %d/%d)..."
	StatusCompleted       = "✨ Completed"
	StatusSkipped         = "✅ Already done, skipped"
	StatusFailed          = "❌ Failed: %s"
)

// Reporter posts and updates a single status note on the issue being
// processed, debounced to bound note churn
type Reporter struct {
	client           remote.Client
	issueIID         int
	noteID           int // 0 until the first note is created
	lastUpdate       time.Time
	debounceInterval time.Duration
	mu               sync.Mutex
	enabled          bool
}

// NewReporter creates a progress reporter for one issue
func NewReporter(client remote.Client, issueIID int, debounceInterval time.Duration, enabled bool) *Reporter {
	return &Reporter{
		client:           client,
		issueIID:         issueIID,
		debounceInterval: debounceInterval,
		enabled:          enabled,
	}
}

// Update posts or updates the status note, skipped when the debounce
// interval has not elapsed yet
func (r *Reporter) Update(ctx context.Context, status string) error {
	if !r.enabled {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if time.Since(r.lastUpdate) < r.debounceInterval && r.noteID != 0 {
		return nil
	}
	return r.doUpdate(ctx, status)
}

// Finalize posts the final status, bypassing the debounce
func (r *Reporter) Finalize(ctx context.Context, status string) error {
	if !r.enabled {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doUpdate(ctx, status)
}

// doUpdate performs the actual update (must be called with lock held)
func (r *Reporter) doUpdate(ctx context.Context, status string) error {
	body := fmt.Sprintf("**Status:** %s", status)

	if r.noteID == 0 {
		noteID, err := r.client.CreateIssueNote(ctx, r.issueIID, body)
		if err != nil {
			return fmt.Errorf("failed to create status note: %w", err)
		}
		r.noteID = noteID
	} else {
		if err := r.client.UpdateIssueNote(ctx, r.issueIID, r.noteID, body); err != nil {
			return fmt.Errorf("failed to update status note: %w", err)
		}
	}

	r.lastUpdate = time.Now()
	return nil
}

// FormatRetrying formats the retry status message
func FormatRetrying(attempt, maxAttempts int) string {
	return fmt.Sprintf(StatusRetrying, attempt, maxAttempts)
}

// FormatFailed formats the failed status message
func FormatFailed(reason string) string {
	return fmt.Sprintf(StatusFailed, reason)
}
