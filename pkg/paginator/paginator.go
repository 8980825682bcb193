package paginator

import (
	"context"
	"fmt"

	"attachdl/pkg/config"
	"attachdl/pkg/logger"
	"attachdl/pkg/models"
	"attachdl/pkg/retry"
)

// PageSource fetches one page of descriptors starting after token.
type PageSource interface {
	FetchPage(ctx context.Context, token string, limit int) (models.Page, error)
}

// Paginator walks the remote record set one batch at a time. It is forward-only and keeps
// no position of its own: callers pass the cursor to resume from.
type Paginator struct {
	source    PageSource
	policy    *retry.Policy
	batchSize int
	logger    logger.Logger
}

// New creates a paginator. batchSize must be between 1 and config.MaxBatchSize.
func New(source PageSource, policy *retry.Policy, batchSize int, log logger.Logger) (*Paginator, error) {
	if batchSize < 1 || batchSize > config.MaxBatchSize {
		return nil, fmt.Errorf("batch size must be between 1 and %d, got %d", config.MaxBatchSize, batchSize)
	}
	if policy == nil {
		policy = retry.NewPolicy(nil)
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Paginator{
		source:    source,
		policy:    policy,
		batchSize: batchSize,
		logger:    log.WithField("component", "paginator"),
	}, nil
}

func (p *Paginator) BatchSize() int {
	return p.batchSize
}

// NextBatch fetches the batch that starts at cursor. The batch is Final when the page is
// empty, or short and the source reported the result set as done. A short page that is
// not done only means the service truncated the response.
func (p *Paginator) NextBatch(ctx context.Context, cursor models.Cursor) (*models.Batch, error) {
	page, attempts, err := retry.Do(ctx, p.policy, func(ctx context.Context) (models.Page, error) {
		return p.source.FetchPage(ctx, cursor.Token, p.batchSize)
	})
	if err != nil {
		p.logger.ErrorWithFields("Failed to fetch batch", map[string]interface{}{
			"sequence": cursor.Sequence,
			"attempts": attempts,
			"error":    err.Error(),
		})
		return nil, err
	}

	next := page.NextToken
	if next == "" {
		next = cursor.Token
	}

	batch := &models.Batch{
		Sequence:    cursor.Sequence,
		Descriptors: page.Records,
		Cursor:      cursor,
		Next:        models.Cursor{Token: next, Sequence: cursor.Sequence + 1},
		Final:       isLastPage(page, p.batchSize),
	}

	p.logger.DebugWithFields("Fetched batch", map[string]interface{}{
		"sequence": batch.Sequence,
		"size":     batch.Size(),
		"final":    batch.Final,
		"attempts": attempts,
	})
	return batch, nil
}

func isLastPage(page models.Page, batchSize int) bool {
	if len(page.Records) == 0 {
		return true
	}
	return page.Done && len(page.Records) < batchSize
}
