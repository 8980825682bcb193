package paginator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "attachdl/pkg/errors"
	"attachdl/pkg/logger"
	"attachdl/pkg/models"
	"attachdl/pkg/retry"
)

// sliceSource serves records from memory using the record index as the token.
// A non-zero chunk caps every response the way a service truncates large pages.
type sliceSource struct {
	mu      sync.Mutex
	records []models.Descriptor
	chunk   int
	calls   int
	errs    []error
}

func (s *sliceSource) FetchPage(ctx context.Context, token string, limit int) (models.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return models.Page{}, err
	}

	start := 0
	if token != "" {
		fmt.Sscanf(token, "%d", &start)
	}
	if s.chunk > 0 && s.chunk < limit {
		limit = s.chunk
	}
	end := start + limit
	if end > len(s.records) {
		end = len(s.records)
	}
	page := models.Page{Records: s.records[start:end], Done: end == len(s.records)}
	if end > start {
		page.NextToken = fmt.Sprintf("%d", end)
	}
	return page, nil
}

func records(n int) []models.Descriptor {
	out := make([]models.Descriptor, n)
	for i := range out {
		out[i] = models.Descriptor{ID: fmt.Sprintf("00P%012d", i), ByteSize: 1}
	}
	return out
}

func fastPolicy(attempts int) *retry.Policy {
	return retry.NewPolicy(&retry.Config{
		MaxAttempts: attempts,
		Backoff:     &retry.ConstantBackoff{Delay: time.Millisecond},
		Logger:      logger.NewNopLogger(),
	})
}

func TestNewValidatesBatchSize(t *testing.T) {
	_, err := New(&sliceSource{}, nil, 0, nil)
	assert.Error(t, err)
	_, err = New(&sliceSource{}, nil, 2001, nil)
	assert.Error(t, err)
	p, err := New(&sliceSource{}, nil, 2000, nil)
	require.NoError(t, err)
	assert.Equal(t, 2000, p.BatchSize())
}

func TestWalkRecordSet(t *testing.T) {
	src := &sliceSource{records: records(450)}
	p, err := New(src, fastPolicy(3), 200, nil)
	require.NoError(t, err)

	var (
		cursor models.Cursor
		sizes  []int
		seen   = map[string]bool{}
	)
	for {
		b, err := p.NextBatch(context.Background(), cursor)
		require.NoError(t, err)
		assert.Equal(t, cursor, b.Cursor)
		assert.Equal(t, cursor.Sequence, b.Sequence)
		assert.Equal(t, cursor.Sequence+1, b.Next.Sequence)
		sizes = append(sizes, b.Size())
		for _, d := range b.Descriptors {
			assert.False(t, seen[d.ID], "duplicate %s", d.ID)
			seen[d.ID] = true
		}
		cursor = b.Next
		if b.Final {
			break
		}
	}

	assert.Equal(t, []int{200, 200, 50}, sizes)
	assert.Len(t, seen, 450)
	assert.Equal(t, 3, src.calls)
}

func TestExactMultipleEndsWithEmptyFinalBatch(t *testing.T) {
	src := &sliceSource{records: records(4)}
	p, err := New(src, fastPolicy(1), 2, nil)
	require.NoError(t, err)

	b, err := p.NextBatch(context.Background(), models.Cursor{})
	require.NoError(t, err)
	assert.False(t, b.Final)
	b, err = p.NextBatch(context.Background(), b.Next)
	require.NoError(t, err)
	assert.False(t, b.Final)

	last, err := p.NextBatch(context.Background(), b.Next)
	require.NoError(t, err)
	assert.True(t, last.Final)
	assert.Zero(t, last.Size())
	// an empty page keeps the token it started from
	assert.Equal(t, b.Next.Token, last.Next.Token)
}

func TestShortPageThatIsNotDoneContinues(t *testing.T) {
	src := &sliceSource{records: records(5), chunk: 2}
	p, err := New(src, fastPolicy(1), 10, nil)
	require.NoError(t, err)

	b, err := p.NextBatch(context.Background(), models.Cursor{})
	require.NoError(t, err)
	assert.Equal(t, 2, b.Size())
	assert.False(t, b.Final, "a truncated page must not end the walk")

	var sizes []int
	total := b.Size()
	for !b.Final {
		b, err = p.NextBatch(context.Background(), b.Next)
		require.NoError(t, err)
		sizes = append(sizes, b.Size())
		total += b.Size()
	}
	assert.Equal(t, []int{2, 1}, sizes)
	assert.Equal(t, 5, total)
	assert.Equal(t, 3, src.calls)
}

func TestEmptyPageIsFinalEvenWhenNotDone(t *testing.T) {
	src := &emptySource{}
	p, err := New(src, fastPolicy(1), 10, nil)
	require.NoError(t, err)

	b, err := p.NextBatch(context.Background(), models.Cursor{Token: "7", Sequence: 3})
	require.NoError(t, err)
	assert.True(t, b.Final)
	assert.Equal(t, "7", b.Next.Token)
}

type emptySource struct{}

func (emptySource) FetchPage(context.Context, string, int) (models.Page, error) {
	return models.Page{}, nil
}

func TestTransientErrorsAreRetried(t *testing.T) {
	src := &sliceSource{
		records: records(3),
		errs: []error{
			errs.New(errs.ErrorTypeServerError, 503, "Service Unavailable"),
			errs.New(errs.ErrorTypeRateLimit, 429, "Too Many Requests"),
		},
	}
	p, err := New(src, fastPolicy(5), 10, nil)
	require.NoError(t, err)

	b, err := p.NextBatch(context.Background(), models.Cursor{})
	require.NoError(t, err)
	assert.Equal(t, 3, b.Size())
	assert.True(t, b.Final)
	assert.Equal(t, 3, src.calls)
}

func TestExhaustedRetries(t *testing.T) {
	transient := errs.New(errs.ErrorTypeServerError, 500, "Internal Server Error")
	src := &sliceSource{errs: []error{transient, transient, transient}}
	p, err := New(src, fastPolicy(3), 10, nil)
	require.NoError(t, err)

	_, err = p.NextBatch(context.Background(), models.Cursor{})
	require.Error(t, err)
	assert.Equal(t, errs.KindExhaustedRetries, errs.KindOf(err))
	assert.Equal(t, 3, src.calls)
}

func TestPermanentErrorIsNotRetried(t *testing.T) {
	src := &sliceSource{errs: []error{errs.New(errs.ErrorTypeAuth, 401, "Unauthorized")}}
	p, err := New(src, fastPolicy(5), 10, nil)
	require.NoError(t, err)

	_, err = p.NextBatch(context.Background(), models.Cursor{})
	require.Error(t, err)
	assert.True(t, errs.IsAuth(err))
	assert.Equal(t, 1, src.calls)
}

func TestCancelledContext(t *testing.T) {
	src := &sliceSource{records: records(3)}
	p, err := New(src, fastPolicy(5), 10, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.NextBatch(ctx, models.Cursor{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, src.calls)
}
