package ui

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"attachdl/pkg/checkpoint"
	errs "attachdl/pkg/errors"
	"attachdl/pkg/models"
	"attachdl/pkg/recorder"
	"attachdl/pkg/transfer"
)

func TestStatusTracker(t *testing.T) {
	st := NewStatusTracker()
	st.Resume(2, 400)
	st.BatchFetched()
	for i := 0; i < 4; i++ {
		st.Started()
	}

	st.Record(models.Outcome{Bytes: 100})
	st.Record(models.Outcome{Skipped: true, Bytes: 50})
	st.Record(models.Outcome{Err: errs.New(errs.ErrorTypeNotFound, 404, "gone")})
	st.Record(models.Outcome{Err: errs.Exhausted(5, errors.New("timeout"))})

	s := st.Snapshot()
	if s.Succeeded != 2 || s.Skipped != 1 {
		t.Errorf("succeeded/skipped = %d/%d, want 2/1", s.Succeeded, s.Skipped)
	}
	if s.Permanent != 1 || s.Exhausted != 1 {
		t.Errorf("permanent/exhausted = %d/%d, want 1/1", s.Permanent, s.Exhausted)
	}
	if s.Bytes != 100 {
		t.Errorf("bytes = %d, want 100 (skipped items are not transferred)", s.Bytes)
	}
	if s.Active != 0 {
		t.Errorf("active = %d, want 0", s.Active)
	}
	if s.Done() != 4 || s.Failed() != 2 {
		t.Errorf("done/failed = %d/%d, want 4/2", s.Done(), s.Failed())
	}
	if s.Sequence != 2 || s.Processed != 400 || s.Fetched != 1 {
		t.Errorf("unexpected checkpoint counters %+v", s)
	}

	st.Checkpoint(checkpoint.Checkpoint{Cursor: models.Cursor{Sequence: 3}, ProcessedCount: 404})
	if s := st.Snapshot(); s.Sequence != 3 || s.Processed != 404 {
		t.Errorf("checkpoint not applied: %+v", s)
	}
}

func TestStatusRate(t *testing.T) {
	s := Status{Succeeded: 30, Elapsed: 30 * time.Second}
	if got := s.Rate(); got != 60 {
		t.Errorf("Rate() = %f, want 60", got)
	}
	if got := (Status{Succeeded: 5}).Rate(); got != 0 {
		t.Errorf("Rate() with no elapsed time = %f, want 0", got)
	}
}

func TestBar(t *testing.T) {
	tests := []struct {
		done, total int
		expected    string
	}{
		{0, 10, "░░░░░"},
		{5, 10, "██░░░"},
		{10, 10, "█████"},
		{12, 10, "█████"},
		{3, 0, "░░░░░"},
	}
	for _, test := range tests {
		if got := Bar(test.done, test.total, 5); got != test.expected {
			t.Errorf("Bar(%d, %d) = %s, expected %s", test.done, test.total, got, test.expected)
		}
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		bytes    int64
		expected string
	}{
		{500, "500 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{1024 * 1024, "1.0 MB"},
		{5 * 1024 * 1024 * 1024, "5.0 GB"},
	}

	for _, test := range tests {
		result := FormatBytes(test.bytes)
		if result != test.expected {
			t.Errorf("FormatBytes(%d) = %s, expected %s", test.bytes, result, test.expected)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d        time.Duration
		expected string
	}{
		{42 * time.Second, "42s"},
		{3*time.Minute + 5*time.Second, "3m5s"},
		{2*time.Hour + 15*time.Minute, "2h15m"},
	}
	for _, test := range tests {
		if got := FormatDuration(test.d); got != test.expected {
			t.Errorf("FormatDuration(%v) = %s, expected %s", test.d, got, test.expected)
		}
	}
}

func TestProgressDisplayVerbose(t *testing.T) {
	var out bytes.Buffer
	p := NewProgressDisplay(&out, "acme", true)

	p.RunStarted(transfer.RunInfo{RunID: "run-1", Workers: 4, BatchSize: 2})
	b := &models.Batch{Sequence: 0, Descriptors: []models.Descriptor{
		{ID: "00P000000000001AAA", FileName: "a.pdf"},
		{ID: "00P000000000002AAA", FileName: "b.pdf"},
	}}
	p.BatchFetched(b)
	for _, d := range b.Descriptors {
		p.ItemStarted(d)
	}
	p.OutcomeRecorded(models.Outcome{Descriptor: b.Descriptors[0], Bytes: 2048})
	p.OutcomeRecorded(models.Outcome{Descriptor: b.Descriptors[1], Err: errs.New(errs.ErrorTypeNotFound, 404, "gone")})
	p.CheckpointSaved(checkpoint.Checkpoint{Cursor: models.Cursor{Sequence: 1}, ProcessedCount: 2})

	got := out.String()
	for _, want := range []string{"Starting run", "Fetched batch 0", "00P000000000001AAA", "2.0 KB", "gone", "Checkpoint at batch 1"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if len(p.sizes) != 0 || len(p.recorded) != 0 {
		t.Errorf("flushed batches should be forgotten")
	}
}

func TestProgressDisplayComplete(t *testing.T) {
	var out bytes.Buffer
	p := NewProgressDisplay(&out, "acme", false)

	p.Complete(&transfer.Result{
		Summary: recorder.Summary{Succeeded: 10, Skipped: 3, PermanentFailures: 1, Bytes: 4096},
		Checkpoint: checkpoint.Checkpoint{
			Cursor:         models.Cursor{Sequence: 2},
			ProcessedCount: 11,
			Completed:      true,
		},
		Completed: true,
		Duration:  90 * time.Second,
	}, nil)

	got := out.String()
	for _, want := range []string{"Transferred 7 attachments", "4.0 KB", "1m30s", "3 already present", "1 failed permanently", "11 processed"} {
		if !strings.Contains(got, want) {
			t.Errorf("summary missing %q:\n%s", want, got)
		}
	}
}

func TestProgressDisplayNothingToDo(t *testing.T) {
	var out bytes.Buffer
	p := NewProgressDisplay(&out, "acme", false)

	p.Complete(&transfer.Result{
		Checkpoint: checkpoint.Checkpoint{ProcessedCount: 450, Completed: true, RunID: "run-0"},
		Completed:  true,
	}, nil)

	if !strings.Contains(out.String(), "Nothing to do") {
		t.Errorf("unexpected summary:\n%s", out.String())
	}
}

func TestProgressDisplayInterrupted(t *testing.T) {
	var out bytes.Buffer
	p := NewProgressDisplay(&out, "acme", false)

	p.Complete(&transfer.Result{
		Summary:     recorder.Summary{Succeeded: 1},
		Checkpoint:  checkpoint.Checkpoint{Cursor: models.Cursor{Sequence: 4}},
		Interrupted: true,
	}, nil)

	if !strings.Contains(out.String(), "resumes at batch 4") {
		t.Errorf("unexpected summary:\n%s", out.String())
	}
}
