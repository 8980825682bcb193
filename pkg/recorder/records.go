package recorder

import (
	"strconv"
	"time"

	errs "attachdl/pkg/errors"
	"attachdl/pkg/models"
)

// MetadataRecord is one row of the success log.
type MetadataRecord struct {
	RemoteID    string
	ParentID    string
	FileName    string
	ByteSize    int64
	ContentType string
	CreatedDate time.Time
	LocalPath   string
	Attempts    int
	CompletedAt time.Time
	RunID       string
	// Skipped rows describe content that was already in place; Attempts is zero.
	Skipped    bool
	Attributes models.Attributes
}

// ErrorRecord is one row of the failure log.
type ErrorRecord struct {
	RemoteID   string
	FileName   string
	Attempts   int
	Kind       errs.Kind
	Type       errs.ErrorType
	Message    string
	OccurredAt time.Time
	RunID      string
}

var (
	metadataHeader = []string{
		"remote_id", "parent_id", "file_name", "byte_size", "content_type",
		"created_date", "local_path", "attempts", "completed_at", "run_id",
		"skipped", "description", "owner_id", "created_by_id", "last_modified_by_id",
		"is_private", "is_deleted", "last_modified_date", "system_modstamp",
	}
	errorHeader = []string{
		"remote_id", "file_name", "attempts", "last_error_kind", "last_error_type",
		"last_error_message", "occurred_at", "run_id",
	}
)

func (m MetadataRecord) row() []string {
	return []string{
		m.RemoteID,
		m.ParentID,
		m.FileName,
		strconv.FormatInt(m.ByteSize, 10),
		m.ContentType,
		formatTime(m.CreatedDate),
		m.LocalPath,
		strconv.Itoa(m.Attempts),
		formatTime(m.CompletedAt),
		m.RunID,
		strconv.FormatBool(m.Skipped),
		m.Attributes.Description,
		m.Attributes.OwnerID,
		m.Attributes.CreatedByID,
		m.Attributes.LastModifiedByID,
		strconv.FormatBool(m.Attributes.IsPrivate),
		strconv.FormatBool(m.Attributes.IsDeleted),
		formatTime(m.Attributes.LastModifiedDate),
		formatTime(m.Attributes.SystemModstamp),
	}
}

func (e ErrorRecord) row() []string {
	return []string{
		e.RemoteID,
		e.FileName,
		strconv.Itoa(e.Attempts),
		string(e.Kind),
		string(e.Type),
		e.Message,
		formatTime(e.OccurredAt),
		e.RunID,
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func metadataFromOutcome(o models.Outcome, runID string, now time.Time) MetadataRecord {
	d := o.Descriptor
	return MetadataRecord{
		RemoteID:    d.ID,
		ParentID:    d.ParentID,
		FileName:    d.FileName,
		ByteSize:    o.Bytes,
		ContentType: d.ContentType,
		CreatedDate: d.CreatedDate,
		LocalPath:   o.LocalPath,
		Attempts:    o.Attempts,
		CompletedAt: now,
		RunID:       runID,
		Skipped:     o.Skipped,
		Attributes:  d.Attributes,
	}
}

func errorFromOutcome(o models.Outcome, kind errs.Kind, runID string, now time.Time) ErrorRecord {
	return ErrorRecord{
		RemoteID:   o.Descriptor.ID,
		FileName:   o.Descriptor.FileName,
		Attempts:   o.Attempts,
		Kind:       kind,
		Type:       errs.TypeOf(o.Err),
		Message:    o.Err.Error(),
		OccurredAt: now,
		RunID:      runID,
	}
}
