package salesforce

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"attachdl/pkg/models"
)

// QueryResponse is the body returned by the query endpoint
type QueryResponse struct {
	TotalSize      int                `json:"totalSize"`
	Done           bool               `json:"done"`
	NextRecordsURL string             `json:"nextRecordsUrl,omitempty"`
	Records        []AttachmentRecord `json:"records"`
}

// AttachmentRecord is one Attachment row as returned by the REST API
type AttachmentRecord struct {
	ID               string   `json:"Id"`
	ParentID         string   `json:"ParentId"`
	Name             string   `json:"Name"`
	BodyLength       int64    `json:"BodyLength"`
	ContentType      string   `json:"ContentType"`
	CreatedDate      Datetime `json:"CreatedDate"`
	Description      string   `json:"Description,omitempty"`
	OwnerID          string   `json:"OwnerId,omitempty"`
	CreatedByID      string   `json:"CreatedById,omitempty"`
	LastModifiedByID string   `json:"LastModifiedById,omitempty"`
	IsPrivate        bool     `json:"IsPrivate"`
	IsDeleted        bool     `json:"IsDeleted"`
	LastModifiedDate Datetime `json:"LastModifiedDate,omitempty"`
	SystemModstamp   Datetime `json:"SystemModstamp,omitempty"`
}

// Descriptor converts the record into a transfer descriptor for apiVersion.
func (r AttachmentRecord) Descriptor(apiVersion string) models.Descriptor {
	return models.Descriptor{
		ID:              r.ID,
		ParentID:        r.ParentID,
		FileName:        r.Name,
		ByteSize:        r.BodyLength,
		ContentType:     r.ContentType,
		CreatedDate:     r.CreatedDate.Time,
		ContentEndpoint: BodyPath(apiVersion, r.ID),
		Attributes: models.Attributes{
			Description:      r.Description,
			OwnerID:          r.OwnerID,
			CreatedByID:      r.CreatedByID,
			LastModifiedByID: r.LastModifiedByID,
			IsPrivate:        r.IsPrivate,
			IsDeleted:        r.IsDeleted,
			LastModifiedDate: r.LastModifiedDate.Time,
			SystemModstamp:   r.SystemModstamp.Time,
		},
	}
}

// APIError is one entry of the error array the REST API returns on failure
type APIError struct {
	Message   string `json:"message"`
	ErrorCode string `json:"errorCode"`
}

// Datetime parses the API's datetime format, which uses a colon-less zone offset.
type Datetime struct {
	time.Time
}

var datetimeLayouts = []string{
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05-0700",
	time.RFC3339Nano,
}

func (d *Datetime) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		d.Time = time.Time{}
		return nil
	}
	for _, layout := range datetimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			d.Time = t.UTC()
			return nil
		}
	}
	return fmt.Errorf("unrecognised datetime %q", s)
}

func (d Datetime) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte(`""`), nil
	}
	return json.Marshal(d.UTC().Format("2006-01-02T15:04:05.000-0700"))
}
