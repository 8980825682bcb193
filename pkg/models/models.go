package models

import "time"

// Descriptor identifies one remote attachment to transfer. Produced only by the paginator.
type Descriptor struct {
	ID              string     `json:"id"`
	ParentID        string     `json:"parent_id"`
	FileName        string     `json:"file_name"`
	ByteSize        int64      `json:"byte_size"`
	ContentType     string     `json:"content_type,omitempty"`
	CreatedDate     time.Time  `json:"created_date"`
	ContentEndpoint string     `json:"content_endpoint"`
	Attributes      Attributes `json:"attributes"`
}

// Attributes are the remaining record fields carried through to the metadata log.
type Attributes struct {
	Description      string    `json:"description,omitempty"`
	OwnerID          string    `json:"owner_id,omitempty"`
	CreatedByID      string    `json:"created_by_id,omitempty"`
	LastModifiedByID string    `json:"last_modified_by_id,omitempty"`
	IsPrivate        bool      `json:"is_private"`
	IsDeleted        bool      `json:"is_deleted"`
	LastModifiedDate time.Time `json:"last_modified_date"`
	SystemModstamp   time.Time `json:"system_modstamp"`
}

// Cursor marks a position in the remote record set. Token is opaque outside the remote client.
type Cursor struct {
	Token    string `json:"token"`
	Sequence int64  `json:"sequence"`
}

// IsStart reports whether the cursor points at the beginning of the record set.
func (c Cursor) IsStart() bool {
	return c.Token == "" && c.Sequence == 0
}

type Page struct {
	Records   []Descriptor
	NextToken string
	// Done is set when the service holds no further records for the query.
	Done bool
}

// Batch is one page of descriptors together with the cursors around it.
type Batch struct {
	Sequence    int64
	Descriptors []Descriptor
	Cursor      Cursor
	Next        Cursor
	Final       bool
}

func (b *Batch) Size() int {
	return len(b.Descriptors)
}

// Outcome is the terminal result of one descriptor. Err is nil on success.
type Outcome struct {
	Descriptor Descriptor
	BatchSeq   int64
	LocalPath  string
	Attempts   int
	Bytes      int64
	Skipped    bool
	Err        error
	Duration   time.Duration
}

func (o Outcome) Success() bool {
	return o.Err == nil
}
