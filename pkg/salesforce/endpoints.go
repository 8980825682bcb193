package salesforce

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

const (
	// DefaultAPIVersion is used when no version is configured
	DefaultAPIVersion = "58.0"

	// DefaultLoginURL is the production login host
	DefaultLoginURL = "https://login.salesforce.com"

	// MaxQueryLimit is the largest LIMIT the query endpoint accepts per page
	MaxQueryLimit = 2000

	// soqlDateTime is the SOQL datetime literal layout; CreatedDate has second precision
	soqlDateTime = "2006-01-02T15:04:05Z"

	markerSeparator = "|"
)

// AttachmentFields are the Attachment columns selected by every page query.
var AttachmentFields = []string{
	"Id", "ParentId", "Name", "BodyLength", "ContentType", "CreatedDate",
	"CreatedById", "Description", "IsDeleted", "IsPrivate", "LastModifiedById",
	"LastModifiedDate", "OwnerId", "SystemModstamp",
}

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9]{15}([a-zA-Z0-9]{3})?$`)

// IsValidID reports whether id has the shape of a Salesforce record ID.
func IsValidID(id string) bool {
	return idPattern.MatchString(id)
}

// Marker is the keyset position after the last record of a page.
type Marker struct {
	CreatedDate time.Time
	ID          string
}

// Token encodes the marker as an opaque cursor token.
func (m Marker) Token() string {
	if m.ID == "" {
		return ""
	}
	return m.CreatedDate.UTC().Format(soqlDateTime) + markerSeparator + m.ID
}

// ParseMarker decodes a token produced by Marker.Token. The empty token is the start of the set.
func ParseMarker(token string) (Marker, error) {
	if token == "" {
		return Marker{}, nil
	}

	date, id, ok := strings.Cut(token, markerSeparator)
	if !ok {
		return Marker{}, fmt.Errorf("invalid cursor token %q", token)
	}
	t, err := time.Parse(soqlDateTime, date)
	if err != nil {
		return Marker{}, fmt.Errorf("invalid cursor date %q: %w", date, err)
	}
	if !IsValidID(id) {
		return Marker{}, fmt.Errorf("invalid cursor record id %q", id)
	}
	return Marker{CreatedDate: t, ID: id}, nil
}

// BuildQuery returns the page query after marker. Records are ordered newest first with
// Id as tiebreaker, so the keyset condition selects everything strictly after the marker.
func BuildQuery(marker Marker, limit int) string {
	if limit <= 0 || limit > MaxQueryLimit {
		limit = MaxQueryLimit
	}

	conditions := []string{"BodyLength > 0"}
	if marker.ID != "" {
		date := marker.CreatedDate.UTC().Format(soqlDateTime)
		conditions = append(conditions, fmt.Sprintf(
			"(CreatedDate < %s OR (CreatedDate = %s AND Id > '%s'))", date, date, marker.ID))
	}

	return fmt.Sprintf("SELECT %s FROM Attachment WHERE %s ORDER BY CreatedDate DESC, Id ASC LIMIT %d",
		strings.Join(AttachmentFields, ", "), strings.Join(conditions, " AND "), limit)
}

// QueryURL constructs the REST query URL for soql.
func QueryURL(instanceURL, apiVersion, soql string) string {
	params := url.Values{}
	params.Set("q", soql)
	return fmt.Sprintf("%s/services/data/v%s/query/?%s", strings.TrimRight(instanceURL, "/"), apiVersion, params.Encode())
}

// BodyPath is the instance-relative path of an attachment's binary content.
func BodyPath(apiVersion, id string) string {
	return fmt.Sprintf("/services/data/v%s/sobjects/Attachment/%s/Body", apiVersion, id)
}

// LoginEndpoint is the SOAP partner login URL for apiVersion.
func LoginEndpoint(loginURL, apiVersion string) string {
	if loginURL == "" {
		loginURL = DefaultLoginURL
	}
	return fmt.Sprintf("%s/services/Soap/u/%s", strings.TrimRight(loginURL, "/"), apiVersion)
}

// InstanceFromServerURL strips the service path from a SOAP serverUrl.
func InstanceFromServerURL(serverURL string) string {
	if i := strings.Index(serverURL, "/services"); i >= 0 {
		return serverURL[:i]
	}
	return strings.TrimRight(serverURL, "/")
}
