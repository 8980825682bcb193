// Package sftest provides an in-process stand-in for the Salesforce endpoints used by
// attachdl: the SOAP partner login, the REST query endpoint and Attachment bodies.
package sftest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const (
	DefaultUsername      = "integration@example.com"
	DefaultPassword      = "secret"
	DefaultSecurityToken = "TOKEN123"

	datetimeLayout = "2006-01-02T15:04:05.000+0000"

	// UserID owns and last modified every generated attachment.
	UserID = "0055g000000AAAA"
)

// Attachment is one record served by the mock org.
type Attachment struct {
	ID          string
	ParentID    string
	Name        string
	ContentType string
	CreatedDate time.Time
	Description string
	IsPrivate   bool
	Body        []byte
	// ReportedLength overrides BodyLength in query results when non-zero
	ReportedLength int64
}

func (a *Attachment) bodyLength() int64 {
	if a.ReportedLength != 0 {
		return a.ReportedLength
	}
	return int64(len(a.Body))
}

// Server simulates a Salesforce org.
type Server struct {
	*httptest.Server
	APIVersion string

	Username      string
	Password      string
	SecurityToken string

	mu          sync.Mutex
	attachments []*Attachment
	byID        map[string]*Attachment
	token       string
	tokenSeq    int
	retryAfter  string
	bodyFaults  map[string][]int
	queryFaults []int
	bodyGets    map[string]int
	bodyDelay   time.Duration
	queryChunk  int

	logins      int32
	queries     int32
	inFlight    int32
	maxInFlight int32
}

var (
	limitPattern  = regexp.MustCompile(`LIMIT (\d+)`)
	keysetPattern = regexp.MustCompile(`CreatedDate < (\S+) OR \(CreatedDate = \S+ AND Id > '([^']+)'\)`)
	bodyPattern   = regexp.MustCompile(`^/services/data/v[\d.]+/sobjects/Attachment/([^/]+)/Body$`)
	userPattern   = regexp.MustCompile(`<urn:username>(.*?)</urn:username>`)
	passPattern   = regexp.MustCompile(`<urn:password>(.*?)</urn:password>`)
)

// New starts a server that is closed when the test ends.
func New(t testing.TB) *Server {
	s := &Server{
		APIVersion:    "58.0",
		Username:      DefaultUsername,
		Password:      DefaultPassword,
		SecurityToken: DefaultSecurityToken,
		byID:          make(map[string]*Attachment),
		bodyFaults:    make(map[string][]int),
		bodyGets:      make(map[string]int),
		token:         "00D000000000001!session-1",
		tokenSeq:      1,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/services/Soap/u/", s.handleLogin)
	mux.HandleFunc("/services/data/", s.handleData)

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// Generate builds n attachments. Every third record shares its creation second with the
// previous one so that paging has to break ties on Id.
func Generate(n int, newest time.Time) []Attachment {
	out := make([]Attachment, 0, n)
	created := newest.UTC().Truncate(time.Second)
	for i := 0; i < n; i++ {
		if i%3 != 2 {
			created = created.Add(-time.Minute)
		}
		size := 64 + (i*37)%2048
		out = append(out, Attachment{
			ID:          fmt.Sprintf("00P5g%010dAAA", i),
			ParentID:    "0015g00000ABCDE",
			Name:        fmt.Sprintf("document-%d.pdf", i),
			ContentType: "application/pdf",
			CreatedDate: created,
			Description: fmt.Sprintf("Generated attachment %d", i),
			Body:        Body(i, size),
		})
	}
	return out
}

// Body returns deterministic content of size bytes.
func Body(seed, size int) []byte {
	b := make([]byte, size)
	for i := range b {
		b[i] = byte('a' + (seed+i)%26)
	}
	return b
}

// Add registers attachments, keeping the query order CreatedDate DESC, Id ASC.
func (s *Server) Add(atts ...Attachment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range atts {
		a := atts[i]
		s.attachments = append(s.attachments, &a)
		s.byID[a.ID] = &a
	}
	sort.SliceStable(s.attachments, func(i, j int) bool {
		a, b := s.attachments[i], s.attachments[j]
		if !a.CreatedDate.Equal(b.CreatedDate) {
			return a.CreatedDate.After(b.CreatedDate)
		}
		return a.ID < b.ID
	})
}

// Token is the currently valid session id.
func (s *Server) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// ExpireToken invalidates the current session; the next login issues a new one.
func (s *Server) ExpireToken() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokenSeq++
	s.token = fmt.Sprintf("00D000000000001!session-%d", s.tokenSeq)
}

// FailBody makes the next requests for id's body answer with statuses, in order.
func (s *Server) FailBody(id string, statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bodyFaults[id] = append(s.bodyFaults[id], statuses...)
}

// FailQuery makes the next query requests answer with statuses, in order.
func (s *Server) FailQuery(statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queryFaults = append(s.queryFaults, statuses...)
}

// SetRetryAfter sets the Retry-After header sent with injected 429 responses.
func (s *Server) SetRetryAfter(v string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retryAfter = v
}

// SetBodyDelay holds every body GET for d before answering.
func (s *Server) SetBodyDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bodyDelay = d
}

// SetQueryChunk caps every query response at n records and reports done=false whenever
// more records match, the way the service splits large result sets.
func (s *Server) SetQueryChunk(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queryChunk = n
}

func (s *Server) Logins() int      { return int(atomic.LoadInt32(&s.logins)) }
func (s *Server) Queries() int     { return int(atomic.LoadInt32(&s.queries)) }
func (s *Server) MaxInFlight() int { return int(atomic.LoadInt32(&s.maxInFlight)) }

// BodyGets counts GET requests for id's body, including failed ones.
func (s *Server) BodyGets(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bodyGets[id]
}

// TotalBodyGets counts GET requests for all bodies.
func (s *Server) TotalBodyGets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.bodyGets {
		total += n
	}
	return total
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt32(&s.logins, 1)
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	data, _ := io.ReadAll(r.Body)
	user := submatch(userPattern, string(data))
	pass := submatch(passPattern, string(data))

	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	if user != s.Username || pass != s.Password+s.SecurityToken {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?>
<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/" xmlns:sf="urn:fault.partner.soap.sforce.com">
<soapenv:Body><soapenv:Fault><faultcode>sf:INVALID_LOGIN</faultcode>
<faultstring>INVALID_LOGIN: Invalid username, password, security token; or user locked out.</faultstring>
</soapenv:Fault></soapenv:Body></soapenv:Envelope>`)
		return
	}

	fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/" xmlns="urn:partner.soap.sforce.com">
<soapenv:Body><loginResponse><result>
<metadataServerUrl>%[1]s/services/Soap/m/%[2]s/00D000000000001</metadataServerUrl>
<passwordExpired>false</passwordExpired>
<serverUrl>%[1]s/services/Soap/u/%[2]s/00D000000000001</serverUrl>
<sessionId>%[3]s</sessionId>
<userId>0055g000000AAAA</userId>
</result></loginResponse></soapenv:Body></soapenv:Envelope>`, s.URL, s.APIVersion, s.Token())
}

func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeErrors(w, http.StatusUnauthorized, "INVALID_SESSION_ID", "Session expired or invalid")
		return
	}

	switch {
	case strings.HasSuffix(r.URL.Path, "/query/") || strings.HasSuffix(r.URL.Path, "/query"):
		s.handleQuery(w, r)
	case bodyPattern.MatchString(r.URL.Path):
		s.handleBody(w, r, bodyPattern.FindStringSubmatch(r.URL.Path)[1])
	default:
		writeErrors(w, http.StatusNotFound, "NOT_FOUND", "The requested resource does not exist")
	}
}

func (s *Server) authorized(r *http.Request) bool {
	return r.Header.Get("Authorization") == "Bearer "+s.Token()
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt32(&s.queries, 1)
	if status := s.nextQueryFault(); status != 0 {
		s.writeFault(w, status)
		return
	}

	soql := r.URL.Query().Get("q")
	limit := -1
	if m := limitPattern.FindStringSubmatch(soql); m != nil {
		limit, _ = strconv.Atoi(m[1])
	}

	var (
		hasMarker bool
		markDate  time.Time
		markID    string
	)
	if m := keysetPattern.FindStringSubmatch(soql); m != nil {
		t, err := time.Parse("2006-01-02T15:04:05Z", m[1])
		if err != nil {
			writeErrors(w, http.StatusBadRequest, "MALFORMED_QUERY", "invalid datetime literal")
			return
		}
		hasMarker, markDate, markID = true, t, m[2]
	}

	s.mu.Lock()
	if limit < 0 {
		limit = len(s.attachments)
	}
	served := limit
	if s.queryChunk > 0 && s.queryChunk < served {
		served = s.queryChunk
	}
	matched := 0
	records := make([]map[string]interface{}, 0, served)
	for _, a := range s.attachments {
		if matched >= limit {
			break
		}
		if a.bodyLength() <= 0 {
			continue
		}
		if hasMarker {
			after := a.CreatedDate.Before(markDate) || (a.CreatedDate.Equal(markDate) && a.ID > markID)
			if !after {
				continue
			}
		}
		matched++
		if len(records) < served {
			records = append(records, s.record(a))
		}
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"totalSize": matched,
		"done":      len(records) == matched,
		"records":   records,
	})
}

func (s *Server) record(a *Attachment) map[string]interface{} {
	created := a.CreatedDate.UTC().Format(datetimeLayout)
	return map[string]interface{}{
		"attributes": map[string]string{
			"type": "Attachment",
			"url":  fmt.Sprintf("/services/data/v%s/sobjects/Attachment/%s", s.APIVersion, a.ID),
		},
		"Id":               a.ID,
		"ParentId":         a.ParentID,
		"Name":             a.Name,
		"BodyLength":       a.bodyLength(),
		"ContentType":      a.ContentType,
		"Description":      a.Description,
		"IsPrivate":        a.IsPrivate,
		"IsDeleted":        false,
		"OwnerId":          UserID,
		"CreatedById":      UserID,
		"CreatedDate":      created,
		"LastModifiedById": UserID,
		"LastModifiedDate": created,
		"SystemModstamp":   created,
	}
}

func (s *Server) handleBody(w http.ResponseWriter, r *http.Request, id string) {
	s.mu.Lock()
	if r.Method == http.MethodGet {
		s.bodyGets[id]++
	}
	a := s.byID[id]
	delay := s.bodyDelay
	s.mu.Unlock()

	if status := s.nextBodyFault(id); status != 0 {
		s.writeFault(w, status)
		return
	}
	if a == nil {
		writeErrors(w, http.StatusNotFound, "NOT_FOUND", "The requested resource does not exist")
		return
	}

	if r.Method == http.MethodGet {
		n := atomic.AddInt32(&s.inFlight, 1)
		defer atomic.AddInt32(&s.inFlight, -1)
		for {
			max := atomic.LoadInt32(&s.maxInFlight)
			if n <= max || atomic.CompareAndSwapInt32(&s.maxInFlight, max, n) {
				break
			}
		}
		if delay > 0 {
			time.Sleep(delay)
		}
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	http.ServeContent(w, r, a.Name, time.Time{}, strings.NewReader(string(a.Body)))
}

func (s *Server) nextQueryFault() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queryFaults) == 0 {
		return 0
	}
	status := s.queryFaults[0]
	s.queryFaults = s.queryFaults[1:]
	return status
}

func (s *Server) nextBodyFault(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	faults := s.bodyFaults[id]
	if len(faults) == 0 {
		return 0
	}
	s.bodyFaults[id] = faults[1:]
	return faults[0]
}

func (s *Server) writeFault(w http.ResponseWriter, status int) {
	switch status {
	case http.StatusTooManyRequests:
		s.mu.Lock()
		retryAfter := s.retryAfter
		s.mu.Unlock()
		if retryAfter != "" {
			w.Header().Set("Retry-After", retryAfter)
		}
		writeErrors(w, status, "REQUEST_LIMIT_EXCEEDED", "TotalRequests Limit exceeded.")
	case http.StatusUnauthorized:
		writeErrors(w, status, "INVALID_SESSION_ID", "Session expired or invalid")
	case http.StatusNotFound:
		writeErrors(w, status, "NOT_FOUND", "The requested resource does not exist")
	default:
		writeErrors(w, status, "SERVER_ERROR", http.StatusText(status))
	}
}

func writeErrors(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode([]map[string]string{{"message": message, "errorCode": code}})
}

func submatch(re *regexp.Regexp, s string) string {
	if m := re.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return ""
}
