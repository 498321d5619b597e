// Package icp defines the core types shared by the ICP registration exporter.
package icp

import (
	"net/url"
	"time"
)

const (
	// TruncationCap is the row count at which the bulk export is assumed truncated.
	TruncationCap = 1000
	// MaxPages bounds the paginated fallback regardless of the reported page total.
	MaxPages = 50
	// DayLayout is the date form the upstream service expects.
	DayLayout = "2006-01-02"
	// InputLayout is the date form accepted on the command line.
	InputLayout = "20060102"
)

// Record is one registration row. ID is a placeholder until a sink assigns it.
type Record struct {
	ID            string `json:"id"`
	Domain        string `json:"domain"`
	OwnerName     string `json:"owner_name"`
	OwnerType     string `json:"owner_type"`
	CertificateID string `json:"certificate_id"`
	SiteName      string `json:"site_name"`
	Homepage      string `json:"homepage"`
	RegisteredAt  string `json:"registered_at"`
}

// FieldNames lists the content columns in persisted order.
var FieldNames = []string{
	"domain",
	"owner_name",
	"owner_type",
	"certificate_id",
	"site_name",
	"homepage",
	"registered_at",
}

// Fields returns the content values in FieldNames order.
func (r Record) Fields() []string {
	return []string{
		r.Domain,
		r.OwnerName,
		r.OwnerType,
		r.CertificateID,
		r.SiteName,
		r.Homepage,
		r.RegisteredAt,
	}
}

// RecordFromFields builds a Record from up to seven positional values.
// Missing trailing values are left empty.
func RecordFromFields(values []string) Record {
	var f [7]string
	copy(f[:], values)
	return Record{
		Domain:        f[0],
		OwnerName:     f[1],
		OwnerType:     f[2],
		CertificateID: f[3],
		SiteName:      f[4],
		Homepage:      f[5],
		RegisteredAt:  f[6],
	}
}

// Unit is the (day, province) pair fetched by one task.
type Unit struct {
	Date     time.Time
	Province string
}

// Day returns the unit's date in upstream form.
func (u Unit) Day() string {
	return u.Date.Format(DayLayout)
}

// Mode records which retrieval path produced a day's rows.
type Mode string

// Retrieval modes.
const (
	ModeExport Mode = "export"
	ModePages  Mode = "pages"
)

// DayResult is the outcome of one Unit.
type DayResult struct {
	Unit         Unit
	Rows         []Record
	Mode         Mode
	Truncated    bool
	PagesFetched int
	PagesFailed  int
	Err          error
}

// RunResult aggregates every DayResult of a run.
type RunResult struct {
	Days []DayResult
	Rows []Record
}

// Page is one parsed page of the paginated listing.
type Page struct {
	TotalPages int
	Rows       []Record
}

// Request describes one upstream HTTP call.
type Request struct {
	Method string
	URL    string
	Form   url.Values
}

// Payload is the raw body returned for a Request.
type Payload struct {
	Body        []byte
	ContentType string
	StatusCode  int
	Duration    time.Duration
}

// Summary is reported (and optionally published) at the end of a run.
type Summary struct {
	RunID       string    `json:"run_id"`
	Province    string    `json:"province"`
	Start       string    `json:"start"`
	End         string    `json:"end"`
	Days        int       `json:"days"`
	DaysFailed  int       `json:"days_failed"`
	Fallbacks   int       `json:"fallbacks"`
	PagesFailed int       `json:"pages_failed"`
	Rows        int       `json:"rows"`
	Written     int       `json:"written"`
	WriteFailed int       `json:"write_failed"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
}
