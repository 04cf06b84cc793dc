// Package candidate defines the content candidate record shared by the
// queue, the stores, the scrapers and the HTTP handlers.
package candidate

import (
	"strings"
	"time"
)

// Kind is the content type of a candidate.
type Kind string

const (
	KindJoke Kind = "joke"
	KindNews Kind = "news"
	KindMeme Kind = "meme"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindJoke, KindNews, KindMeme:
		return true
	}
	return false
}

// Status is a candidate's position in the lifecycle.
type Status string

const (
	StatusPending  Status = "pending"
	StatusReserved Status = "reserved"
	StatusUsed     Status = "used"
	StatusRejected Status = "rejected"
	StatusDeleted  Status = "deleted"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{StatusPending, StatusReserved, StatusUsed, StatusRejected, StatusDeleted}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, v := range AllStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// Settable reports whether clients may set s directly. Reservations are only
// handed out by the claim.
func (s Status) Settable() bool {
	return s.Valid() && s != StatusReserved
}

// ParseStatus converts a stored value to a Status. Rows written before the
// status field existed have an empty value and read back as pending.
func ParseStatus(v string) Status {
	if v == "" {
		return StatusPending
	}
	return Status(v)
}

const (
	MaxBatchSize         = 50
	DefaultListLimit     = 50
	MaxListLimit         = 200
	DefaultMaxTextLength = 600
	HistogramSampleSize  = 3
)

// Candidate is one scraped content item awaiting production.
type Candidate struct {
	ID            string                 `json:"id"`
	Kind          Kind                   `json:"kind"`
	Source        string                 `json:"source"`
	Language      string                 `json:"language"`
	Title         string                 `json:"title,omitempty"`
	Text          string                 `json:"text"`
	EditedText    string                 `json:"editedText,omitempty"`
	URL           string                 `json:"url,omitempty"`
	ExternalID    string                 `json:"externalId,omitempty"`
	Category      string                 `json:"category,omitempty"`
	ImageURL      string                 `json:"imageUrl,omitempty"`
	RatingPercent *float64               `json:"ratingPercent,omitempty"`
	Meta          map[string]interface{} `json:"meta,omitempty"`
	RawKey        string                 `json:"rawKey,omitempty"`
	Status        Status                 `json:"status"`
	Notes         string                 `json:"notes,omitempty"`
	CreatedAt     time.Time              `json:"createdAt"`
	ReservedAt    *time.Time             `json:"reservedAt,omitempty"`
	UsedAt        *time.Time             `json:"usedAt,omitempty"`
	DeletedAt     *time.Time             `json:"deletedAt,omitempty"`
	PublishedAt   *time.Time             `json:"publishedAt,omitempty"`
	VideoURL      string                 `json:"videoUrl,omitempty"`
	VideoID       string                 `json:"videoId,omitempty"`
}

// DisplayText is the text a producer should render: the operator's edit when
// present, otherwise the scraped text.
func (c *Candidate) DisplayText() string {
	if strings.TrimSpace(c.EditedText) != "" {
		return c.EditedText
	}
	return c.Text
}

// Draft is a scraped item before insertion.
type Draft struct {
	Kind          Kind                   `json:"kind"`
	Source        string                 `json:"source"`
	Language      string                 `json:"language"`
	Title         string                 `json:"title,omitempty"`
	Text          string                 `json:"text"`
	URL           string                 `json:"url,omitempty"`
	ExternalID    string                 `json:"externalId,omitempty"`
	Category      string                 `json:"category,omitempty"`
	ImageURL      string                 `json:"imageUrl,omitempty"`
	RatingPercent *float64               `json:"ratingPercent,omitempty"`
	Meta          map[string]interface{} `json:"meta,omitempty"`
	RawKey        string                 `json:"rawKey,omitempty"`

	// RawHTML is the unparsed snapshot the item was extracted from. It is
	// archived, never stored on the candidate row.
	RawHTML string `json:"-"`
}

// DedupKey identifies the item within its (kind, source) scope: the
// upstream id when known, else the URL, else the text itself.
func (d Draft) DedupKey() string {
	if id := strings.TrimSpace(d.ExternalID); id != "" {
		return "ext:" + id
	}
	if u := strings.TrimSpace(d.URL); u != "" {
		return "url:" + u
	}
	return "text:" + strings.TrimSpace(d.Text)
}

// TextLength counts characters, not bytes.
func TextLength(s string) int {
	return len([]rune(s))
}

// ReserveFilter narrows which pending candidate Reserve may claim.
// Empty fields match everything.
type ReserveFilter struct {
	Kind     Kind     `json:"kind,omitempty"`
	Language string   `json:"language,omitempty"`
	Sources  []string `json:"sources,omitempty"`
}

// ListFilter narrows List, CleanupLongText and Histogram scans.
type ListFilter struct {
	Kind     Kind
	Language string
	Statuses []Status
	Limit    int
}

// ClampLimit applies the list defaults: non-positive → DefaultListLimit,
// above MaxListLimit → MaxListLimit.
func ClampLimit(n int) int {
	if n <= 0 {
		return DefaultListLimit
	}
	if n > MaxListLimit {
		return MaxListLimit
	}
	return n
}

// PublishMeta describes where a used candidate ended up.
type PublishMeta struct {
	VideoURL string `json:"videoUrl"`
	VideoID  string `json:"videoId"`
}

// InsertResult summarizes a batch insertion. Rejected drafts were stored as
// deleted because their text was too long.
type InsertResult struct {
	Inserted int `json:"inserted"`
	Skipped  int `json:"skipped"`
	Rejected int `json:"rejected"`
}

// Add accumulates another batch's counts.
func (r *InsertResult) Add(o InsertResult) {
	r.Inserted += o.Inserted
	r.Skipped += o.Skipped
	r.Rejected += o.Rejected
}

type StatusCount struct {
	Status Status `json:"status"`
	Count  int    `json:"count"`
}

// Histogram is the diagnostic view of the queue.
type Histogram struct {
	Total    int                     `json:"total"`
	ByStatus []StatusCount           `json:"byStatus"`
	Samples  map[Status][]*Candidate `json:"samples"`
}

// ResetResult reports a bulk status reset.
type ResetResult struct {
	Before   map[Status]int `json:"before"`
	Modified int            `json:"modified"`
}
