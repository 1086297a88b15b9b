package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// YearRange is an inclusive [Start, End] range of years.
type YearRange struct {
	Start int
	End   int
}

// Contains reports whether year lies inside the range.
func (y YearRange) Contains(year int) bool {
	return year >= y.Start && year <= y.End
}

// Years returns every year in the range in ascending order.
func (y YearRange) Years() []int {
	if y.End < y.Start {
		return nil
	}
	years := make([]int, 0, y.End-y.Start+1)
	for year := y.Start; year <= y.End; year++ {
		years = append(years, year)
	}
	return years
}

func (y YearRange) String() string {
	return fmt.Sprintf("%d-%d", y.Start, y.End)
}

// CaptureSession is the unit of caching: an ordered set of records plus the
// year range they were extracted for.
type CaptureSession struct {
	ID        string
	CreatedAt time.Time
	Years     YearRange
	Partial   bool

	records []*OrderRecord
	sealed  bool
}

// NewCaptureSession opens a session created at now.
func NewCaptureSession(years YearRange, now time.Time) *CaptureSession {
	now = now.UTC()
	return &CaptureSession{
		ID:        NewSessionID(now),
		CreatedAt: now,
		Years:     years,
	}
}

// RestoreCaptureSession rebuilds an already sealed session, e.g. from a cache entry.
func RestoreCaptureSession(id string, createdAt time.Time, years YearRange, partial bool, records []*OrderRecord) *CaptureSession {
	return &CaptureSession{
		ID:        id,
		CreatedAt: createdAt.UTC(),
		Years:     years,
		Partial:   partial,
		records:   records,
		sealed:    true,
	}
}

// NewSessionID derives a session id from the creation time plus a random suffix.
func NewSessionID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return now.UTC().Format("20060102T150405Z") + "-" + suffix
}

// Append adds records in extraction order.
func (s *CaptureSession) Append(records ...*OrderRecord) error {
	if s.sealed {
		return fmt.Errorf("Append: session %s is sealed", s.ID)
	}
	s.records = append(s.records, records...)
	return nil
}

// Seal makes the session immutable. Sealing twice is a no-op.
func (s *CaptureSession) Seal() {
	s.sealed = true
}

// Sealed reports whether the session accepts further records.
func (s *CaptureSession) Sealed() bool {
	return s.sealed
}

// Len returns the number of records in the session.
func (s *CaptureSession) Len() int {
	return len(s.records)
}

// Records returns a copy of the records so callers can mutate their working set
// without touching the session.
func (s *CaptureSession) Records() []*OrderRecord {
	out := make([]*OrderRecord, len(s.records))
	for i, r := range s.records {
		rec := *r
		out[i] = &rec
	}
	return out
}
