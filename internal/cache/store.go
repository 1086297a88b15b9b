// Package cache persists capture sessions as one JSON document per session so
// a ledger can be rebuilt without fetching pages again.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/order-ledger/internal/domain"
	"github.com/dvloznov/order-ledger/internal/fsutil"
	"github.com/dvloznov/order-ledger/internal/locale"
)

const (
	// SchemaVersion is the cache document layout written by Save.
	SchemaVersion = 1

	// Latest resolves to the most recently created session.
	Latest = "latest"

	fileExt   = ".json"
	tmpPrefix = ".tmp-"
)

var keyRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

type sessionFile struct {
	SchemaVersion int          `json:"schema_version"`
	SessionID     string       `json:"session_id"`
	CreatedAt     time.Time    `json:"created_at"`
	Partial       bool         `json:"partial"`
	YearRange     []int        `json:"year_range"`
	Records       []recordFile `json:"records"`
}

type recordFile struct {
	OrderID     string            `json:"order_id"`
	OrderDate   string            `json:"order_date"`
	Amount      *decimal.Decimal  `json:"amount"`
	Currency    string            `json:"currency"`
	Description string            `json:"description"`
	Merchant    string            `json:"merchant"`
	SourcePage  domain.SourcePage `json:"source_page"`
}

// SessionInfo summarises a cached session without handing out its records.
type SessionInfo struct {
	Key       string
	CreatedAt time.Time
	Years     domain.YearRange
	Records   int
	Partial   bool
	Path      string
	SizeBytes int64
}

// Store is a directory of cached sessions. Entries are append-only: a saved
// key is never rewritten.
type Store struct {
	dir string
}

// NewStore creates a store rooted at dir. The directory is created on the
// first Save.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the directory backing the store.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the file a key is stored in.
func (s *Store) Path(key string) string {
	return filepath.Join(s.dir, key+fileExt)
}

// Save writes session atomically under its session id and seals it. A session
// that fails to save stays open.
func (s *Store) Save(session *domain.CaptureSession) (string, error) {
	if session == nil {
		return "", fmt.Errorf("Save: nil session")
	}
	key := session.ID
	if !keyRe.MatchString(key) || key == Latest {
		return "", fmt.Errorf("Save: invalid session id %q", key)
	}

	target := s.Path(key)
	if _, err := os.Stat(target); err == nil {
		return "", fmt.Errorf("Save: session %s is already cached", key)
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("Save: stat %s: %w", target, err)
	}

	doc := sessionFile{
		SchemaVersion: SchemaVersion,
		SessionID:     key,
		CreatedAt:     session.CreatedAt.UTC(),
		Partial:       session.Partial,
		YearRange:     []int{session.Years.Start, session.Years.End},
	}
	for _, r := range session.Records() {
		amount := r.Amount
		doc.Records = append(doc.Records, recordFile{
			OrderID:     r.OrderID,
			OrderDate:   r.OrderDate.Format(domain.DateLayout),
			Amount:      &amount,
			Currency:    r.Currency,
			Description: r.Description,
			Merchant:    r.Merchant,
			SourcePage:  r.Source,
		})
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("Save: encode session %s: %w", key, err)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("Save: mkdir %s: %w", s.dir, err)
	}
	if err := fsutil.WriteFileAtomic(target, tmpPrefix+key+"-*", data); err != nil {
		return "", fmt.Errorf("Save: %w", err)
	}
	session.Seal()
	return key, nil
}

// Import validates a cache document produced elsewhere (e.g. downloaded from
// a bucket) and stores it under its session id. Like Save it never replaces an
// existing key.
func (s *Store) Import(data []byte) (string, error) {
	var doc sessionFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", &domain.CacheCorruptError{Key: "import", Err: err}
	}
	key := doc.SessionID
	if !keyRe.MatchString(key) || key == Latest {
		return "", &domain.CacheCorruptError{Key: "import", Err: fmt.Errorf("invalid session id %q", key)}
	}
	if _, _, err := decodeSession(key, &doc); err != nil {
		return "", &domain.CacheCorruptError{Key: key, Err: err}
	}

	target := s.Path(key)
	if _, err := os.Stat(target); err == nil {
		return "", fmt.Errorf("Import: session %s is already cached", key)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("Import: mkdir %s: %w", s.dir, err)
	}
	if err := fsutil.WriteFileAtomic(target, tmpPrefix+key+"-*", data); err != nil {
		return "", fmt.Errorf("Import: %w", err)
	}
	return key, nil
}

// Load returns the sealed session stored under key, or the newest session
// when key is Latest.
func (s *Store) Load(key string) (*domain.CaptureSession, error) {
	key, err := s.resolve(key)
	if err != nil {
		return nil, err
	}

	doc, err := s.read(key)
	if err != nil {
		return nil, err
	}

	records, years, err := decodeSession(key, doc)
	if err != nil {
		return nil, &domain.CacheCorruptError{Key: key, Err: err}
	}
	return domain.RestoreCaptureSession(doc.SessionID, doc.CreatedAt, years, doc.Partial, records), nil
}

// List returns every cached key, newest session first by creation time.
// A missing or empty store yields an empty list.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("List: read %s: %w", s.dir, err)
	}

	type listed struct {
		key     string
		created time.Time
	}
	var found []listed
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, tmpPrefix) || !strings.HasSuffix(name, fileExt) {
			continue
		}
		key := strings.TrimSuffix(name, fileExt)
		if !keyRe.MatchString(key) {
			continue
		}
		created, ok := s.createdAt(key)
		if !ok {
			info, err := e.Info()
			if err != nil {
				continue
			}
			created = info.ModTime()
		}
		found = append(found, listed{key: key, created: created})
	}

	sort.SliceStable(found, func(i, j int) bool {
		if !found[i].created.Equal(found[j].created) {
			return found[i].created.After(found[j].created)
		}
		return found[i].key > found[j].key
	})

	keys := make([]string, 0, len(found))
	for _, f := range found {
		keys = append(keys, f.key)
	}
	return keys, nil
}

// Info describes a cached session.
func (s *Store) Info(key string) (*SessionInfo, error) {
	key, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	session, err := s.Load(key)
	if err != nil {
		return nil, err
	}
	info := &SessionInfo{
		Key:       key,
		CreatedAt: session.CreatedAt,
		Years:     session.Years,
		Records:   session.Len(),
		Partial:   session.Partial,
		Path:      s.Path(key),
	}
	if st, err := os.Stat(info.Path); err == nil {
		info.SizeBytes = st.Size()
	}
	return info, nil
}

func (s *Store) resolve(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" || key == Latest {
		keys, err := s.List()
		if err != nil {
			return "", err
		}
		if len(keys) == 0 {
			return "", &domain.CacheNotFoundError{Key: Latest}
		}
		return keys[0], nil
	}
	key = strings.TrimSuffix(key, fileExt)
	if !keyRe.MatchString(key) {
		return "", &domain.CacheNotFoundError{Key: key}
	}
	return key, nil
}

func (s *Store) read(key string) (*sessionFile, error) {
	data, err := os.ReadFile(s.Path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, &domain.CacheNotFoundError{Key: key}
	}
	if err != nil {
		return nil, fmt.Errorf("Load: read %s: %w", key, err)
	}
	var doc sessionFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &domain.CacheCorruptError{Key: key, Err: err}
	}
	return &doc, nil
}

// createdAt reads just enough of a cache file to order it.
func (s *Store) createdAt(key string) (time.Time, bool) {
	data, err := os.ReadFile(s.Path(key))
	if err != nil {
		return time.Time{}, false
	}
	var head struct {
		CreatedAt time.Time `json:"created_at"`
	}
	if err := json.Unmarshal(data, &head); err != nil || head.CreatedAt.IsZero() {
		return time.Time{}, false
	}
	return head.CreatedAt, true
}

func decodeSession(key string, doc *sessionFile) ([]*domain.OrderRecord, domain.YearRange, error) {
	var years domain.YearRange

	// Documents written before versioning carry no schema_version.
	if doc.SchemaVersion != 0 && doc.SchemaVersion != SchemaVersion {
		return nil, years, fmt.Errorf("unsupported schema_version %d", doc.SchemaVersion)
	}
	if doc.SessionID == "" {
		doc.SessionID = key
	}
	if len(doc.YearRange) != 2 || doc.YearRange[0] > doc.YearRange[1] {
		return nil, years, fmt.Errorf("year_range must be [start, end], got %v", doc.YearRange)
	}
	years = domain.YearRange{Start: doc.YearRange[0], End: doc.YearRange[1]}

	records := make([]*domain.OrderRecord, 0, len(doc.Records))
	for i, rf := range doc.Records {
		rec, err := rf.toRecord(years)
		if err != nil {
			return nil, years, fmt.Errorf("record %d: %w", i, err)
		}
		records = append(records, rec)
	}
	return records, years, nil
}

func (rf recordFile) toRecord(years domain.YearRange) (*domain.OrderRecord, error) {
	if strings.TrimSpace(rf.OrderID) == "" {
		return nil, fmt.Errorf("missing order_id")
	}
	date, err := time.Parse(domain.DateLayout, rf.OrderDate)
	if err != nil {
		return nil, fmt.Errorf("order %s: invalid order_date %q", rf.OrderID, rf.OrderDate)
	}
	if !years.Contains(date.Year()) {
		return nil, fmt.Errorf("order %s: order_date %s outside %s", rf.OrderID, rf.OrderDate, years)
	}
	if rf.Amount == nil {
		return nil, fmt.Errorf("order %s: missing amount", rf.OrderID)
	}
	if strings.TrimSpace(rf.Description) == "" {
		return nil, fmt.Errorf("order %s: empty description", rf.OrderID)
	}
	cur := rf.Currency
	if cur != "" {
		if cur, err = locale.NormalizeCurrency(cur); err != nil {
			return nil, fmt.Errorf("order %s: %w", rf.OrderID, err)
		}
	}
	return &domain.OrderRecord{
		OrderID:     rf.OrderID,
		OrderDate:   date,
		Amount:      *rf.Amount,
		Currency:    cur,
		Description: rf.Description,
		Merchant:    rf.Merchant,
		Source:      rf.SourcePage,
	}, nil
}
