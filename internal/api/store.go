package api

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/samcharles93/quanta/pkg/quant"
)

// DefaultStoreLimit caps how many reports a ReportStore keeps.
const DefaultStoreLimit = 256

type reportRecord struct {
	Report  *quant.Report
	Created time.Time
}

// ReportStore keeps recent quantization reports in memory. When full, the
// oldest report is evicted.
type ReportStore struct {
	mu      sync.Mutex
	limit   int
	order   []string
	reports map[string]*reportRecord
}

func NewReportStore(limit int) *ReportStore {
	if limit <= 0 {
		limit = DefaultStoreLimit
	}
	return &ReportStore{
		limit:   limit,
		reports: make(map[string]*reportRecord),
	}
}

// Create assigns rep an id, stores it and returns the id.
func (s *ReportStore) Create(rep *quant.Report, now time.Time) string {
	id := newReportID()
	rep.ID = id

	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.order) >= s.limit {
		delete(s.reports, s.order[0])
		s.order = s.order[1:]
	}
	s.reports[id] = &reportRecord{Report: rep, Created: now}
	s.order = append(s.order, id)
	return id
}

func (s *ReportStore) Get(id string) (*reportRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.reports[id]
	return rec, ok
}

func (s *ReportStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reports[id]; !ok {
		return false
	}
	delete(s.reports, id)
	for i, o := range s.order {
		if o == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// List returns summaries oldest first.
func (s *ReportStore) List() []ReportSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ReportSummary, 0, len(s.order))
	for _, id := range s.order {
		rec := s.reports[id]
		out = append(out, ReportSummary{
			ID:      id,
			Scheme:  rec.Report.Scheme,
			Shape:   rec.Report.Original.Shape(),
			MSE:     rec.Report.MSE,
			Created: rec.Created.Unix(),
		})
	}
	return out
}

func (s *ReportStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reports)
}

func newReportID() string {
	return "qr_" + uuid.NewString()
}
