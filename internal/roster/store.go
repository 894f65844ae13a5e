package roster

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// nowFunc is swapped in tests to control timestamps.
var nowFunc = time.Now

// DocumentStore is the persistence port. LoadDocument returns (nil, nil)
// when no backing data exists yet.
type DocumentStore interface {
	LoadDocument(ctx context.Context) (*Document, error)
	SaveDocument(ctx context.Context, doc *Document) error
}

// Store holds the in-memory document and funnels every mutation through a
// single writer. Mutations are applied to a working copy and the document
// pointer is only swapped after the persistence port reports success, so a
// failed save never leaves memory ahead of storage.
type Store struct {
	mu   sync.Mutex
	doc  *Document
	port DocumentStore
	log  zerolog.Logger
}

// NewStore creates a store over the given persistence port.
func NewStore(port DocumentStore, log zerolog.Logger) *Store {
	return &Store{doc: NewDocument(), port: port, log: log}
}

// Load pulls the document from the persistence port, creating the default
// empty document when none exists.
func (s *Store) Load(ctx context.Context) error {
	doc, err := s.port.LoadDocument(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc == nil {
		s.log.Info().Msg("no stored document, starting empty")
		s.doc = NewDocument()
		return nil
	}
	if doc.Students == nil {
		doc.Students = []Student{}
	}
	s.doc = doc
	s.log.Info().Int("students", len(doc.Students)).Msg("document loaded")
	return nil
}

// Replace swaps in a whole new document (restore/import path). The new
// document is persisted before it becomes visible.
func (s *Store) Replace(ctx context.Context, doc *Document) error {
	if doc == nil {
		doc = NewDocument()
	}
	if doc.Students == nil {
		doc.Students = []Student{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.port.SaveDocument(ctx, doc); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	s.doc = doc
	return nil
}

// Snapshot returns a deep copy of the current document.
func (s *Store) Snapshot() *Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.clone()
}

// ListStudents returns copies of all students in insertion order.
func (s *Store) ListStudents() []Student {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Student, 0, len(s.doc.Students))
	for _, st := range s.doc.Students {
		out = append(out, st.Clone())
	}
	return out
}

// FindStudent returns a copy of the student with the given id.
func (s *Store) FindStudent(id string) (Student, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.doc.Students {
		if st.ID == id {
			return st.Clone(), nil
		}
	}
	return Student{}, ErrNotFound
}

// CreateStudent registers a new student. The student phone must be unique
// across the roster; an id is generated when none is supplied.
func (s *Store) CreateStudent(ctx context.Context, st Student) (Student, error) {
	if !st.Grade.Valid() {
		return Student{}, fmt.Errorf("%w: %q", ErrInvalidGrade, st.Grade)
	}
	var created Student
	err := s.mutate(ctx, func(doc *Document) error {
		for _, existing := range doc.Students {
			if existing.StudentPhone == st.StudentPhone {
				return ErrDuplicatePhone
			}
		}
		if st.ID == "" {
			st.ID = generateID(doc, st.Grade)
		}
		now := nowFunc()
		st.CreatedAt = now
		st.UpdatedAt = now
		st.Attendance = map[string]AttendanceRecord{}
		st.Payments = map[string]PaymentRecord{}
		st.Exempt = Exemption{}
		doc.Students = append(doc.Students, st)
		created = st.Clone()
		return nil
	})
	if err != nil {
		return Student{}, err
	}
	s.log.Info().Str("student_id", created.ID).Msg("student created")
	return created, nil
}

// UpsertStudent applies a partial update to an existing student, stamps
// updatedAt and persists the document.
func (s *Store) UpsertStudent(ctx context.Context, id string, patch Patch) (Student, error) {
	var updated Student
	err := s.mutate(ctx, func(doc *Document) error {
		idx := doc.indexOf(id)
		if idx < 0 {
			return ErrNotFound
		}
		st := &doc.Students[idx]
		patch.apply(st)
		st.UpdatedAt = nowFunc()
		updated = st.Clone()
		return nil
	})
	if err != nil {
		return Student{}, err
	}
	return updated, nil
}

// MutateStudent runs fn against the stored student while the writer lock is
// held, so a read-modify-write sequence (inspect a map, then delete or add a
// key) cannot interleave with any other mutation. fn sees the working copy;
// nothing is visible or persisted if it returns an error.
func (s *Store) MutateStudent(ctx context.Context, id string, fn func(st *Student) error) (Student, error) {
	var updated Student
	err := s.mutate(ctx, func(doc *Document) error {
		idx := doc.indexOf(id)
		if idx < 0 {
			return ErrNotFound
		}
		st := &doc.Students[idx]
		if err := fn(st); err != nil {
			return err
		}
		st.UpdatedAt = nowFunc()
		updated = st.Clone()
		return nil
	})
	if err != nil {
		return Student{}, err
	}
	return updated, nil
}

// RemoveStudent hard-deletes a student from the roster.
func (s *Store) RemoveStudent(ctx context.Context, id string) error {
	return s.mutate(ctx, func(doc *Document) error {
		idx := doc.indexOf(id)
		if idx < 0 {
			return ErrNotFound
		}
		doc.Students = append(doc.Students[:idx], doc.Students[idx+1:]...)
		return nil
	})
}

// GenerateStudentID produces a fresh std-<gradeDigit><3-digit> id that does
// not collide with any current student. The 999-value space per grade is
// acceptable for a roster of hundreds.
func (s *Store) GenerateStudentID(grade Grade) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return generateID(s.doc, grade)
}

func generateID(doc *Document, grade Grade) string {
	for {
		id := fmt.Sprintf("std-%s%03d", grade.Digit(), rand.Intn(999)+1)
		if doc.indexOf(id) < 0 {
			return id
		}
	}
}

// Stats summarizes the roster.
type Stats struct {
	TotalStudents     int           `json:"totalStudents"`
	TotalRevenue      float64       `json:"totalRevenue"`
	GradeDistribution map[Grade]int `json:"gradeDistribution"`
}

// Statistics computes roster totals and the per-grade distribution.
func (s *Store) Statistics() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := Stats{
		GradeDistribution: map[Grade]int{GradeFirst: 0, GradeSecond: 0, GradeThird: 0},
	}
	stats.TotalStudents = len(s.doc.Students)
	for _, st := range s.doc.Students {
		stats.TotalRevenue += st.PaidAmount
		if _, ok := stats.GradeDistribution[st.Grade]; ok {
			stats.GradeDistribution[st.Grade]++
		}
	}
	return stats
}

// mutate runs fn over a working copy of the document, persists the copy and
// swaps it in only when the save succeeds.
func (s *Store) mutate(ctx context.Context, fn func(doc *Document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	working := s.doc.clone()
	if err := fn(working); err != nil {
		return err
	}
	if err := s.port.SaveDocument(ctx, working); err != nil {
		s.log.Error().Err(err).Msg("save failed, mutation rolled back")
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	s.doc = working
	return nil
}

func (d *Document) clone() *Document {
	out := &Document{Settings: d.Settings, Students: make([]Student, 0, len(d.Students))}
	for _, st := range d.Students {
		out.Students = append(out.Students, st.Clone())
	}
	return out
}

func (d *Document) indexOf(id string) int {
	for i, st := range d.Students {
		if st.ID == id {
			return i
		}
	}
	return -1
}
