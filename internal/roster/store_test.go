package roster

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakePort struct {
	doc     *Document
	saveErr error
	saves   int
}

func (p *fakePort) LoadDocument(context.Context) (*Document, error) {
	return p.doc, nil
}

func (p *fakePort) SaveDocument(_ context.Context, doc *Document) error {
	if p.saveErr != nil {
		return p.saveErr
	}
	p.doc = doc.clone()
	p.saves++
	return nil
}

func newTestStore(t *testing.T) (*Store, *fakePort) {
	t.Helper()
	port := &fakePort{}
	s := NewStore(port, zerolog.Nop())
	if err := s.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	return s, port
}

func TestLoadEmptyCreatesDefaultDocument(t *testing.T) {
	s, _ := newTestStore(t)
	if got := s.ListStudents(); len(got) != 0 {
		t.Fatalf("expected empty roster, got %d students", len(got))
	}
}

func TestCreateStudentDuplicatePhone(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	if _, err := s.CreateStudent(ctx, Student{Name: "A", StudentPhone: "0101", Grade: GradeFirst}); err != nil {
		t.Fatal(err)
	}
	_, err := s.CreateStudent(ctx, Student{Name: "B", StudentPhone: "0101", Grade: GradeSecond})
	if !errors.Is(err, ErrDuplicatePhone) {
		t.Fatalf("err = %v, want ErrDuplicatePhone", err)
	}
	if got := s.ListStudents(); len(got) != 1 {
		t.Fatalf("roster has %d students, want 1", len(got))
	}
}

func TestCreateStudentInvalidGrade(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.CreateStudent(context.Background(), Student{Name: "A", StudentPhone: "0101", Grade: "fourth"})
	if !errors.Is(err, ErrInvalidGrade) {
		t.Fatalf("err = %v, want ErrInvalidGrade", err)
	}
}

func TestUpsertPreservesNestedHistory(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	st, err := s.CreateStudent(ctx, Student{Name: "A", StudentPhone: "0101", Grade: GradeFirst})
	if err != nil {
		t.Fatal(err)
	}
	rec := AttendanceRecord{Status: StatusPresent, Timestamp: time.Date(2024, 1, 5, 15, 20, 0, 0, time.Local)}
	if _, err := s.UpsertStudent(ctx, st.ID, Patch{
		Attendance: MergeAttendance(map[string]AttendanceRecord{"2024-01-05": rec}),
	}); err != nil {
		t.Fatal(err)
	}

	// A scalar-only patch must leave the attendance map untouched.
	updated, err := s.UpsertStudent(ctx, st.ID, Patch{Name: StringPtr("X")})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Name != "X" {
		t.Errorf("name = %q, want X", updated.Name)
	}
	if len(updated.Attendance) != 1 {
		t.Fatalf("attendance has %d records, want 1", len(updated.Attendance))
	}
	got := updated.Attendance["2024-01-05"]
	if got.Status != StatusPresent || !got.Timestamp.Equal(rec.Timestamp) {
		t.Errorf("attendance record changed: %+v", got)
	}
}

func TestUpsertReplaceAttendance(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	st, _ := s.CreateStudent(ctx, Student{Name: "A", StudentPhone: "0101", Grade: GradeFirst})
	merge := map[string]AttendanceRecord{
		"2024-01-05": {Status: StatusPresent, Timestamp: time.Now()},
		"2024-01-07": {Status: StatusMakeup, Timestamp: time.Now()},
	}
	if _, err := s.UpsertStudent(ctx, st.ID, Patch{Attendance: MergeAttendance(merge)}); err != nil {
		t.Fatal(err)
	}
	updated, err := s.UpsertStudent(ctx, st.ID, Patch{
		Attendance: ReplaceAttendance(map[string]AttendanceRecord{
			"2024-01-07": {Status: StatusMakeup, Timestamp: time.Now()},
		}),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(updated.Attendance) != 1 {
		t.Fatalf("attendance has %d records after replace, want 1", len(updated.Attendance))
	}
	if _, ok := updated.Attendance["2024-01-05"]; ok {
		t.Error("replaced map still holds the old key")
	}
}

func TestUpsertNotFound(t *testing.T) {
	s, _ := newTestStore(t)
	if _, err := s.UpsertStudent(context.Background(), "std-1999", Patch{Name: StringPtr("X")}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestRollbackOnPersistenceFailure(t *testing.T) {
	s, port := newTestStore(t)
	ctx := context.Background()
	st, err := s.CreateStudent(ctx, Student{Name: "A", StudentPhone: "0101", Grade: GradeFirst})
	if err != nil {
		t.Fatal(err)
	}

	port.saveErr = errors.New("disk full")
	_, err = s.UpsertStudent(ctx, st.ID, Patch{Name: StringPtr("X")})
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("err = %v, want ErrPersistence", err)
	}

	// The in-memory document must not have moved ahead of storage.
	got, err := s.FindStudent(st.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "A" {
		t.Errorf("name = %q after failed save, want A", got.Name)
	}
}

func TestRemoveStudent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	st, _ := s.CreateStudent(ctx, Student{Name: "A", StudentPhone: "0101", Grade: GradeFirst})
	if err := s.RemoveStudent(ctx, st.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.RemoveStudent(ctx, st.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second remove err = %v, want ErrNotFound", err)
	}
}

func TestPaidAmountNeverNegative(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	st, _ := s.CreateStudent(ctx, Student{Name: "A", StudentPhone: "0101", Grade: GradeFirst})
	updated, err := s.UpsertStudent(ctx, st.ID, Patch{PaidAmount: FloatPtr(-50)})
	if err != nil {
		t.Fatal(err)
	}
	if updated.PaidAmount != 0 {
		t.Errorf("paidAmount = %v, want 0", updated.PaidAmount)
	}
}

func TestGenerateStudentID(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		id := s.GenerateStudentID(GradeSecond)
		if !strings.HasPrefix(id, "std-2") || len(id) != len("std-2")+3 {
			t.Fatalf("malformed id %q", id)
		}
		if _, err := s.CreateStudent(ctx, Student{
			ID: id, Name: "S", StudentPhone: "01" + id, Grade: GradeSecond,
		}); err != nil {
			t.Fatal(err)
		}
		if seen[id] {
			t.Fatalf("id %q collided with an existing student", id)
		}
		seen[id] = true
	}
}

func TestStatistics(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	a, _ := s.CreateStudent(ctx, Student{Name: "A", StudentPhone: "0101", Grade: GradeFirst})
	b, _ := s.CreateStudent(ctx, Student{Name: "B", StudentPhone: "0102", Grade: GradeThird})
	_, _ = s.UpsertStudent(ctx, a.ID, Patch{PaidAmount: FloatPtr(200)})
	_, _ = s.UpsertStudent(ctx, b.ID, Patch{PaidAmount: FloatPtr(450)})

	stats := s.Statistics()
	if stats.TotalStudents != 2 {
		t.Errorf("TotalStudents = %d, want 2", stats.TotalStudents)
	}
	if stats.TotalRevenue != 650 {
		t.Errorf("TotalRevenue = %v, want 650", stats.TotalRevenue)
	}
	if stats.GradeDistribution[GradeFirst] != 1 || stats.GradeDistribution[GradeThird] != 1 {
		t.Errorf("distribution = %+v", stats.GradeDistribution)
	}
}

func TestReplacePersistsBeforeSwap(t *testing.T) {
	s, port := newTestStore(t)
	ctx := context.Background()
	_, _ = s.CreateStudent(ctx, Student{Name: "A", StudentPhone: "0101", Grade: GradeFirst})

	port.saveErr = errors.New("backend down")
	err := s.Replace(ctx, NewDocument())
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("err = %v, want ErrPersistence", err)
	}
	if got := s.ListStudents(); len(got) != 1 {
		t.Fatalf("document replaced despite save failure, %d students", len(got))
	}
}
