// Package roster owns the student document: the data model, the record
// store and the partial-update contract everything else goes through.
package roster

import (
	"bytes"
	"encoding/json"
	"time"
)

// Attendance status codes as stored in the document.
const (
	StatusPresent = "H" // marked present on a scheduled day
	StatusMakeup  = "T" // compensatory session
	StatusAbsent  = "G" // written by the auto-absence sweep only
)

// Grade identifies the school year a student is enrolled in.
type Grade string

const (
	GradeFirst  Grade = "first"
	GradeSecond Grade = "second"
	GradeThird  Grade = "third"
)

// Digit returns the grade digit used in student IDs.
func (g Grade) Digit() string {
	switch g {
	case GradeFirst:
		return "1"
	case GradeSecond:
		return "2"
	case GradeThird:
		return "3"
	}
	return "1"
}

// Valid reports whether g is one of the known grades.
func (g Grade) Valid() bool {
	return g == GradeFirst || g == GradeSecond || g == GradeThird
}

// AttendanceRecord is one day's attendance mark for a student.
type AttendanceRecord struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// PaymentRecord is one month's payment for a student.
type PaymentRecord struct {
	AmountPaid     float64   `json:"amountPaid"`
	RequiredAmount float64   `json:"requiredAmount"`
	PaymentDate    time.Time `json:"paymentDate"`
}

// Student is one enrolled person. Attendance is keyed by YYYY-MM-DD,
// payments by YYYY-MM; at most one record per key.
type Student struct {
	ID           string                      `json:"id"`
	Name         string                      `json:"name"`
	StudentPhone string                      `json:"studentPhone"`
	ParentPhone  string                      `json:"parentPhone"`
	Grade        Grade                       `json:"grade"`
	Section      string                      `json:"section"`
	GroupTime    string                      `json:"groupTime"`
	PaidAmount   float64                     `json:"paidAmount"`
	Attendance   map[string]AttendanceRecord `json:"attendance"`
	Payments     map[string]PaymentRecord    `json:"payments"`
	Exempt       Exemption                   `json:"isExempt"`
	CreatedAt    time.Time                   `json:"createdAt"`
	UpdatedAt    time.Time                   `json:"updatedAt"`
}

// Settings is document-level bookkeeping carried over from older data files.
type Settings struct {
	LastID int `json:"lastId"`
}

// Document is the whole persisted state: one blob, saved as a unit.
type Document struct {
	Students []Student `json:"students"`
	Settings Settings  `json:"settings"`
}

// NewDocument returns the default empty document.
func NewDocument() *Document {
	return &Document{Students: []Student{}, Settings: Settings{LastID: 0}}
}

// DateKey formats t as the attendance map key.
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// MonthKey formats t as the payments map key.
func MonthKey(t time.Time) string {
	return t.Format("2006-01")
}

// Clone returns a deep copy of the student, so callers can hand copies out
// without exposing the stored maps.
func (s Student) Clone() Student {
	out := s
	out.Attendance = cloneAttendance(s.Attendance)
	out.Payments = clonePayments(s.Payments)
	out.Exempt = s.Exempt.Clone()
	return out
}

func cloneAttendance(m map[string]AttendanceRecord) map[string]AttendanceRecord {
	if m == nil {
		return nil
	}
	out := make(map[string]AttendanceRecord, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func clonePayments(m map[string]PaymentRecord) map[string]PaymentRecord {
	if m == nil {
		return nil
	}
	out := make(map[string]PaymentRecord, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ExemptionKind discriminates the exemption variant.
type ExemptionKind int

const (
	ExemptNone      ExemptionKind = iota // owes the normal fee
	ExemptPermanent                      // exempt for every month
	ExemptMonths                         // exempt for the listed months only
)

// Exemption replaces the legacy duck-typed isExempt field (boolean, map or
// absent). Permanent is an absolute override regardless of Months contents.
type Exemption struct {
	Kind   ExemptionKind
	Months map[string]bool
}

// Covers reports whether the exemption applies to the given month key.
func (e Exemption) Covers(monthKey string) bool {
	if e.Kind == ExemptPermanent {
		return true
	}
	return e.Kind == ExemptMonths && e.Months[monthKey]
}

// Clone deep-copies the exemption.
func (e Exemption) Clone() Exemption {
	out := e
	if e.Months != nil {
		out.Months = make(map[string]bool, len(e.Months))
		for k, v := range e.Months {
			out.Months[k] = v
		}
	}
	return out
}

// MarshalJSON writes the legacy wire form: false, true, or a month map.
func (e Exemption) MarshalJSON() ([]byte, error) {
	switch e.Kind {
	case ExemptPermanent:
		return []byte("true"), nil
	case ExemptMonths:
		months := e.Months
		if months == nil {
			months = map[string]bool{}
		}
		return json.Marshal(months)
	default:
		return []byte("false"), nil
	}
}

// UnmarshalJSON accepts the legacy encodings: absent/null/false, true, or a
// map of month keys. Non-boolean truthy map values are treated as set, which
// matches how old documents were read.
func (e *Exemption) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	switch {
	case len(trimmed) == 0, bytes.Equal(trimmed, []byte("null")), bytes.Equal(trimmed, []byte("false")):
		*e = Exemption{}
		return nil
	case bytes.Equal(trimmed, []byte("true")):
		*e = Exemption{Kind: ExemptPermanent}
		return nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return err
	}
	months := make(map[string]bool, len(raw))
	for k, v := range raw {
		val := bytes.TrimSpace(v)
		if bytes.Equal(val, []byte("false")) || bytes.Equal(val, []byte("null")) || bytes.Equal(val, []byte("0")) {
			continue
		}
		months[k] = true
	}
	if len(months) == 0 {
		*e = Exemption{}
		return nil
	}
	*e = Exemption{Kind: ExemptMonths, Months: months}
	return nil
}
