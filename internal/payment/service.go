// Package payment derives monthly payment state and performs the payment
// and exemption toggles.
package payment

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/www-e/formnew/internal/roster"
)

// Status of one (student, month) pair.
type Status string

const (
	StatusExempt  Status = "exempt"
	StatusPaid    Status = "paid"
	StatusPartial Status = "partial"
	StatusUnpaid  Status = "unpaid"
)

var nowFunc = time.Now

// RequiredAmount is the monthly fee table. Unknown grades owe nothing so a
// malformed record never produces a bill.
func RequiredAmount(grade roster.Grade, section string) float64 {
	switch grade {
	case roster.GradeFirst:
		return 200
	case roster.GradeSecond:
		if strings.HasPrefix(section, "science") {
			return 350
		}
		return 300
	case roster.GradeThird:
		if section == "general_science" {
			return 450
		}
		return 400
	default:
		return 0
	}
}

// MonthState is the derived payment view for one student and month.
type MonthState struct {
	Status         Status  `json:"status"`
	RequiredAmount float64 `json:"requiredAmount"`
	AmountPaid     float64 `json:"amountPaid"`
	PaymentDate    string  `json:"paymentDate,omitempty"`
}

// StateFor derives the payment state for (student, monthKey). Exemption wins
// over any payment record, and the displayed required amount drops to zero.
func StateFor(st roster.Student, monthKey string) MonthState {
	required := RequiredAmount(st.Grade, st.Section)
	if st.Exempt.Covers(monthKey) {
		return MonthState{Status: StatusExempt, RequiredAmount: 0}
	}
	rec, ok := st.Payments[monthKey]
	if !ok {
		return MonthState{Status: StatusUnpaid, RequiredAmount: required}
	}
	state := MonthState{
		RequiredAmount: required,
		AmountPaid:     rec.AmountPaid,
		PaymentDate:    rec.PaymentDate.Format(time.RFC3339),
	}
	switch {
	case rec.AmountPaid >= required:
		state.Status = StatusPaid
	case rec.AmountPaid > 0:
		state.Status = StatusPartial
	default:
		state.Status = StatusUnpaid
	}
	return state
}

// Service performs payment state transitions against the record store.
type Service struct {
	store *roster.Store
	log   zerolog.Logger
}

// NewService creates the payment reconciler.
func NewService(store *roster.Store, log zerolog.Logger) *Service {
	return &Service{store: store, log: log}
}

// Toggle pays or unpays a month. Paying records a full payment of the
// required amount and raises the lifetime total; unpaying removes the record
// and lowers the lifetime total, floored at zero. The inspect-then-flip runs
// inside the store's writer lock, so records for other months and the
// lifetime total are never clobbered by a stale snapshot.
func (s *Service) Toggle(ctx context.Context, studentID, monthKey string) (roster.Student, error) {
	var paid float64
	updated, err := s.store.MutateStudent(ctx, studentID, func(st *roster.Student) error {
		if rec, exists := st.Payments[monthKey]; exists {
			delete(st.Payments, monthKey)
			st.PaidAmount -= rec.AmountPaid
			if st.PaidAmount < 0 {
				st.PaidAmount = 0
			}
			return nil
		}
		required := RequiredAmount(st.Grade, st.Section)
		if st.Payments == nil {
			st.Payments = map[string]roster.PaymentRecord{}
		}
		st.Payments[monthKey] = roster.PaymentRecord{AmountPaid: required, RequiredAmount: required, PaymentDate: nowFunc()}
		st.PaidAmount += required
		paid = required
		return nil
	})
	if err == nil && paid > 0 {
		s.log.Info().Str("student_id", studentID).Str("month", monthKey).Float64("amount", paid).Msg("payment recorded")
	}
	return updated, err
}

// ToggleExemption flips the exemption. With an empty monthKey it toggles the
// permanent exemption; otherwise it adds or removes that month from the
// per-month set. An active permanent exemption always overrides the set.
func (s *Service) ToggleExemption(ctx context.Context, studentID, monthKey string) (roster.Student, error) {
	return s.store.MutateStudent(ctx, studentID, func(st *roster.Student) error {
		next := st.Exempt.Clone()
		if monthKey == "" {
			if next.Kind == roster.ExemptPermanent {
				next = roster.Exemption{}
			} else {
				next = roster.Exemption{Kind: roster.ExemptPermanent}
			}
		} else {
			if next.Kind != roster.ExemptMonths || next.Months == nil {
				next = roster.Exemption{Kind: roster.ExemptMonths, Months: map[string]bool{}}
			}
			if next.Months[monthKey] {
				delete(next.Months, monthKey)
				if len(next.Months) == 0 {
					next = roster.Exemption{}
				}
			} else {
				next.Months[monthKey] = true
			}
		}
		st.Exempt = next
		return nil
	})
}

// MonthRow is one student's payment line in the monthly summary.
type MonthRow struct {
	StudentID string       `json:"studentId"`
	Name      string       `json:"name"`
	Grade     roster.Grade `json:"grade"`
	Section   string       `json:"section"`
	State     MonthState   `json:"state"`
}

// MonthSummary derives the payment state of every student for a month.
func (s *Service) MonthSummary(monthKey string) []MonthRow {
	students := s.store.ListStudents()
	rows := make([]MonthRow, 0, len(students))
	for _, st := range students {
		rows = append(rows, MonthRow{
			StudentID: st.ID,
			Name:      st.Name,
			Grade:     st.Grade,
			Section:   st.Section,
			State:     StateFor(st, monthKey),
		})
	}
	return rows
}
