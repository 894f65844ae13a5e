package roster

// AttendancePatch updates a student's attendance map. Replace swaps the whole
// map for Entries; otherwise Entries are merged key by key. A nil patch on
// Patch means "leave the stored map alone".
type AttendancePatch struct {
	Replace bool
	Entries map[string]AttendanceRecord
}

// MergeAttendance builds a merge patch for the given entries.
func MergeAttendance(entries map[string]AttendanceRecord) *AttendancePatch {
	return &AttendancePatch{Entries: entries}
}

// ReplaceAttendance builds a whole-map replacement patch.
func ReplaceAttendance(entries map[string]AttendanceRecord) *AttendancePatch {
	return &AttendancePatch{Replace: true, Entries: entries}
}

// PaymentsPatch updates a student's payments map, same contract as
// AttendancePatch.
type PaymentsPatch struct {
	Replace bool
	Entries map[string]PaymentRecord
}

// MergePayments builds a merge patch for the given entries.
func MergePayments(entries map[string]PaymentRecord) *PaymentsPatch {
	return &PaymentsPatch{Entries: entries}
}

// ReplacePayments builds a whole-map replacement patch.
func ReplacePayments(entries map[string]PaymentRecord) *PaymentsPatch {
	return &PaymentsPatch{Replace: true, Entries: entries}
}

// Patch is a partial student update. Nil fields are left untouched, so a
// patch that carries no attendance or payments can never erase history.
type Patch struct {
	Name         *string
	StudentPhone *string
	ParentPhone  *string
	Grade        *Grade
	Section      *string
	GroupTime    *string
	PaidAmount   *float64
	Attendance   *AttendancePatch
	Payments     *PaymentsPatch
	Exempt       *Exemption
}

func (p Patch) apply(s *Student) {
	if p.Name != nil {
		s.Name = *p.Name
	}
	if p.StudentPhone != nil {
		s.StudentPhone = *p.StudentPhone
	}
	if p.ParentPhone != nil {
		s.ParentPhone = *p.ParentPhone
	}
	if p.Grade != nil {
		s.Grade = *p.Grade
	}
	if p.Section != nil {
		s.Section = *p.Section
	}
	if p.GroupTime != nil {
		s.GroupTime = *p.GroupTime
	}
	if p.PaidAmount != nil {
		amount := *p.PaidAmount
		if amount < 0 {
			amount = 0
		}
		s.PaidAmount = amount
	}
	if p.Attendance != nil {
		if p.Attendance.Replace {
			s.Attendance = cloneAttendance(p.Attendance.Entries)
		} else {
			if s.Attendance == nil {
				s.Attendance = map[string]AttendanceRecord{}
			}
			for k, v := range p.Attendance.Entries {
				s.Attendance[k] = v
			}
		}
	}
	if p.Payments != nil {
		if p.Payments.Replace {
			s.Payments = clonePayments(p.Payments.Entries)
		} else {
			if s.Payments == nil {
				s.Payments = map[string]PaymentRecord{}
			}
			for k, v := range p.Payments.Entries {
				s.Payments[k] = v
			}
		}
	}
	if p.Exempt != nil {
		s.Exempt = p.Exempt.Clone()
	}
}

// StringPtr is a convenience for building patches.
func StringPtr(s string) *string { return &s }

// FloatPtr is a convenience for building patches.
func FloatPtr(f float64) *float64 { return &f }
