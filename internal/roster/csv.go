package roster

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Display-text translation tables. CSV files are exchanged with the center's
// staff using the Arabic display names, so rows are translated into the
// internal enum keys on the way in and back out on the way out.

var gradeNames = map[Grade]string{
	GradeFirst:  "الصف الأول الثانوي",
	GradeSecond: "الصف الثاني الثانوي",
	GradeThird:  "الصف الثالث الثانوي",
}

var sectionNames = map[Grade]map[string]string{
	GradeSecond: {
		"science_pure":    "علمي - رياضة بحتة",
		"science_applied": "علمي - رياضة تطبيقية",
		"arts":            "أدبي",
	},
	GradeThird: {
		"general_science": "علمي رياضة",
		"statistics_arts": "إحصاء - أدبي",
	},
}

// GradeName returns the display name for a grade, falling back to the key.
func GradeName(g Grade) string {
	if name, ok := gradeNames[g]; ok {
		return name
	}
	return string(g)
}

// SectionName returns the display name for a grade/section pair.
func SectionName(g Grade, section string) string {
	if section == "" {
		return ""
	}
	if m, ok := sectionNames[g]; ok {
		if name, ok := m[section]; ok {
			return name
		}
	}
	return section
}

func gradeKey(display string) Grade {
	for key, name := range gradeNames {
		if name == display {
			return key
		}
	}
	return Grade(display)
}

func sectionKey(display string) string {
	if display == "-" {
		return ""
	}
	for _, m := range sectionNames {
		for key, name := range m {
			if name == display {
				return key
			}
		}
	}
	return display
}

// GroupLabeler resolves a groupTime key to its display label and back.
// Implemented by the schedule catalog; kept as an interface so the roster
// does not depend on the catalog package.
type GroupLabeler interface {
	Label(key string) string
	KeyForLabel(label string) string
}

// ImportSummary reports the outcome of a CSV import.
type ImportSummary struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
}

// ImportCSV reads rows [name, studentPhone, parentPhone, grade, section,
// groupTime, paidAmount] with display-text columns, translates them into
// internal keys and registers the students. Rows whose phone is already
// registered are skipped. Comma- and tab-separated files are both accepted.
func (s *Store) ImportCSV(ctx context.Context, r io.Reader, groups GroupLabeler) (ImportSummary, error) {
	br := bufio.NewReader(r)
	sep, err := sniffSeparator(br)
	if err != nil {
		return ImportSummary{}, err
	}
	cr := csv.NewReader(br)
	cr.Comma = sep
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var summary ImportSummary
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return summary, fmt.Errorf("read csv: %w", err)
		}
		if len(row) < 7 || strings.TrimSpace(row[0]) == "" {
			summary.Skipped++
			continue
		}
		grade := gradeKey(strings.TrimSpace(row[3]))
		if !grade.Valid() {
			// Probably the header row, or garbage.
			summary.Skipped++
			continue
		}
		phone := strings.TrimSpace(row[1])
		if phone != "" && !strings.HasPrefix(phone, "0") {
			// Spreadsheets drop the leading zero from phone numbers.
			phone = "0" + phone
		}
		paid, _ := strconv.ParseFloat(strings.TrimSpace(row[6]), 64)
		st := Student{
			Name:         strings.TrimSpace(row[0]),
			StudentPhone: phone,
			ParentPhone:  strings.TrimSpace(row[2]),
			Grade:        grade,
			Section:      sectionKey(strings.TrimSpace(row[4])),
			GroupTime:    groups.KeyForLabel(strings.TrimSpace(row[5])),
			PaidAmount:   paid,
		}
		if _, err := s.CreateStudent(ctx, st); err != nil {
			if err == ErrDuplicatePhone {
				summary.Skipped++
				continue
			}
			return summary, err
		}
		summary.Imported++
	}
	return summary, nil
}

// ExportCSV writes the roster with display-text columns, one row per student.
func (s *Store) ExportCSV(w io.Writer, groups GroupLabeler) error {
	cw := csv.NewWriter(w)
	header := []string{"name", "studentPhone", "parentPhone", "grade", "section", "groupTime", "paidAmount"}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, st := range s.ListStudents() {
		section := SectionName(st.Grade, st.Section)
		if section == "" {
			section = "-"
		}
		row := []string{
			st.Name,
			st.StudentPhone,
			st.ParentPhone,
			GradeName(st.Grade),
			section,
			groups.Label(st.GroupTime),
			strconv.FormatFloat(st.PaidAmount, 'f', -1, 64),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func sniffSeparator(br *bufio.Reader) (rune, error) {
	peek, err := br.Peek(1024)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return ',', err
	}
	line := string(peek)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	if strings.Count(line, "\t") > strings.Count(line, ",") {
		return '\t', nil
	}
	return ',', nil
}
