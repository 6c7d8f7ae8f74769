package ledger

import "strings"

// Layout names the roster columns and the attendance marker format.
type Layout struct {
	IDColumn       string
	NameColumn     string
	ClassColumn    string
	GuardianMarker string
	PresentTag     string
	DateFormat     string
	TimeFormat     string
}

// DefaultLayout matches the cram school's roster sheets.
func DefaultLayout() Layout {
	return Layout{
		IDColumn:       "學號",
		NameColumn:     "姓名",
		ClassColumn:    "班級",
		GuardianMarker: "家長LINE",
		PresentTag:     "出席",
		DateFormat:     "2006-01-02",
		TimeFormat:     "15:04",
	}
}

type columns struct {
	id, date, name, class int
	guardians             []int
}

// locate finds the layout columns in header. date may be empty when no
// date column is needed. Missing columns are -1.
func (l Layout) locate(header []string, date string) columns {
	cols := columns{id: -1, date: -1, name: -1, class: -1}
	for i, h := range header {
		h = strings.TrimSpace(h)
		switch {
		case h == "":
			continue
		case h == l.IDColumn && cols.id < 0:
			cols.id = i
		case date != "" && h == date && cols.date < 0:
			cols.date = i
		case h == l.NameColumn && cols.name < 0:
			cols.name = i
		case h == l.ClassColumn && cols.class < 0:
			cols.class = i
		}
		if l.GuardianMarker != "" && strings.Contains(h, l.GuardianMarker) {
			cols.guardians = append(cols.guardians, i)
		}
	}
	return cols
}

// marked reports whether a cell value already records attendance.
func (l Layout) marked(value string) bool {
	return l.PresentTag != "" && strings.Contains(value, l.PresentTag)
}
