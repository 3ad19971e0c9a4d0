package core

import (
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

// xlsxSource serves rows from the first sheet of a workbook. The sheet is
// decoded whole; rows up to and including the detected header are skipped.
type xlsxSource struct {
	file     *excelize.File
	sheet    string
	rows     [][]string
	headers  []string
	header   int // index of the header row in rows
	pos      int // next index in rows
	date1904 bool

	dateStyles map[int]bool
}

func openSpreadsheet(path string, opts SourceOptions) (*xlsxSource, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, malformed(err)
	}

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		f.Close()
		return nil, ErrEmptySource
	}
	sheet := sheets[0]

	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		f.Close()
		return nil, malformed(err)
	}

	header, ok := detectHeaderRow(rows, opts.headerScanRows())
	if !ok {
		f.Close()
		return nil, ErrEmptySource
	}

	x := &xlsxSource{
		file:       f,
		sheet:      sheet,
		rows:       rows,
		header:     header,
		pos:        header + 1,
		dateStyles: make(map[int]bool),
	}
	if props, err := f.GetWorkbookProps(); err == nil && props.Date1904 != nil {
		x.date1904 = *props.Date1904
	}

	x.headers = make([]string, len(rows[header]))
	for i, h := range rows[header] {
		x.headers[i] = strings.TrimSpace(h)
	}
	return x, nil
}

// detectHeaderRow picks the row with the most non-empty cells among the first
// limit rows. Only a strictly greater count replaces the current pick, so the
// earliest row wins ties. It returns false when every scanned row is blank.
func detectHeaderRow(rows [][]string, limit int) (int, bool) {
	best, bestCount := 0, 0
	for i := 0; i < len(rows) && i < limit; i++ {
		n := 0
		for _, c := range rows[i] {
			if strings.TrimSpace(c) != "" {
				n++
			}
		}
		if n > bestCount {
			best, bestCount = i, n
		}
	}
	return best, bestCount > 0
}

func (x *xlsxSource) Headers() []string { return x.headers }

func (x *xlsxSource) Next() (RawRow, error) {
	for x.pos < len(x.rows) {
		i := x.pos
		x.pos++

		cells := x.rows[i]
		if isBlankRecord(cells) {
			continue
		}

		values := make([]Value, len(x.headers))
		for col := range values {
			if col < len(cells) {
				values[col] = x.cellValue(i, col, cells[col])
			}
		}
		return RawRow{headers: x.headers, values: values}, nil
	}
	return RawRow{}, io.EOF
}

// cellValue types a raw cell using its stored type and number format.
func (x *xlsxSource) cellValue(row, col int, raw string) Value {
	if strings.TrimSpace(raw) == "" {
		return EmptyValue()
	}
	axis, err := excelize.CoordinatesToCellName(col+1, row+1)
	if err != nil {
		return TextValue(raw)
	}
	typ, err := x.file.GetCellType(x.sheet, axis)
	if err != nil {
		return TextValue(raw)
	}

	switch typ {
	case excelize.CellTypeSharedString, excelize.CellTypeInlineString, excelize.CellTypeError:
		return TextValue(raw)
	case excelize.CellTypeBool:
		if raw == "1" {
			return TextValue("TRUE")
		}
		return TextValue("FALSE")
	case excelize.CellTypeDate:
		if t, ok := ParseDateText(raw); ok {
			return DateTimeValue(t)
		}
		return TextValue(raw)
	}

	num, ok := parseNumber(strings.TrimSpace(raw))
	if !ok {
		return TextValue(raw)
	}
	if x.isDateCell(axis) {
		serial := num.Float()
		if num.Kind() == KindInteger {
			serial = float64(num.Int())
		}
		if t, err := excelize.ExcelDateToTime(serial, x.date1904); err == nil {
			return DateTimeValue(wallClock(t.Round(time.Second)))
		}
	}
	return num
}

func (x *xlsxSource) isDateCell(axis string) bool {
	styleID, err := x.file.GetCellStyle(x.sheet, axis)
	if err != nil || styleID == 0 {
		return false
	}
	if v, ok := x.dateStyles[styleID]; ok {
		return v
	}
	isDate := false
	if style, err := x.file.GetStyle(styleID); err == nil && style != nil {
		isDate = isDateNumFmt(style.NumFmt, style.CustomNumFmt)
	}
	x.dateStyles[styleID] = isDate
	return isDate
}

// Literal sections of a format code: quoted text, bracketed locale or color
// tags, and backslash escapes.
var numFmtLiteralRe = regexp.MustCompile(`"[^"]*"|\[[^\]]*\]|\\.`)

// isDateNumFmt reports whether a number format renders a date or time.
func isDateNumFmt(id int, custom *string) bool {
	if custom != nil && *custom != "" {
		code := strings.ToLower(numFmtLiteralRe.ReplaceAllString(*custom, ""))
		return strings.ContainsAny(code, "ydhms")
	}
	switch {
	case id >= 14 && id <= 22,
		id >= 27 && id <= 36,
		id >= 45 && id <= 47,
		id >= 50 && id <= 58:
		return true
	}
	return false
}

func (x *xlsxSource) Progress() (int64, int64) {
	total := int64(len(x.rows) - x.header - 1)
	return int64(x.pos - x.header - 1), total
}

func (x *xlsxSource) Close() error {
	x.rows = nil
	return x.file.Close()
}
