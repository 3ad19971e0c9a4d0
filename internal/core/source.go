package core

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// Format identifies how a source file is decoded.
type Format string

const (
	FormatAuto        Format = ""
	FormatCSV         Format = "csv"
	FormatSpreadsheet Format = "spreadsheet"
)

// DefaultHeaderScanRows bounds the spreadsheet header search.
const DefaultHeaderScanRows = 15

// SourceOptions tune the readers. Zero values select the defaults.
type SourceOptions struct {
	// HeaderScanRows is how many leading spreadsheet rows are searched for
	// the header.
	HeaderScanRows int

	// Delimiter overrides the field separator for delimited text. By default
	// .tsv files use tab and everything else uses comma.
	Delimiter rune
}

func (o SourceOptions) headerScanRows() int {
	if o.HeaderScanRows <= 0 {
		return DefaultHeaderScanRows
	}
	return o.HeaderScanRows
}

// RowStream is a forward-only pull iterator over the data rows of a file.
// Headers are known once the stream is open.
type RowStream interface {
	Headers() []string
	// Next returns io.EOF after the last row.
	Next() (RawRow, error)
	// Progress reports how far the reader is: bytes for delimited text,
	// rows for spreadsheets. total is 0 when unknown.
	Progress() (read, total int64)
	Close() error
}

var errLegacyWorkbook = errors.New("legacy .xls workbooks are not supported")

// DetectFormat maps a file name to a Format by extension.
func DetectFormat(name string) (Format, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".txt", ".tsv":
		return FormatCSV, nil
	case ".xlsx", ".xlsm", ".xltx", ".xltm":
		return FormatSpreadsheet, nil
	case ".xls":
		return "", malformed(errLegacyWorkbook)
	default:
		return "", malformed(fmt.Errorf("unrecognised file extension %q", filepath.Ext(name)))
	}
}

// OpenSource opens path for reading. With FormatAuto the format comes from
// the extension of name, which may differ from path when the transport
// spooled the upload under a temporary name.
func OpenSource(path, name string, format Format, opts SourceOptions) (RowStream, error) {
	if format == FormatAuto {
		f, err := DetectFormat(name)
		if err != nil {
			return nil, err
		}
		format = f
	}

	switch format {
	case FormatCSV:
		if opts.Delimiter == 0 && strings.EqualFold(filepath.Ext(name), ".tsv") {
			opts.Delimiter = '\t'
		}
		return openCSV(path, opts)
	case FormatSpreadsheet:
		return openSpreadsheet(path, opts)
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
}

// isBlankRecord reports whether every cell is empty after trimming.
func isBlankRecord(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// drain reads up to limit rows; limit <= 0 means all of them.
func drain(stream RowStream, limit int) ([]RawRow, error) {
	var rows []RawRow
	for limit <= 0 || len(rows) < limit {
		row, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return rows, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}
