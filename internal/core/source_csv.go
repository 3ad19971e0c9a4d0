package core

import (
	"encoding/csv"
	"errors"
	"io"
	"os"
)

// csvSource streams a delimited text file. The first non-blank record is the
// header.
type csvSource struct {
	file    *os.File
	counter *StreamingCountingReader
	reader  *csv.Reader
	headers []string
}

func openCSV(path string, opts SourceOptions) (*csvSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	counter, decoded := WrapForStreaming(f, info.Size())
	r := csv.NewReader(decoded)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.ReuseRecord = true
	if opts.Delimiter != 0 {
		r.Comma = opts.Delimiter
	}

	s := &csvSource{file: f, counter: counter, reader: r}

	record, err := s.nextRecord()
	if errors.Is(err, io.EOF) {
		f.Close()
		return nil, ErrEmptySource
	}
	if err != nil {
		f.Close()
		return nil, err
	}

	s.headers = make([]string, len(record))
	for i, h := range record {
		s.headers[i] = CleanCell(h)
	}
	return s, nil
}

// nextRecord skips blank records and wraps parse errors as malformed input.
func (s *csvSource) nextRecord() ([]string, error) {
	for {
		record, err := s.reader.Read()
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				return nil, malformed(err)
			}
			return nil, err
		}
		if isBlankRecord(record) {
			continue
		}
		return record, nil
	}
}

func (s *csvSource) Headers() []string { return s.headers }

func (s *csvSource) Next() (RawRow, error) {
	record, err := s.nextRecord()
	if err != nil {
		return RawRow{}, err
	}

	values := make([]Value, len(s.headers))
	for i := range values {
		if i < len(record) {
			values[i] = TextCell(record[i])
		}
	}
	return RawRow{headers: s.headers, values: values}, nil
}

func (s *csvSource) Progress() (int64, int64) {
	return s.counter.BytesRead(), s.counter.Total()
}

func (s *csvSource) Close() error {
	return s.file.Close()
}
