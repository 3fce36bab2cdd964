// Package tabular parses delimited text documents whose first row names the
// columns. Fields are addressed by header name, so producers may add or
// reorder columns without breaking consumers; missing columns read as "".
package tabular

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	// ErrEmptyDocument is returned when the input has no content at all
	ErrEmptyDocument = errors.New("tabular: empty document")
	// ErrInvalidEncoding is returned when the input is not valid UTF-8
	ErrInvalidEncoding = errors.New("tabular: invalid encoding, expected UTF-8")
	// ErrMissingHeader is returned when the input has no header row
	ErrMissingHeader = errors.New("tabular: missing header row")
)

// Parser reads a delimited document row by row
type Parser struct {
	delimiter  rune
	lazyQuotes bool
	headers    []string
	headerMap  map[string]int
	line       int
	reader     *csv.Reader
}

// Option is a functional option for Parser configuration
type Option func(*Parser)

// WithDelimiter sets the field delimiter (default is comma)
func WithDelimiter(d rune) Option {
	return func(p *Parser) {
		p.delimiter = d
	}
}

// WithLazyQuotes controls lenient quote handling (default on; feed CSVs
// carry unescaped quotes inside name fields)
func WithLazyQuotes(lazy bool) Option {
	return func(p *Parser) {
		p.lazyQuotes = lazy
	}
}

// NewParser creates a parser and consumes the header row
func NewParser(r io.Reader, opts ...Option) (*Parser, error) {
	p := &Parser{
		delimiter:  ',',
		lazyQuotes: true,
		headerMap:  make(map[string]int),
	}

	for _, opt := range opts {
		opt(p)
	}

	br := bufio.NewReader(r)

	// Strip a UTF-8 BOM if present (0xEF 0xBB 0xBF)
	head, err := br.Peek(3)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("tabular: read: %w", err)
	}
	if len(head) >= 3 && head[0] == 0xEF && head[1] == 0xBB && head[2] == 0xBF {
		_, _ = br.Discard(3)
	}

	if err := validateUTF8(br); err != nil {
		return nil, err
	}

	p.reader = csv.NewReader(br)
	p.reader.Comma = p.delimiter
	p.reader.LazyQuotes = p.lazyQuotes
	// Leading-space trimming swallows whitespace delimiters, which would
	// drop empty tab-separated fields.
	p.reader.TrimLeadingSpace = !unicode.IsSpace(p.delimiter)
	p.reader.FieldsPerRecord = -1 // rows may be ragged

	if err := p.readHeader(); err != nil {
		return nil, err
	}

	return p, nil
}

func validateUTF8(r *bufio.Reader) error {
	const checkSize = 4096
	content, err := r.Peek(checkSize)
	if err != nil && err != io.EOF {
		return fmt.Errorf("tabular: read: %w", err)
	}
	if len(content) == 0 {
		return ErrEmptyDocument
	}
	if !utf8.Valid(content) && len(content) == checkSize {
		// The window may have split a multi-byte rune; tolerate a ragged tail.
		for i := 0; i < utf8.UTFMax && i < len(content); i++ {
			if utf8.Valid(content[:len(content)-i]) {
				return nil
			}
		}
	}
	if !utf8.Valid(content) && len(content) < checkSize {
		return ErrInvalidEncoding
	}
	return nil
}

func (p *Parser) readHeader() error {
	record, err := p.reader.Read()
	if err == io.EOF {
		return ErrMissingHeader
	}
	if err != nil {
		return fmt.Errorf("tabular: read header: %w", err)
	}

	p.headers = make([]string, len(record))
	for i, h := range record {
		name := strings.TrimSpace(h)
		p.headers[i] = name
		p.headerMap[name] = i
	}
	p.line = 1
	return nil
}

// Headers returns the parsed header names in document order
func (p *Parser) Headers() []string {
	return p.headers
}

// Row is one parsed data row
type Row struct {
	Line int
	Data map[string]string
}

// Get returns the value for a column by header name, "" when absent
func (r Row) Get(header string) string {
	return r.Data[header]
}

// GetOrDefault returns the value for a column, or def when absent or empty
func (r Row) GetOrDefault(header, def string) string {
	if v, ok := r.Data[header]; ok && v != "" {
		return v
	}
	return def
}

// IsEmpty reports whether the row has no non-empty values
func (r Row) IsEmpty() bool {
	for _, v := range r.Data {
		if v != "" {
			return false
		}
	}
	return true
}

// Next reads the next data row. io.EOF signals the end of the document.
func (p *Parser) Next() (Row, error) {
	record, err := p.reader.Read()
	if err == io.EOF {
		return Row{}, io.EOF
	}
	p.line++
	if err != nil {
		return Row{}, fmt.Errorf("tabular: row %d: %w", p.line, err)
	}

	row := Row{
		Line: p.line,
		Data: make(map[string]string, len(p.headers)),
	}
	for i, header := range p.headers {
		if i < len(record) {
			row.Data[header] = strings.TrimSpace(record[i])
		} else {
			row.Data[header] = ""
		}
	}
	return row, nil
}

// ReadAll reads the remaining data rows, skipping fully empty ones
func (p *Parser) ReadAll() ([]Row, error) {
	var rows []Row
	for {
		row, err := p.Next()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return rows, err
		}
		if row.IsEmpty() {
			continue
		}
		rows = append(rows, row)
	}
}

// Records parses a whole document from memory: header plus all data rows
func Records(data []byte, opts ...Option) ([]Row, error) {
	p, err := NewParser(bytes.NewReader(data), opts...)
	if err != nil {
		return nil, err
	}
	return p.ReadAll()
}
