package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/SkynetNext/gift-recorder/internal/gift"
	"github.com/xuri/excelize/v2"
)

// XLSXExt is the extension of the spreadsheet file
const XLSXExt = ".xlsx"

// Header is the first row of the spreadsheet
var Header = []interface{}{"Name", "Count", "Price", "Time", "Offset"}

// XLSXSink streams rows into a single-sheet workbook that is saved on Close
type XLSXSink struct {
	path       string
	timeLayout string

	mu     sync.Mutex
	file   *excelize.File
	stream *excelize.StreamWriter
	row    int
	closed bool
}

// NewXLSXSink creates the workbook and writes the header row.
// The file is written to path when the sink is closed.
func NewXLSXSink(path, timeLayout string) (*XLSXSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	f := excelize.NewFile()
	sw, err := f.NewStreamWriter(f.GetSheetName(0))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create stream writer: %w", err)
	}

	s := &XLSXSink{path: path, timeLayout: timeLayout, file: f, stream: sw}
	if err := s.writeRow(Header); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

// Name implements Sink
func (s *XLSXSink) Name() string { return "xlsx" }

// Path returns the output file path
func (s *XLSXSink) Path() string { return s.path }

// WriteEvent appends the event as the next row
func (s *XLSXSink) WriteEvent(_ context.Context, ev *gift.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("xlsx sink closed")
	}
	return s.writeRow(ev.Row(s.timeLayout))
}

func (s *XLSXSink) writeRow(values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, s.row+1)
	if err != nil {
		return err
	}
	if err := s.stream.SetRow(cell, values); err != nil {
		return fmt.Errorf("write row %d: %w", s.row+1, err)
	}
	s.row++
	return nil
}

// Rows returns the number of data rows written, excluding the header
func (s *XLSXSink) Rows() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.row - 1
}

// Close flushes the rows and saves the workbook
func (s *XLSXSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	defer s.file.Close()

	if err := s.stream.Flush(); err != nil {
		return fmt.Errorf("flush rows: %w", err)
	}
	if err := s.file.SaveAs(s.path); err != nil {
		return fmt.Errorf("save %s: %w", s.path, err)
	}
	return nil
}
