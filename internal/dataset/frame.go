// Package dataset builds canonical training datasets, either from a loosely
// typed CSV table or from the synthetic generator.
package dataset

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/fraudshield/fraudshield/internal/domain"
)

// Frame is a raw table with arbitrary column names and string cells.
type Frame struct {
	Columns []string
	Rows    [][]string
}

// Len returns the number of rows.
func (f *Frame) Len() int {
	return len(f.Rows)
}

// Clone returns a deep copy so normalization never touches caller data.
func (f *Frame) Clone() *Frame {
	out := &Frame{
		Columns: append([]string(nil), f.Columns...),
		Rows:    make([][]string, len(f.Rows)),
	}
	for i, row := range f.Rows {
		out.Rows[i] = append([]string(nil), row...)
	}
	return out
}

// cell returns row[col], or "" for ragged rows.
func (f *Frame) cell(row, col int) string {
	r := f.Rows[row]
	if col < len(r) {
		return r[col]
	}
	return ""
}

// ReadCSV reads a header row followed by data rows.
// Ragged rows are allowed and rows with no content are dropped.
func ReadCSV(r io.Reader) (*Frame, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, &domain.DataFormatError{Reason: "csv has no header row"}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	frame := &Frame{Columns: header}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv row %d: %w", len(frame.Rows)+2, err)
		}
		if isBlank(record) {
			continue
		}
		frame.Rows = append(frame.Rows, record)
	}
	return frame, nil
}

func isBlank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// ReadCSVFile opens path and reads it with ReadCSV.
func ReadCSVFile(path string) (*Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer f.Close()
	return ReadCSV(f)
}

// DirSource loads the first CSV file, in lexical order, found in Dir.
type DirSource struct {
	Dir string
}

// Load returns (nil, nil) when the directory holds no CSV file.
func (s DirSource) Load(ctx context.Context) (*Frame, error) {
	matches, err := filepath.Glob(filepath.Join(s.Dir, "*.csv"))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", s.Dir, err)
	}
	if len(matches) == 0 {
		slog.Info("no csv files in data directory", "dir", s.Dir)
		return nil, nil
	}
	sort.Strings(matches)

	slog.Info("loading dataset", "path", matches[0])
	frame, err := ReadCSVFile(matches[0])
	if err != nil {
		return nil, err
	}
	slog.Info("dataset loaded", "path", matches[0], "rows", frame.Len(), "columns", len(frame.Columns))
	return frame, nil
}

// Dataset is the canonical labeled training table.
type Dataset struct {
	Samples []domain.Sample
}

// Len returns the number of samples.
func (d *Dataset) Len() int {
	return len(d.Samples)
}

// FraudCount returns the number of positive samples.
func (d *Dataset) FraudCount() int {
	n := 0
	for _, s := range d.Samples {
		if s.IsFraud {
			n++
		}
	}
	return n
}

// FraudRatio returns the share of positive samples.
func (d *Dataset) FraudRatio() float64 {
	if len(d.Samples) == 0 {
		return 0
	}
	return float64(d.FraudCount()) / float64(len(d.Samples))
}

// Records returns the unlabeled records in order.
func (d *Dataset) Records() []domain.TransactionRecord {
	out := make([]domain.TransactionRecord, len(d.Samples))
	for i, s := range d.Samples {
		out[i] = s.Record
	}
	return out
}

// Labels returns 0/1 labels in order.
func (d *Dataset) Labels() []int {
	out := make([]int, len(d.Samples))
	for i, s := range d.Samples {
		if s.IsFraud {
			out[i] = 1
		}
	}
	return out
}

// CanonicalColumns is the column order WriteCSV emits.
var CanonicalColumns = []string{
	ColAmount, ColHour, ColMerchantCategory, ColPaymentMethod,
	ColCustomerAge, ColTransactionFrequency, ColLocationRiskScore, ColIsFraud,
}

// WriteCSV writes the dataset with a header of CanonicalColumns.
func (d *Dataset) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CanonicalColumns); err != nil {
		return err
	}
	for _, s := range d.Samples {
		r := s.Record
		label := "0"
		if s.IsFraud {
			label = "1"
		}
		row := []string{
			strconv.FormatFloat(r.Amount, 'g', -1, 64),
			strconv.Itoa(r.Hour),
			r.MerchantCategory,
			r.PaymentMethod,
			strconv.Itoa(r.CustomerAge),
			strconv.Itoa(r.TransactionFrequency),
			strconv.FormatFloat(r.LocationRiskScore, 'g', -1, 64),
			label,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
