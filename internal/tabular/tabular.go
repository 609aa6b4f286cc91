// Package tabular reads and writes harvested records as UTF-8 CSV with a
// byte order mark and a header row.
package tabular

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fliupa/cni-scrapy/internal/harvest"
)

// BOM is the UTF-8 byte order mark written ahead of the header.
const BOM = "\ufeff"

// ContentType is the media type of encoded artifacts.
const ContentType = "text/csv; charset=utf-8"

// Encode writes the header followed by one row per record. Unset fields are
// written as empty cells.
func Encode(w io.Writer, schema harvest.Schema, records []harvest.Record) error {
	if _, err := io.WriteString(w, BOM); err != nil {
		return fmt.Errorf("write bom: %w", err)
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(schema.Columns()); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	row := make([]string, 0, len(schema.Fields)+2)
	for _, rec := range records {
		row = row[:0]
		row = append(row, strconv.Itoa(rec.Index), rec.URL)
		for _, f := range schema.Fields {
			row = append(row, rec.Fields[f.Key])
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write record %d: %w", rec.Index, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// Marshal is Encode into a byte slice.
func Marshal(schema harvest.Schema, records []harvest.Record) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, schema, records); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode reads records written by Encode. Columns are matched by header name,
// so reordered or extra columns are tolerated; empty cells decode as unset.
func Decode(r io.Reader, schema harvest.Schema) ([]harvest.Record, error) {
	br := bufio.NewReader(r)
	if lead, err := br.Peek(len(BOM)); err == nil && string(lead) == BOM {
		if _, err := br.Discard(len(BOM)); err != nil {
			return nil, fmt.Errorf("skip bom: %w", err)
		}
	}

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	pos := make(map[string]int, len(header))
	for i, col := range header {
		pos[strings.TrimSpace(col)] = i
	}
	indexAt, ok := pos[schema.IndexColumn]
	if !ok {
		return nil, fmt.Errorf("missing column %q", schema.IndexColumn)
	}
	urlAt, ok := pos[schema.URLColumn]
	if !ok {
		return nil, fmt.Errorf("missing column %q", schema.URLColumn)
	}

	var records []harvest.Record
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", line, err)
		}
		index, err := strconv.Atoi(strings.TrimSpace(cell(row, indexAt)))
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid index: %w", line, err)
		}
		rec := harvest.NewRecord(index, cell(row, urlAt))
		for _, f := range schema.Fields {
			at, ok := pos[f.Column]
			if !ok {
				continue
			}
			if v := cell(row, at); v != "" {
				rec.Fields[f.Key] = v
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}
