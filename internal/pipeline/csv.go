package pipeline

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/couchcryptid/emissions-equity-map/internal/domain"
)

// ErrNoRows is returned when a dataset yields no usable rows.
var ErrNoRows = errors.New("no usable rows")

// ReadTable parses a CSV document with a header row. Ragged rows are kept;
// the normalizer treats missing cells as empty.
func ReadTable(r io.Reader) (domain.Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err == io.EOF {
		return domain.Table{}, fmt.Errorf("empty csv: %w", ErrNoRows)
	}
	if err != nil {
		return domain.Table{}, fmt.Errorf("read csv header: %w", err)
	}

	var rows [][]string
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return domain.Table{}, fmt.Errorf("read csv: %w", err)
		}
		rows = append(rows, rec)
	}
	return domain.Table{Header: header, Rows: rows}, nil
}

// FilterPollutant keeps the facility rows reporting pollutant, compared
// case-insensitively. An empty pollutant keeps everything. The boolean is
// false when the table has no pollutant column, in which case t is returned
// unchanged.
func FilterPollutant(t domain.Table, pollutant string) (domain.Table, bool) {
	if pollutant == "" {
		return t, true
	}
	cols, err := domain.FacilityFields.Resolve(t.Header)
	if err != nil {
		return t, false
	}
	if _, ok := cols.Column(domain.FieldPollutant); !ok {
		return t, false
	}
	rows := make([][]string, 0, len(t.Rows))
	for _, row := range t.Rows {
		if strings.EqualFold(cols.Value(row, domain.FieldPollutant), pollutant) {
			rows = append(rows, row)
		}
	}
	return domain.Table{Header: t.Header, Rows: rows}, true
}
