// Package variant parses and validates uploaded score and count tables.
package variant

import (
	"encoding/csv"
	"errors"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"

	"mavedb/internal/hgvs"
)

const (
	ColumnHGVSNt  = "hgvs_nt"
	ColumnHGVSPro = "hgvs_pro"
	ColumnScore   = "score"
)

// Kind tells which table a file holds. Score tables must carry the score column.
type Kind int

const (
	Scores Kind = iota
	Counts
)

func (k Kind) String() string {
	if k == Counts {
		return "counts"
	}
	return "scores"
}

var nullRe = regexp.MustCompile(`(?i)^\s*(?:nan|na|none|null|nil|n/a|undefined)?\s*$`)

// IsNull reports whether a cell stands for a missing value.
func IsNull(s string) bool {
	return nullRe.MatchString(s)
}

// Row is one parsed data line.
type Row struct {
	Line    int
	HGVSNt  *string
	HGVSPro *string
	Values  map[string]*float64
}

// Key returns the value of the primary column for the row.
func (r Row) Key(primary string) string {
	v := r.HGVSNt
	if primary == ColumnHGVSPro {
		v = r.HGVSPro
	}
	if v == nil {
		return ""
	}
	return *v
}

// Dataset is a validated table. Columns lists the numeric columns in storage
// order and Rows keeps file order.
type Dataset struct {
	Kind    Kind
	Columns []string
	Primary string
	HGVS    []string
	Rows    []Row
}

// Map indexes rows by primary key. Rows sharing a protein-level key collapse
// to the last one.
func (d *Dataset) Map() map[string]Row {
	m := make(map[string]Row, len(d.Rows))
	for _, r := range d.Rows {
		m[r.Key(d.Primary)] = r
	}
	return m
}

func ParseScores(r io.Reader) (*Dataset, error) {
	return Parse(r, Scores)
}

func ParseCounts(r io.Reader) (*Dataset, error) {
	return Parse(r, Counts)
}

// Parse reads a CSV table and validates it. Every failure is a *ValidationError.
func Parse(r io.Reader, kind Kind) (*Dataset, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, invalid(ErrEmptyFile, "", 0, "file has no header row")
	}
	if err != nil {
		return nil, malformed(err)
	}

	ds, index, err := parseHeader(header, kind)
	if err != nil {
		return nil, err
	}

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, malformed(err)
		}
		line, _ := reader.FieldPos(0)
		row, err := parseRow(record, index, ds.Columns, line)
		if err != nil {
			return nil, err
		}
		ds.Rows = append(ds.Rows, row)
	}

	if len(ds.Rows) == 0 {
		return nil, invalid(ErrEmptyFile, "", 0, "file has no data rows")
	}

	ds.Primary = primaryColumn(ds)
	if err := checkPrimary(ds); err != nil {
		return nil, err
	}
	return ds, nil
}

func malformed(err error) error {
	var perr *csv.ParseError
	if errors.As(err, &perr) {
		return invalid(ErrMalformedRow, "", perr.Line, "%s", perr.Err)
	}
	return invalid(ErrMalformedRow, "", 0, "%s", err)
}

// columnIndex maps column names to their position in the file.
type columnIndex map[string]int

func parseHeader(header []string, kind Kind) (*Dataset, columnIndex, error) {
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	index := make(columnIndex, len(header))
	var numeric []string
	for i, name := range header {
		name = strings.TrimSpace(name)
		if IsNull(name) {
			return nil, nil, invalid(ErrNullColumnName, "", 1, "column %d has no name", i+1)
		}
		if _, ok := index[name]; ok {
			return nil, nil, invalid(ErrDuplicateColumn, name, 1, "column is declared more than once")
		}
		index[name] = i
		if name != ColumnHGVSNt && name != ColumnHGVSPro {
			numeric = append(numeric, name)
		}
	}

	ds := &Dataset{Kind: kind}
	for _, name := range []string{ColumnHGVSNt, ColumnHGVSPro} {
		if _, ok := index[name]; ok {
			ds.HGVS = append(ds.HGVS, name)
		}
	}
	if len(ds.HGVS) == 0 {
		return nil, nil, invalid(ErrMissingHGVSColumn, "", 1, "expected a %s or %s column", ColumnHGVSNt, ColumnHGVSPro)
	}
	if len(numeric) == 0 {
		return nil, nil, invalid(ErrNoNumericColumn, "", 1, "expected at least one numeric column")
	}
	if kind == Scores {
		if _, ok := index[ColumnScore]; !ok {
			return nil, nil, invalid(ErrMissingScoreColumn, ColumnScore, 1, "score files require a %q column", ColumnScore)
		}
	}

	ds.Columns = orderColumns(numeric)
	return ds, index, nil
}

// orderColumns puts the score column first and keeps file order for the rest.
func orderColumns(numeric []string) []string {
	ordered := make([]string, 0, len(numeric))
	for _, name := range numeric {
		if name == ColumnScore {
			ordered = append(ordered, name)
		}
	}
	for _, name := range numeric {
		if name != ColumnScore {
			ordered = append(ordered, name)
		}
	}
	return ordered
}

func parseRow(record []string, index columnIndex, numeric []string, line int) (Row, error) {
	row := Row{Line: line, Values: make(map[string]*float64, len(numeric))}

	if i, ok := index[ColumnHGVSNt]; ok {
		v, err := hgvsCell(record[i], ColumnHGVSNt, hgvs.Nucleotide, line)
		if err != nil {
			return Row{}, err
		}
		row.HGVSNt = v
	}
	if i, ok := index[ColumnHGVSPro]; ok {
		v, err := hgvsCell(record[i], ColumnHGVSPro, hgvs.Protein, line)
		if err != nil {
			return Row{}, err
		}
		row.HGVSPro = v
	}

	for _, name := range numeric {
		cell := record[index[name]]
		if IsNull(cell) {
			row.Values[name] = nil
			continue
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return Row{}, invalid(ErrNotNumeric, name, line, "%q is not a number", cell)
		}
		row.Values[name] = &f
	}
	return row, nil
}

func hgvsCell(cell, column string, level hgvs.Level, line int) (*string, error) {
	if IsNull(cell) {
		return nil, nil
	}
	v := strings.TrimSpace(cell)
	if err := hgvs.Validate(v, level); err != nil {
		return nil, invalid(ErrInvalidHGVS, column, line, "%q is not a valid %s variant", v, level)
	}
	return &v, nil
}

// primaryColumn picks hgvs_nt unless the file leaves it empty and also
// carries hgvs_pro.
func primaryColumn(ds *Dataset) string {
	hasNt, hasPro := false, false
	for _, c := range ds.HGVS {
		hasNt = hasNt || c == ColumnHGVSNt
		hasPro = hasPro || c == ColumnHGVSPro
	}
	if !hasNt {
		return ColumnHGVSPro
	}
	if !hasPro {
		return ColumnHGVSNt
	}
	for _, r := range ds.Rows {
		if r.HGVSNt != nil {
			return ColumnHGVSNt
		}
	}
	return ColumnHGVSPro
}

func checkPrimary(ds *Dataset) error {
	seen := make(map[string]int, len(ds.Rows))
	for _, r := range ds.Rows {
		key := r.Key(ds.Primary)
		if key == "" {
			return invalid(ErrNullPrimaryKey, ds.Primary, r.Line, "primary column must not contain null values")
		}
		if ds.Primary != ColumnHGVSNt {
			continue
		}
		if first, ok := seen[key]; ok {
			return invalid(ErrDuplicatePrimaryKey, ds.Primary, r.Line, "%q already appears on line %d", key, first)
		}
		seen[key] = r.Line
	}
	return nil
}
