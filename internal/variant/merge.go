package variant

import "sort"

// Record pairs the score and count values stored for one variant.
type Record struct {
	Key     string
	HGVSNt  *string
	HGVSPro *string
	Scores  map[string]*float64
	Counts  map[string]*float64
}

// Merged is the joined content of a score table and an optional count table.
type Merged struct {
	Primary      string
	ScoreColumns []string
	CountColumns []string
	Records      []Record
}

// Merge joins scores and counts on the primary column. A key found on one side
// only gets an all-null row on the other. counts may be nil.
func Merge(scores, counts *Dataset) (*Merged, error) {
	m := &Merged{
		Primary:      scores.Primary,
		ScoreColumns: scores.Columns,
		CountColumns: []string{},
	}
	if counts == nil {
		for _, r := range scores.Rows {
			m.Records = append(m.Records, Record{
				Key:     r.Key(scores.Primary),
				HGVSNt:  r.HGVSNt,
				HGVSPro: r.HGVSPro,
				Scores:  r.Values,
				Counts:  map[string]*float64{},
			})
		}
		return m, nil
	}

	if counts.Primary != scores.Primary {
		return nil, invalid(ErrPrimaryMismatch, counts.Primary, 0,
			"count file is keyed on %s but score file is keyed on %s", counts.Primary, scores.Primary)
	}
	m.CountColumns = counts.Columns

	// protein-level keys may repeat, so pending count rows are queued per key
	pending := make(map[string][]Row, len(counts.Rows))
	for _, r := range counts.Rows {
		key := r.Key(counts.Primary)
		pending[key] = append(pending[key], r)
	}

	for _, s := range scores.Rows {
		key := s.Key(scores.Primary)
		rec := Record{
			Key:     key,
			HGVSNt:  s.HGVSNt,
			HGVSPro: s.HGVSPro,
			Scores:  s.Values,
		}
		if queue := pending[key]; len(queue) > 0 {
			c := queue[0]
			pending[key] = queue[1:]
			rec.Counts = c.Values
			if rec.HGVSNt == nil {
				rec.HGVSNt = c.HGVSNt
			}
			if rec.HGVSPro == nil {
				rec.HGVSPro = c.HGVSPro
			}
		} else {
			rec.Counts = nullValues(counts.Columns)
		}
		m.Records = append(m.Records, rec)
	}

	for _, c := range counts.Rows {
		key := c.Key(counts.Primary)
		queue := pending[key]
		if len(queue) == 0 || queue[0].Line != c.Line {
			continue
		}
		pending[key] = queue[1:]
		m.Records = append(m.Records, Record{
			Key:     key,
			HGVSNt:  c.HGVSNt,
			HGVSPro: c.HGVSPro,
			Scores:  nullValues(scores.Columns),
			Counts:  c.Values,
		})
	}
	return m, nil
}

func nullValues(columns []string) map[string]*float64 {
	m := make(map[string]*float64, len(columns))
	for _, c := range columns {
		m[c] = nil
	}
	return m
}

// CheckColumns verifies values carries exactly the declared columns, in any order.
func CheckColumns(declared []string, values map[string]*float64) error {
	got := make([]string, 0, len(values))
	for k := range values {
		got = append(got, k)
	}
	want := append([]string(nil), declared...)
	sort.Strings(got)
	sort.Strings(want)

	if len(got) != len(want) {
		return invalid(ErrColumnMismatch, "", 0, "expected columns %v, got %v", want, got)
	}
	for i := range got {
		if got[i] != want[i] {
			return invalid(ErrColumnMismatch, "", 0, "expected columns %v, got %v", want, got)
		}
	}
	return nil
}
