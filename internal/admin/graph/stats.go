package graph

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/conduit-lang/admin/internal/orm/query"
	"github.com/conduit-lang/admin/internal/orm/record"
	"github.com/conduit-lang/admin/internal/orm/schema"
)

// Unspecified is the bucket of records whose dimension value is null
const Unspecified = "unspecified"

// DefaultSeries names the only series of a one-dimensional statistic
const DefaultSeries = "default"

// Palette holds the colors assigned round-robin to points or series
var Palette = []string{
	"#4e79a7", "#f28e2b", "#e15759", "#76b7b2", "#59a14f",
	"#edc948", "#b07aa1", "#ff9da7", "#9c755f", "#bab0ac",
}

// Aggregate is the function applied to each group
type Aggregate struct {
	fn    string
	field string
}

// Count counts the records of each group
func Count() Aggregate { return Aggregate{fn: "count"} }

// Sum adds up a numeric field over each group
func Sum(field string) Aggregate { return Aggregate{fn: "sum", field: field} }

func (a Aggregate) String() string {
	if a.fn == "sum" {
		return "sum(" + a.field + ")"
	}
	return a.fn
}

type dimension struct {
	field *schema.Field
	// unit truncates temporal values: day, month or year
	unit string
}

type cell struct{ x, y string }

// StatisticsView aggregates a collection along one or two dimensions.
// A dimension is a field name, optionally suffixed ":day", ":month" or
// ":year" for date fields. The table is computed once per view.
type StatisticsView struct {
	c    *Collection
	name string
	path string
	x, y string
	xd   *dimension
	yd   *dimension
	agg  Aggregate
	err  error

	done    bool
	xKeys   []string
	yKeys   []string
	xLabels map[string]string
	yLabels map[string]string
	table   map[cell]float64
	total   float64
}

// NewStatistics creates a statistic over c; y may be empty
func NewStatistics(c *Collection, name, x, y string, agg Aggregate) *StatisticsView {
	s := &StatisticsView{c: c, name: name, path: c.path, x: x, y: y, agg: agg, err: c.err}
	if s.err != nil {
		return s
	}

	ms := c.mt.schema
	if s.xd, s.err = parseDimension(ms, x); s.err != nil {
		return s
	}
	if y != "" {
		if s.yd, s.err = parseDimension(ms, y); s.err != nil {
			return s
		}
	}
	if agg.fn == "sum" {
		f, ok := ms.Field(agg.field)
		if !ok || !f.Type.IsNumeric() {
			s.err = &ConfigurationError{Model: ms.Name, Name: agg.field, Reason: "is not a numeric field"}
		}
	}
	return s
}

func parseDimension(ms *schema.ModelSchema, spec string) (*dimension, error) {
	name, unit, _ := strings.Cut(spec, ":")
	f, ok := ms.Field(name)
	if !ok {
		return nil, &ConfigurationError{Model: ms.Name, Name: name, Reason: "is not a field"}
	}
	switch unit {
	case "":
	case "day", "month", "year":
		if !f.Type.IsTemporal() {
			return nil, &ConfigurationError{Model: ms.Name, Name: spec, Reason: "groups a non-date field by " + unit}
		}
	default:
		return nil, &ConfigurationError{Model: ms.Name, Name: spec, Reason: "has an unknown unit"}
	}
	return &dimension{field: f, unit: unit}, nil
}

// At returns a copy reached by path
func (s *StatisticsView) At(path string) *StatisticsView {
	cp := *s
	cp.path = path
	return &cp
}

// Path returns the path of the view
func (s *StatisticsView) Path() string { return s.path }

// Err returns the configuration error, if any
func (s *StatisticsView) Err() error { return s.err }

// Calculate groups the records of the collection. It runs once; later
// calls return immediately.
func (s *StatisticsView) Calculate(ctx context.Context) error {
	if s.err != nil {
		return s.err
	}
	if s.done {
		return nil
	}

	recs, err := s.c.All(ctx)
	if err != nil {
		return err
	}

	s.table = make(map[cell]float64)
	xs, ys := make(map[string]bool), make(map[string]bool)
	s.total = 0
	for _, rec := range recs {
		k := cell{x: s.xd.key(rec), y: DefaultSeries}
		if s.yd != nil {
			k.y = s.yd.key(rec)
		}
		v := 1.0
		if s.agg.fn == "sum" {
			v, _ = query.ToFloat(rec.Get(s.agg.field))
		}
		s.table[k] += v
		s.total += v
		xs[k.x], ys[k.y] = true, true
	}
	if s.yd == nil {
		ys[DefaultSeries] = true
	}

	s.xKeys, s.yKeys = sortedBuckets(xs), sortedBuckets(ys)
	s.xLabels = s.labels(ctx, s.xd, s.xKeys)
	if s.yd != nil {
		s.yLabels = s.labels(ctx, s.yd, s.yKeys)
	} else {
		s.yLabels = map[string]string{DefaultSeries: DefaultSeries}
	}
	s.done = true
	return nil
}

func (d *dimension) key(rec *record.Record) string {
	v := rec.Get(d.field.Name)
	if v == nil {
		return Unspecified
	}
	if t, ok := v.(time.Time); ok {
		t = t.UTC()
		switch {
		case d.unit == "year":
			return t.Format("2006")
		case d.unit == "month":
			return t.Format("2006-01")
		case d.unit == "day" || d.field.Type.BaseType == schema.TypeDate:
			return t.Format("2006-01-02")
		default:
			return t.Format(time.RFC3339)
		}
	}
	if f, ok := v.(float64); ok && f == math.Trunc(f) {
		return strconv.FormatInt(int64(f), 10)
	}
	return fmt.Sprint(v)
}

// sortedBuckets orders keys numerically when both are integers, lexically
// otherwise, with the unspecified bucket last
func sortedBuckets(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a == Unspecified || b == Unspecified {
			return b == Unspecified && a != Unspecified
		}
		an, aerr := strconv.ParseInt(a, 10, 64)
		bn, berr := strconv.ParseInt(b, 10, 64)
		if aerr == nil && berr == nil {
			return an < bn
		}
		return a < b
	})
	return keys
}

func (s *StatisticsView) labels(ctx context.Context, d *dimension, keys []string) map[string]string {
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		out[k] = s.label(ctx, d, k)
	}
	return out
}

func (s *StatisticsView) label(ctx context.Context, d *dimension, key string) string {
	if key == Unspecified {
		return Unspecified
	}
	f := d.field
	switch {
	case f.IsForeignKey():
		if l := labelOf(ctx, s.c.mt.registry, f.Relation.TargetModel, key); l != "" {
			return l
		}
	case f.Type.HasChoices():
		return f.Type.ChoiceLabel(key)
	case f.Type.BaseType == schema.TypeBool:
		if key == "true" {
			return "Yes"
		}
		return "No"
	case d.unit == "month":
		if t, err := time.Parse("2006-01", key); err == nil {
			return t.Format("Jan 2006")
		}
	}
	return key
}

// Serialize returns one series per y value, or a single "default" series,
// with a point per x value. One-dimensional points are colored by x,
// two-dimensional series by y.
func (s *StatisticsView) Serialize(ctx context.Context) (*StatisticsDocument, error) {
	if err := s.Calculate(ctx); err != nil {
		return nil, err
	}

	doc := &StatisticsDocument{
		Type:        TypeStatistics,
		Name:        s.name,
		Path:        s.path,
		X:           s.x,
		Y:           s.y,
		Aggregate:   s.agg.String(),
		Labels:      make([]string, len(s.xKeys)),
		Series:      make(map[string][]Point, len(s.yKeys)),
		Percentages: make([]Point, len(s.xKeys)),
		Total:       s.total,
	}

	for i, xk := range s.xKeys {
		doc.Labels[i] = s.xLabels[xk]
	}
	names := s.seriesNames()
	for yi, yk := range s.yKeys {
		points := make([]Point, len(s.xKeys))
		for xi, xk := range s.xKeys {
			color := Palette[xi%len(Palette)]
			if s.yd != nil {
				color = Palette[yi%len(Palette)]
			}
			points[xi] = Point{Label: s.xLabels[xk], Value: s.table[cell{xk, yk}], Color: color}
		}
		doc.Series[names[yk]] = points
	}

	for xi, xk := range s.xKeys {
		var sum float64
		for _, yk := range s.yKeys {
			sum += s.table[cell{xk, yk}]
		}
		pct := 0.0
		if s.total != 0 {
			pct = math.Round(sum/s.total*10000) / 100
		}
		doc.Percentages[xi] = Point{Label: s.xLabels[xk], Value: pct, Color: Palette[xi%len(Palette)]}
	}
	return doc, nil
}

// seriesNames maps y keys to series names. A label shared by several keys is
// suffixed with the key so no series overwrites another.
func (s *StatisticsView) seriesNames() map[string]string {
	seen := make(map[string]int, len(s.yKeys))
	for _, yk := range s.yKeys {
		seen[s.yLabels[yk]]++
	}
	names := make(map[string]string, len(s.yKeys))
	for _, yk := range s.yKeys {
		label := s.yLabels[yk]
		if seen[label] > 1 {
			label = fmt.Sprintf("%s (%s)", label, yk)
		}
		names[yk] = label
	}
	return names
}
