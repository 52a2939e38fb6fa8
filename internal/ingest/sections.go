package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/basekick-labs/insight/internal/dataset"
	"github.com/basekick-labs/insight/internal/schema"
)

const coursesDir = "courses/"

// parseSections reads every JSON file under courses/ and returns the
// normalized section records in archive order.
func (p *Parser) parseSections(a *archive) ([]dataset.Record, error) {
	files := a.under(coursesDir)
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no files under %s", ErrInvalidContent, coursesDir)
	}

	required := schema.Required(schema.KindSections)
	var (
		records    []dataset.Record
		validFiles int
	)
	for _, f := range files {
		data, err := readEntry(f)
		if err != nil {
			p.logger.Debug().Err(err).Str("file", f.Name).Msg("Skipping unreadable course file")
			continue
		}
		sections, ok := decodeCourseFile(data)
		if !ok {
			p.logger.Debug().Str("file", f.Name).Msg("Skipping course file that is not JSON")
			continue
		}
		if len(sections) == 0 || !hasFields(sections[0], required) {
			continue
		}
		validFiles++
		for _, s := range sections {
			r, ok := normalizeSection(s)
			if !ok {
				continue
			}
			records = append(records, r)
		}
	}

	if validFiles == 0 {
		return nil, fmt.Errorf("%w: no valid course files", ErrInvalidContent)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: no valid sections", ErrInvalidContent)
	}
	return records, nil
}

// decodeCourseFile extracts the "result" array of a course file. Numbers
// are kept as json.Number so integer ids format without an exponent.
func decodeCourseFile(data []byte) ([]map[string]any, bool) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc struct {
		Result []map[string]any `json:"result"`
	}
	if err := dec.Decode(&doc); err != nil {
		return nil, false
	}
	return doc.Result, true
}

func hasFields(m map[string]any, fields []string) bool {
	for _, f := range fields {
		if _, ok := m[f]; !ok {
			return false
		}
	}
	return true
}

// normalizeSection keeps only the catalog fields of a raw section and
// coerces each to its class. Sections with a missing or uncoercible field
// are dropped.
func normalizeSection(raw map[string]any) (dataset.Record, bool) {
	fields := schema.Fields(schema.KindSections)
	r := make(dataset.Record, len(fields))
	for _, f := range fields {
		v, ok := raw[f.Internal]
		if !ok || v == nil {
			return nil, false
		}
		if f.Class == schema.Textual {
			s, ok := toText(v)
			if !ok {
				return nil, false
			}
			r[f.Internal] = s
			continue
		}
		var n float64
		if f.Internal == "Year" {
			n, ok = toYear(v)
		} else {
			n, ok = toFloat(v)
		}
		if !ok {
			return nil, false
		}
		r[f.Internal] = n
	}
	return r, true
}

func toText(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return cleanText(t), true
	case json.Number:
		return t.String(), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}

func toFloat(v any) (float64, bool) {
	var (
		f   float64
		err error
	)
	switch t := v.(type) {
	case json.Number:
		f, err = t.Float64()
	case string:
		f, err = strconv.ParseFloat(strings.TrimSpace(t), 64)
	default:
		return 0, false
	}
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

// toYear parses a year as a base 10 integer.
func toYear(v any) (float64, bool) {
	var s string
	switch t := v.(type) {
	case json.Number:
		s = t.String()
	case string:
		s = strings.TrimSpace(t)
	default:
		return 0, false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return float64(n), true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	return math.Trunc(f), true
}
