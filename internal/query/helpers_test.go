package query

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/basekick-labs/insight/internal/dataset"
	"github.com/basekick-labs/insight/internal/schema"
)

// memRegistry is a fixed in-memory Registry for tests.
type memRegistry map[string]*dataset.Dataset

func (m memRegistry) Datasets() []dataset.Info {
	out := make([]dataset.Info, 0, len(m))
	for _, d := range m {
		out = append(out, d.Info)
	}
	return out
}

func (m memRegistry) Records(id string) ([]dataset.Record, error) {
	d, ok := m[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", dataset.ErrNotFound, id)
	}
	return d.Records, nil
}

func (m memRegistry) put(id string, kind schema.Kind, records ...dataset.Record) memRegistry {
	m[id] = &dataset.Dataset{
		Info:    dataset.Info{ID: id, Kind: kind, NumRows: len(records)},
		Records: records,
	}
	return m
}

func section(dept, id, title, instructor, uuid string, year, avg, pass, fail, audit float64) dataset.Record {
	return dataset.Record{
		"Subject": dept, "Course": id, "Title": title, "Professor": instructor, "id": uuid,
		"Year": year, "Avg": avg, "Pass": pass, "Fail": fail, "Audit": audit,
	}
}

func room(shortname, number string, seats float64, furniture string) dataset.Record {
	return dataset.Record{
		"fullname": shortname + " Building", "shortname": shortname, "number": number,
		"name": shortname + "_" + number, "address": "1 Main Mall", "type": "Classroom",
		"furniture": furniture, "href": "http://rooms/" + shortname + "-" + number,
		"lat": 49.26, "lon": -123.25, "seats": seats,
	}
}

func sampleSections() []dataset.Record {
	return []dataset.Record{
		section("cpsc", "310", "intro sw eng", "smith", "1001", 2015, 83.1, 100, 5, 0),
		section("cpsc", "110", "comp prog", "jones", "1002", 2016, 80.7, 200, 10, 1),
		section("math", "100", "cancer epid", "lee", "1003", 2015, 82.8, 50, 2, 0),
		section("path", "408", "cancer epid", "kim", "1004", 2014, 60, 20, 0, 0),
		section("path", "408", "cancer epid", "kim", "1005", 2013, 70, 25, 1, 2),
	}
}

func testRegistry() memRegistry {
	return memRegistry{}.
		put("sections", schema.KindSections, sampleSections()...).
		put("rooms", schema.KindRooms,
			room("DMP", "110", 120, "Tables"),
			room("DMP", "201", 40, "Chairs"),
			room("ANGU", "098", 260, "Tables"))
}

func doc(t *testing.T, s string) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(s), &m))
	return m
}

func newTestExecutor() *Executor {
	return NewExecutor(zerolog.Nop())
}
