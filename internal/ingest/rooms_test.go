package ingest

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basekick-labs/insight/internal/dataset"
	"github.com/basekick-labs/insight/internal/schema"
)

type indexRow struct{ code, title, link, address string }

func indexHTML(rows ...indexRow) string {
	var b strings.Builder
	b.WriteString(`<html><body><table class="nav"><tr><th>menu</th></tr></table>
<table class="views-table cols-5 table"><thead><tr><th>Code</th></tr></thead><tbody>`)
	for _, r := range rows {
		fmt.Fprintf(&b, `<tr>
<td class="views-field views-field-field-building-code"> %s </td>
<td class="views-field views-field-title"><a href="%s" title="Building Details and Map">%s</a></td>
<td class="views-field views-field-field-building-address"> %s </td>
</tr>`, r.code, r.link, r.title, r.address)
	}
	b.WriteString(`</tbody></table></body></html>`)
	return b.String()
}

type roomRow struct{ number, seats, furniture, roomType, href string }

func buildingHTML(rows ...roomRow) string {
	var b strings.Builder
	b.WriteString(`<html><body><div id="building-info"><h2>Building</h2></div>
<table class="views-table cols-5 table"><thead><tr><th>Room</th></tr></thead><tbody>`)
	for _, r := range rows {
		fmt.Fprintf(&b, `<tr>
<td class="views-field views-field-field-room-number"><a href="%[5]s" title="Room Details">%[1]s</a></td>
<td class="views-field views-field-field-room-capacity">  %[2]s </td>
<td class="views-field views-field-field-room-furniture"> %[3]s </td>
<td class="views-field views-field-field-room-type"> %[4]s </td>
<td class="views-field views-field-nothing"><a href="%[5]s">More info</a></td>
</tr>`, r.number, r.seats, r.furniture, r.roomType, r.href)
	}
	b.WriteString(`</tbody></table></body></html>`)
	return b.String()
}

const (
	dmpPage  = "campus/discover/buildings-and-classrooms/DMP.htm"
	anguPage = "campus/discover/buildings-and-classrooms/ANGU.htm"
	woodPage = "campus/discover/buildings-and-classrooms/WOOD.htm"
)

func roomsArchive(t *testing.T) []byte {
	t.Helper()
	return makeZip(t,
		zipEntry{name: "index.htm", body: indexHTML(
			indexRow{"DMP", "Hugh Dempster Pavilion", "./" + dmpPage, "6245 Agronomy Road V6T 1Z4"},
			indexRow{"NOPE", "Missing Page", "./campus/discover/buildings-and-classrooms/NOPE.htm", "1 Nowhere"},
			indexRow{"ANGU", "Henry Angus", "./" + anguPage, "2053 Main Mall"},
			indexRow{"WOOD", "Woodward", "./" + woodPage, "Unknown Address"},
		)},
		zipEntry{name: dmpPage, body: buildingHTML(
			roomRow{"310", "160", "Classroom-Fixed Tables/Movable Chairs", "Tiered Large Group", "http://rooms/DMP-310"},
			roomRow{"101", "", "Classroom-Movable Tables & Chairs", "Small Group", "http://rooms/DMP-101"},
			roomRow{"110", "120", "Classroom-Fixed Tables/Movable Chairs", "Tiered Large Group", "http://rooms/DMP-110"},
		)},
		zipEntry{name: anguPage, body: buildingHTML(
			roomRow{"098", "260", "Classroom-Fixed Tables/Fixed Chairs", "Tiered Large Group", "http://rooms/ANGU-098"},
		)},
		zipEntry{name: woodPage, body: buildingHTML(
			roomRow{"2", "503", "Classroom-Fixed Tablets", "Tiered Large Group", "http://rooms/WOOD-2"},
		)},
	)
}

func TestParseRooms(t *testing.T) {
	geo := newFakeGeolocator(map[string]Location{
		"6245 Agronomy Road V6T 1Z4": {Lat: 49.26125, Lon: -123.24807},
		"2053 Main Mall":             {Lat: 49.26486, Lon: -123.25364},
	})

	records, err := newTestParser(geo).Parse(context.Background(), schema.KindRooms, roomsArchive(t))
	require.NoError(t, err)

	// DMP 101 has an empty capacity, NOPE has no page, WOOD cannot be geolocated.
	require.Len(t, records, 3)
	assert.Equal(t, dataset.Record{
		"fullname":  "Hugh Dempster Pavilion",
		"shortname": "DMP",
		"number":    "310",
		"name":      "DMP_310",
		"address":   "6245 Agronomy Road V6T 1Z4",
		"type":      "Tiered Large Group",
		"furniture": "Classroom-Fixed Tables/Movable Chairs",
		"href":      "http://rooms/DMP-310",
		"lat":       49.26125,
		"lon":       -123.24807,
		"seats":     160.0,
	}, records[0])
	assert.Equal(t, "DMP_110", records[1]["name"])
	assert.Equal(t, "ANGU_098", records[2]["name"])
	assert.Equal(t, 260.0, records[2]["seats"])

	for _, r := range records {
		for _, f := range schema.Required(schema.KindRooms) {
			assert.Contains(t, r, f)
		}
	}

	assert.Equal(t, 1, geo.calls["6245 Agronomy Road V6T 1Z4"])
	assert.Equal(t, 1, geo.calls["Unknown Address"])
	assert.Zero(t, geo.calls["1 Nowhere"])
}

func TestParseRooms_Invalid(t *testing.T) {
	noRooms := makeZip(t,
		zipEntry{name: "index.htm", body: indexHTML(indexRow{"DMP", "Dempster", "./" + dmpPage, "addr"})},
		zipEntry{name: dmpPage, body: buildingHTML(roomRow{"1", "10", "", "Small", "http://x"})},
	)

	tests := []struct {
		name    string
		content []byte
	}{
		{"no index", makeZip(t, zipEntry{name: dmpPage, body: buildingHTML()})},
		{"index in a subdirectory", makeZip(t, zipEntry{name: "rooms/index.htm", body: indexHTML()})},
		{"no building table", makeZip(t, zipEntry{name: "index.htm", body: "<html><body><table><tr><td>x</td></tr></table></body></html>"})},
		{"empty building table", makeZip(t, zipEntry{name: "index.htm", body: indexHTML()})},
		{"no valid rooms", noRooms},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			geo := newFakeGeolocator(map[string]Location{"addr": {}})
			_, err := newTestParser(geo).Parse(context.Background(), schema.KindRooms, tt.content)
			assert.ErrorIs(t, err, ErrInvalidContent)
		})
	}
}

func TestParseRooms_AllGeolocationsFail(t *testing.T) {
	geo := newFakeGeolocator(nil)
	_, err := newTestParser(geo).Parse(context.Background(), schema.KindRooms, roomsArchive(t))
	assert.ErrorIs(t, err, ErrInvalidContent)
}

func TestParseRooms_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	geo := newFakeGeolocator(map[string]Location{"2053 Main Mall": {}})
	_, err := newTestParser(geo).Parse(ctx, schema.KindRooms, roomsArchive(t))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseRooms_RequiresGeolocator(t *testing.T) {
	_, err := newTestParser(nil).Parse(context.Background(), schema.KindRooms, roomsArchive(t))
	assert.Error(t, err)
}
