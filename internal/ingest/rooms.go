package ingest

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/sync/errgroup"

	"github.com/basekick-labs/insight/internal/dataset"
)

const indexFile = "index.htm"

// Cell classes of the building index and the per-building room tables.
const (
	classBuildingCode    = "views-field-field-building-code"
	classBuildingTitle   = "views-field-title"
	classBuildingAddress = "views-field-field-building-address"

	classRoomNumber    = "views-field-field-room-number"
	classRoomFurniture = "views-field-field-room-furniture"
	classRoomCapacity  = "views-field-field-room-capacity"
	classRoomType      = "views-field-field-room-type"
	classRoomLink      = "views-field-nothing"
)

type building struct {
	shortname string
	fullname  string
	link      string
	address   string
}

type room struct {
	number    string
	furniture string
	seats     float64
	roomType  string
	href      string
}

// parseRooms reads the building index, then every linked building page,
// geolocating each building that has rooms. Buildings are processed
// concurrently; output keeps index order, then room table order.
func (p *Parser) parseRooms(ctx context.Context, a *archive) ([]dataset.Record, error) {
	data, ok, err := a.read(indexFile)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidContent, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: no %s", ErrInvalidContent, indexFile)
	}
	doc, err := parseHTML(data)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed %s: %v", ErrInvalidContent, indexFile, err)
	}

	table := buildingTable(doc)
	if table == nil {
		return nil, fmt.Errorf("%w: no building table in %s", ErrInvalidContent, indexFile)
	}
	buildings := parseBuildings(table)
	if len(buildings) == 0 {
		return nil, fmt.Errorf("%w: building table is empty", ErrInvalidContent)
	}

	results := make([][]dataset.Record, len(buildings))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, b := range buildings {
		g.Go(func() error {
			records, err := p.buildingRecords(gctx, a, b)
			if err != nil {
				return err
			}
			results[i] = records
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var records []dataset.Record
	for _, r := range results {
		records = append(records, r...)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: no valid rooms", ErrInvalidContent)
	}
	return records, nil
}

// buildingRecords returns the room records of one building. A building
// without a page, without rooms, or that cannot be geolocated yields no
// records. Only context cancellation is returned as an error.
func (p *Parser) buildingRecords(ctx context.Context, a *archive, b building) ([]dataset.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	log := p.logger.With().Str("building", b.shortname).Logger()

	data, ok, err := a.read(b.link)
	if err != nil {
		log.Warn().Err(err).Msg("Skipping unreadable building page")
		return nil, nil
	}
	if !ok {
		log.Debug().Str("link", b.link).Msg("Building page not in archive")
		return nil, nil
	}
	doc, err := parseHTML(data)
	if err != nil {
		log.Warn().Err(err).Msg("Skipping malformed building page")
		return nil, nil
	}
	rooms := parseRoomTable(doc)
	if len(rooms) == 0 {
		return nil, nil
	}

	loc, err := p.geo.Geolocate(ctx, b.address)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warn().Err(err).Str("address", b.address).Msg("Skipping building that could not be geolocated")
		return nil, nil
	}

	records := make([]dataset.Record, 0, len(rooms))
	for _, r := range rooms {
		records = append(records, dataset.Record{
			"fullname":  b.fullname,
			"shortname": b.shortname,
			"number":    r.number,
			"name":      b.shortname + "_" + r.number,
			"address":   b.address,
			"type":      r.roomType,
			"furniture": r.furniture,
			"href":      r.href,
			"lat":       loc.Lat,
			"lon":       loc.Lon,
			"seats":     r.seats,
		})
	}
	return records, nil
}

// buildingTable returns the first table holding a views-field cell.
func buildingTable(doc *html.Node) *html.Node {
	for _, table := range findAll(doc, atom.Table) {
		for _, td := range findAll(table, atom.Td) {
			if classContains(td, "views-field") {
				return table
			}
		}
	}
	return nil
}

func parseBuildings(table *html.Node) []building {
	var out []building
	for _, tr := range bodyRows(table) {
		cells := rowCells(tr)
		code, title, addr := cells[classBuildingCode], cells[classBuildingTitle], cells[classBuildingAddress]
		if code == nil || title == nil || addr == nil {
			continue
		}
		anchor := findFirst(title, atom.A)
		if anchor == nil {
			continue
		}
		b := building{
			shortname: text(code),
			fullname:  text(anchor),
			link:      strings.TrimPrefix(attr(anchor, "href"), "./"),
			address:   text(addr),
		}
		if b.shortname == "" || b.link == "" {
			continue
		}
		out = append(out, b)
	}
	return out
}

// parseRoomTable extracts the rooms of a building page's views-table.
// Rows with an empty field or a non-numeric capacity are skipped.
func parseRoomTable(doc *html.Node) []room {
	var table *html.Node
	for _, t := range findAll(doc, atom.Table) {
		if classContains(t, "views-table") {
			table = t
			break
		}
	}
	if table == nil {
		return nil
	}

	var out []room
	for _, tr := range bodyRows(table) {
		cells := rowCells(tr)
		numberCell, linkCell := cells[classRoomNumber], cells[classRoomLink]
		furniture, capacity, roomType := cells[classRoomFurniture], cells[classRoomCapacity], cells[classRoomType]
		if numberCell == nil || linkCell == nil || furniture == nil || capacity == nil || roomType == nil {
			continue
		}
		numberAnchor, linkAnchor := findFirst(numberCell, atom.A), findFirst(linkCell, atom.A)
		if numberAnchor == nil || linkAnchor == nil {
			continue
		}

		r := room{
			number:    text(numberAnchor),
			furniture: text(furniture),
			roomType:  text(roomType),
			href:      strings.TrimSpace(attr(linkAnchor, "href")),
		}
		seats := text(capacity)
		if r.number == "" || r.furniture == "" || seats == "" || r.roomType == "" || r.href == "" {
			continue
		}
		n, err := strconv.ParseFloat(seats, 64)
		if err != nil {
			continue
		}
		r.seats = n
		out = append(out, r)
	}
	return out
}
