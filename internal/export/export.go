// Package export renders a checkpoint dataset for people and spreadsheets.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/jedib0t/go-pretty/v6/table"

	"citycrawler/internal/checkpoint"
	"citycrawler/pkg/types"
)

// Formats accepted by Write.
const (
	FormatCSV   = "csv"
	FormatJSON  = "json"
	FormatTable = "table"
)

// LocationRow is one flattened dataset item.
type LocationRow struct {
	City     string `csv:"city"`
	Position int    `csv:"position"`
	Name     string `csv:"name"`
	URL      string `csv:"url"`
}

// Rows flattens ds in key order, items in stored order.
func Rows(ds *checkpoint.Dataset) ([]LocationRow, error) {
	var rows []LocationRow
	for _, key := range ds.Keys() {
		items, err := checkpoint.Items[types.Location](ds, key)
		if err != nil {
			return nil, err
		}
		for i, loc := range items {
			rows = append(rows, LocationRow{City: key, Position: i + 1, Name: loc.Name, URL: loc.URL})
		}
	}
	return rows, nil
}

// Write renders ds in the named format.
func Write(w io.Writer, ds *checkpoint.Dataset, format string) error {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case FormatCSV:
		return WriteCSV(w, ds)
	case FormatJSON, "":
		return WriteJSON(w, ds)
	case FormatTable:
		return WriteTable(w, ds)
	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
}

// WriteCSV writes one row per location with a header line.
func WriteCSV(w io.Writer, ds *checkpoint.Dataset) error {
	rows, err := Rows(ds)
	if err != nil {
		return err
	}
	if err := gocsv.Marshal(&rows, w); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	return nil
}

// WriteJSON writes the dataset in its checkpoint form.
func WriteJSON(w io.Writer, ds *checkpoint.Dataset) error {
	data, err := json.MarshalIndent(ds, "", "  ")
	if err != nil {
		return fmt.Errorf("encode dataset: %w", err)
	}
	_, err = w.Write(append(data, '\n'))
	return err
}

// WriteTable prints per-city location counts.
func WriteTable(w io.Writer, ds *checkpoint.Dataset) error {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"#", "City", "Locations"})
	for i, key := range ds.Keys() {
		t.AppendRow(table.Row{i + 1, key, len(ds.Get(key))})
	}
	t.AppendFooter(table.Row{"", "Total", ds.ItemCount()})
	t.SetStyle(table.StyleRounded)
	t.Render()
	return nil
}
