package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/pterm/pterm"

	"github.com/JonMunkholm/geopublish/internal/domain"
	"github.com/JonMunkholm/geopublish/internal/geoserver"
	"github.com/JonMunkholm/geopublish/internal/postgis"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printTable renders rows under header. An empty table prints a note
// instead.
func printTable(w io.Writer, header []string, rows [][]string) error {
	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, "(none)")
		return err
	}
	data := append(pterm.TableData{header}, rows...)
	s, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, s)
	return err
}

func itemRows(items []domain.DataItem) [][]string {
	rows := make([][]string, 0, len(items))
	for _, it := range items {
		features := ""
		if it.FeatureCount != nil {
			features = humanize.Comma(int64(*it.FeatureCount))
		}
		rows = append(rows, []string{
			it.TargetName,
			string(it.Kind),
			it.EffectiveCRS(),
			it.GeometryType,
			features,
			it.Size,
			it.EffectiveStyle(),
			it.SourceIdentifier,
		})
	}
	return rows
}

var itemHeader = []string{"Name", "Kind", "CRS", "Geometry", "Features", "Size", "Style", "Source"}

func tableRows(tables []postgis.Table) [][]string {
	rows := make([][]string, 0, len(tables))
	for _, t := range tables {
		srid := ""
		if t.SRID != 0 {
			srid = strconv.Itoa(t.SRID)
		}
		rows = append(rows, []string{
			t.Schema,
			t.Name,
			t.GeometryType,
			srid,
			strconv.Itoa(t.ColumnCount),
			t.Size,
		})
	}
	return rows
}

var tableHeader = []string{"Schema", "Table", "Geometry", "SRID", "Columns", "Size"}

func refRows(refs geoserver.RefList) [][]string {
	rows := make([][]string, 0, len(refs))
	for _, r := range refs {
		rows = append(rows, []string{r.Name})
	}
	return rows
}

func failureRows(failures []domain.ItemFailure) [][]string {
	rows := make([][]string, 0, len(failures))
	for _, f := range failures {
		rows = append(rows, []string{f.TargetName, string(f.Stage), f.Reason})
	}
	return rows
}
