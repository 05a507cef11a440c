package graphsync

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/relgraph/internal/graph"
	"github.com/sells-group/relgraph/internal/model"
)

const connectionsCSV = `Notes:
"When exporting your connection data, you may notice that some of the email addresses are missing."

First Name,Last Name,URL,Email Address,Company,Position,Connected On
Dana,Lee,https://www.linkedin.com/in/danalee,dana@delta.com,Delta Corp,VP Sales,15 Mar 2023
Eli,Moss,https://www.linkedin.com/in/elimoss,,Epsilon,Engineer,02 Jan 2024
Fay,Ng,,FAY@Zeta.io,,,
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func writeXLSX(t *testing.T, rows [][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Connections")
	require.NoError(t, err)
	for _, data := range rows {
		row := sheet.AddRow()
		for _, v := range data {
			row.AddCell().SetString(v)
		}
	}
	path := filepath.Join(t.TempDir(), "connections.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestDecodeConnectionsCSV_SkipsPreamble(t *testing.T) {
	rows, err := DecodeConnectionsCSV(strings.NewReader(connectionsCSV))
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, "Dana Lee", rows[0].Name())
	assert.Equal(t, "dana@delta.com", rows[0].Email)
	assert.Equal(t, "Delta Corp", rows[0].Company)
	assert.Equal(t, time.Date(2023, 3, 15, 0, 0, 0, 0, time.UTC), rows[0].ConnectedAt())
	assert.Empty(t, rows[1].Email)
	assert.True(t, rows[2].ConnectedAt().IsZero())
}

func TestDecodeConnectionsCSV_NoHeader(t *testing.T) {
	_, err := DecodeConnectionsCSV(strings.NewReader("Notes:\nnothing here\n"))
	assert.ErrorContains(t, err, "no header row")
}

func TestImportConnections_CSV(t *testing.T) {
	g := newTestGraph(t)
	ctx := context.Background()
	s := newTestSyncer(t, g, nil)

	stats, err := s.ImportConnections(ctx, writeFile(t, "Connections.csv", connectionsCSV), "")
	require.NoError(t, err)
	assert.Equal(t, ImportStats{Total: 3, Synced: 2, Skipped: 1}, stats)

	counts, err := g.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, counts.Persons) // me, dana, fay
	assert.Equal(t, 1, counts.Companies)
	assert.Equal(t, 2, counts.Edges[model.RelLinkedInConnected])
	assert.Equal(t, 1, counts.Edges[model.RelWorksAt])

	paths, err := g.Paths(ctx, graph.PathQuery{
		From: []string{me}, Rels: []model.RelType{model.RelLinkedInConnected}, MinHops: 1, MaxHops: 1,
		TargetCompany: "delta",
	})
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.Equal(t, "dana@delta.com", paths[0].Target.Email)
	assert.Equal(t, "VP Sales", paths[0].Target.Role)
	assert.Equal(t, "https://www.linkedin.com/in/danalee", paths[0].Target.LinkedInURL)
}

func TestImportConnections_OwnerOverride(t *testing.T) {
	g := newTestGraph(t)
	ctx := context.Background()
	s := newTestSyncer(t, g, nil)

	_, err := s.ImportConnections(ctx, writeFile(t, "c.csv", connectionsCSV), "Colleague@Example.com")
	require.NoError(t, err)

	paths, err := g.Paths(ctx, graph.PathQuery{
		From: []string{"colleague@example.com"}, Rels: []model.RelType{model.RelLinkedInConnected},
		MinHops: 1, MaxHops: 1, TargetEmail: "fay@zeta.io",
	})
	require.NoError(t, err)
	assert.Len(t, paths, 1)
}

func TestImportConnections_XLSX(t *testing.T) {
	g := newTestGraph(t)
	s := newTestSyncer(t, g, nil)

	path := writeXLSX(t, [][]string{
		{"First Name", "Last Name", "URL", "Email Address", "Company", "Position", "Connected On"},
		{"Gus", "Oh", "", "gus@eta.com", "Eta", "Founder", "01 Feb 2025"},
		{"Hal", "Poe", "", "", "Theta", "", ""},
	})
	stats, err := s.ImportConnections(context.Background(), path, "")
	require.NoError(t, err)
	assert.Equal(t, ImportStats{Total: 2, Synced: 1, Skipped: 1}, stats)
}

func TestImportConnections_UnsupportedExtension(t *testing.T) {
	s := newTestSyncer(t, newTestGraph(t), nil)
	_, err := s.ImportConnections(context.Background(), writeFile(t, "c.json", "{}"), "")
	assert.ErrorContains(t, err, "unsupported")
}
