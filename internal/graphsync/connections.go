package graphsync

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/relgraph/internal/model"
	"github.com/sells-group/relgraph/internal/normalize"
)

// connectionHeader is the first column of the export's header row. Anything
// above it is the export's "Notes:" preamble.
const connectionHeader = "First Name"

// connectedOnLayouts are the date formats seen in connection exports.
var connectedOnLayouts = []string{"02 Jan 2006", "2 Jan 2006", "2006-01-02", "1/2/2006"}

// Connection is one row of a professional-network connections export.
type Connection struct {
	FirstName   string `csv:"First Name"`
	LastName    string `csv:"Last Name"`
	URL         string `csv:"URL,omitempty"`
	Email       string `csv:"Email Address"`
	Company     string `csv:"Company"`
	Position    string `csv:"Position"`
	ConnectedOn string `csv:"Connected On"`
}

// Name joins the first and last name.
func (c Connection) Name() string {
	return normalize.Name(c.FirstName + " " + c.LastName)
}

// ConnectedAt parses ConnectedOn, returning the zero time when it is blank
// or in an unknown format.
func (c Connection) ConnectedAt() time.Time {
	s := strings.TrimSpace(c.ConnectedOn)
	for _, layout := range connectedOnLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// ImportStats summarizes one connections import.
type ImportStats struct {
	Total   int `json:"total"`
	Synced  int `json:"synced"`
	Skipped int `json:"skipped"`
}

// ImportConnections reads a .csv or .xlsx export and links owner to every
// connection that has an email address. owner defaults to the primary
// address. Rows without an email are counted as skipped.
func (s *Syncer) ImportConnections(ctx context.Context, path, owner string) (ImportStats, error) {
	var stats ImportStats

	owner = normalize.Email(owner)
	if owner == "" {
		owner = s.id.Primary()
	}
	if owner == "" {
		return stats, eris.New("graphsync: connections owner is required")
	}

	rows, err := ReadConnections(path)
	if err != nil {
		return stats, err
	}

	if err := s.graph.UpsertPerson(ctx, model.Person{Email: owner}); err != nil {
		return stats, eris.Wrapf(err, "graphsync: person %s", owner)
	}

	log := zap.L().With(zap.String("file", filepath.Base(path)), zap.String("owner", owner))
	for i, c := range rows {
		if err := ctx.Err(); err != nil {
			return stats, eris.Wrap(err, "graphsync: import connections")
		}
		stats.Total++

		email := normalize.Email(c.Email)
		if email == "" {
			log.Debug("graphsync: connection without email, skipping",
				zap.Int("row", i+1),
				zap.String("name", c.Name()),
			)
			stats.Skipped++
			continue
		}
		if err := s.importConnection(ctx, owner, email, c); err != nil {
			return stats, err
		}
		stats.Synced++
	}

	log.Info("graphsync: connections imported",
		zap.Int("total", stats.Total),
		zap.Int("synced", stats.Synced),
		zap.Int("skipped", stats.Skipped),
	)
	return stats, nil
}

func (s *Syncer) importConnection(ctx context.Context, owner, email string, c Connection) error {
	company := strings.TrimSpace(c.Company)
	role := strings.TrimSpace(c.Position)

	if err := s.graph.UpsertPerson(ctx, model.Person{
		Email:       email,
		Name:        c.Name(),
		Company:     company,
		Role:        role,
		LinkedInURL: strings.TrimSpace(c.URL),
	}); err != nil {
		return eris.Wrapf(err, "graphsync: person %s", email)
	}
	if err := s.graph.UpsertLinkedInConnection(ctx, model.LinkedInConnection{
		From:        owner,
		To:          email,
		Degree:      1,
		ConnectedOn: c.ConnectedAt(),
	}); err != nil {
		return eris.Wrapf(err, "graphsync: linkedin %s", email)
	}

	key := normalize.Company(company)
	if key == "" {
		return nil
	}
	if err := s.graph.UpsertCompany(ctx, model.Company{Key: key, Name: company}); err != nil {
		return eris.Wrapf(err, "graphsync: company %s", key)
	}
	// Self-reported, so full confidence.
	err := s.graph.UpsertWorksAt(ctx, model.WorksAt{Email: email, CompanyKey: key, Role: role, Confidence: 1})
	return eris.Wrapf(err, "graphsync: works_at %s", email)
}

// ReadConnections decodes an export by file extension.
func ReadConnections(path string) ([]Connection, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrap(err, "graphsync: open connections csv")
		}
		defer f.Close() //nolint:errcheck
		return DecodeConnectionsCSV(f)
	case ".xlsx":
		return readConnectionsXLSX(path)
	default:
		return nil, eris.Errorf("graphsync: unsupported connections file %q (want .csv or .xlsx)", filepath.Base(path))
	}
}

// DecodeConnectionsCSV decodes a CSV export, skipping any preamble above
// the header row.
func DecodeConnectionsCSV(r io.Reader) ([]Connection, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	return decodeConnections(&headerSeeker{r: cr})
}

func readConnectionsXLSX(path string) ([]Connection, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "graphsync: open connections xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("graphsync: connections xlsx has no sheets")
	}

	rows := make([][]string, 0, len(f.Sheets[0].Rows))
	for _, row := range f.Sheets[0].Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		rows = append(rows, cells)
	}
	return decodeConnections(&headerSeeker{r: &sliceReader{rows: rows}})
}

func decodeConnections(r csvutil.Reader) ([]Connection, error) {
	dec, err := csvutil.NewDecoder(r)
	if errors.Is(err, io.EOF) {
		return nil, eris.New("graphsync: connections file has no header row")
	}
	if err != nil {
		return nil, eris.Wrap(err, "graphsync: read connections header")
	}

	var out []Connection
	for {
		var c Connection
		err := dec.Decode(&c)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "graphsync: decode connection row %d", len(out)+1)
		}
		out = append(out, c)
	}
	return out, nil
}

// headerSeeker drops records until the header row, then pads or trims
// every record to the header's width.
type headerSeeker struct {
	r     csvutil.Reader
	width int
}

func (h *headerSeeker) Read() ([]string, error) {
	for {
		rec, err := h.r.Read()
		if err != nil {
			return nil, err
		}
		if h.width == 0 {
			if len(rec) == 0 || strings.TrimSpace(strings.TrimPrefix(rec[0], "\ufeff")) != connectionHeader {
				continue
			}
			rec[0] = connectionHeader
			h.width = len(rec)
			return rec, nil
		}
		if isBlank(rec) {
			continue
		}
		switch {
		case len(rec) < h.width:
			rec = append(rec, make([]string, h.width-len(rec))...)
		case len(rec) > h.width:
			rec = rec[:h.width]
		}
		return rec, nil
	}
}

func isBlank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

// sliceReader serves pre-read rows as a csvutil.Reader.
type sliceReader struct {
	rows [][]string
	i    int
}

func (s *sliceReader) Read() ([]string, error) {
	if s.i >= len(s.rows) {
		return nil, io.EOF
	}
	row := s.rows[s.i]
	s.i++
	return row, nil
}
