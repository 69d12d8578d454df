// internal/output/output_test.go
package output

import (
	"encoding/json"
	"encoding/xml"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/valpere/craigslist-data/internal/config"
	errs "github.com/valpere/craigslist-data/internal/errors"
	"github.com/valpere/craigslist-data/pkg/types"
)

var est = time.FixedZone("EST", -5*3600)

func sampleApartments() []types.Apartment {
	beds := 2
	loc := "Fishtown"
	return []types.Apartment{
		{
			PostID:              "7290000001",
			URL:                 "https://philadelphia.craigslist.org/apa/d/fishtown-sunny-2br/7290000001.html",
			Title:               "Sunny 2BR near the El",
			Description:         "Hardwood floors.\nLaundry in building.",
			NumImages:           8,
			Lat:                 39.9712,
			Lng:                 -75.1346,
			Price:               1650,
			Attrs:               []string{"cats are OK - purrr", "laundry in bldg"},
			PostedDate:          time.Date(2021, 3, 1, 9, 15, 0, 0, est),
			ResultDate:          time.Date(2021, 3, 1, 9, 20, 0, 0, est),
			Bedrooms:            &beds,
			LocationDescription: &loc,
		},
		{
			PostID:     "7290000002",
			URL:        "https://philadelphia.craigslist.org/apa/d/studio/7290000002.html",
			Title:      "Studio",
			NumImages:  0,
			Lat:        39.95,
			Lng:        -75.16,
			Price:      900,
			PostedDate: time.Date(2021, 3, 2, 10, 0, 0, 0, est),
			ResultDate: time.Date(2021, 3, 2, 10, 5, 0, 0, est),
		},
	}
}

func sampleSearchResults() []types.SearchResult {
	return []types.SearchResult{
		{URL: "https://philadelphia.craigslist.org/apa/d/a/7290000001.html", PostID: "7290000001", ResultDate: time.Date(2021, 3, 1, 9, 20, 0, 0, est)},
		{URL: "https://philadelphia.craigslist.org/apa/d/b/7290000002.html", PostID: "7290000002", ResultDate: time.Date(2021, 3, 2, 10, 5, 0, 0, est)},
	}
}

type fakeRecorder struct {
	format  string
	records int
	err     error
	calls   int
}

func (f *fakeRecorder) RecordOutput(format string, records int, d time.Duration, err error) {
	f.format, f.records, f.err = format, records, err
	f.calls++
}

func TestFormatFromPath(t *testing.T) {
	tests := []struct {
		path    string
		want    OutputFormat
		wantErr bool
	}{
		{"apartments.json", FormatJSON, false},
		{"out/apartments.CSV", FormatCSV, false},
		{"a.yml", FormatYAML, false},
		{"a.yaml", FormatYAML, false},
		{"a.xml", FormatXML, false},
		{"a.xlsx", FormatExcel, false},
		{"a.db", FormatSQLite, false},
		{"a.sqlite3", FormatSQLite, false},
		{"a.txt", "", true},
		{"apartments", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := FormatFromPath(tt.path)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnsupportedFormat)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.Default().Output

	t.Run("explicit path wins", func(t *testing.T) {
		cfg := cfg
		cfg.Format = "postgresql"
		opts, err := OptionsFromConfig(cfg, "apartments.csv", ApartmentSchema())
		require.NoError(t, err)
		assert.Equal(t, FormatCSV, opts.Format)
		assert.Equal(t, "apartments.csv", opts.Path)
	})

	t.Run("rejects unknown extension", func(t *testing.T) {
		_, err := OptionsFromConfig(cfg, "apartments.txt", ApartmentSchema())
		assert.ErrorIs(t, err, ErrUnsupportedFormat)
	})

	t.Run("configured database", func(t *testing.T) {
		cfg := cfg
		cfg.Format = "mysql"
		cfg.Database.DSN = "user:pass@tcp(localhost:3306)/craigslist"
		opts, err := OptionsFromConfig(cfg, "", SearchResultSchema())
		require.NoError(t, err)
		assert.Equal(t, FormatMySQL, opts.Format)
		assert.Equal(t, "search_results", opts.Table)
		assert.Equal(t, "search_results", opts.Collection)
	})

	t.Run("custom table kept", func(t *testing.T) {
		cfg := cfg
		cfg.Format = "sqlite"
		cfg.Path = "crawl.db"
		cfg.Database.Table = "listings"
		opts, err := OptionsFromConfig(cfg, "", SearchResultSchema())
		require.NoError(t, err)
		assert.Equal(t, "listings", opts.Table)
	})

	t.Run("no target", func(t *testing.T) {
		cfg := cfg
		cfg.Format = ""
		cfg.Path = ""
		_, err := OptionsFromConfig(cfg, "", ApartmentSchema())
		assert.Error(t, err)
	})
}

func TestNewManager_Errors(t *testing.T) {
	_, err := NewManager(Options{Format: FormatCSV})
	assert.ErrorContains(t, err, "requires a file path")

	_, err = NewManager(Options{Format: FormatPostgreSQL})
	assert.ErrorContains(t, err, "requires a database dsn")

	_, err = NewManager(Options{Format: "xml", Path: "a.xml"})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestManager_WriteJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "apartments.json")
	rec := &fakeRecorder{}

	m, err := NewManager(Options{Path: path}, WithRecorder(rec))
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, m.Format())
	require.NoError(t, m.Write(types.ApartmentRecords(sampleApartments())))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var got []map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &got))
	require.Len(t, got, 2)
	assert.Equal(t, "7290000001", got[0]["post_id"])
	assert.Equal(t, 1650.0, got[0]["price"])
	assert.Equal(t, []interface{}{"cats are OK - purrr", "laundry in bldg"}, got[0]["attrs"])
	assert.Equal(t, "2021-03-01T09:15:00-05:00", got[0]["posted_date"])
	assert.Equal(t, 2.0, got[0]["bedrooms"])
	assert.Nil(t, got[1]["bedrooms"])
	assert.Equal(t, []interface{}{}, got[1]["attrs"])

	assert.Equal(t, 1, rec.calls)
	assert.Equal(t, "json", rec.format)
	assert.Equal(t, 2, rec.records)
	assert.NoError(t, rec.err)
}

func TestManager_WriteEmptyJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.json")
	m, err := NewManager(Options{Path: path})
	require.NoError(t, err)
	require.NoError(t, m.Write(nil))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "[]\n", string(data))
}

func TestManager_WriteFailureIsOutputError(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	rec := &fakeRecorder{}
	m, err := NewManager(Options{Path: filepath.Join(blocker, "out.json")}, WithRecorder(rec))
	require.NoError(t, err)

	err = m.Write(types.SearchResultRecords(sampleSearchResults()))
	require.Error(t, err)

	var outErr *errs.OutputError
	require.True(t, errors.As(err, &outErr))
	assert.Equal(t, filepath.Join(blocker, "out.json"), outErr.Target)
	assert.Equal(t, errs.CategoryOutput, errs.Classify(err))
	assert.Error(t, rec.err)
}

func TestCSV_SearchResultsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "search.csv")
	m, err := NewManager(Options{Path: path, Schema: SearchResultSchema()})
	require.NoError(t, err)

	want := sampleSearchResults()
	require.NoError(t, m.Write(types.SearchResultRecords(want)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, strings.Join(types.SearchResultColumns, ","), lines[0])

	got, err := ReadSearchResults(path, nil)
	require.NoError(t, err)
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].URL, got[i].URL)
		assert.Equal(t, want[i].PostID, got[i].PostID)
		assert.True(t, want[i].ResultDate.Equal(got[i].ResultDate), "result_date %d", i)
	}
}

func TestCSV_ApartmentColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "apartments.csv")
	m, err := NewManager(Options{Path: path})
	require.NoError(t, err)
	require.NoError(t, m.Write(types.ApartmentRecords(sampleApartments())))

	records, err := ReadRecords(path)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, `["cats are OK - purrr","laundry in bldg"]`, records[0]["attrs"])
	assert.Equal(t, "2", records[0]["bedrooms"])
	assert.Equal(t, "", records[1]["bedrooms"])
	assert.Equal(t, "Hardwood floors.\nLaundry in building.", records[0]["description"])
}

func TestReadSearchResults_SkipsBadRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "search.json")
	content := `[
  {"url": "https://philadelphia.craigslist.org/apa/d/a/7290000001.html", "result_date": "2021-03-01 09:20"},
  {"post_id": "7290000002"},
  {"url": "https://philadelphia.craigslist.org/apa/d/c/7290000003.html", "post_id": "7290000003", "result_date": "yesterday"}
]`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	got, err := ReadSearchResults(path, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "7290000001", got[0].PostID)
}

func TestReadRecords_Errors(t *testing.T) {
	_, err := ReadRecords(filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)

	_, err = ReadRecords("results.xlsx")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestYAML_KeepsColumnOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "search.yaml")
	m, err := NewManager(Options{Path: path, Schema: SearchResultSchema()})
	require.NoError(t, err)
	require.NoError(t, m.Write(types.SearchResultRecords(sampleSearchResults())))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.True(t, strings.HasPrefix(text, "# Generated by craigslist-data"))
	assert.Less(t, strings.Index(text, "url:"), strings.Index(text, "post_id:"))

	got, err := ReadSearchResults(path, nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "7290000002", got[1].PostID)
	assert.True(t, sampleSearchResults()[1].ResultDate.Equal(got[1].ResultDate))
}

func TestXMLWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "apartments.xml")
	m, err := NewManager(Options{Path: path})
	require.NoError(t, err)
	assert.Equal(t, FormatXML, m.Format())
	require.NoError(t, m.Write(types.ApartmentRecords(sampleApartments())))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), xml.Header))

	var doc struct {
		XMLName    xml.Name `xml:"apartments"`
		Generator  string   `xml:"generator,attr"`
		Count      int      `xml:"count,attr"`
		Apartments []struct {
			PostID     string   `xml:"post_id"`
			Price      int      `xml:"price"`
			Attrs      []string `xml:"attrs>item"`
			PostedDate string   `xml:"posted_date"`
			Bedrooms   struct {
				Nil   string `xml:"nil,attr"`
				Value string `xml:",chardata"`
			} `xml:"bedrooms"`
		} `xml:"apartment"`
	}
	require.NoError(t, xml.Unmarshal(data, &doc))

	assert.Equal(t, GeneratorName, doc.Generator)
	assert.Equal(t, 2, doc.Count)
	require.Len(t, doc.Apartments, 2)

	first := doc.Apartments[0]
	assert.Equal(t, "7290000001", first.PostID)
	assert.Equal(t, 1650, first.Price)
	assert.Equal(t, []string{"cats are OK - purrr", "laundry in bldg"}, first.Attrs)
	assert.Equal(t, "2021-03-01T09:15:00-05:00", first.PostedDate)
	assert.Equal(t, "2", first.Bedrooms.Value)
	assert.Empty(t, first.Bedrooms.Nil)

	assert.Equal(t, "true", doc.Apartments[1].Bedrooms.Nil)
	assert.Empty(t, doc.Apartments[1].Attrs)
}

func TestExcelWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "apartments.xlsx")
	m, err := NewManager(Options{Path: path})
	require.NoError(t, err)
	require.NoError(t, m.Write(types.ApartmentRecords(sampleApartments())))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	header, err := f.GetCellValue("apartments", "A1")
	require.NoError(t, err)
	assert.Equal(t, "post_id", header)

	id, err := f.GetCellValue("apartments", "A2")
	require.NoError(t, err)
	assert.Equal(t, "7290000001", id)

	attrs, err := f.GetCellValue("apartments", "I2")
	require.NoError(t, err)
	assert.Equal(t, "cats are OK - purrr; laundry in bldg", attrs)

	bedrooms, err := f.GetCellValue("apartments", "L3")
	require.NoError(t, err)
	assert.Empty(t, bedrooms)
}

func TestManager_Target(t *testing.T) {
	m, err := NewManager(Options{Format: FormatPostgreSQL, DSN: "postgres://u:secret@db/craigslist"})
	require.NoError(t, err)
	assert.Equal(t, "postgresql table apartments", m.Target())
	assert.NotContains(t, m.Target(), "secret")

	m, err = NewManager(Options{Format: FormatMongoDB, DSN: "mongodb://localhost", Database: "craigslist", Schema: SearchResultSchema()})
	require.NoError(t, err)
	assert.Equal(t, "mongodb craigslist.search_results", m.Target())
}
