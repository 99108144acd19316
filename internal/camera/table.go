package camera

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	"github.com/banshee-data/curbwatch/internal/geo"
)

// Table is the read-only camera table, ordered by latitude so a bounding box
// query is two binary searches.
type Table struct {
	cams  []Definition
	index map[string]int
}

// NewTable validates defs and builds the table. Duplicate IDs are an error.
func NewTable(defs []Definition) (*Table, error) {
	cams := make([]Definition, len(defs))
	copy(cams, defs)
	for _, d := range cams {
		if err := d.Validate(); err != nil {
			return nil, err
		}
	}
	sort.SliceStable(cams, func(i, j int) bool {
		if cams[i].Lat != cams[j].Lat {
			return cams[i].Lat < cams[j].Lat
		}
		return cams[i].ID < cams[j].ID
	})
	index := make(map[string]int, len(cams))
	for i, d := range cams {
		if _, dup := index[d.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateID, d.ID)
		}
		index[d.ID] = i
	}
	return &Table{cams: cams, index: index}, nil
}

// Len returns the number of cameras.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.cams)
}

// All returns a copy of every camera ordered by latitude.
func (t *Table) All() []Definition {
	if t == nil {
		return nil
	}
	out := make([]Definition, len(t.cams))
	copy(out, t.cams)
	return out
}

// Get returns the camera with id.
func (t *Table) Get(id string) (Definition, bool) {
	if t == nil {
		return Definition{}, false
	}
	i, ok := t.index[id]
	if !ok {
		return Definition{}, false
	}
	return t.cams[i], true
}

// Index returns the position of id in the table, used as the compact ledger
// key. It returns -1 for unknown ids.
func (t *Table) Index(id string) int {
	if t == nil {
		return -1
	}
	if i, ok := t.index[id]; ok {
		return i
	}
	return -1
}

// At returns the camera at index i.
func (t *Table) At(i int) Definition { return t.cams[i] }

// Within returns the indexes of cameras inside the bounding box of radiusM
// around p.
func (t *Table) Within(p geo.Point, radiusM float64) []int {
	if t.Len() == 0 {
		return nil
	}
	box := geo.BoundingBox(p, radiusM)
	lo := sort.Search(len(t.cams), func(i int) bool { return t.cams[i].Lat >= box.MinLat })
	var out []int
	for i := lo; i < len(t.cams) && t.cams[i].Lat <= box.MaxLat; i++ {
		if box.Contains(t.cams[i].Point()) {
			out = append(out, i)
		}
	}
	return out
}

// LoadYAML decodes a YAML camera list:
//
//	cameras:
//	  - id: CHI045
//	    type: speed
//	    lat: 41.9
//	    lng: -87.6
//	    approaches: [NB, SB]
//	    address: 3450 W 71st St
func LoadYAML(r io.Reader) ([]Definition, error) {
	var doc struct {
		Cameras []Definition `yaml:"cameras"`
	}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("decode cameras: %w", err)
	}
	return doc.Cameras, nil
}

// WriteYAML encodes defs in the LoadYAML format.
func WriteYAML(w io.Writer, defs []Definition) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	doc := struct {
		Cameras []Definition `yaml:"cameras"`
	}{Cameras: defs}
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode cameras: %w", err)
	}
	return enc.Close()
}

// ParseCSV decodes a city open-data export. Columns are matched by header
// name; ADDRESS or INTERSECTION gives the address and every column whose
// name contains APPROACH adds an approach direction. Rows without an id get
// one derived from the type and row number. defType is used when the export
// has no type column.
func ParseCSV(r io.Reader, defType Type) ([]Definition, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	col := map[string]int{}
	var approachCols []int
	for i, h := range header {
		name := strings.ToUpper(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		col[name] = i
		if strings.Contains(name, "APPROACH") {
			approachCols = append(approachCols, i)
		}
	}
	latCol, okLat := col["LATITUDE"]
	lngCol, okLng := col["LONGITUDE"]
	if !okLat || !okLng {
		return nil, errors.New("csv: LATITUDE and LONGITUDE columns are required")
	}
	field := func(rec []string, names ...string) string {
		for _, n := range names {
			if i, ok := col[n]; ok && i < len(rec) {
				if v := strings.TrimSpace(rec[i]); v != "" {
					return v
				}
			}
		}
		return ""
	}

	var defs []Definition
	for row := 1; ; row++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv row %d: %w", row, err)
		}
		if latCol >= len(rec) || lngCol >= len(rec) {
			return nil, fmt.Errorf("csv row %d: short record", row)
		}
		lat, err := strconv.ParseFloat(strings.TrimSpace(rec[latCol]), 64)
		if err != nil {
			return nil, fmt.Errorf("csv row %d: latitude: %w", row, err)
		}
		lng, err := strconv.ParseFloat(strings.TrimSpace(rec[lngCol]), 64)
		if err != nil {
			return nil, fmt.Errorf("csv row %d: longitude: %w", row, err)
		}

		typ := defType
		if v := field(rec, "TYPE", "CAMERA TYPE"); v != "" {
			if typ, err = ParseType(v); err != nil {
				return nil, fmt.Errorf("csv row %d: %w", row, err)
			}
		}
		id := field(rec, "CAMERA ID", "ID")
		if id == "" {
			id = fmt.Sprintf("%s-%04d", typ, row)
		}

		var approaches []geo.Octant
		for _, i := range approachCols {
			if i >= len(rec) || strings.TrimSpace(rec[i]) == "" {
				continue
			}
			o, err := geo.ParseOctant(rec[i])
			if err != nil {
				return nil, fmt.Errorf("csv row %d: %w", row, err)
			}
			approaches = append(approaches, o)
		}

		defs = append(defs, Definition{
			ID:         id,
			Type:       typ,
			Lat:        lat,
			Lng:        lng,
			Approaches: approaches,
			Address:    FormatAddress(field(rec, "ADDRESS", "INTERSECTION")),
		})
	}
	return defs, nil
}

// FormatAddress normalizes an address for presentation: NFC, collapsed
// whitespace and title case ("5200 N BROADWAY" becomes "5200 N Broadway").
func FormatAddress(s string) string {
	s = strings.Join(strings.Fields(norm.NFC.String(s)), " ")
	return cases.Title(language.AmericanEnglish).String(s)
}

// LoadFile reads a camera table from a .yaml, .yml or .csv file. CSV files
// without a type column are assumed to list speed cameras unless the file
// name mentions red light.
func LoadFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open camera table: %w", err)
	}
	defer f.Close()

	var defs []Definition
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		defs, err = LoadYAML(f)
	case ".csv":
		typ := Speed
		base := strings.ToLower(filepath.Base(path))
		if strings.Contains(base, "red") {
			typ = RedLight
		}
		defs, err = ParseCSV(f, typ)
	default:
		return nil, fmt.Errorf("camera table %s: unsupported extension", path)
	}
	if err != nil {
		return nil, err
	}
	return NewTable(defs)
}
