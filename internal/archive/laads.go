package archive

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"cloud.google.com/go/civil"

	"github.com/zulandar/empatia/internal/orbit"
	"github.com/zulandar/empatia/internal/pipeline"
)

// Granule is one file listed by the LAADS search.
type Granule struct {
	Name string `json:"name"`
	URL  string `json:"downloadsLink"`
}

// LAADS searches the LAADS DAAC content API.
type LAADS struct {
	client  *Client
	baseURL string
}

// NewLAADS returns a LAADS search client rooted at baseURL.
func NewLAADS(client *Client, baseURL string) *LAADS {
	return &LAADS{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

// Search lists the granules of product and collection acquired on date over
// the region's bounding box.
func (l *LAADS) Search(ctx context.Context, product string, collection int, date civil.Date, r pipeline.Region) ([]Granule, error) {
	q := url.Values{}
	q.Set("products", product)
	q.Set("collections", strconv.Itoa(collection))
	q.Set("temporalRanges", date.String())
	q.Set("regions", fmt.Sprintf("[BBOX]W%s N%s E%s S%s", coord(r.West), coord(r.North), coord(r.East), coord(r.South)))
	q.Set("formats", "json")

	var body struct {
		Content []Granule `json:"content"`
	}
	if err := l.client.getJSON(ctx, l.baseURL+"/api/v2/content/details", q, &body); err != nil {
		return nil, err
	}
	return body.Content, nil
}

// StampReader reads the overpass list of a downloaded granule. Files
// without one return an empty string.
type StampReader interface {
	OrbitStamps(ctx context.Context, path string) (string, error)
}

// Granules is a pipeline.TileSource over LAADS. Files are kept under
// <root>/<product>/<date>/ and are not downloaded twice.
type Granules struct {
	laads  *LAADS
	root   string
	stamps StampReader
}

var _ pipeline.TileSource = (*Granules)(nil)

// NewGranules returns a tile source storing granules below root.
func NewGranules(laads *LAADS, root string, stamps StampReader) *Granules {
	return &Granules{laads: laads, root: root, stamps: stamps}
}

// FetchTiles downloads the date's granules and returns one record per
// overpass found in them. Granules without overpass stamps yield a single
// record.
func (g *Granules) FetchTiles(ctx context.Context, req pipeline.TileRequest) ([]orbit.TileRecord, error) {
	found, err := g.laads.Search(ctx, req.Product, req.Collection, req.Date, req.Region)
	if err != nil {
		return nil, err
	}
	log := g.laads.client.log.With().Str("product", req.Product).Str("date", req.Date.String()).Logger()
	if len(found) == 0 {
		log.Info().Msg("no granules found")
		return nil, nil
	}

	dir := filepath.Join(g.root, req.Product, req.Date.String())
	var records []orbit.TileRecord
	for _, gr := range found {
		path := filepath.Join(dir, filepath.Base(gr.Name))
		if !exists(path) {
			if err := g.laads.client.Download(ctx, gr.URL, nil, path); err != nil {
				return nil, err
			}
		}

		recs, err := g.read(ctx, gr.Name, path)
		if err != nil {
			// An unreadable granule is replaced once before giving up.
			log.Warn().Err(err).Str("granule", gr.Name).Msg("granule unreadable, downloading again")
			if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				return nil, fmt.Errorf("archive: remove %s: %w", gr.Name, rmErr)
			}
			if err := g.laads.client.Download(ctx, gr.URL, nil, path); err != nil {
				return nil, err
			}
			if recs, err = g.read(ctx, gr.Name, path); err != nil {
				return nil, err
			}
		}
		records = append(records, recs...)
	}
	log.Info().Int("granules", len(found)).Int("overpasses", len(records)).Msg("granules ready")
	return records, nil
}

// read expands the overpass stamps of a stored granule.
func (g *Granules) read(ctx context.Context, name, path string) ([]orbit.TileRecord, error) {
	tile := TileID(name)
	var list string
	if g.stamps != nil {
		var err error
		if list, err = g.stamps.OrbitStamps(ctx, path); err != nil {
			return nil, fmt.Errorf("archive: read %s: %w", name, err)
		}
	}
	if strings.TrimSpace(list) == "" {
		return []orbit.TileRecord{{TileID: tile, Path: path}}, nil
	}
	recs, err := orbit.ParseOrbitStamps(list, tile, path)
	if err != nil {
		return nil, fmt.Errorf("archive: %s: %w", name, err)
	}
	return recs, nil
}

var tilePattern = regexp.MustCompile(`\.h(\d{2})v(\d{2})\.`)

// TileID extracts the sinusoidal grid tile, e.g. "h12_v11", from a granule
// name. Names without one are returned without extension.
func TileID(name string) string {
	base := filepath.Base(name)
	if m := tilePattern.FindStringSubmatch(base); m != nil {
		return "h" + m[1] + "_v" + m[2]
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func coord(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
