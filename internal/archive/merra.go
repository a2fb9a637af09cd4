package archive

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"cloud.google.com/go/civil"

	"github.com/zulandar/empatia/internal/config"
	"github.com/zulandar/empatia/internal/pipeline"
)

// Merra subsets MERRA-2 collections through the GES DISC OTF service. Grids
// are stored as <root>/<shortname>/<date>/<product>.nc.
type Merra struct {
	client *Client
	root   string
	region pipeline.Region
}

var _ pipeline.ReanalysisSource = (*Merra)(nil)

// NewMerra returns a reanalysis source cutting grids to region.
func NewMerra(client *Client, root string, region pipeline.Region) *Merra {
	return &Merra{client: client, root: root, region: region}
}

// Path is where the grid of ds for date is stored.
func (m *Merra) Path(date civil.Date, ds config.MerraDataset) string {
	return filepath.Join(m.root, ds.ShortName, date.String(), ds.Product+".nc")
}

// FetchReanalysis returns the stored grid, downloading it when missing.
func (m *Merra) FetchReanalysis(ctx context.Context, date civil.Date, ds config.MerraDataset) (string, error) {
	dst := m.Path(date, ds)
	if exists(dst) {
		return dst, nil
	}
	if err := m.client.Download(ctx, ds.BaseURL, m.query(date, ds), dst); err != nil {
		return "", err
	}
	m.client.log.Info().Str("dataset", ds.ShortName).Str("date", date.String()).Msg("reanalysis grid downloaded")
	return dst, nil
}

func (m *Merra) query(date civil.Date, ds config.MerraDataset) url.Values {
	day := date.String()
	compact := strings.ReplaceAll(day, "-", "")
	r := m.region

	q := url.Values{}
	q.Set("FILENAME", fmt.Sprintf("/data/MERRA2/%s.%s/%04d/%02d/%s.%s.nc4", ds.ShortName, ds.Version, date.Year, int(date.Month), ds.Product, compact))
	q.Set("FORMAT", "bmM0Lw")
	q.Set("BBOX", strings.Join([]string{coord(r.South), coord(r.West), coord(r.North), coord(r.East)}, ","))
	q.Set("TIME", fmt.Sprintf("%sT%s/%sT%s", day, ds.StartHour, day, ds.EndHour))
	q.Set("LABEL", fmt.Sprintf("%s.%s.SUB.nc", ds.Product, compact))
	q.Set("SHORTNAME", ds.ShortName)
	q.Set("SERVICE", "L34RS_MERRA2")
	q.Set("VERSION", "1.02")
	q.Set("DATASET_VERSION", ds.Version)
	q.Set("VARIABLES", strings.Join(ds.Variables, ","))
	return q
}
