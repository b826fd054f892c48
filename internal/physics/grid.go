package physics

import (
	"bufio"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// Sampler produces a raw physical-model sample at a point. Implementations
// return the grid's values as-is; sanitization happens afterwards.
type Sampler interface {
	Sample(lon, lat float64) Raw
}

// Grid is a regular lat/lon raster in ESRI ASCII format, the exchange format
// the physical-model exports arrive in. Values outside the grid extent sample
// as the fill value.
type Grid struct {
	cols, rows int
	xll, yll   float64
	cellSize   float64
	noData     float64
	values     []float64 // row-major, north to south
}

// GridSet bundles the three per-variable grids of one model export directory.
type GridSet struct {
	Discharge   *Grid
	Salinity    *Grid
	Temperature *Grid
}

// OpenGridSet loads discharge.asc, salinity.asc and temperature.asc from dir.
func OpenGridSet(dir string) (*GridSet, error) {
	set := &GridSet{}
	for _, g := range []struct {
		name string
		dst  **Grid
	}{
		{"discharge.asc", &set.Discharge},
		{"salinity.asc", &set.Salinity},
		{"temperature.asc", &set.Temperature},
	} {
		grid, err := LoadGrid(filepath.Join(dir, g.name))
		if err != nil {
			return nil, eris.Wrapf(err, "physics: load grid %s", g.name)
		}
		*g.dst = grid
	}
	return set, nil
}

// Sample reads all three grids at one point.
func (s *GridSet) Sample(lon, lat float64) Raw {
	return Raw{
		DischargeM3S: s.Discharge.At(lon, lat),
		SalinityPSU:  s.Salinity.At(lon, lat),
		TemperatureC: s.Temperature.At(lon, lat),
	}
}

// LoadGrid parses one ESRI ASCII grid file.
func LoadGrid(path string) (*Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "physics: open grid")
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 1024*1024), 16*1024*1024)

	g := &Grid{noData: math.NaN()}
	header := map[string]float64{}
	for len(header) < 5 && sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) != 2 {
			continue
		}
		v, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, eris.Wrapf(err, "physics: grid header %s", fields[0])
		}
		header[strings.ToLower(fields[0])] = v
	}
	g.cols = int(header["ncols"])
	g.rows = int(header["nrows"])
	g.xll = header["xllcorner"]
	g.yll = header["yllcorner"]
	g.cellSize = header["cellsize"]
	if g.cols <= 0 || g.rows <= 0 || g.cellSize <= 0 {
		return nil, eris.Errorf("physics: grid %s: malformed header", path)
	}
	if nd, ok := header["nodata_value"]; ok {
		g.noData = nd
	}

	g.values = make([]float64, 0, g.cols*g.rows)
	for sc.Scan() {
		for _, field := range strings.Fields(sc.Text()) {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, eris.Wrap(err, "physics: grid cell")
			}
			g.values = append(g.values, v)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrap(err, "physics: read grid")
	}
	if len(g.values) != g.cols*g.rows {
		return nil, eris.Errorf("physics: grid %s: %d cells, header says %d",
			path, len(g.values), g.cols*g.rows)
	}
	return g, nil
}

// At samples the cell containing (lon, lat). Out-of-extent points return the
// grid's nodata value so they sanitize to missing downstream.
func (g *Grid) At(lon, lat float64) float64 {
	col := int(math.Floor((lon - g.xll) / g.cellSize))
	rowFromBottom := int(math.Floor((lat - g.yll) / g.cellSize))
	if col < 0 || col >= g.cols || rowFromBottom < 0 || rowFromBottom >= g.rows {
		return g.noData
	}
	row := g.rows - 1 - rowFromBottom
	v := g.values[row*g.cols+col]
	if !math.IsNaN(g.noData) && v == g.noData {
		return math.NaN()
	}
	return v
}
