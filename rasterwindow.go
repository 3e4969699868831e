package main

import (
	"fmt"
	"iter"
	"log/slog"
	"math"
	"strconv"

	"github.com/airbusgeo/godal"
	"gonum.org/v1/gonum/spatial/r3"
)

/*
RasterWindow represents a rectangular slice of an elevation grid (row-major, north-up).
GeoTransform maps pixel index to world coordinate: x = gt[0] + col*gt[1], y = gt[3] + row*gt[5].
*/
type RasterWindow struct {
	GeoTransform [6]float64
	Width        int
	Height       int
	Heights      []float64
}

/*
NewRasterWindow creates a window from heights; no-data cells are filled from their neighbours.
*/
func NewRasterWindow(gt [6]float64, width, height int, heights []float64, nodata float64) (*RasterWindow, error) {
	if width < 1 || height < 1 || len(heights) != width*height {
		return nil, fmt.Errorf("%w: raster window %dx%d with %d values", ErrInvalidGeometry, width, height, len(heights))
	}
	if gt[1] == 0 || gt[5] == 0 || gt[2] != 0 || gt[4] != 0 {
		return nil, fmt.Errorf("%w: unsupported geotransform %v", ErrInvalidGeometry, gt)
	}
	w := &RasterWindow{GeoTransform: gt, Width: width, Height: height, Heights: heights}
	err := w.fillNoData(nodata)
	if err != nil {
		return nil, err
	}
	return w, nil
}

/*
isNoData checks a cell value against the no data marker.
*/
func isNoData(v, nodata float64) bool {
	return math.IsNaN(v) || v == nodata || v <= NoDataElevation+0.1
}

/*
fillNoData replaces no-data cells by the mean of valid 8-neighbours (repeated),
remaining cells get the mean of all valid cells.
*/
func (w *RasterWindow) fillNoData(nodata float64) error {
	missing := 0
	sum := 0.0
	for _, v := range w.Heights {
		if isNoData(v, nodata) {
			missing++
		} else {
			sum += v
		}
	}
	if missing == 0 {
		return nil
	}
	if missing == len(w.Heights) {
		return fmt.Errorf("%w: raster window without valid heights", ErrOutOfCoverage)
	}
	mean := sum / float64(len(w.Heights)-missing)

	for pass := 0; pass < 8 && missing > 0; pass++ {
		next := append([]float64(nil), w.Heights...)
		for row := range w.Height {
			for col := range w.Width {
				i := row*w.Width + col
				if !isNoData(w.Heights[i], nodata) {
					continue
				}
				s, n := 0.0, 0
				for dr := -1; dr <= 1; dr++ {
					for dc := -1; dc <= 1; dc++ {
						r, c := row+dr, col+dc
						if r < 0 || c < 0 || r >= w.Height || c >= w.Width {
							continue
						}
						v := w.Heights[r*w.Width+c]
						if !isNoData(v, nodata) {
							s += v
							n++
						}
					}
				}
				if n > 0 {
					next[i] = s / float64(n)
					missing--
				}
			}
		}
		w.Heights = next
	}
	for i, v := range w.Heights {
		if isNoData(v, nodata) {
			w.Heights[i] = mean
		}
	}
	return nil
}

/*
CellCenter returns the world coordinates of a cell center.
*/
func (w *RasterWindow) CellCenter(col, row int) (float64, float64) {
	gt := w.GeoTransform
	return gt[0] + (float64(col)+0.5)*gt[1], gt[3] + (float64(row)+0.5)*gt[5]
}

/*
At returns the height of a cell.
*/
func (w *RasterWindow) At(col, row int) float64 {
	return w.Heights[row*w.Width+col]
}

/*
Height returns the bilinear interpolated height at (x, y).
*/
func (w *RasterWindow) Height(x, y float64) (float64, error) {
	gt := w.GeoTransform
	fx := (x-gt[0])/gt[1] - 0.5
	fy := (y-gt[3])/gt[5] - 0.5
	if fx < -0.5 || fy < -0.5 || fx > float64(w.Width)-0.5 || fy > float64(w.Height)-0.5 {
		return 0, fmt.Errorf("%w: (%.3f, %.3f) outside raster window", ErrOutOfCoverage, x, y)
	}
	fx = math.Max(0, math.Min(fx, float64(w.Width-1)))
	fy = math.Max(0, math.Min(fy, float64(w.Height-1)))

	c0 := int(math.Floor(fx))
	r0 := int(math.Floor(fy))
	c1 := min(c0+1, w.Width-1)
	r1 := min(r0+1, w.Height-1)
	tx := fx - float64(c0)
	ty := fy - float64(r0)

	top := w.At(c0, r0)*(1-tx) + w.At(c1, r0)*tx
	bottom := w.At(c0, r1)*(1-tx) + w.At(c1, r1)*tx
	return top*(1-ty) + bottom*ty, nil
}

/*
Bounds returns the extent of the window.
*/
func (w *RasterWindow) Bounds(epsg int) BoundingBox {
	gt := w.GeoTransform
	x0, x1 := gt[0], gt[0]+float64(w.Width)*gt[1]
	y0, y1 := gt[3], gt[3]+float64(w.Height)*gt[5]
	return BoundingBox{MinX: math.Min(x0, x1), MinY: math.Min(y0, y1), MaxX: math.Max(x0, x1), MaxY: math.Max(y0, y1), EPSG: epsg}
}

/*
ReadRasterWindow reads a window of the elevation tiles covering bbox at the given resolution.
Each tile set (CRS) of the repository is mosaicked (VRT) and warped into the window,
cells without data are filled from the next tile set (e.g. SRTM behind the national grid).
*/
func ReadRasterWindow(repository *TileRepository, reprojector *Reprojector, bbox BoundingBox, resolution float64) (*RasterWindow, error) {
	if resolution <= 0 {
		return nil, fmt.Errorf("invalid raster resolution %.3f", resolution)
	}
	width := int(math.Ceil((bbox.MaxX - bbox.MinX) / resolution))
	height := int(math.Ceil((bbox.MaxY - bbox.MinY) / resolution))
	if width < 2 || height < 2 {
		return nil, fmt.Errorf("%w: raster window %dx%d too small", ErrInvalidGeometry, width, height)
	}
	maxX := bbox.MinX + float64(width)*resolution
	maxY := bbox.MinY + float64(height)*resolution

	heights := make([]float64, width*height)
	for i := range heights {
		heights[i] = NoDataElevation
	}

	found := false
	for _, epsg := range repository.EPSGCodes() {
		nativeBounds, err := reprojector.TransformBounds(bbox, epsg)
		if err != nil {
			return nil, err
		}
		files := repository.TilesInBounds(nativeBounds)
		if len(files) == 0 {
			continue
		}
		found = true

		buffer, err := warpTiles(files, bbox.EPSG, bbox.MinX, bbox.MinY, maxX, maxY, resolution, width, height)
		if err != nil {
			return nil, err
		}
		complete := true
		for i, v := range heights {
			if isNoData(v, NoDataElevation) {
				heights[i] = buffer[i]
				if isNoData(buffer[i], NoDataElevation) {
					complete = false
				}
			}
		}
		if complete {
			break
		}
		slog.Debug("raster window incomplete, trying next tile set", "EPSG", epsg, "files", len(files))
	}
	if !found {
		return nil, fmt.Errorf("%w: no tiles for window %.0f,%.0f,%.0f,%.0f", ErrOutOfCoverage, bbox.MinX, bbox.MinY, bbox.MaxX, bbox.MaxY)
	}

	gt := [6]float64{bbox.MinX, resolution, 0, maxY, 0, -resolution}
	return NewRasterWindow(gt, width, height, heights, NoDataElevation)
}

/*
warpTiles mosaics tiles into a virtual dataset and warps it into an in-memory window.
*/
func warpTiles(files []string, epsg int, minX, minY, maxX, maxY, resolution float64, width, height int) ([]float64, error) {
	vrt, err := godal.BuildVRT("", files, nil)
	if err != nil {
		return nil, fmt.Errorf("error [%w] at godal.BuildVRT(), %d files", err, len(files))
	}
	defer vrt.Close()

	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	switches := []string{
		"-of", "MEM",
		"-t_srs", fmt.Sprintf("EPSG:%d", epsg),
		"-te", f(minX), f(minY), f(maxX), f(maxY),
		"-ts", strconv.Itoa(width), strconv.Itoa(height),
		"-r", "bilinear",
		"-dstnodata", f(NoDataElevation),
	}
	window, err := vrt.Warp("", switches)
	if err != nil {
		return nil, fmt.Errorf("error [%w] at vrt.Warp()", err)
	}
	defer window.Close()

	bands := window.Bands()
	if len(bands) == 0 {
		return nil, fmt.Errorf("warped window without raster bands")
	}
	buffer := make([]float64, width*height)
	err = bands[0].Read(0, 0, buffer, width, height)
	if err != nil {
		return nil, fmt.Errorf("error [%w] at band.Read()", err)
	}
	return buffer, nil
}

/*
RasterWindowTriangulator converts a raster window into terrain triangles.
Every interior 2x2 cell block yields two triangles split along the same diagonal,
vertices are the cell centers lifted by Offset.
Triangles whose centroid lies inside Exclude are dropped (mountains around the ground window).
*/
type RasterWindowTriangulator struct {
	Window  *RasterWindow
	Offset  float64
	Exclude *BoundingBox
}

/*
Triangles yields 2*(H-1)*(W-1) counter-clockwise triangles (without exclusion).
*/
func (t RasterWindowTriangulator) Triangles() iter.Seq[Triangle] {
	return func(yield func(Triangle) bool) {
		w := t.Window
		vertex := func(col, row int) r3.Vec {
			x, y := w.CellCenter(col, row)
			return r3.Vec{X: x, Y: y, Z: w.At(col, row) + t.Offset}
		}
		for row := 0; row < w.Height-1; row++ {
			for col := 0; col < w.Width-1; col++ {
				p00 := vertex(col, row)
				p10 := vertex(col+1, row)
				p01 := vertex(col, row+1)
				p11 := vertex(col+1, row+1)
				for _, tri := range [2]Triangle{{p00, p01, p11}, {p00, p11, p10}} {
					tri = tri.CounterClockwise()
					if t.Exclude != nil {
						c := tri.Centroid()
						if t.Exclude.Contains(c.X, c.Y) {
							continue
						}
					}
					if !yield(tri) {
						return
					}
				}
			}
		}
	}
}
