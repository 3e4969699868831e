package main

import (
	"errors"
	"fmt"
	"math"

	"github.com/airbusgeo/godal"
)

/*
ElevationHandler returns the terrain height at a point of the working CRS.
*/
type ElevationHandler interface {
	Elevation(x, y float64) (float64, error)
}

// ZeroElevation is the constant sea level handler (tests, sea surfaces).
type ZeroElevation struct{}

/*
Elevation always returns 0.
*/
func (ZeroElevation) Elevation(_, _ float64) (float64, error) {
	return 0, nil
}

/*
RasterElevation answers height queries from a cached raster window.
Points outside the window are looked up in the tile repository (with neighbour fallback).
*/
type RasterElevation struct {
	Window      *RasterWindow
	Repository  *TileRepository
	Reprojector *Reprojector
	WorkingEPSG int
}

/*
Elevation returns the interpolated height at (x, y).
*/
func (e *RasterElevation) Elevation(x, y float64) (float64, error) {
	if e.Window != nil {
		z, err := e.Window.Height(x, y)
		if err == nil {
			return z, nil
		}
		if !errors.Is(err, ErrOutOfCoverage) {
			return 0, err
		}
	}
	if e.Repository == nil {
		return 0, fmt.Errorf("%w: x: %.3f, y: %.3f", ErrOutOfCoverage, x, y)
	}

	// point lookup in each tile set (e.g. national grid first, SRTM second)
	var lastErr error
	for _, epsg := range e.Repository.EPSGCodes() {
		tx, ty := x, y
		if epsg != e.WorkingEPSG {
			var err error
			tx, ty, err = e.Reprojector.TransformPoint(e.WorkingEPSG, epsg, x, y)
			if err != nil {
				lastErr = err
				continue
			}
		}
		z, _, err := e.Repository.Elevation(tx, ty, epsg)
		if err == nil {
			return z, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("%w: x: %.3f, y: %.3f", ErrOutOfCoverage, x, y)
	}
	return 0, lastErr
}

/*
getElevationFromTile retrieves the elevation value from a GeoTIFF file for a given coordinate.

Input:
  - x, y: coordinates in the SAME CRS as the provided GeoTIFF file.
  - filename: path to the GeoTIFF file containing elevation data.

Output:
- elevation: the elevation value at the specified coordinates (NoDataElevation for no data).
- err: if
  - the file cannot be opened
  - the coordinates are outside the file's extent
  - the raster is rotated (not supported)
  - or any other reading error occurs.
*/
func getElevationFromTile(x, y float64, filename string) (float64, error) {
	if !FileExists(filename) {
		return 0, fmt.Errorf("file [%s] does not exist", filename)
	}

	dataset, err := godal.Open(filename, godal.RasterOnly())
	if err != nil {
		return 0, fmt.Errorf("error [%w] at godal.Open(), file %s", err, filename)
	}
	defer dataset.Close()

	gt, err := dataset.GeoTransform()
	if err != nil {
		return 0, fmt.Errorf("error [%w] at dataset.GeoTransform(), file %s", err, filename)
	}

	// this implementation assumes a north-up image
	if gt[2] != 0.0 || gt[4] != 0.0 {
		return 0, fmt.Errorf("raster [%s] appears to be rotated or skewed (gt[2]=%f, gt[4]=%f)", filename, gt[2], gt[4])
	}
	if gt[1] == 0 || gt[5] == 0 {
		return 0, fmt.Errorf("invalid geotransform: pixel width (gt[1]=%f) or height (gt[5]=%f) is zero", gt[1], gt[5])
	}

	// x = gt[0] + col * gt[1], y = gt[3] + row * gt[5]
	col := int(math.Floor((x - gt[0]) / gt[1]))
	row := int(math.Floor((y - gt[3]) / gt[5]))

	structure := dataset.Structure()
	if col < 0 || col >= structure.SizeX || row < 0 || row >= structure.SizeY {
		return 0, fmt.Errorf("coordinate (%.3f, %.3f) is outside the raster bounds [%s] (pixel %d, %d)", x, y, filename, col, row)
	}

	bands := dataset.Bands()
	if len(bands) == 0 {
		return 0, fmt.Errorf("no raster bands found in file [%s]", filename)
	}
	band := bands[0]

	// GDAL converts the band data type into the buffer type
	buffer := make([]float64, 1)
	err = band.Read(col, row, buffer, 1, 1)
	if err != nil {
		return 0, fmt.Errorf("error [%w] at band.Read(), pixel (%d, %d), file %s", err, col, row, filename)
	}

	if nodata, ok := band.NoData(); ok && buffer[0] == nodata {
		return NoDataElevation, nil
	}
	return buffer[0], nil
}
