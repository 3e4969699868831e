package main

import (
	"fmt"
	"iter"
	"math"
)

/*
TileGrid partitions the national extent into square tiles, each split into
SubDivisions × SubDivisions sub-tiles. Tiles are numbered row by row from the
lower left corner.
*/
type TileGrid struct {
	EPSG         int
	MinX         float64
	MinY         float64
	MaxX         float64
	MaxY         float64
	TileSize     float64
	SubDivisions int
}

// DefaultTileGrid covers Switzerland in LV95 with 5 km tiles.
var DefaultTileGrid = TileGrid{
	EPSG:         EPSGLV95,
	MinX:         2480000,
	MinY:         1070000,
	MaxX:         2845000,
	MaxY:         1305000,
	TileSize:     5000,
	SubDivisions: 5,
}

// TileLocation identifies a sub-tile of the grid.
type TileLocation struct {
	Index    int
	SubIndex int
}

/*
Columns returns the number of tile columns.
*/
func (g TileGrid) Columns() int {
	return int(math.Ceil((g.MaxX - g.MinX) / g.TileSize))
}

/*
Rows returns the number of tile rows.
*/
func (g TileGrid) Rows() int {
	return int(math.Ceil((g.MaxY - g.MinY) / g.TileSize))
}

/*
Count returns the number of tiles.
*/
func (g TileGrid) Count() int {
	return g.Columns() * g.Rows()
}

func (g TileGrid) subSize() float64 {
	return g.TileSize / float64(g.SubDivisions)
}

/*
Locate returns tile index and sub-tile index of a world coordinate.
*/
func (g TileGrid) Locate(x, y float64) (TileLocation, error) {
	col := int(math.Floor((x - g.MinX) / g.TileSize))
	row := int(math.Floor((y - g.MinY) / g.TileSize))
	if x < g.MinX || y < g.MinY || col >= g.Columns() || row >= g.Rows() {
		return TileLocation{}, fmt.Errorf("%w: x: %.3f, y: %.3f (EPSG:%d)", ErrOutsideGrid, x, y, g.EPSG)
	}
	cornerX := g.MinX + float64(col)*g.TileSize
	cornerY := g.MinY + float64(row)*g.TileSize
	subCol := min(int(math.Floor((x-cornerX)/g.subSize())), g.SubDivisions-1)
	subRow := min(int(math.Floor((y-cornerY)/g.subSize())), g.SubDivisions-1)
	return TileLocation{
		Index:    row*g.Columns() + col,
		SubIndex: subRow*g.SubDivisions + subCol,
	}, nil
}

/*
Corner returns the lower left corner of a tile.
*/
func (g TileGrid) Corner(index int) (float64, float64, error) {
	if index < 0 || index >= g.Count() {
		return 0, 0, fmt.Errorf("%w: tile index %d (grid has %d tiles)", ErrOutsideGrid, index, g.Count())
	}
	row, col := index/g.Columns(), index%g.Columns()
	return g.MinX + float64(col)*g.TileSize, g.MinY + float64(row)*g.TileSize, nil
}

/*
SubCorner returns the lower left corner of a sub-tile.
*/
func (g TileGrid) SubCorner(location TileLocation) (float64, float64, error) {
	x, y, err := g.Corner(location.Index)
	if err != nil {
		return 0, 0, err
	}
	if location.SubIndex < 0 || location.SubIndex >= g.SubDivisions*g.SubDivisions {
		return 0, 0, fmt.Errorf("%w: sub-tile index %d", ErrOutsideGrid, location.SubIndex)
	}
	subRow, subCol := location.SubIndex/g.SubDivisions, location.SubIndex%g.SubDivisions
	return x + float64(subCol)*g.subSize(), y + float64(subRow)*g.subSize(), nil
}

/*
SubTileBounds returns the bounding box of a sub-tile.
*/
func (g TileGrid) SubTileBounds(location TileLocation) (BoundingBox, error) {
	x, y, err := g.SubCorner(location)
	if err != nil {
		return BoundingBox{}, err
	}
	size := g.subSize()
	return BoundingBox{MinX: x, MinY: y, MaxX: x + size, MaxY: y + size, EPSG: g.EPSG}, nil
}

/*
Tiles iterates over all sub-tiles of the tile index range [first, last].
*/
func (g TileGrid) Tiles(first, last int) iter.Seq[TileLocation] {
	return func(yield func(TileLocation) bool) {
		first = max(first, 0)
		last = min(last, g.Count()-1)
		for index := first; index <= last; index++ {
			for sub := range g.SubDivisions * g.SubDivisions {
				if !yield(TileLocation{Index: index, SubIndex: sub}) {
					return
				}
			}
		}
	}
}
