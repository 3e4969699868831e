package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sort"
	"strconv"
)

// TileMetadata represents meta data about an elevation tile.
type TileMetadata struct {
	Index     string  // (hash) index of tile (e.g. 2056_2600_1199)
	Path      string  // path and file name (e.g. /data/swissalti3d_2019_2600-1199_2_2056_5728.tif)
	Source    string  // source of tile (e.g. CH-SA3D)
	Actuality string  // actuality of the survey (e.g. 2019-08)
	EPSG      int     // CRS of the tile (e.g. 2056)
	TileSize  float64 // edge length in CRS units (e.g. 1000 m, 1 degree for SRTM)
}

/*
TileRepository represents the repository of all elevation tiles (readonly after initialization).
Tiles of several providers (national grids, global SRTM) may coexist, distinguished by EPSG code.
*/
type TileRepository struct {
	tiles     map[string]TileMetadata
	tileSizes map[int]float64
}

/*
tileHash builds the repository index for a coordinate.
Variants:
1 = primary tile
2 = secondary tile (neighbour provider 1)
3 = tertiary tile (neighbour provider 2)
*/
func tileHash(epsg int, x, y, tileSize float64, variant int) string {
	xPrefix := int(math.Floor(x / tileSize))
	yPrefix := int(math.Floor(y / tileSize))
	if variant <= 1 {
		return fmt.Sprintf("%d_%d_%d", epsg, xPrefix, yPrefix)
	}
	return fmt.Sprintf("%d_%d_%d_%d", epsg, xPrefix, yPrefix, variant)
}

/*
BuildTileRepository builds the repository with all tile meta data from the given listings (JSON arrays).
At the border between two providers, tiles may exist in duplicate.
Example: "2056_2600_1199"
Tile for CH: swissalti3d_..._2600-1199.tif -> index '2056_2600_1199'
Tile for neighbour: ..._2600-1199.tif -> index '2056_2600_1199_2'
Both are needed, measurements beyond the provider boundary can be designated as no data.
*/
func BuildTileRepository(listings []string) (*TileRepository, error) {
	repository := &TileRepository{
		tiles:     make(map[string]TileMetadata, 64*1024),
		tileSizes: make(map[int]float64),
	}

	numberOfPrimaryTiles := 0
	numberOfSecondaryTiles := 0
	numberOfTertiaryTiles := 0
	for _, listing := range listings {
		listingTileMetadata := []TileMetadata{}
		data, err := os.ReadFile(listing)
		if err != nil {
			return nil, fmt.Errorf("building tile repository: error [%w] at os.ReadFile()", err)
		}

		err = json.Unmarshal(data, &listingTileMetadata)
		if err != nil {
			return nil, fmt.Errorf("building tile repository: error [%w] at json.Unmarshal(), file %s", err, listing)
		}

		slog.Info("processing tile listing", "listing", listing, "entries", len(listingTileMetadata))

		for _, entry := range listingTileMetadata {
			if entry.EPSG == 0 || entry.TileSize <= 0 {
				return nil, fmt.Errorf("building tile repository: entry [%s] in %s without EPSG or tile size", entry.Index, listing)
			}
			size, known := repository.tileSizes[entry.EPSG]
			if known && size != entry.TileSize {
				return nil, fmt.Errorf("building tile repository: inconsistent tile size %.3f for EPSG:%d (expected %.3f)", entry.TileSize, entry.EPSG, size)
			}
			repository.tileSizes[entry.EPSG] = entry.TileSize

			switch {
			case !repository.has(entry.Index):
				repository.tiles[entry.Index] = entry
				numberOfPrimaryTiles++
			case !repository.has(entry.Index + "_2"):
				repository.tiles[entry.Index+"_2"] = entry
				numberOfSecondaryTiles++
			default:
				repository.tiles[entry.Index+"_3"] = entry
				numberOfTertiaryTiles++
			}
		}
	}

	slog.Info("tile repository successfully build", "entries", len(repository.tiles), "primary tiles", numberOfPrimaryTiles,
		"secondary tiles", numberOfSecondaryTiles, "tertiary tiles", numberOfTertiaryTiles)

	return repository, nil
}

func (r *TileRepository) has(index string) bool {
	_, found := r.tiles[index]
	return found
}

/*
Len returns the number of repository entries.
*/
func (r *TileRepository) Len() int {
	return len(r.tiles)
}

/*
EPSGCodes returns the (sorted) CRS codes of all tile sets.
*/
func (r *TileRepository) EPSGCodes() []int {
	codes := make([]int, 0, len(r.tileSizes))
	for code := range r.tileSizes {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	return codes
}

/*
Lookup gets the tile for given coordinates (in the tile set's CRS) and variant.
*/
func (r *TileRepository) Lookup(x, y float64, epsg int, variant int) (TileMetadata, error) {
	size, found := r.tileSizes[epsg]
	if !found {
		return TileMetadata{}, fmt.Errorf("%w: no tiles for EPSG:%d", ErrTileNotFound, epsg)
	}
	hash := tileHash(epsg, x, y, size, variant)
	tile, found := r.tiles[hash]
	if !found {
		return TileMetadata{}, fmt.Errorf("%w: [%s]", ErrTileNotFound, hash)
	}
	return tile, nil
}

/*
Elevation retrieves the elevation for coordinates (in the tile set's CRS).
If the primary tile delivers no data, the neighbour variants are tried.
*/
func (r *TileRepository) Elevation(x, y float64, epsg int) (float64, TileMetadata, error) {
	var lastErr error
	for variant := 1; variant <= 3; variant++ {
		tile, err := r.Lookup(x, y, epsg, variant)
		if err != nil {
			if variant == 1 {
				return NoDataElevation, tile, fmt.Errorf("%w: %w", ErrOutOfCoverage, err)
			}
			break
		}

		elevation, err := getElevationFromTile(x, y, tile.Path)
		if err != nil {
			lastErr = fmt.Errorf("error [%w] getting elevation from GeoTIFF [%s] for x: %.3f, y: %.3f, EPSG:%d", err, tile.Path, x, y, epsg)
			continue
		}
		if elevation > NoDataElevation+0.1 {
			return elevation, tile, nil
		}
	}
	if lastErr != nil {
		return NoDataElevation, TileMetadata{}, fmt.Errorf("%w: %w", ErrOutOfCoverage, lastErr)
	}
	return NoDataElevation, TileMetadata{}, fmt.Errorf("%w: no data at x: %.3f, y: %.3f, EPSG:%d", ErrOutOfCoverage, x, y, epsg)
}

/*
TilesInBounds returns the file paths of all tiles (all variants) of a CRS intersecting the bounds.
The bounds must be given in the CRS of the tile set.
*/
func (r *TileRepository) TilesInBounds(b BoundingBox) []string {
	size, found := r.tileSizes[b.EPSG]
	if !found {
		return nil
	}
	var paths []string
	seen := make(map[string]bool)
	for xi := int(math.Floor(b.MinX / size)); float64(xi)*size <= b.MaxX; xi++ {
		for yi := int(math.Floor(b.MinY / size)); float64(yi)*size <= b.MaxY; yi++ {
			for variant := 1; variant <= 3; variant++ {
				tile, found := r.tiles[tileHash(b.EPSG, (float64(xi)+0.5)*size, (float64(yi)+0.5)*size, size, variant)]
				if !found {
					break
				}
				if !seen[tile.Path] {
					seen[tile.Path] = true
					paths = append(paths, tile.Path)
				}
			}
		}
	}
	return paths
}

/*
Save saves repository as sorted csv file.
*/
func (r *TileRepository) Save(filename string) error {
	keys := make([]string, 0, len(r.tiles))
	for k := range r.tiles {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("error [%w] at os.Create()", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	header := []string{"Index", "Path", "Source", "Actuality", "EPSG", "TileSize"}
	err = writer.Write(header)
	if err != nil {
		return fmt.Errorf("error [%w] at writer.Write()", err)
	}

	for _, key := range keys {
		metadata := r.tiles[key]
		row := []string{key, metadata.Path, metadata.Source, metadata.Actuality,
			strconv.Itoa(metadata.EPSG), strconv.FormatFloat(metadata.TileSize, 'f', -1, 64)}
		err = writer.Write(row)
		if err != nil {
			return fmt.Errorf("error [%w] at writer.Write()", err)
		}
	}

	writer.Flush()
	err = writer.Error()
	if err != nil {
		return fmt.Errorf("error [%w] at writer.Error()", err)
	}

	return nil
}
