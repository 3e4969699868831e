package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/clip"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r3"
)

// NoiseSourceType distinguishes road and rail noise.
type NoiseSourceType string

const (
	NoiseTraffic NoiseSourceType = "TRAFFIC"
	NoiseTrain   NoiseSourceType = "TRAIN"
)

// NoiseTime is the time of day bucket of a noise level.
type NoiseTime string

const (
	NoiseDay   NoiseTime = "DAY"
	NoiseNight NoiseTime = "NIGHT"
)

var (
	noiseSourceTypes = []NoiseSourceType{NoiseTraffic, NoiseTrain}
	noiseTimes       = []NoiseTime{NoiseDay, NoiseNight}
)

// calibration offset of the spreading law (dB)
const noiseCalibration = 12.04

// maximal insulation of a closed facade (dB)
const maxFacadeInsulation = 40.0

// height of noise sources above the terrain (m)
const noiseSourceHeight = 0.5

/*
AttenuateNoise returns the level at distance (m) of a source with the given level,
with spherical spreading (20 dB per decade). Distances below 1 m count as 1 m.
*/
func AttenuateNoise(level, distance float64) float64 {
	return level - 20*math.Log10(math.Max(distance, 1)) + noiseCalibration
}

/*
NoiseAttenuation returns the insulation (dB) of a facade of spaceSurface m² with
openingsSurface m² of openings: 0 for a fully open facade, 40 dB for a closed one.
*/
func NoiseAttenuation(spaceSurface, openingsSurface float64) float64 {
	if spaceSurface <= 0 {
		return 0
	}
	share := math.Min(math.Max(openingsSurface, 0), spaceSurface) / spaceSurface
	return -10 * math.Log10(share+(1-share)*math.Pow(10, -maxFacadeInsulation/10))
}

/*
EnergeticSum adds sound levels energetically; no levels sum to 0.
*/
func EnergeticSum(levels []float64) float64 {
	if len(levels) == 0 {
		return 0
	}
	energies := make([]float64, len(levels))
	for i, l := range levels {
		energies[i] = math.Pow(10, l/10)
	}
	return 10 * math.Log10(floats.Sum(energies))
}

// noiseDimension returns the result dimension name, e.g. noise_TRAFFIC_DAY
func noiseDimension(source NoiseSourceType, t NoiseTime) string {
	return fmt.Sprintf("noise_%s_%s", source, t)
}

/*
NoiseSource is a line emitting noise with a base level per time of day.
*/
type NoiseSource struct {
	Type   NoiseSourceType
	Line   Path
	Levels map[NoiseTime]float64
}

/*
NoiseSourceProvider delivers the noise sources of a region (working CRS).
All returned sources lie inside the region.
*/
type NoiseSourceProvider interface {
	Sources(ctx context.Context, region BoundingBox) ([]NoiseSource, error)
}

// genericNoiseLevel is the emission of a street or rail class
type genericNoiseLevel struct {
	Source NoiseSourceType
	Day    float64
	Night  float64
}

// genericNoiseLevels maps street and rail classes to their base levels (dB)
var genericNoiseLevels = map[SurroundingType]genericNoiseLevel{
	Highway:         {Source: NoiseTraffic, Day: 80, Night: 72},
	PrimaryStreet:   {Source: NoiseTraffic, Day: 74, Night: 65},
	SecondaryStreet: {Source: NoiseTraffic, Day: 70, Night: 60},
	TertiaryStreet:  {Source: NoiseTraffic, Day: 64, Night: 54},
	Railways:        {Source: NoiseTrain, Day: 78, Night: 72},
}

/*
GenericNoiseSources derives noise sources from the street and rail layers of a site
using the generic level table.
*/
type GenericNoiseSources struct {
	Site *Site
}

/*
Sources returns the street and rail lines of the region with their generic levels.
Each layer is read once; its features are classified into the level table.
*/
func (n GenericNoiseSources) Sources(ctx context.Context, region BoundingBox) ([]NoiseSource, error) {
	var out []NoiseSource
	for _, layer := range n.Site.Family.Layers {
		types := slices.DeleteFunc(slices.Clone(layer.Types), func(t SurroundingType) bool {
			_, ok := genericNoiseLevels[t]
			return !ok
		})
		if len(types) == 0 {
			continue
		}
		provider, err := n.Site.provider(layer, types)
		if err != nil {
			return nil, err
		}
		sources, err := collectNoiseSources(ctx, provider, region, n.Site.Elevation(), func(props Properties) (NoiseSourceType, map[NoiseTime]float64, bool) {
			level, ok := genericNoiseLevels[layer.Classify(props)]
			if !ok {
				return "", nil, false
			}
			return level.Source, map[NoiseTime]float64{NoiseDay: level.Day, NoiseNight: level.Night}, true
		})
		if err != nil {
			return nil, err
		}
		out = append(out, sources...)
	}
	return out, nil
}

/*
RegionNoiseSources reads noise sources with attribute-provided levels
(national noise cadastre with LR_DAY / LR_NIGHT, or custom GPX lines with configured levels).
*/
type RegionNoiseSources struct {
	Name           string
	Provider       GeometryProvider
	Type           NoiseSourceType
	DayAttribute   string
	NightAttribute string
	Elevation      ElevationHandler
}

/*
Sources returns the lines of the region carrying both level attributes.
A layer without such lines in the region results in ErrNoNoiseSources.
*/
func (n RegionNoiseSources) Sources(ctx context.Context, region BoundingBox) ([]NoiseSource, error) {
	out, err := collectNoiseSources(ctx, n.Provider, region, n.Elevation, func(props Properties) (NoiseSourceType, map[NoiseTime]float64, bool) {
		day, okDay := props.Float(n.DayAttribute)
		night, okNight := props.Float(n.NightAttribute)
		if !okDay || !okNight {
			return "", nil, false
		}
		return n.Type, map[NoiseTime]float64{NoiseDay: day, NoiseNight: night}, true
	})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: layer %s", ErrNoNoiseSources, n.Name)
	}
	return out, nil
}

/*
NoiseSourceChain combines the region layers of a site with a fallback.
The fallback contributes only the source types none of the layers delivered.
*/
type NoiseSourceChain struct {
	Layers   []NoiseSourceProvider
	Fallback NoiseSourceProvider
}

/*
Sources returns the union of the layers plus the fallback's sources of missing types.
*/
func (c NoiseSourceChain) Sources(ctx context.Context, region BoundingBox) ([]NoiseSource, error) {
	var out []NoiseSource
	delivered := make(map[NoiseSourceType]bool)
	for _, layer := range c.Layers {
		sources, err := layer.Sources(ctx, region)
		if err != nil {
			if errors.Is(err, ErrNoNoiseSources) || errors.Is(err, ErrNoEntities) {
				slog.Debug("noise layer skipped", "reason", err)
				continue
			}
			return nil, err
		}
		for _, source := range sources {
			delivered[source.Type] = true
		}
		out = append(out, sources...)
	}

	if c.Fallback != nil && len(delivered) < len(noiseSourceTypes) {
		sources, err := c.Fallback.Sources(ctx, region)
		if err != nil && !errors.Is(err, ErrNoNoiseSources) && !errors.Is(err, ErrNoEntities) {
			return nil, err
		}
		for _, source := range sources {
			if !delivered[source.Type] {
				out = append(out, source)
			}
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: region %.0f,%.0f,%.0f,%.0f", ErrNoNoiseSources, region.MinX, region.MinY, region.MaxX, region.MaxY)
	}
	return out, nil
}

/*
collectNoiseSources clips the provider's lines to the region and lifts them above the terrain.
*/
func collectNoiseSources(ctx context.Context, provider GeometryProvider, region BoundingBox, elevation ElevationHandler,
	levels func(Properties) (NoiseSourceType, map[NoiseTime]float64, bool)) ([]NoiseSource, error) {
	var out []NoiseSource
	for g, err := range provider.Geometries(ctx, region) {
		if err != nil {
			if errors.Is(err, ErrNoEntities) {
				return out, nil
			}
			return nil, err
		}
		sourceType, sourceLevels, ok := levels(g.Properties)
		if !ok {
			continue
		}
		for _, line := range g.Lines {
			ls := make(orb.LineString, 0, len(line))
			for _, v := range line {
				ls = append(ls, orb.Point{v.X, v.Y})
			}
			for _, part := range clip.LineString(region.Bound(), ls) {
				if len(part) < 2 {
					continue
				}
				path := make(Path, 0, len(part))
				for _, p := range part {
					z := 0.0
					if elevation != nil {
						if h, err := elevation.Elevation(p[0], p[1]); err == nil {
							z = h
						}
					}
					path = append(path, r3.Vec{X: p[0], Y: p[1], Z: z + noiseSourceHeight})
				}
				out = append(out, NoiseSource{Type: sourceType, Line: path, Levels: sourceLevels})
			}
		}
	}
	return out, nil
}

/*
NoiseRayTracer computes the noise levels at observation points.
Each source line is sampled every SampleSpacing meters; the nearest sample with free
line of sight to the observer determines the level of that source.
*/
type NoiseRayTracer struct {
	Obstacles     *TriangleIndex // nil: free propagation
	SampleSpacing float64
}

/*
samples returns points along the line, including its vertices.
*/
func (t NoiseRayTracer) samples(line Path) []r3.Vec {
	spacing := t.SampleSpacing
	if spacing <= 0 {
		spacing = 5
	}
	var out []r3.Vec
	for i := 0; i+1 < len(line); i++ {
		a, b := line[i], line[i+1]
		length := r3.Norm(r3.Sub(b, a))
		steps := max(int(math.Ceil(length/spacing)), 1)
		for s := range steps {
			out = append(out, r3.Add(a, r3.Scale(float64(s)/float64(steps), r3.Sub(b, a))))
		}
	}
	if len(line) > 0 {
		out = append(out, line[len(line)-1])
	}
	return out
}

/*
Levels returns the energetically summed level per noise dimension at the observer.
Every dimension is present; dimensions without audible sources are 0.
*/
func (t NoiseRayTracer) Levels(observer r3.Vec, sources []NoiseSource) map[string]float64 {
	contributions := make(map[string][]float64)
	for _, source := range sources {
		best := math.Inf(1)
		for _, sample := range t.samples(source.Line) {
			d := r3.Norm(r3.Sub(sample, observer))
			if d >= best {
				continue
			}
			if t.Obstacles != nil && t.Obstacles.Occluded(observer, sample) {
				continue
			}
			best = d
		}
		if math.IsInf(best, 1) {
			continue
		}
		for _, tod := range noiseTimes {
			level, ok := source.Levels[tod]
			if !ok {
				continue
			}
			dim := noiseDimension(source.Type, tod)
			contributions[dim] = append(contributions[dim], AttenuateNoise(level, best))
		}
	}

	out := make(map[string]float64, len(noiseSourceTypes)*len(noiseTimes))
	for _, sourceType := range noiseSourceTypes {
		for _, tod := range noiseTimes {
			dim := noiseDimension(sourceType, tod)
			out[dim] = EnergeticSum(contributions[dim])
		}
	}
	return out
}

/*
NoiseArea is one area of the site with its observation points and facade surfaces.
*/
type NoiseArea struct {
	ID              string
	Points          []r3.Vec
	SpaceSurface    float64
	OpeningsSurface float64
}

/*
NoiseSimulationHandler computes the noise exposure of all areas of a site.
*/
type NoiseSimulationHandler struct {
	Sources NoiseSourceProvider
	Region  BoundingBox
	Tracer  NoiseRayTracer
	Areas   []NoiseArea
}

/*
NoiseForSite returns per area and noise dimension one level per observation point.
A site without usable noise sources results in zero levels.
*/
func (h NoiseSimulationHandler) NoiseForSite(ctx context.Context) (SimulationResult, error) {
	ctx, span := tracer.Start(ctx, "noise.site")
	defer span.End()

	var sources []NoiseSource
	if h.Sources != nil {
		var err error
		sources, err = h.Sources.Sources(ctx, h.Region)
		if err != nil && !errors.Is(err, ErrNoEntities) && !errors.Is(err, ErrNoNoiseSources) {
			span.RecordError(err)
			return nil, err
		}
	}
	if len(sources) == 0 {
		slog.Info("no noise sources for site", "region", fmt.Sprintf("%.0f,%.0f,%.0f,%.0f", h.Region.MinX, h.Region.MinY, h.Region.MaxX, h.Region.MaxY))
	}

	result := make(SimulationResult, len(h.Areas))
	for _, area := range h.Areas {
		insulation := NoiseAttenuation(area.SpaceSurface, area.OpeningsSurface)
		dims := make(map[string][]float64)
		for _, sourceType := range noiseSourceTypes {
			for _, tod := range noiseTimes {
				dims[noiseDimension(sourceType, tod)] = make([]float64, 0, len(area.Points))
			}
		}
		for i, p := range area.Points {
			if i%64 == 0 && ctx.Err() != nil {
				return nil, ctx.Err()
			}
			for dim, level := range h.Tracer.Levels(p, sources) {
				if level > 0 {
					level = math.Max(level-insulation, 0)
				}
				dims[dim] = append(dims[dim], level)
			}
		}
		result[area.ID] = dims
	}
	return result, nil
}
