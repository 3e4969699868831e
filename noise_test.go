package main

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

// staticNoiseSources returns fixed sources for any region
type staticNoiseSources struct {
	sources []NoiseSource
	err     error
}

func (s staticNoiseSources) Sources(_ context.Context, _ BoundingBox) ([]NoiseSource, error) {
	return s.sources, s.err
}

func TestAttenuateNoise(t *testing.T) {
	assert.InDelta(t, 72.04, AttenuateNoise(80, 10), 1e-9)
	assert.InDelta(t, 112.04, AttenuateNoise(100, 1), 1e-9)
	assert.InDelta(t, 112.04, AttenuateNoise(100, 0.2), 1e-9, "distances below 1 m are clamped")
	assert.InDelta(t, 52.04, AttenuateNoise(80, 100), 1e-9)
	assert.InDelta(t, 72.04, AttenuateNoise(100, 100), 0.01)

	previous := math.Inf(1)
	for d := 1.0; d < 5000; d *= 1.7 {
		level := AttenuateNoise(75, d)
		assert.Less(t, level, previous)
		previous = level
	}
}

func TestNoiseAttenuation(t *testing.T) {
	assert.Equal(t, 0.0, NoiseAttenuation(10, 10))
	assert.InDelta(t, 40.0, NoiseAttenuation(10, 0), 1e-12)
	assert.InDelta(t, 0.0, NoiseAttenuation(20, 20), 1e-9)
	assert.InDelta(t, 40.0, NoiseAttenuation(20, 0), 1e-9)
	assert.InDelta(t, 0.0, NoiseAttenuation(20, 35), 1e-9, "openings larger than the facade")
	assert.InDelta(t, 0.0, NoiseAttenuation(0, 5), 1e-9)

	previous := 41.0
	for openings := 0.0; openings <= 20; openings += 2 {
		a := NoiseAttenuation(20, openings)
		assert.Less(t, a, previous)
		previous = a
	}
}

func TestEnergeticSum(t *testing.T) {
	assert.Equal(t, 0.0, EnergeticSum(nil))
	assert.InDelta(t, 60.0, EnergeticSum([]float64{60}), 1e-9)
	assert.InDelta(t, 63.0103, EnergeticSum([]float64{60, 60}), 1e-4)
	assert.InDelta(t, 70.0, EnergeticSum([]float64{70, 40}), 0.01)
}

func TestNoiseRayTracerSamples(t *testing.T) {
	tracer := NoiseRayTracer{SampleSpacing: 5}
	samples := tracer.samples(Path{{X: 0}, {X: 12}})

	require.Len(t, samples, 4)
	assert.InDelta(t, 4.0, samples[1].X, 1e-9)
	assert.Equal(t, r3.Vec{X: 12}, samples[3])
}

func TestNoiseForSite(t *testing.T) {
	road := NoiseSource{
		Type:   NoiseTraffic,
		Line:   Path{{X: 0, Y: 0, Z: 0.5}, {X: 100, Y: 0, Z: 0.5}},
		Levels: map[NoiseTime]float64{NoiseDay: 80, NoiseNight: 70},
	}
	areas := []NoiseArea{
		{ID: "open", Points: []r3.Vec{{X: 50, Y: 10, Z: 0.5}}, SpaceSurface: 12, OpeningsSurface: 12},
		{ID: "closed", Points: []r3.Vec{{X: 50, Y: 10, Z: 0.5}}, SpaceSurface: 12, OpeningsSurface: 0},
	}

	t.Run("free propagation", func(t *testing.T) {
		handler := NoiseSimulationHandler{
			Sources: staticNoiseSources{sources: []NoiseSource{road}},
			Tracer:  NoiseRayTracer{SampleSpacing: 5},
			Areas:   areas,
		}
		result, err := handler.NoiseForSite(context.Background())
		require.NoError(t, err)

		open := result["open"]
		require.Len(t, open, 4)
		assert.InDelta(t, 72.04, open["noise_TRAFFIC_DAY"][0], 1e-9)
		assert.InDelta(t, 62.04, open["noise_TRAFFIC_NIGHT"][0], 1e-9)
		assert.Equal(t, []float64{0}, open["noise_TRAIN_DAY"])
		assert.Equal(t, []float64{0}, open["noise_TRAIN_NIGHT"])

		closed := result["closed"]
		assert.InDelta(t, 32.04, closed["noise_TRAFFIC_DAY"][0], 1e-9)
		assert.InDelta(t, 22.04, closed["noise_TRAFFIC_NIGHT"][0], 1e-9)
	})

	t.Run("wall blocks line of sight", func(t *testing.T) {
		// a wall at y = 5 covering the whole road
		wall := []TaggedTriangle{
			{Type: Buildings, Triangle: Triangle{{X: -500, Y: 5, Z: -10}, {X: 600, Y: 5, Z: -10}, {X: 600, Y: 5, Z: 50}}},
			{Type: Buildings, Triangle: Triangle{{X: -500, Y: 5, Z: -10}, {X: 600, Y: 5, Z: 50}, {X: -500, Y: 5, Z: 50}}},
		}
		index, err := NewTriangleIndex(wall)
		require.NoError(t, err)

		handler := NoiseSimulationHandler{
			Sources: staticNoiseSources{sources: []NoiseSource{road}},
			Tracer:  NoiseRayTracer{Obstacles: index, SampleSpacing: 5},
			Areas:   areas[:1],
		}
		result, err := handler.NoiseForSite(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []float64{0}, result["open"]["noise_TRAFFIC_DAY"])
	})

	t.Run("no sources", func(t *testing.T) {
		handler := NoiseSimulationHandler{
			Sources: staticNoiseSources{err: ErrNoNoiseSources},
			Areas:   areas[:1],
		}
		result, err := handler.NoiseForSite(context.Background())
		require.NoError(t, err)
		for _, levels := range result["open"] {
			assert.Equal(t, []float64{0}, levels)
		}
	})

	t.Run("source failure", func(t *testing.T) {
		handler := NoiseSimulationHandler{
			Sources: staticNoiseSources{err: ErrUpstreamUnavailable},
			Areas:   areas[:1],
		}
		_, err := handler.NoiseForSite(context.Background())
		assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	})
}

const tramlineGPX = `<?xml version="1.0" encoding="UTF-8"?>
<gpx version="1.1" creator="surroundings" xmlns="http://www.topografix.com/GPX/1/1">
  <trk>
    <name>Tram Hardbruecke</name>
    <type>tram</type>
    <trkseg>
      <trkpt lat="47.3700" lon="8.5300"><ele>410</ele></trkpt>
      <trkpt lat="47.3700" lon="8.5400"><ele>411</ele></trkpt>
      <trkpt lat="47.3700" lon="8.5600"><ele>412</ele></trkpt>
    </trkseg>
  </trk>
</gpx>
`

func gpxNoiseLayer(t *testing.T, props Properties) *GPXProvider {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tramline.gpx"), []byte(tramlineGPX), 0o600))
	return &GPXProvider{Cache: &SourceCache{Directory: dir}, File: "tramline.gpx", Properties: props}
}

func TestRegionNoiseSourcesFromGPXLine(t *testing.T) {
	region := BoundingBox{MinX: 8.52, MinY: 47.36, MaxX: 8.55, MaxY: 47.38, EPSG: EPSGWGS84}

	t.Run("configured levels", func(t *testing.T) {
		layer := RegionNoiseSources{
			Name:           "tramline",
			Provider:       gpxNoiseLayer(t, Properties{"LR_DAY": 68.0, "LR_NIGHT": 58.0}),
			Type:           NoiseTrain,
			DayAttribute:   "LR_DAY",
			NightAttribute: "LR_NIGHT",
		}
		sources, err := layer.Sources(context.Background(), region)
		require.NoError(t, err)
		require.Len(t, sources, 1)

		source := sources[0]
		assert.Equal(t, NoiseTrain, source.Type)
		assert.Equal(t, map[NoiseTime]float64{NoiseDay: 68, NoiseNight: 58}, source.Levels)
		require.GreaterOrEqual(t, len(source.Line), 2)
		for _, v := range source.Line {
			assert.True(t, region.Contains(v.X, v.Y), "vertex %v outside region", v)
			assert.Equal(t, noiseSourceHeight, v.Z)
		}
		assert.InDelta(t, 8.55, source.Line[len(source.Line)-1].X, 1e-9, "line is cut at the region border")
	})

	t.Run("without levels", func(t *testing.T) {
		layer := RegionNoiseSources{
			Name:           "tramline",
			Provider:       gpxNoiseLayer(t, nil),
			Type:           NoiseTrain,
			DayAttribute:   "LR_DAY",
			NightAttribute: "LR_NIGHT",
		}
		_, err := layer.Sources(context.Background(), region)
		assert.ErrorIs(t, err, ErrNoNoiseSources)
	})

	t.Run("missing file", func(t *testing.T) {
		layer := RegionNoiseSources{
			Name:     "planned",
			Provider: &GPXProvider{Cache: &SourceCache{Directory: t.TempDir()}, File: "planned.gpx"},
			Type:     NoiseTraffic,
		}
		_, err := layer.Sources(context.Background(), region)
		assert.ErrorIs(t, err, ErrNoNoiseSources)
	})
}

func TestNoiseSourceChain(t *testing.T) {
	line := Path{{X: 0, Y: 0}, {X: 10, Y: 0}}
	cadastre := NoiseSource{Type: NoiseTraffic, Line: line, Levels: map[NoiseTime]float64{NoiseDay: 66, NoiseNight: 57}}
	genericRoad := NoiseSource{Type: NoiseTraffic, Line: line, Levels: map[NoiseTime]float64{NoiseDay: 74, NoiseNight: 65}}
	genericRail := NoiseSource{Type: NoiseTrain, Line: line, Levels: map[NoiseTime]float64{NoiseDay: 78, NoiseNight: 72}}
	generic := staticNoiseSources{sources: []NoiseSource{genericRoad, genericRail}}
	region := NewBoundingBox(0, 0, 100, EPSGLV95)

	t.Run("fallback fills missing types", func(t *testing.T) {
		chain := NoiseSourceChain{
			Layers:   []NoiseSourceProvider{staticNoiseSources{err: ErrNoNoiseSources}, staticNoiseSources{sources: []NoiseSource{cadastre}}},
			Fallback: generic,
		}
		sources, err := chain.Sources(context.Background(), region)
		require.NoError(t, err)
		assert.Equal(t, []NoiseSource{cadastre, genericRail}, sources)
	})

	t.Run("layers cover all types", func(t *testing.T) {
		chain := NoiseSourceChain{
			Layers:   []NoiseSourceProvider{staticNoiseSources{sources: []NoiseSource{cadastre, genericRail}}},
			Fallback: staticNoiseSources{err: ErrUpstreamUnavailable},
		}
		sources, err := chain.Sources(context.Background(), region)
		require.NoError(t, err)
		assert.Len(t, sources, 2)
	})

	t.Run("only fallback", func(t *testing.T) {
		sources, err := NoiseSourceChain{Fallback: generic}.Sources(context.Background(), region)
		require.NoError(t, err)
		assert.Equal(t, generic.sources, sources)
	})

	t.Run("nothing anywhere", func(t *testing.T) {
		chain := NoiseSourceChain{
			Layers:   []NoiseSourceProvider{staticNoiseSources{err: ErrNoEntities}},
			Fallback: staticNoiseSources{},
		}
		_, err := chain.Sources(context.Background(), region)
		assert.ErrorIs(t, err, ErrNoNoiseSources)
	})

	t.Run("layer failure", func(t *testing.T) {
		chain := NoiseSourceChain{Layers: []NoiseSourceProvider{staticNoiseSources{err: ErrUpstreamUnavailable}}, Fallback: generic}
		_, err := chain.Sources(context.Background(), region)
		assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	})
}

func TestSiteNoiseSources(t *testing.T) {
	factory := &SurroundingsFactory{WorkingEPSG: EPSGLV95}
	custom := []NoiseLayerSpec{{
		Layer:          "custom/tramline",
		Format:         "gpx",
		Type:           NoiseTrain,
		DayAttribute:   "LR_DAY",
		NightAttribute: "LR_NIGHT",
		Properties:     Properties{"LR_DAY": 68.0, "LR_NIGHT": 58.0},
	}}

	site := factory.NewSite(2600000, 1200000, &swisstopoFamily, nil)
	chain, err := site.NoiseSources(custom)
	require.NoError(t, err)
	require.Len(t, chain.Layers, 3)
	assert.IsType(t, GenericNoiseSources{}, chain.Fallback)

	names := make([]string, 0, len(chain.Layers))
	for _, layer := range chain.Layers {
		names = append(names, layer.(RegionNoiseSources).Name)
	}
	assert.Equal(t, []string{"sonBASE_Strassenlaerm_Emission", "sonBASE_Eisenbahnlaerm_Emission", "custom/tramline"}, names)

	tram := chain.Layers[2].(RegionNoiseSources)
	gpxProvider, ok := tram.Provider.(*GPXProvider)
	require.True(t, ok)
	assert.Equal(t, "custom/tramline.gpx", gpxProvider.File)
	assert.Equal(t, custom[0].Properties, gpxProvider.Properties)

	osm := factory.NewSite(2600000, 1200000, &osmFamily, nil)
	chain, err = osm.NoiseSources(nil)
	require.NoError(t, err)
	assert.Empty(t, chain.Layers)
	assert.NotNil(t, chain.Fallback)
}
