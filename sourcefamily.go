package main

import (
	"fmt"
	"slices"
	"strings"
)

/*
LayerSpec describes one vector layer of a source family and how its features are classified.
Classify returns "" for features that belong to no category.
*/
type LayerSpec struct {
	Layer    string
	Format   string // "shp" (default), "geojson" or "gpx"
	Types    []SurroundingType
	Classify func(Properties) SurroundingType
}

/*
NoiseLayerSpec describes a line layer whose features carry their own noise levels
(noise cadastre, or a custom GPX line with configured levels in Properties).
*/
type NoiseLayerSpec struct {
	Layer          string
	Format         string // "shp" (default), "geojson" or "gpx"
	Type           NoiseSourceType
	DayAttribute   string
	NightAttribute string
	Properties     Properties // gpx only, merged into every line
}

/*
SourceFamily describes the vector layers of one data provider.
*/
type SourceFamily struct {
	Name             string
	EPSG             int
	Layers           []LayerSpec
	NoiseLayers      []NoiseLayerSpec
	IsBridge         func(Properties) bool
	ForestKind       func(Properties) ForestKind
	Width            func(SurroundingType, Properties) float64
	HeightAttributes []string
}

// street and rail ribbon widths (m)
var streetWidths = map[SurroundingType]float64{
	Highway:         12,
	PrimaryStreet:   10,
	SecondaryStreet: 8,
	TertiaryStreet:  6,
	Pedestrian:      2,
	Railways:        4,
	Rivers:          5,
}

/*
layersFor returns the layers delivering the given category.
*/
func (f *SourceFamily) layersFor(t SurroundingType) []LayerSpec {
	var out []LayerSpec
	for _, layer := range f.Layers {
		if slices.Contains(layer.Types, t) {
			out = append(out, layer)
		}
	}
	return out
}

/*
sourceFamily returns the family registered under name.
*/
func sourceFamily(name string) (*SourceFamily, error) {
	switch strings.ToUpper(name) {
	case "", "OSM":
		return &osmFamily, nil
	case "SWISSTOPO":
		return &swisstopoFamily, nil
	default:
		return nil, fmt.Errorf("unknown source family [%s]", name)
	}
}

// fixed classifies every feature as t
func fixed(t SurroundingType) func(Properties) SurroundingType {
	return func(Properties) SurroundingType { return t }
}

// byAttribute classifies features by a lookup table on one attribute
func byAttribute(attribute string, table map[string]SurroundingType) func(Properties) SurroundingType {
	return func(props Properties) SurroundingType {
		return table[props.String(attribute)]
	}
}

// --------------------------------------------------------------------------------
// OpenStreetMap (Geofabrik shapefiles, EPSG:4326, 2D)
// --------------------------------------------------------------------------------

var osmRoadClasses = map[string]SurroundingType{
	"motorway":       Highway,
	"motorway_link":  Highway,
	"trunk":          Highway,
	"trunk_link":     Highway,
	"primary":        PrimaryStreet,
	"primary_link":   PrimaryStreet,
	"secondary":      SecondaryStreet,
	"secondary_link": SecondaryStreet,
	"tertiary":       TertiaryStreet,
	"tertiary_link":  TertiaryStreet,
	"residential":    TertiaryStreet,
	"unclassified":   TertiaryStreet,
	"living_street":  TertiaryStreet,
	"service":        TertiaryStreet,
	"pedestrian":     Pedestrian,
	"footway":        Pedestrian,
	"path":           Pedestrian,
	"cycleway":       Pedestrian,
	"steps":          Pedestrian,
}

var osmRiverWidths = map[string]float64{
	"river":  10,
	"canal":  8,
	"stream": 3,
	"drain":  1,
}

var osmFamily = SourceFamily{
	Name: "OSM",
	EPSG: EPSGWGS84,
	Layers: []LayerSpec{
		{Layer: "gis_osm_buildings_a_free_1", Types: []SurroundingType{Buildings}, Classify: fixed(Buildings)},
		{
			Layer:    "gis_osm_roads_free_1",
			Types:    []SurroundingType{Highway, PrimaryStreet, SecondaryStreet, TertiaryStreet, Pedestrian},
			Classify: byAttribute("fclass", osmRoadClasses),
		},
		{
			Layer: "gis_osm_railways_free_1",
			Types: []SurroundingType{Railways},
			Classify: byAttribute("fclass", map[string]SurroundingType{
				"rail": Railways, "light_rail": Railways, "narrow_gauge": Railways, "tram": Railways, "monorail": Railways,
			}),
		},
		{
			Layer: "gis_osm_water_a_free_1",
			Types: []SurroundingType{Lakes, Rivers},
			Classify: byAttribute("fclass", map[string]SurroundingType{
				"water": Lakes, "reservoir": Lakes, "river": Rivers, "riverbank": Rivers,
			}),
		},
		{
			Layer: "gis_osm_waterways_free_1",
			Types: []SurroundingType{Rivers},
			Classify: byAttribute("fclass", map[string]SurroundingType{
				"river": Rivers, "canal": Rivers, "stream": Rivers, "drain": Rivers,
			}),
		},
		{
			Layer: "gis_osm_landuse_a_free_1",
			Types: []SurroundingType{Forest, Parks},
			Classify: byAttribute("fclass", map[string]SurroundingType{
				"forest": Forest, "nature_reserve": Forest, "orchard": Forest, "vineyard": Forest,
				"park": Parks, "recreation_ground": Parks, "grass": Parks, "meadow": Parks,
			}),
		},
		{
			Layer:    "gis_osm_natural_free_1",
			Types:    []SurroundingType{Trees},
			Classify: byAttribute("fclass", map[string]SurroundingType{"tree": Trees}),
		},
		{Layer: "water_polygons", Format: "geojson", Types: []SurroundingType{Sea}, Classify: fixed(Sea)},
	},
	IsBridge: func(props Properties) bool {
		return props.String("bridge") == "T"
	},
	ForestKind: func(props Properties) ForestKind {
		switch props.String("fclass") {
		case "nature_reserve":
			return ForestOpen
		case "orchard", "vineyard":
			return ForestBush
		default:
			return ForestStandard
		}
	},
	Width: func(t SurroundingType, props Properties) float64 {
		if w, ok := props.Float("width"); ok && w > 0 {
			return w
		}
		if t == Rivers {
			if w, ok := osmRiverWidths[props.String("fclass")]; ok {
				return w
			}
		}
		return streetWidths[t]
	},
	HeightAttributes: []string{"height"},
}

// --------------------------------------------------------------------------------
// swisstopo swissTLM3D (shapefiles, EPSG:2056, with z)
// --------------------------------------------------------------------------------

var tlmStreetClasses = map[string]SurroundingType{
	"Autobahn":       Highway,
	"Autostrasse":    Highway,
	"Ausfahrt":       Highway,
	"Einfahrt":       Highway,
	"Raststaette":    Highway,
	"10m Strasse":    PrimaryStreet,
	"8m Strasse":     SecondaryStreet,
	"6m Strasse":     TertiaryStreet,
	"4m Strasse":     TertiaryStreet,
	"3m Strasse":     TertiaryStreet,
	"Platz":          TertiaryStreet,
	"2m Weg":         Pedestrian,
	"1m Weg":         Pedestrian,
	"2m Wegfragment": Pedestrian,
	"1m Wegfragment": Pedestrian,
	"Markierte Spur": Pedestrian,
	"Verbindung":     TertiaryStreet,
	"Zufahrt":        TertiaryStreet,
	"Dienstzufahrt":  TertiaryStreet,
	"Provisorium":    TertiaryStreet,
}

var tlmLandCover = map[string]SurroundingType{
	"Stehende Gewaesser": Lakes,
	"Fliessgewaesser":    Rivers,
	"Wald":               Forest,
	"Wald offen":         Forest,
	"Gebueschwald":       Forest,
	"Gehoelzflaeche":     Forest,
	"Reben":              Forest,
	"Obstanlage":         Forest,
}

var swisstopoFamily = SourceFamily{
	Name: "SWISSTOPO",
	EPSG: EPSGLV95,
	Layers: []LayerSpec{
		{Layer: "swissTLM3D_TLM_GEBAEUDE_FOOTPRINT", Types: []SurroundingType{Buildings}, Classify: fixed(Buildings)},
		{
			Layer:    "swissTLM3D_TLM_STRASSE",
			Types:    []SurroundingType{Highway, PrimaryStreet, SecondaryStreet, TertiaryStreet, Pedestrian},
			Classify: byAttribute("OBJEKTART", tlmStreetClasses),
		},
		{Layer: "swissTLM3D_TLM_EISENBAHN", Types: []SurroundingType{Railways}, Classify: fixed(Railways)},
		{Layer: "swissTLM3D_TLM_FLIESSGEWAESSER", Types: []SurroundingType{Rivers}, Classify: fixed(Rivers)},
		{
			Layer:    "swissTLM3D_TLM_BODENBEDECKUNG",
			Types:    []SurroundingType{Lakes, Rivers, Forest},
			Classify: byAttribute("OBJEKTART", tlmLandCover),
		},
		{
			Layer:    "swissTLM3D_TLM_EINZELBAUM_GEBUESCH",
			Types:    []SurroundingType{Trees},
			Classify: byAttribute("OBJEKTART", map[string]SurroundingType{"Einzelbaum": Trees}),
		},
		{
			Layer: "swissTLM3D_TLM_FREIZEITAREAL",
			Types: []SurroundingType{Parks},
			Classify: byAttribute("OBJEKTART", map[string]SurroundingType{
				"Parkanlage": Parks, "Golfplatz": Parks, "Zoo": Parks,
			}),
		},
	},
	NoiseLayers: []NoiseLayerSpec{
		{Layer: "sonBASE_Strassenlaerm_Emission", Type: NoiseTraffic, DayAttribute: "LR_DAY", NightAttribute: "LR_NIGHT"},
		{Layer: "sonBASE_Eisenbahnlaerm_Emission", Type: NoiseTrain, DayAttribute: "LR_DAY", NightAttribute: "LR_NIGHT"},
	},
	IsBridge: func(props Properties) bool {
		return strings.HasPrefix(props.String("KUNSTBAUTE"), "Bruecke")
	},
	ForestKind: func(props Properties) ForestKind {
		switch props.String("OBJEKTART") {
		case "Wald offen":
			return ForestOpen
		case "Gebueschwald", "Gehoelzflaeche", "Reben", "Obstanlage":
			return ForestBush
		default:
			return ForestStandard
		}
	},
	Width: func(t SurroundingType, props Properties) float64 {
		if w, ok := props.Float("BREITE"); ok && w > 0 {
			return w
		}
		return streetWidths[t]
	},
	HeightAttributes: []string{"GESAMTHOEHE"},
}
