package main

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ObservationConfig defines the observation point sampling.
type ObservationConfig struct {
	Resolution float64 `yaml:"Resolution"`
	Buffer     float64 `yaml:"Buffer"`
	Height     float64 `yaml:"Height"`
}

// NoiseLineConfig defines a custom noise source line (GPX file in the source cache).
type NoiseLineConfig struct {
	Layer string  `yaml:"Layer"` // cache key without ".gpx"
	Type  string  `yaml:"Type"`  // TRAFFIC or TRAIN
	Day   float64 `yaml:"Day"`   // emission level (dB)
	Night float64 `yaml:"Night"` // emission level (dB)
}

// ProgConfig defines program configuration
type ProgConfig struct {
	ListenAddress       string   `yaml:"ListenAddress"`
	ServerCertificate   string   `yaml:"ServerCertificate"`
	ServerKey           string   `yaml:"ServerKey"`
	ShutdownGracePeriod int      `yaml:"ShutdownGracePeriod"`
	LogDirectory        string   `yaml:"LogDirectory"`
	LogLevel            string   `yaml:"LogLevel"`
	TileRepositories    []string `yaml:"TileRepositories"`
	TileRepositoryCSV   string   `yaml:"TileRepositoryCSV"`

	WorkingEPSG     int    `yaml:"WorkingEPSG"`
	CacheDirectory  string `yaml:"CacheDirectory"`
	SourcePrefix    string `yaml:"SourcePrefix"`
	BlobDirectory   string `yaml:"BlobDirectory"`
	ResultNamespace string `yaml:"ResultNamespace"`
	ResultEncoding  string `yaml:"ResultEncoding"`
	MaxAttempts     uint   `yaml:"MaxAttempts"`

	ObjectStore      ObjectStoreConfig `yaml:"ObjectStore"`
	Queue            KafkaConfig       `yaml:"Queue"`
	ProgressDatabase string            `yaml:"ProgressDatabase"`

	Margins            map[string]float64 `yaml:"Margins"`
	GroundResolution   float64            `yaml:"GroundResolution"`
	MountainResolution float64            `yaml:"MountainResolution"`
	ExcavationDepth    float64            `yaml:"ExcavationDepth"`
	BuildingHeight     float64            `yaml:"BuildingHeight"`

	Observation          ObservationConfig `yaml:"Observation"`
	PotentialObservation ObservationConfig `yaml:"PotentialObservation"`
	FloorHeight          float64           `yaml:"FloorHeight"`
	NoiseSampleSpacing   float64           `yaml:"NoiseSampleSpacing"`
	CustomNoiseLines     []NoiseLineConfig `yaml:"CustomNoiseLines"`
	ViewRays             int               `yaml:"ViewRays"`
	SunInstants          []string          `yaml:"SunInstants"`

	Concurrency       int `yaml:"Concurrency"`
	ProcessingTimeout int `yaml:"ProcessingTimeout"` // seconds

	Tracing   bool   `yaml:"Tracing"`
	TraceFile string `yaml:"TraceFile"`
}

/*
loadConfig reads, completes and validates the configuration file.
*/
func loadConfig(filename string) (ProgConfig, error) {
	var cfg ProgConfig
	source, err := os.ReadFile(filename)
	if err != nil {
		return cfg, fmt.Errorf("error [%w] at os.ReadFile(), file %s", err, filename)
	}
	err = yaml.Unmarshal(source, &cfg)
	if err != nil {
		return cfg, fmt.Errorf("error [%w] at yaml.Unmarshal(), file %s", err, filename)
	}
	cfg.applyDefaults()
	err = cfg.validate()
	if err != nil {
		return cfg, fmt.Errorf("configuration file [%s] invalid: %w", filename, err)
	}
	return cfg, nil
}

/*
applyDefaults fills unset values.
*/
func (c *ProgConfig) applyDefaults() {
	setDefault := func(v *float64, d float64) {
		if *v == 0 {
			*v = d
		}
	}
	if c.ListenAddress == "" {
		c.ListenAddress = ":8080"
	}
	if c.ShutdownGracePeriod == 0 {
		c.ShutdownGracePeriod = 10
	}
	if c.LogDirectory == "" {
		c.LogDirectory = "."
	}
	if c.WorkingEPSG == 0 {
		c.WorkingEPSG = EPSGLV95
	}
	if c.CacheDirectory == "" {
		c.CacheDirectory = "cache"
	}
	if c.ResultNamespace == "" {
		c.ResultNamespace = "simulations"
	}
	if c.ResultEncoding == "" {
		c.ResultEncoding = EncodingCurrent
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 5
	}
	if c.ProgressDatabase == "" {
		c.ProgressDatabase = "progress.db"
	}
	if c.Queue.Topic == "" {
		c.Queue.Topic = "potential-jobs"
	}
	if c.Queue.GroupID == "" {
		c.Queue.GroupID = "potential-workers"
	}
	setDefault(&c.GroundResolution, 2)
	setDefault(&c.MountainResolution, 100)
	setDefault(&c.BuildingHeight, 10)
	setDefault(&c.Observation.Resolution, 1)
	setDefault(&c.Observation.Buffer, 0.25)
	setDefault(&c.Observation.Height, 1.5)
	setDefault(&c.PotentialObservation.Resolution, 50)
	setDefault(&c.PotentialObservation.Height, 1.5)
	setDefault(&c.FloorHeight, 3)
	setDefault(&c.NoiseSampleSpacing, 5)
	if len(c.SunInstants) == 0 {
		// equinox and solstices, morning, noon and evening (UTC)
		for _, day := range []string{"2018-03-21", "2018-06-21", "2018-12-21"} {
			for _, hour := range []string{"06:00", "10:00", "14:00", "18:00"} {
				c.SunInstants = append(c.SunInstants, day+"T"+hour+":00Z")
			}
		}
	}
	if c.ViewRays == 0 {
		c.ViewRays = 256
	}
	if c.Concurrency == 0 {
		c.Concurrency = 2
	}
	if c.ProcessingTimeout == 0 {
		c.ProcessingTimeout = 3600
	}
}

/*
validate checks the configuration for inconsistent values.
*/
func (c *ProgConfig) validate() error {
	var errs []error
	if (c.ServerCertificate == "") != (c.ServerKey == "") {
		errs = append(errs, errors.New("ServerCertificate and ServerKey must be set together"))
	}
	if c.ResultEncoding != EncodingCurrent && c.ResultEncoding != EncodingLegacy {
		errs = append(errs, fmt.Errorf("ResultEncoding [%s] invalid, use %s or %s", c.ResultEncoding, EncodingCurrent, EncodingLegacy))
	}
	for name := range c.Margins {
		if !SurroundingType(strings.ToUpper(name)).Valid() {
			errs = append(errs, fmt.Errorf("margin for unknown surrounding type [%s]", name))
		}
	}
	for name, v := range map[string]float64{
		"GroundResolution":                c.GroundResolution,
		"MountainResolution":              c.MountainResolution,
		"Observation.Resolution":          c.Observation.Resolution,
		"PotentialObservation.Resolution": c.PotentialObservation.Resolution,
		"NoiseSampleSpacing":              c.NoiseSampleSpacing,
	} {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive (%.3f)", name, v))
		}
	}
	for i, line := range c.CustomNoiseLines {
		if line.Layer == "" {
			errs = append(errs, fmt.Errorf("CustomNoiseLines[%d]: Layer missing", i))
		}
		if !slices.Contains(noiseSourceTypes, NoiseSourceType(strings.ToUpper(line.Type))) {
			errs = append(errs, fmt.Errorf("CustomNoiseLines[%d]: Type [%s] invalid, use %s or %s", i, line.Type, NoiseTraffic, NoiseTrain))
		}
	}
	if c.ExcavationDepth < 0 {
		errs = append(errs, fmt.Errorf("ExcavationDepth must not be negative (%.3f)", c.ExcavationDepth))
	}
	_, err := c.sunInstants()
	if err != nil {
		errs = append(errs, err)
	}
	err = validateForestGenerators()
	if err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

/*
margins converts the configured margins into the category table.
*/
func (c *ProgConfig) margins() map[SurroundingType]float64 {
	out := make(map[SurroundingType]float64, len(defaultMargins))
	for t, m := range defaultMargins {
		out[t] = m
	}
	for name, m := range c.Margins {
		out[SurroundingType(strings.ToUpper(name))] = m
	}
	return out
}

/*
noiseLayers converts the custom noise lines into GPX noise layers carrying the configured levels.
*/
func (c *ProgConfig) noiseLayers() []NoiseLayerSpec {
	out := make([]NoiseLayerSpec, 0, len(c.CustomNoiseLines))
	for _, line := range c.CustomNoiseLines {
		out = append(out, NoiseLayerSpec{
			Layer:          line.Layer,
			Format:         "gpx",
			Type:           NoiseSourceType(strings.ToUpper(line.Type)),
			DayAttribute:   "LR_DAY",
			NightAttribute: "LR_NIGHT",
			Properties:     Properties{"LR_DAY": line.Day, "LR_NIGHT": line.Night},
		})
	}
	return out
}

/*
sunInstants parses the configured instants (RFC 3339).
*/
func (c *ProgConfig) sunInstants() ([]time.Time, error) {
	out := make([]time.Time, 0, len(c.SunInstants))
	for _, s := range c.SunInstants {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, fmt.Errorf("SunInstants entry [%s] invalid: %w", s, err)
		}
		out = append(out, t)
	}
	return out, nil
}
