package fluid

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/gogpu/gputypes"
	"github.com/lucasb-eyer/go-colorful"
)

// ConfigFile is the JSON form of a Config. Omitted fields keep their
// defaults; rates that may legitimately be zero are pointers.
//
//	{
//	    "grid_size": 128,
//	    "dt": 0.1,
//	    "viscosity": 0,
//	    "background": "#101020",
//	    "display": "speed"
//	}
type ConfigFile struct {
	GridSize      uint32   `json:"grid_size"`
	Workgroup     []uint32 `json:"workgroup,omitempty"`
	TimeStep      float32  `json:"dt,omitempty"`
	Diffusion     *float32 `json:"diffusion,omitempty"`
	Viscosity     *float32 `json:"viscosity,omitempty"`
	Iterations    int      `json:"iterations,omitempty"`
	StepsPerFrame *int     `json:"steps_per_frame,omitempty"`
	Background    string   `json:"background,omitempty"`
	Display       string   `json:"display,omitempty"`
	Gain          float32  `json:"gain,omitempty"`
}

// LoadConfigFile reads a ConfigFile from a JSON document on disk.
func LoadConfigFile(path string) (*ConfigFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("fluid: read config: %w", err)
	}
	var f ConfigFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("fluid: parse config %s: %w", path, err)
	}
	return &f, nil
}

// Options converts the file into options applied over the defaults.
func (f ConfigFile) Options() ([]Option, error) {
	var opts []Option
	if len(f.Workgroup) > 0 {
		if len(f.Workgroup) != 3 {
			return nil, &ConfigError{Field: "Workgroup", Value: f.Workgroup, Reason: "want three dimensions"}
		}
		opts = append(opts, WithWorkgroup(f.Workgroup[0], f.Workgroup[1], f.Workgroup[2]))
	}
	if f.TimeStep != 0 {
		opts = append(opts, WithTimeStep(f.TimeStep))
	}
	if f.Diffusion != nil {
		opts = append(opts, WithDiffusion(*f.Diffusion))
	}
	if f.Viscosity != nil {
		opts = append(opts, WithViscosity(*f.Viscosity))
	}
	if f.Iterations != 0 {
		opts = append(opts, WithIterations(f.Iterations))
	}
	if f.StepsPerFrame != nil {
		opts = append(opts, WithStepsPerFrame(*f.StepsPerFrame))
	}
	if f.Background != "" {
		c, err := colorful.Hex(f.Background)
		if err != nil {
			return nil, &ConfigError{Field: "Background", Value: f.Background, Reason: err.Error()}
		}
		opts = append(opts, WithBackground(gputypes.Color{R: c.R, G: c.G, B: c.B, A: 1}))
	}
	if f.Display != "" {
		m, err := ParseDisplayMode(f.Display)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithDisplay(m))
	}
	if f.Gain != 0 {
		opts = append(opts, WithGain(f.Gain))
	}
	return opts, nil
}

// Config builds and validates the configuration described by the file.
func (f ConfigFile) Config() (*Config, error) {
	opts, err := f.Options()
	if err != nil {
		return nil, err
	}
	return NewConfig(f.GridSize, opts...)
}
