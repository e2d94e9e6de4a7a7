package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"leveler/llamaruntime"
	"leveler/session"
)

// Profile is a per-model tuning file. Zero fields keep the defaults.
//
//	name: gemma-2b
//	sampling:
//	  temperature: 0.6
//	  top_k: 30
//	tier_caps:
//	  long: 400
//	stop_markers: ["<eos>"]
type Profile struct {
	Name        string                      `yaml:"name" toml:"name" json:"name"`
	Sampling    llamaruntime.SamplingParams `yaml:"sampling" toml:"sampling" json:"sampling"`
	TierCaps    session.TierCaps            `yaml:"tier_caps" toml:"tier_caps" json:"tier_caps"`
	StopMarkers []string                    `yaml:"stop_markers" toml:"stop_markers" json:"stop_markers"`
}

// LoadProfile reads a profile, choosing the decoder by extension
// (.yaml/.yml, .toml, .json). Unknown keys are rejected.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ErrInvalidProfile(path, err)
	}

	var p Profile
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
			return nil, ErrInvalidProfile(path, err)
		}
	case ".toml":
		if err := toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields().Decode(&p); err != nil {
			return nil, ErrInvalidProfile(path, err)
		}
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&p); err != nil {
			return nil, ErrInvalidProfile(path, err)
		}
	default:
		return nil, ErrInvalidProfile(path, fmt.Errorf("unsupported extension %q", ext))
	}
	return &p, nil
}

// Apply overlays the non-zero profile fields onto cfg.
func (p *Profile) Apply(cfg *session.Config) {
	cfg.Sampling = mergeSampling(cfg.Sampling, p.Sampling)

	if p.TierCaps.Short > 0 {
		cfg.TierCaps.Short = p.TierCaps.Short
	}
	if p.TierCaps.Medium > 0 {
		cfg.TierCaps.Medium = p.TierCaps.Medium
	}
	if p.TierCaps.Long > 0 {
		cfg.TierCaps.Long = p.TierCaps.Long
	}
	cfg.ExtraStopMarkers = append(cfg.ExtraStopMarkers, p.StopMarkers...)
}

// mergeSampling takes every non-zero field of over. Greedy decoding is
// expressed as top_k 1, since a zero temperature reads as "unset".
func mergeSampling(base, over llamaruntime.SamplingParams) llamaruntime.SamplingParams {
	if over.Temperature != 0 {
		base.Temperature = over.Temperature
	}
	if over.TopP != 0 {
		base.TopP = over.TopP
	}
	if over.TopK != 0 {
		base.TopK = over.TopK
	}
	if over.MinP != 0 {
		base.MinP = over.MinP
	}
	if over.RepeatPenalty != 0 {
		base.RepeatPenalty = over.RepeatPenalty
	}
	if over.FrequencyPenalty != 0 {
		base.FrequencyPenalty = over.FrequencyPenalty
	}
	if over.PresencePenalty != 0 {
		base.PresencePenalty = over.PresencePenalty
	}
	if over.PenaltyLastN != 0 {
		base.PenaltyLastN = over.PenaltyLastN
	}
	if over.Seed != 0 {
		base.Seed = over.Seed
	}
	return base
}
