package workbench

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"clayformer.ai/internal/sim/encoding"
	"clayformer.ai/internal/sim/voxel"
)

// BenchFile seeds a bench at startup.
type BenchFile struct {
	Operator struct {
		ID   string `yaml:"id"`
		Held string `yaml:"held"`
	} `yaml:"operator"`
	Forms []FormSeed `yaml:"forms"`
}

type FormSeed struct {
	Pos    voxel.BlockPos `yaml:"pos"`
	Recipe string         `yaml:"recipe"`
	// Initial is an RLE encoded starting volume; empty starts from nothing.
	Initial string `yaml:"initial,omitempty"`
}

func LoadBenchFile(path string) (BenchFile, error) {
	var f BenchFile
	raw, err := os.ReadFile(path)
	if err != nil {
		return f, err
	}
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return f, fmt.Errorf("bench.yaml: %w", err)
	}
	seen := map[voxel.BlockPos]bool{}
	for i, s := range f.Forms {
		if seen[s.Pos] {
			return f, fmt.Errorf("bench.yaml: forms[%d]: duplicate position %v", i, s.Pos)
		}
		seen[s.Pos] = true
		if s.Initial != "" {
			if _, err := encoding.DecodeVolume(s.Initial); err != nil {
				return f, fmt.Errorf("bench.yaml: forms[%d].initial: %w", i, err)
			}
		}
	}
	return f, nil
}

// InitialVolume decodes the seed's starting volume.
func (s FormSeed) InitialVolume() *voxel.Volume {
	if s.Initial == "" {
		return voxel.New()
	}
	v, err := encoding.DecodeVolume(s.Initial)
	if err != nil {
		return voxel.New()
	}
	return v
}
