package datasets

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Config holds the construction parameters of a Dataset. Zero values get
// filled with defaults by New; the struct round-trips through TOML for the
// command-line tools.
type Config struct {
	// InputShape is the (x, y, z) extent of input windows in voxels.
	InputShape []int `toml:"input_shape"`

	// TargetShape is the (x, y, z) extent of target windows in voxels.
	TargetShape []int `toml:"target_shape"`

	// Stride is the spacing between window centers per axis. If empty, the
	// target shape is used, producing a non-overlapping tiling.
	Stride []int `toml:"stride"`

	// Normalize subtracts each source's input mean and divides by its std.
	Normalize bool `toml:"normalize"`

	// PadTarget zero-pads target windows to the input window shape.
	PadTarget bool `toml:"pad_target"`

	// CacheRAM keeps every source's full registered box in memory.
	CacheRAM bool `toml:"cache_ram"`

	// CacheHDD mirrors source volumes under CacheHDDRoot on local disk.
	CacheHDD bool `toml:"cache_hdd"`

	// CacheHDDRoot is the disk-cache directory (default ".").
	CacheHDDRoot string `toml:"cache_hdd_root"`

	// BatchSize used by loaders (default if 0 will be set by New to 32).
	BatchSize int `toml:"batch_size"`

	// Seed controls split shuffling and sampling. Zero keeps seed 0 so runs
	// are reproducible by default.
	Seed int64 `toml:"seed"`

	// DatasourcesJSONPath optionally names the descriptor file the sources
	// were (or should be) loaded from.
	DatasourcesJSONPath string `toml:"datasources_json_path"`
}

// LoadConfig reads a TOML config file.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}
