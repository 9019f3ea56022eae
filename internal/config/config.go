package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/dustin/go-humanize"
)

// Default configuration file looked up when no --config flag is given.
const DefaultFile = "Config.toml"

// Prefix applied to environment variable overrides (e.g. BUILDER_WORKER_COUNT).
const envPrefix = "BUILDER_"

// Defaults are picked to be as compatible with various server configurations
// as possible, but it's nonetheless recommended to adjust values as needed.
const (
	defaultWorkerCount       = 1
	defaultMaxBuildDuration  = 3600
	defaultWasmSizeLimit     = 5 * 1024 * 1024
	defaultMetadataSizeLimit = 1 * 1024 * 1024
	defaultMemoryLimit       = 4 * 1024 * 1024 * 1024
	defaultMemorySwapLimit   = 4 * 1024 * 1024 * 1024
	defaultVolumeSize        = "8G"

	defaultContainerdAddress   = "/run/containerd/containerd.sock"
	defaultContainerdNamespace = "builderd"
	defaultBuildImage          = "docker.io/paritytech/contracts-verifiable"
)

var ErrInvalid = errors.New("invalid configuration")

// Daemon configuration, decoded from a TOML file and overridden by
// BUILDER_-prefixed environment variables.
type Config struct {
	// Directory in which volume backing files are created.
	ImagesPath string `toml:"images_path" env:"IMAGES_PATH"`

	// Base URL of the coordinating API server, injected into sandboxes for
	// source upload and sealing.
	APIServerURL string `toml:"api_server_url" env:"API_SERVER_URL"`

	// Total count of concurrently running build sessions.
	WorkerCount int `toml:"worker_count" env:"WORKER_COUNT"`

	// Max build duration value, in seconds.
	MaxBuildDuration int64 `toml:"max_build_duration" env:"MAX_BUILD_DURATION"`

	// Max WASM blob size, in bytes.
	WasmSizeLimit int64 `toml:"wasm_size_limit" env:"WASM_SIZE_LIMIT"`

	// Max JSON metadata size, in bytes.
	MetadataSizeLimit int64 `toml:"metadata_size_limit" env:"METADATA_SIZE_LIMIT"`

	// Memory limit per build, in bytes.
	MemoryLimit int64 `toml:"memory_limit" env:"MEMORY_LIMIT"`

	// Memory plus swap limit per build, in bytes. Must be at least equal to
	// the memory limit.
	MemorySwapLimit int64 `toml:"memory_swap_limit" env:"MEMORY_SWAP_LIMIT"`

	// Volume size available to each build, in a human-readable format
	// (e.g. "8G").
	VolumeSize string `toml:"volume_size" env:"VOLUME_SIZE"`

	// Containerd socket address.
	ContainerdAddress string `toml:"containerd_address" env:"CONTAINERD_ADDRESS"`

	// Containerd namespace scoping all sandbox containers and images.
	ContainerdNamespace string `toml:"containerd_namespace" env:"CONTAINERD_NAMESPACE"`

	// Image repository for build sandboxes; the requested cargo-contract
	// version is appended as the tag.
	BuildImage string `toml:"build_image" env:"BUILD_IMAGE"`

	// cargo-contract version pre-installed in the build image. A session
	// requesting this version links it instead of installing.
	PrebakedContractVersion string `toml:"prebaked_contract_version" env:"PREBAKED_CONTRACT_VERSION"`

	// Whether sessions relay their source files to the API server and seal
	// the upload window before compiling.
	SealSources bool `toml:"seal_sources" env:"SEAL_SOURCES"`

	// Override for the operator socket path. Empty uses the default
	// runtime-directory location.
	SocketPath string `toml:"socket_path" env:"SOCKET_PATH"`
}

// Returns a configuration populated with default values.
func Default() *Config {
	return &Config{
		WorkerCount:         defaultWorkerCount,
		MaxBuildDuration:    defaultMaxBuildDuration,
		WasmSizeLimit:       defaultWasmSizeLimit,
		MetadataSizeLimit:   defaultMetadataSizeLimit,
		MemoryLimit:         defaultMemoryLimit,
		MemorySwapLimit:     defaultMemorySwapLimit,
		VolumeSize:          defaultVolumeSize,
		ContainerdAddress:   defaultContainerdAddress,
		ContainerdNamespace: defaultContainerdNamespace,
		BuildImage:          defaultBuildImage,
	}
}

// Loads the configuration from the given TOML file, then applies
// environment variable overrides and validates the result.
//
// A missing file is only tolerated for the default path, so that a
// fully environment-driven deployment needs no Config.toml.
func Load(path string) (*Config, error) {
	cfg := Default()

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if !(os.IsNotExist(err) && path == DefaultFile) {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: envPrefix}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Checks the configuration for values that would make the daemon
// inoperable.
func (c *Config) Validate() error {
	if c.ImagesPath == "" {
		return fmt.Errorf("%w: images_path must be set", ErrInvalid)
	}
	if c.APIServerURL == "" && c.SealSources {
		return fmt.Errorf("%w: api_server_url must be set when seal_sources is enabled", ErrInvalid)
	}
	if c.WorkerCount < 1 {
		return fmt.Errorf("%w: worker_count must be at least 1", ErrInvalid)
	}
	if c.MaxBuildDuration < 1 {
		return fmt.Errorf("%w: max_build_duration must be at least 1 second", ErrInvalid)
	}
	if c.WasmSizeLimit < 1 || c.MetadataSizeLimit < 1 {
		return fmt.Errorf("%w: artifact size limits must be positive", ErrInvalid)
	}
	if c.MemorySwapLimit < c.MemoryLimit {
		return fmt.Errorf("%w: memory_swap_limit must be at least memory_limit", ErrInvalid)
	}
	if _, err := humanize.ParseBytes(c.VolumeSize); err != nil {
		return fmt.Errorf("%w: volume_size %q: %v", ErrInvalid, c.VolumeSize, err)
	}
	return nil
}

// Returns the configured volume capacity in bytes.
func (c *Config) VolumeBytes() uint64 {
	n, err := humanize.ParseBytes(c.VolumeSize)
	if err != nil {
		return 0
	}
	return n
}

// Returns the wall-clock budget for a single build session.
func (c *Config) BuildDuration() time.Duration {
	return time.Duration(c.MaxBuildDuration) * time.Second
}
