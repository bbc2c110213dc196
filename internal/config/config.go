package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Run        RunConfig        `yaml:"run"`
	Grid       GridConfig       `yaml:"grid"`
	Region     RegionConfig     `yaml:"region"`
	Group      GroupConfig      `yaml:"group"`
	Solver     SolverConfig     `yaml:"solver"`
	Storage    StorageConfig    `yaml:"storage"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Provenance ProvenanceConfig `yaml:"provenance"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Tracing    TracingConfig    `yaml:"tracing"`
	Log        LogConfig        `yaml:"log"`
}

type RunConfig struct {
	ID string `yaml:"id"`
}

// GridConfig is the extent of the atmosphere grid, as reported by the loader.
type GridConfig struct {
	NX int `yaml:"nx"`
	NY int `yaml:"ny"`
}

// RegionConfig carries the optional sub-region overrides. Out-of-range values
// are repaired when the plan is computed.
type RegionConfig struct {
	X0      int `yaml:"x0"`
	X1      int `yaml:"x1"`
	XStride int `yaml:"x_stride"`
	Y0      int `yaml:"y0"`
	Y1      int `yaml:"y1"`
	YStride int `yaml:"y_stride"`
}

type GroupConfig struct {
	Mode         string        `yaml:"mode"` // "single" | "local" | "blob"
	Size         int           `yaml:"size"`
	Rank         int           `yaml:"rank"`
	BucketURL    string        `yaml:"bucket_url"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type SolverConfig struct {
	Command          []string `yaml:"command"`
	NotConvergedExit int      `yaml:"not_converged_exit"`
	DryRun           bool     `yaml:"dry_run"`
}

type StorageConfig struct {
	Backend         string `yaml:"backend"` // "" | "local" | "mem" | "gcs" | "s3"
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	LocalDir        string `yaml:"local_dir"`
	S3Endpoint      string `yaml:"s3_endpoint"`
	S3Region        string `yaml:"s3_region"`
	CompressReports bool   `yaml:"compress_reports"`
}

type CheckpointConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

type ProvenanceConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Dir      string `yaml:"dir"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Address   string `yaml:"address"`
	Namespace string `yaml:"namespace"`
}

type TracingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Output  string `yaml:"output"` // empty = stdout
}

type LogConfig struct {
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
}

// Default returns the configuration used when neither file nor environment
// set a value.
func Default() Config {
	return Config{
		Region: RegionConfig{XStride: 1, YStride: 1},
		Group: GroupConfig{
			Mode:         "single",
			Size:         1,
			PollInterval: 500 * time.Millisecond,
		},
		Solver: SolverConfig{NotConvergedExit: 2},
		Storage: StorageConfig{
			Prefix:   "column-distributor/",
			LocalDir: "./data",
		},
		Checkpoint: CheckpointConfig{Dir: "./checkpoints"},
		Provenance: ProvenanceConfig{Dir: "./provenance"},
		Metrics: MetricsConfig{
			Address:   ":9090",
			Namespace: "column_distributor",
		},
		Log: LogConfig{Format: "text", Level: "info"},
	}
}

// Load reads the YAML file at path (skipped when path is empty) over the
// defaults and then applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// MustLoad loads the file named by CONFIG_PATH and exits on failure.
func MustLoad() Config {
	log.Println("[config] loading")

	cfg, err := Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("[config] %v", err)
	}
	return cfg
}

// Validate checks the settings that cannot be repaired later.
func (c Config) Validate() error {
	if c.Grid.NX < 0 || c.Grid.NY < 0 {
		return fmt.Errorf("grid dimensions must not be negative: %dx%d", c.Grid.NX, c.Grid.NY)
	}
	switch c.Group.Mode {
	case "single":
	case "local":
		if c.Group.Size < 1 {
			return fmt.Errorf("local group size must be at least 1, got %d", c.Group.Size)
		}
	case "blob":
		if c.Group.BucketURL == "" {
			return fmt.Errorf("blob group requires group.bucket_url")
		}
		if c.Run.ID == "" {
			return fmt.Errorf("blob group requires a run id shared by all ranks")
		}
		if c.Group.Size < 1 || c.Group.Rank < 0 || c.Group.Rank >= c.Group.Size {
			return fmt.Errorf("invalid rank %d for group size %d", c.Group.Rank, c.Group.Size)
		}
	default:
		return fmt.Errorf("unknown group mode: %s", c.Group.Mode)
	}
	if !c.Solver.DryRun && len(c.Solver.Command) == 0 {
		return fmt.Errorf("solver.command is required unless solver.dry_run is set")
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Run.ID = getenvDefault("RUN_ID", cfg.Run.ID)

	cfg.Grid.NX = getenvInt("GRID_NX", cfg.Grid.NX)
	cfg.Grid.NY = getenvInt("GRID_NY", cfg.Grid.NY)

	cfg.Region.X0 = getenvInt("REGION_X0", cfg.Region.X0)
	cfg.Region.X1 = getenvInt("REGION_X1", cfg.Region.X1)
	cfg.Region.XStride = getenvInt("REGION_X_STRIDE", cfg.Region.XStride)
	cfg.Region.Y0 = getenvInt("REGION_Y0", cfg.Region.Y0)
	cfg.Region.Y1 = getenvInt("REGION_Y1", cfg.Region.Y1)
	cfg.Region.YStride = getenvInt("REGION_Y_STRIDE", cfg.Region.YStride)

	cfg.Group.Mode = getenvDefault("GROUP_MODE", cfg.Group.Mode)
	cfg.Group.BucketURL = getenvDefault("GROUP_BUCKET_URL", cfg.Group.BucketURL)
	cfg.Group.Size = getenvInt("WORLD_SIZE", getenvInt("OMPI_COMM_WORLD_SIZE", getenvInt("PMI_SIZE", cfg.Group.Size)))
	cfg.Group.Rank = getenvInt("RANK", getenvInt("OMPI_COMM_WORLD_RANK", getenvInt("PMI_RANK", cfg.Group.Rank)))
	if v := os.Getenv("GROUP_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Group.PollInterval = d
		}
	}

	if v := os.Getenv("SOLVER_DRY_RUN"); v != "" {
		cfg.Solver.DryRun = v == "true"
	}
	cfg.Solver.NotConvergedExit = getenvInt("SOLVER_NOT_CONVERGED_EXIT", cfg.Solver.NotConvergedExit)

	cfg.Storage.Backend = getenvDefault("STORAGE_BACKEND", cfg.Storage.Backend)
	cfg.Storage.Bucket = getenvDefault("STORAGE_BUCKET", cfg.Storage.Bucket)
	cfg.Storage.Prefix = getenvDefault("STORAGE_PREFIX", cfg.Storage.Prefix)
	cfg.Storage.LocalDir = getenvDefault("LOCAL_DIR", cfg.Storage.LocalDir)
	cfg.Storage.S3Endpoint = getenvDefault("S3_ENDPOINT", cfg.Storage.S3Endpoint)
	cfg.Storage.S3Region = getenvDefault("S3_REGION", cfg.Storage.S3Region)
	if v := os.Getenv("COMPRESS_REPORTS"); v != "" {
		cfg.Storage.CompressReports = v == "true"
	}

	if v := os.Getenv("CHECKPOINT_ENABLED"); v != "" {
		cfg.Checkpoint.Enabled = v == "true"
	}
	cfg.Checkpoint.Dir = getenvDefault("CHECKPOINT_DIR", cfg.Checkpoint.Dir)

	if v := os.Getenv("PROVENANCE_ENABLED"); v != "" {
		cfg.Provenance.Enabled = v == "true"
	}
	cfg.Provenance.Endpoint = getenvDefault("PROVENANCE_ENDPOINT", cfg.Provenance.Endpoint)
	cfg.Provenance.Dir = getenvDefault("PROVENANCE_DIR", cfg.Provenance.Dir)

	if v := os.Getenv("METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = v == "true"
	}
	cfg.Metrics.Address = getenvDefault("METRICS_ADDRESS", cfg.Metrics.Address)

	if v := os.Getenv("TRACING_ENABLED"); v != "" {
		cfg.Tracing.Enabled = v == "true"
	}
	cfg.Tracing.Output = getenvDefault("TRACING_OUTPUT", cfg.Tracing.Output)

	cfg.Log.Format = getenvDefault("LOG_FORMAT", cfg.Log.Format)
	cfg.Log.Level = getenvDefault("LOG_LEVEL", cfg.Log.Level)
}

func getenvDefault(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getenvInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}
