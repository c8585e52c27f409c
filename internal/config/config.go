package config

import (
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// Project is the remote project path (group/project)
	Project string `yaml:"project"`
	// CloneURL overrides the derived https clone URL for the project
	CloneURL     string        `yaml:"clone_url"`
	PollInterval time.Duration `yaml:"poll_interval"`
	LogFile      string        `yaml:"log_file"`
	// AllowedAuthors restricts processing to issues opened by these users.
	// Empty means every author is eligible.
	AllowedAuthors []string `yaml:"allowed_authors"`

	Worker   WorkerConfig   `yaml:"worker"`
	Retry    RetryConfig    `yaml:"retry"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Detector DetectorConfig `yaml:"detector"`
	Planning PlanningConfig `yaml:"planning"`
	Defaults DefaultsConfig `yaml:"defaults"`
	Report   ReportConfig   `yaml:"report"`
	Progress ProgressConfig `yaml:"progress"`
}

// WorkerConfig configures the external agent CLI that produces content per phase
type WorkerConfig struct {
	Command string        `yaml:"command"`
	Timeout time.Duration `yaml:"timeout"`
	BaseDir string        `yaml:"base_dir"` // workspace base directory
}

// RetryConfig controls both issue-level and transport-level retries
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"` // whole-issue attempts
	BaseDelay      time.Duration `yaml:"base_delay"`   // delay scales with attempt number
	Transport      int           `yaml:"transport"`    // per-call attempts for remote API calls
	BackoffBase    time.Duration `yaml:"backoff_base"`
	RateLimitRetry time.Duration `yaml:"rate_limit_retry"`
}

type PipelineConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	Timeout      time.Duration `yaml:"timeout"`
}

// DetectorConfig carries the tunables the completion detector cannot derive:
// the acceptance threshold and the project-specific keyword table mapping
// foundational concepts to the issue that introduces them.
type DetectorConfig struct {
	ConfidenceThreshold float64        `yaml:"confidence_threshold"`
	KeywordIssues       map[string]int `yaml:"keyword_issues"`
}

type PlanningConfig struct {
	PlanPath string `yaml:"plan_path"`
}

type DefaultsConfig struct {
	BaseBranch string `yaml:"base_branch"`
}

type ReportConfig struct {
	Dir string `yaml:"dir"`
}

// ProgressConfig controls status comments posted on the issue being processed
type ProgressConfig struct {
	Enabled          bool          `yaml:"enabled"`
	DebounceInterval time.Duration `yaml:"debounce_interval"`
}

// DefaultConfig returns the default configuration values
func DefaultConfig() *Config {
	return &Config{
		PollInterval: 60 * time.Second,
		Worker: WorkerConfig{
			Command: "claude",
			Timeout: 30 * time.Minute,
			BaseDir: ".forgeflow/workspaces",
		},
		Retry: RetryConfig{
			MaxAttempts:    3,
			BaseDelay:      30 * time.Second,
			Transport:      3,
			BackoffBase:    10 * time.Second,
			RateLimitRetry: 5 * time.Minute,
		},
		Pipeline: PipelineConfig{
			PollInterval: 30 * time.Second,
			Timeout:      20 * time.Minute,
		},
		Detector: DetectorConfig{
			ConfidenceThreshold: 0.3,
		},
		Planning: PlanningConfig{
			PlanPath: ".forgeflow/plan.json",
		},
		Defaults: DefaultsConfig{
			BaseBranch: "main",
		},
		Report: ReportConfig{
			Dir: ".forgeflow/reports",
		},
		Progress: ProgressConfig{
			Enabled:          true,
			DebounceInterval: 60 * time.Second,
		},
	}
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables in the format ${VAR}
	data = expandEnvVars(data)

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR} patterns with environment variable values
func expandEnvVars(data []byte) []byte {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := string(re.FindSubmatch(match)[1])
		return []byte(os.Getenv(varName))
	})
}
