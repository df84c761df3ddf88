package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/tetor-04/IDM-YT/internal/platform"
)

// Default values
const (
	DefaultMaxParallel        = 3
	DefaultQualityPreset      = "medium"
	DefaultFilenameTemplate   = "%(title)s.%(ext)s"
	DefaultMaxJobRetries      = 3
	DefaultTransferAttempts   = 3
	DefaultRetryCooldownSec   = 2.0
	DefaultRetryExponent      = 2.0
	DefaultStallTimeoutSec    = 60
	DefaultProgressIntervalMS = 250
	DefaultAudioBitrate       = "192k"
)

// Clamping bounds
const (
	MinParallel = 1
	MaxParallel = 10
)

// Settings holds all configuration of the download engine
type Settings struct {
	DownloadDir      string `json:"download_directory"`
	MaxParallel      int    `json:"max_parallel_downloads"`
	QualityPreset    string `json:"quality_preset"` // best, medium, audio
	FilenameTemplate string `json:"filename_template"`

	// MaxJobRetries caps explicit per-job retries before Failed becomes
	// terminal.
	MaxJobRetries int `json:"max_job_retries"`

	// TransferAttempts is the internal attempt count for transient
	// transfer errors within one job execution.
	TransferAttempts int     `json:"transfer_attempts"`
	RetryCooldownSec float64 `json:"retry_cooldown_sec"`
	RetryExponent    float64 `json:"retry_exponent"`

	// StallTimeoutSec treats a transfer with no progress for this long as
	// a transient failure.
	StallTimeoutSec int `json:"stall_timeout_sec"`

	// ProgressIntervalMS is the minimum spacing between progress events
	// emitted per job.
	ProgressIntervalMS int `json:"progress_interval_ms"`

	AudioBitrate string `json:"audio_bitrate"`
}

// DefaultSettings returns settings with default values
func DefaultSettings() *Settings {
	downloadDir, err := platform.GetHomeDownloadsDir()
	if err != nil {
		downloadDir = "/tmp/downloads"
	}
	return &Settings{
		DownloadDir:        downloadDir,
		MaxParallel:        DefaultMaxParallel,
		QualityPreset:      DefaultQualityPreset,
		FilenameTemplate:   DefaultFilenameTemplate,
		MaxJobRetries:      DefaultMaxJobRetries,
		TransferAttempts:   DefaultTransferAttempts,
		RetryCooldownSec:   DefaultRetryCooldownSec,
		RetryExponent:      DefaultRetryExponent,
		StallTimeoutSec:    DefaultStallTimeoutSec,
		ProgressIntervalMS: DefaultProgressIntervalMS,
		AudioBitrate:       DefaultAudioBitrate,
	}
}

// Load reads settings from a JSON file. A missing file yields defaults.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultSettings(), nil
		}
		return nil, err
	}

	settings := DefaultSettings()
	if err := json.Unmarshal(data, settings); err != nil {
		return nil, err
	}
	settings.Clamp()
	return settings, nil
}

// Save writes settings to a JSON file
func (s *Settings) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), platform.DefaultDirPermissions); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Clamp forces out-of-range values back to usable ones
func (s *Settings) Clamp() {
	if s.MaxParallel < MinParallel {
		s.MaxParallel = MinParallel
	}
	if s.MaxParallel > MaxParallel {
		s.MaxParallel = MaxParallel
	}
	if s.FilenameTemplate == "" {
		s.FilenameTemplate = DefaultFilenameTemplate
	}
	if s.TransferAttempts < 1 {
		s.TransferAttempts = 1
	}
	if s.MaxJobRetries < 0 {
		s.MaxJobRetries = 0
	}
	if s.RetryCooldownSec <= 0 {
		s.RetryCooldownSec = DefaultRetryCooldownSec
	}
	if s.RetryExponent < 1 {
		s.RetryExponent = 1
	}
	if s.StallTimeoutSec < 1 {
		s.StallTimeoutSec = DefaultStallTimeoutSec
	}
	if s.ProgressIntervalMS < 1 {
		s.ProgressIntervalMS = DefaultProgressIntervalMS
	}
}

// QualityPresetOptions returns the available quality preset options
func QualityPresetOptions() []string {
	return []string{"best", "medium", "audio"}
}
