package config

const (
	defaultConfigPath           = "~/.config/reelvault/config.toml"
	defaultDataDir              = "~/.local/share/reelvault"
	defaultLogDir               = "~/.local/share/reelvault/logs"
	defaultBlobDirName          = "uploads"
	defaultDerivedDirName       = "hls"
	defaultMetadataFileName     = "files.json"
	defaultHistoryFileName      = "history.db"
	defaultAPIBind              = "127.0.0.1:7490"
	defaultUploadMaxBytes       = int64(16) << 30
	defaultUploadRatePerMinute  = 30
	defaultUploadRateBurst      = 10
	defaultFFmpegBinary         = "ffmpeg"
	defaultMaxConcurrent        = 2
	defaultMinFreeGiB           = 2.0
	defaultVAAPIDevice          = "/dev/dri/renderD128"
	defaultSegmentSeconds       = 4
	defaultMaxHeight            = 1080
	defaultSoftwarePreset       = "veryfast"
	defaultCRF                  = 23
	defaultAudioBitrateKbps     = 128
	defaultJobTimeoutMinutes    = 180
	defaultOutcomeTTLMinutes    = 60
	defaultRetentionHours       = 24
	defaultSweepIntervalMinutes = 60
	defaultHistoryRetentionDays = 30
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
	defaultLogRetentionDays     = 30
	defaultNotifyTimeoutSeconds = 10
	apiBindEnv                  = "REELVAULT_API_BIND"
)

// Hardware acceleration modes accepted by transcode.hardware_accel.
const (
	HardwareAccelVAAPI = "vaapi"
	HardwareAccelNone  = "none"
)

// Default returns a Config populated with repository defaults. Directory fields
// left empty are derived from data_dir during normalization.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Upload: Upload{
			MaxBytes:      defaultUploadMaxBytes,
			RatePerMinute: defaultUploadRatePerMinute,
			RateBurst:     defaultUploadRateBurst,
		},
		Transcode: Transcode{
			Enabled:           true,
			FFmpegBinary:      defaultFFmpegBinary,
			MaxConcurrent:     defaultMaxConcurrent,
			MinFreeGiB:        defaultMinFreeGiB,
			HardwareAccel:     HardwareAccelVAAPI,
			VAAPIDevice:       defaultVAAPIDevice,
			SegmentSeconds:    defaultSegmentSeconds,
			MaxHeight:         defaultMaxHeight,
			SoftwarePreset:    defaultSoftwarePreset,
			CRF:               defaultCRF,
			AudioBitrateKbps:  defaultAudioBitrateKbps,
			JobTimeoutMinutes: defaultJobTimeoutMinutes,
			OutcomeTTLMinutes: defaultOutcomeTTLMinutes,
		},
		Lifecycle: Lifecycle{
			RetentionHours:       defaultRetentionHours,
			SweepIntervalMinutes: defaultSweepIntervalMinutes,
			HistoryRetentionDays: defaultHistoryRetentionDays,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
		Notifications: Notifications{
			RequestTimeoutSeconds: defaultNotifyTimeoutSeconds,
		},
	}
}
