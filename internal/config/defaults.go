package config

const (
	defaultArtifactDir       = "~/.local/share/cadence/artifacts"
	defaultLogDir            = "~/.local/share/cadence/logs"
	defaultAPIBind           = "127.0.0.1:7687"
	defaultLogFormat         = "console"
	defaultLogLevel          = "info"
	defaultPollInterval      = 5
	defaultHeartbeatInterval = 15
	defaultHeartbeatTimeout  = 120
	defaultReclaimInterval   = 300
	defaultWorkers           = 2
	defaultStatsCacheTTL     = 120
	defaultBacklogWarning    = 100
	defaultBacklogCritical   = 500
	defaultStaleClaimAge     = 7200
	defaultTaskMaxAttempts   = 3
	defaultUploadMaxAttempts = 3
	defaultUploadRetryDelay  = 30
	defaultUploadStagger     = 30
	defaultUploadPause       = 10
	defaultUploadPrivacy     = "private"
	defaultUploadCategoryID  = "10"
	defaultCacheBackend      = "memory"
	defaultCacheTTL          = 300
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			ArtifactDir: defaultArtifactDir,
			LogDir:      defaultLogDir,
			APIBind:     defaultAPIBind,
		},
		Workflow: Workflow{
			PollInterval:      defaultPollInterval,
			HeartbeatInterval: defaultHeartbeatInterval,
			HeartbeatTimeout:  defaultHeartbeatTimeout,
			ReclaimInterval:   defaultReclaimInterval,
			Workers:           defaultWorkers,
		},
		Queues: Queues{
			StatsCacheTTL:   defaultStatsCacheTTL,
			BacklogWarning:  defaultBacklogWarning,
			BacklogCritical: defaultBacklogCritical,
			StaleClaimAge:   defaultStaleClaimAge,
			MaxAttempts:     defaultTaskMaxAttempts,
		},
		Upload: Upload{
			MaxAttempts:    defaultUploadMaxAttempts,
			RetryDelay:     defaultUploadRetryDelay,
			StaggerSeconds: defaultUploadStagger,
			PauseSeconds:   defaultUploadPause,
			Privacy:        defaultUploadPrivacy,
			CategoryID:     defaultUploadCategoryID,
		},
		Cache: Cache{
			Backend: defaultCacheBackend,
			TTL:     defaultCacheTTL,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
