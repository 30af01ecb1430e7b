// Package config loads the INI-style config.ini shared by every process in
// the system, with environment variables overlaid on top via viper so that
// container deployments can override any key without editing the file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/ini.v1"
)

// Config is the fully-resolved, process-wide configuration. Every process
// (master, slave, worker) loads the same file and reads only the sections
// relevant to its role.
type Config struct {
	LoggingLevel string

	MediaPath string

	SchedulerHost               string
	SchedulerPort               int
	SchedulerMinJobResponseTime time.Duration
	SchedulerMaxDaemonJobs      int
	// SchedulerSubmitRPM caps job submissions per client IP per fixed
	// one-minute window; zero (the default) disables the limiter entirely.
	SchedulerSubmitRPM int

	// RedisAddr empty means the job-event replay cache is disabled and the
	// Master falls back to its on-disk snapshot only, mirroring the
	// collaborator Redis stack's own "RedisAddr empty => in-memory" rule.
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisReplayLen int

	// Collaborator-specific sections, passed through verbatim to the
	// tasks that consume them. Keys are "<section>.<key>".
	Collaborators map[string]string
}

const (
	defaultLoggingLevel       = "info"
	defaultMediaPath          = "./media"
	defaultSchedulerHost      = "0.0.0.0"
	defaultSchedulerPort      = 8201
	defaultMinJobResponseTime = 300 * time.Second
	defaultMaxDaemonJobs      = 10
	defaultRedisDB            = 0
	defaultRedisReplayLen     = 200
)

// Load reads config.ini from dir (the process working directory when dir is
// empty) and overlays any KARAOKE_-prefixed environment variable, e.g.
// KARAOKE_SCHEDULER_PORT overrides scheduler.port.
func Load(dir string) (*Config, error) {
	path := "config.ini"
	if dir != "" {
		path = dir + "/config.ini"
	}

	v := viper.New()
	v.SetEnvPrefix("karaoke")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	file, err := ini.LoadSources(ini.LoadOptions{AllowBooleanKeys: true}, path)
	if err != nil {
		if !isNotExist(err) {
			return nil, fmt.Errorf("config: load %s: %w", path, err)
		}
		file = ini.Empty()
	}

	cfg := &Config{
		LoggingLevel:                resolve(v, file, "logging", "level", defaultLoggingLevel),
		MediaPath:                   resolve(v, file, "media", "path", defaultMediaPath),
		SchedulerHost:               resolve(v, file, "scheduler", "host", defaultSchedulerHost),
		SchedulerMaxDaemonJobs:      defaultMaxDaemonJobs,
		SchedulerMinJobResponseTime: defaultMinJobResponseTime,
		Collaborators:               map[string]string{},
	}

	cfg.SchedulerPort = resolveInt(v, file, "scheduler", "port", defaultSchedulerPort)
	cfg.SchedulerMaxDaemonJobs = resolveInt(v, file, "scheduler", "max_daemon_jobs", defaultMaxDaemonJobs)
	cfg.SchedulerSubmitRPM = resolveInt(v, file, "scheduler", "submit_rpm", 0)
	if secs := resolveInt(v, file, "scheduler", "min_job_response_time", int(defaultMinJobResponseTime.Seconds())); secs > 0 {
		cfg.SchedulerMinJobResponseTime = time.Duration(secs) * time.Second
	}

	cfg.RedisAddr = resolve(v, file, "redis", "addr", "")
	cfg.RedisPassword = resolve(v, file, "redis", "password", "")
	cfg.RedisDB = resolveInt(v, file, "redis", "db", defaultRedisDB)
	cfg.RedisReplayLen = resolveInt(v, file, "redis", "replay_len", defaultRedisReplayLen)

	for _, section := range file.Sections() {
		name := section.Name()
		switch name {
		case "DEFAULT", "logging", "media", "scheduler", "redis":
			continue
		}
		for _, key := range section.Keys() {
			cfg.Collaborators[name+"."+key.Name()] = key.Value()
		}
	}

	return cfg, nil
}

func resolve(v *viper.Viper, file *ini.File, section, key, fallback string) string {
	envKey := section + "." + key
	if v.IsSet(envKey) {
		if s := v.GetString(envKey); s != "" {
			return s
		}
	}
	if file.HasSection(section) {
		if val := file.Section(section).Key(key).String(); val != "" {
			return val
		}
	}
	return fallback
}

func resolveInt(v *viper.Viper, file *ini.File, section, key string, fallback int) int {
	envKey := section + "." + key
	if v.IsSet(envKey) {
		return v.GetInt(envKey)
	}
	if file.HasSection(section) {
		if k := file.Section(section).Key(key); k.String() != "" {
			if n, err := k.Int(); err == nil {
				return n
			}
		}
	}
	return fallback
}

func isNotExist(err error) bool {
	return strings.Contains(err.Error(), "no such file") || strings.Contains(err.Error(), "cannot find")
}
