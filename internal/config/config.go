package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Shops            []string
	SMBHostTemplate  string
	SMBShare         string
	SMBPath          string
	SMBUser          string
	SMBPassword      string
	SMBDomain        string
	SMBPort          int
	SMBTimeout       time.Duration
	SMBFilePattern   string
	SMBLoadToPath    string
	PingPrivileged   bool
	ProbeMode        string
	SitesFile        string
	FetchMaxAttempts int
	FetchBackoffBase time.Duration

	CSVDelimiter       rune
	CSVAllowInvalidEAN bool
	CSVMaxWidth        float64

	DBDriver          string
	DBPath            string
	DBHost            string
	DBPort            int
	DBUser            string
	DBPassword        string
	DBName            string
	DBSchemaDir       string
	DBSchemaManifest  string
	DBTablePrefix     string
	DBInitDataPrefix  string
	DBTxAttempts      int
	DBTxBackoffBase   time.Duration
	DBConnectAttempts int

	CheckInterval     time.Duration
	WorkingHoursStart string
	WorkingHoursEnd   string
	MaxParallelSites  int

	StatusFilePath string
	OutputDir      string

	LogLevelConsole string
	LogLevelFile    string
	LogDir          string
	LogFile         string
	LogFormat       string

	Debug       bool
	MetricsAddr string

	// Sites holds overrides read from SitesFile, keyed by site id.
	Sites map[string]SiteOverride
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cwd, err := os.Getwd()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Shops:            splitList(getEnv("SHOPS", "")),
		SMBHostTemplate:  getEnv("SMB_HOSTNAME_TEMPLATE", "{shop}"),
		SMBShare:         getEnv("SMB_SHARE", ""),
		SMBPath:          getEnv("SMB_PATH", ""),
		SMBUser:          getEnv("SMB_USER", ""),
		SMBPassword:      getEnv("SMB_PASSWORD", ""),
		SMBDomain:        getEnv("SMB_DOMAIN", ""),
		SMBPort:          getEnvInt("SMB_PORT", 445),
		SMBTimeout:       getEnvDuration("SMB_TIMEOUT", 5*time.Second),
		SMBFilePattern:   getEnv("SMB_LOAD_FILE_PATTERN", "*.csv"),
		SMBLoadToPath:    getEnv("SMB_LOAD_TO_PATH", filepath.Join(cwd, "data", "remote")),
		PingPrivileged:   getEnvBool("PING_PRIVILEGED", false),
		ProbeMode:        strings.ToLower(getEnv("PROBE_MODE", "icmp")),
		SitesFile:        getEnv("SITES_FILE", ""),
		FetchMaxAttempts: getEnvInt("SMB_MAX_RETRIES", 3),
		FetchBackoffBase: getEnvDuration("SMB_BACKOFF_BASE", time.Second),

		CSVDelimiter:       getEnvRune("CSV_DELIMITER", ';'),
		CSVAllowInvalidEAN: getEnvBool("CSV_DATA_INVALID_EAN13", false),
		CSVMaxWidth:        getEnvFloat("CSV_DATA_MAX_WIDTH", 200),

		DBDriver:          strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
		DBPath:            getEnv("DB_PATH", filepath.Join(cwd, "data", "app.db")),
		DBHost:            getEnv("DB_HOST", "localhost"),
		DBPort:            getEnvInt("DB_PORT", 5432),
		DBUser:            getEnv("DB_USER", ""),
		DBPassword:        getEnv("DB_PASSWORD", ""),
		DBName:            getEnv("DB_NAME", "remaining_goods"),
		DBSchemaDir:       getEnv("DB_SCHEMA_DIR", ""),
		DBSchemaManifest:  getEnv("DB_FILE_INIT_SCHEMA", "schema.json"),
		DBTablePrefix:     getEnv("DB_FILE_TABLE_PREFIX", "table"),
		DBInitDataPrefix:  getEnv("DB_FILE_INIT_DATA_PREFIX", "data"),
		DBTxAttempts:      getEnvInt("DB_TX_ATTEMPTS", 2),
		DBTxBackoffBase:   getEnvDuration("DB_TX_BACKOFF_BASE", 100*time.Millisecond),
		DBConnectAttempts: getEnvInt("DB_CONNECT_ATTEMPTS", 3),

		CheckInterval:     getEnvDuration("CHECK_INTERVAL", 60*time.Second),
		WorkingHoursStart: getEnv("WORKING_HOURS_START", ""),
		WorkingHoursEnd:   getEnv("WORKING_HOURS_END", ""),
		MaxParallelSites:  getEnvInt("MAX_PARALLEL_SITES", 0),

		StatusFilePath: getEnv("STATUS_FILE_PATH", filepath.Join(cwd, "data", "status.txt")),
		OutputDir:      getEnv("OUTPUT_DIR", filepath.Join(cwd, "out")),

		LogLevelConsole: getEnv("LOG_LEVEL_CONSOLE", "info"),
		LogLevelFile:    getEnv("LOG_LEVEL_FILE", "debug"),
		LogDir:          getEnv("LOG_DIR", ""),
		LogFile:         getEnv("LOG_FILE", "remaining-goods.log"),
		LogFormat:       getEnv("LOG_FORMAT", "json"),

		Debug:       getEnvBool("DEBUG", false),
		MetricsAddr: getEnv("METRICS_ADDR", ""),
	}

	if cfg.SitesFile != "" {
		sites, err := loadSitesFile(cfg.SitesFile)
		if err != nil {
			return Config{}, fmt.Errorf("sites file %s: %w", cfg.SitesFile, err)
		}
		cfg.Sites = sites
	}

	return cfg, nil
}

func (c Config) Require(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("missing required env var: %s", name)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.ToLower(strings.TrimSpace(getEnv(key, "")))
	if value == "" {
		return fallback
	}
	if value == "1" || value == "true" || value == "yes" || value == "on" {
		return true
	}
	if value == "0" || value == "false" || value == "no" || value == "off" {
		return false
	}
	return fallback
}

// getEnvDuration accepts Go durations ("90s", "2m") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(getEnv(key, ""))
	if value == "" {
		return fallback
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvRune(key string, fallback rune) rune {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	if value == `\t` || value == "tab" {
		return '\t'
	}
	r := []rune(value)
	if len(r) != 1 {
		return fallback
	}
	return r[0]
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
