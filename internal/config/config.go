package config

import (
	"errors"
	"os"
	"strconv"
	"time"
)

type Config struct {
	DatabaseURL       string
	S3Endpoint        string
	S3AccessKey       string
	S3SecretKey       string
	S3UseSSL          bool
	S3Region          string
	UploadsBucket     string
	ReportsBucket     string
	ScratchDir        string
	WorkerConcurrency int
	HTTPAddr          string
	LogLevel          string
	LogFormat         string

	ScoringProfile string
	DisplayBudget  int
	StaleAfter     time.Duration

	Tools Tools
}

// Tools configures the scanner collaborators.
type Tools struct {
	TrivyPath           string
	TrivyTimeout        time.Duration
	SnykPath            string
	SnykToken           string
	SnykOrgID           string
	SnykTimeout         time.Duration
	DependencyCheckPath string
	OWASPSuppressions   string
	OWASPTimeout        time.Duration
	SonarHost           string
	SonarToken          string
	SonarOrg            string
	SonarTimeout        time.Duration
}

func getBool(key, def string) bool {
	v := os.Getenv(key)
	if v == "" {
		v = def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false
	}
	return b
}

func getInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// getDuration accepts Go durations ("10m") or a bare number of milliseconds.
func getDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return def
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func Load() Config {
	return Config{
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		S3Endpoint:        os.Getenv("S3_ENDPOINT"),
		S3AccessKey:       os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:       os.Getenv("S3_SECRET_KEY"),
		S3UseSSL:          getBool("S3_USE_SSL", "false"),
		S3Region:          os.Getenv("S3_REGION"),
		UploadsBucket:     os.Getenv("UPLOADS_BUCKET"),
		ReportsBucket:     os.Getenv("REPORTS_BUCKET"),
		ScratchDir:        getString("SCRATCH_DIR", "/scratch"),
		WorkerConcurrency: getInt("WORKER_CONCURRENCY", 2),
		HTTPAddr:          os.Getenv("HTTP_ADDR"),
		LogLevel:          getString("LOG_LEVEL", "info"),
		LogFormat:         getString("LOG_FORMAT", "json"),

		ScoringProfile: os.Getenv("SCORING_PROFILE"),
		DisplayBudget:  getInt("DISPLAY_BUDGET", 3),
		StaleAfter:     getDuration("STALE_AFTER", 30*time.Minute),

		Tools: Tools{
			TrivyPath:           getString("TRIVY_PATH", "trivy"),
			TrivyTimeout:        getDuration("TRIVY_TIMEOUT", 10*time.Minute),
			SnykPath:            getString("SNYK_PATH", "snyk"),
			SnykToken:           os.Getenv("SNYK_TOKEN"),
			SnykOrgID:           os.Getenv("SNYK_ORG_ID"),
			SnykTimeout:         getDuration("SNYK_TIMEOUT", 10*time.Minute),
			DependencyCheckPath: getString("DEPENDENCY_CHECK_PATH", "dependency-check.sh"),
			OWASPSuppressions:   os.Getenv("OWASP_SUPPRESSIONS"),
			OWASPTimeout:        getDuration("OWASP_TIMEOUT", 20*time.Minute),
			SonarHost:           getString("SONAR_HOST", "https://sonarcloud.io"),
			SonarToken:          os.Getenv("SONAR_TOKEN"),
			SonarOrg:            os.Getenv("SONAR_ORG_KEY"),
			SonarTimeout:        getDuration("SONAR_TIMEOUT", 30*time.Second),
		},
	}
}

// ValidateWorker checks the settings the queue worker and rescore tool cannot run
// without.
func (c Config) ValidateWorker() error {
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if c.UploadsBucket == "" || c.ReportsBucket == "" {
		return errors.New("UPLOADS_BUCKET and REPORTS_BUCKET are required")
	}
	if c.WorkerConcurrency < 1 {
		return errors.New("WORKER_CONCURRENCY must be at least 1")
	}
	return nil
}
