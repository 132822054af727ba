// Package config loads the environment for every function in this repository.
// Each function validates only the subset it needs.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// DedupPolicy selects how listings are matched against stored documents.
// Exactly one policy is active per deployment.
type DedupPolicy string

const (
	// DedupByTitle keys a listing by its trimmed titulo.
	DedupByTitle DedupPolicy = "title"
	// DedupByLink keys a listing by an encoding of its enlace.
	DedupByLink DedupPolicy = "link"
)

// UnmarshalText implements encoding.TextUnmarshaler for DedupPolicy.
func (p *DedupPolicy) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	switch v {
	case "title", "link":
		*p = DedupPolicy(v)
		return nil
	default:
		return fmt.Errorf("invalid DedupPolicy: %q (valid options: title, link)", v)
	}
}

// FirecrawlConfig holds content service credentials.
type FirecrawlConfig struct {
	APIKey  string `env:"API_KEY"`
	BaseURL string `env:"BASE_URL" envDefault:"https://api.firecrawl.dev"`
}

// PollConfig bounds how long a request may wait on a job. Budget must stay
// below the platform request ceiling.
type PollConfig struct {
	Budget   time.Duration `env:"POLL_BUDGET"   envDefault:"25s"`
	Interval time.Duration `env:"POLL_INTERVAL" envDefault:"2s"`
}

// WorkflowConfig points at the Cloud Workflow that resumes timed-out jobs.
type WorkflowConfig struct {
	ID       string `env:"RESUME_WORKFLOW_ID"`
	Location string `env:"WORKFLOW_LOCATION" envDefault:"us-central1"`
}

type Config struct {
	ProjectID     string `env:"PROJECT_ID"`
	AllowedOrigin string `env:"ALLOWED_ORIGIN" envDefault:"https://grasshoppersolutions.online"`

	Firecrawl        FirecrawlConfig `envPrefix:"FIRECRAWL_"`
	Poll             PollConfig
	CrawlConcurrency int `env:"CRAWL_CONCURRENCY" envDefault:"5"`

	Collection       string      `env:"FIRESTORE_COLLECTION" envDefault:"convocatorias"`
	DedupPolicy      DedupPolicy `env:"DEDUP_POLICY"         envDefault:"title"`
	ListDefaultLimit int         `env:"LIST_DEFAULT_LIMIT"   envDefault:"100"`
	ListMaxLimit     int         `env:"LIST_MAX_LIMIT"       envDefault:"500"`

	ArchiveBucket   string `env:"MARKDOWN_ARCHIVE_BUCKET"`
	VertexAIRegion  string `env:"VERTEX_AI_REGION" envDefault:"us-central1"`
	ExtractionModel string `env:"EXTRACTION_MODEL" envDefault:"gemini-1.5-pro"`

	Workflow WorkflowConfig
}

// Load reads an optional .env file and then the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return Config{}, fmt.Errorf("load .env file: %w", err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// ValidateCrawl checks the settings needed by the crawl functions.
func (c Config) ValidateCrawl() error {
	if c.Firecrawl.APIKey == "" {
		return errors.New("FIRECRAWL_API_KEY not configured in environment variables")
	}
	if c.Poll.Budget <= 0 || c.Poll.Interval <= 0 {
		return fmt.Errorf("POLL_BUDGET (%s) and POLL_INTERVAL (%s) must be positive", c.Poll.Budget, c.Poll.Interval)
	}
	if c.CrawlConcurrency < 1 {
		return fmt.Errorf("CRAWL_CONCURRENCY must be at least 1, got %d", c.CrawlConcurrency)
	}
	if c.Firecrawl.BaseURL != "" {
		u, err := url.ParseRequestURI(c.Firecrawl.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("FIRECRAWL_BASE_URL must be an absolute http(s) URL, got %q", c.Firecrawl.BaseURL)
		}
	}
	return nil
}

// ValidateStore checks the settings needed by the listing store functions.
func (c Config) ValidateStore() error {
	if c.ProjectID == "" {
		return errors.New("PROJECT_ID environment variable must be set")
	}
	if c.Collection == "" {
		return errors.New("FIRESTORE_COLLECTION must not be empty")
	}
	if c.ListDefaultLimit < 1 || c.ListMaxLimit < c.ListDefaultLimit {
		return fmt.Errorf("invalid list limits: default=%d max=%d", c.ListDefaultLimit, c.ListMaxLimit)
	}
	return nil
}

// ValidateExtraction checks the settings needed by the extraction pipeline.
func (c Config) ValidateExtraction() error {
	if err := c.ValidateCrawl(); err != nil {
		return err
	}
	if err := c.ValidateStore(); err != nil {
		return err
	}
	if c.VertexAIRegion == "" {
		return errors.New("VERTEX_AI_REGION must not be empty")
	}
	return nil
}

// ResumeEnabled reports whether timed-out jobs are handed to a workflow.
func (c Config) ResumeEnabled() bool {
	return c.ProjectID != "" && c.Workflow.ID != ""
}
