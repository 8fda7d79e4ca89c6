package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/cibfe/cibfe/internal/domain"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Load reads the .env file specified by CIBFE_ENV (or .env by default),
// then loads the corresponding .secret sidecar if it exists.
// All config is flat env vars read via os.Getenv after loading.
func Load() error {
	envFile := os.Getenv("CIBFE_ENV")
	if envFile == "" {
		envFile = ".env"
	}

	_ = godotenv.Load(envFile)
	_ = godotenv.Load(envFile + ".secret")

	return nil
}

// SystemConfig is the composition-root configuration value. Components
// receive it (or slices of it) by injection; there is no global state.
type SystemConfig struct {
	// Memory store.
	Strategy             string  `validate:"oneof=auto vector text fallback"`
	BatchSize            int     `validate:"gte=1"`
	MaxSimilarityResults int     `validate:"gte=1"`
	SimilarityThreshold  float64 `validate:"gte=0,lte=1"`
	EmbeddingDimension   int     `validate:"gte=1"`

	// Belief analysis.
	EnableBeliefAnalysis   bool
	MinCandidateConfidence float64 `validate:"gte=0,lte=1"`
	ReinforceThreshold     float64 `validate:"gte=0,lte=1"`
	RelatedThreshold       float64 `validate:"gte=0,lte=1"`
	DefaultResolution      domain.ResolutionStrategy
	ResolutionByCategory   map[string]domain.ResolutionStrategy

	// Ingestion.
	MaxContentLength int `validate:"gte=1"`
}

// Default returns the configuration used when no env overrides are present.
func Default() SystemConfig {
	return SystemConfig{
		Strategy:               "auto",
		BatchSize:              100,
		MaxSimilarityResults:   50,
		SimilarityThreshold:    0.0,
		EmbeddingDimension:     1536,
		EnableBeliefAnalysis:   true,
		MinCandidateConfidence: 0.3,
		ReinforceThreshold:     0.85,
		RelatedThreshold:       0.6,
		DefaultResolution:      domain.ResolveNewerWins,
		ResolutionByCategory:   map[string]domain.ResolutionStrategy{},
		MaxContentLength:       10000,
	}
}

// ResolutionFor returns the configured strategy for a category, falling back
// to the default.
func (c SystemConfig) ResolutionFor(category string) domain.ResolutionStrategy {
	if s, ok := c.ResolutionByCategory[category]; ok {
		return s
	}
	return c.DefaultResolution
}

// FromEnv builds a SystemConfig from CIBFE_* env vars over Default and
// validates it.
func FromEnv() (SystemConfig, error) {
	c := Default()

	c.Strategy = envString("CIBFE_MEMORY_STRATEGY", c.Strategy)
	c.BatchSize = envInt("CIBFE_MEMORY_BATCH_SIZE", c.BatchSize)
	c.MaxSimilarityResults = envInt("CIBFE_MEMORY_MAX_SIMILARITY_RESULTS", c.MaxSimilarityResults)
	c.SimilarityThreshold = envFloat("CIBFE_MEMORY_SIMILARITY_THRESHOLD", c.SimilarityThreshold)
	c.EmbeddingDimension = envInt("CIBFE_MEMORY_EMBEDDING_DIMENSION", c.EmbeddingDimension)
	c.EnableBeliefAnalysis = envBool("CIBFE_BELIEF_ENABLE_ANALYSIS", c.EnableBeliefAnalysis)
	c.MinCandidateConfidence = envFloat("CIBFE_BELIEF_MIN_CANDIDATE_CONFIDENCE", c.MinCandidateConfidence)
	c.ReinforceThreshold = envFloat("CIBFE_BELIEF_REINFORCE_THRESHOLD", c.ReinforceThreshold)
	c.RelatedThreshold = envFloat("CIBFE_BELIEF_RELATED_THRESHOLD", c.RelatedThreshold)
	c.MaxContentLength = envInt("CIBFE_INGESTION_MAX_CONTENT_LENGTH", c.MaxContentLength)

	if s := os.Getenv("CIBFE_BELIEF_DEFAULT_RESOLUTION"); s != "" {
		if !domain.ValidResolutionStrategy(s) {
			return c, fmt.Errorf("invalid CIBFE_BELIEF_DEFAULT_RESOLUTION: %s", s)
		}
		c.DefaultResolution = domain.ResolutionStrategy(s)
	}

	// Per-category overrides: "category=strategy,category=strategy".
	if raw := os.Getenv("CIBFE_BELIEF_RESOLUTION_BY_CATEGORY"); raw != "" {
		for _, pair := range strings.Split(raw, ",") {
			k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
			if !ok || !domain.ValidResolutionStrategy(v) {
				return c, fmt.Errorf("invalid CIBFE_BELIEF_RESOLUTION_BY_CATEGORY entry: %s", pair)
			}
			c.ResolutionByCategory[k] = domain.ResolutionStrategy(v)
		}
	}

	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

var validate = validator.New()

func (c SystemConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

func envFloat(key string, def float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return def
	}
	return v
}

func envBool(key string, def bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

func ServerPort() int {
	port, err := strconv.Atoi(os.Getenv("SERVER_PORT"))
	if err != nil {
		return 8080
	}
	return port
}

func ServerAddr() string {
	return fmt.Sprintf(":%d", ServerPort())
}

func DatabaseURL() string {
	return os.Getenv("DATABASE_URL")
}

func OpenAIAPIKey() string {
	return os.Getenv("OPENAI_API_KEY")
}

// EmbeddingProvider returns the configured embedding provider.
// Valid values: openai, mock, none.
func EmbeddingProvider() string {
	p := os.Getenv("EMBEDDING_PROVIDER")
	if p == "" {
		return "openai"
	}
	return p
}

// ExtractionProvider returns the configured belief extraction provider.
// Valid values: openai, heuristic, mock.
func ExtractionProvider() string {
	p := os.Getenv("EXTRACTION_PROVIDER")
	if p == "" {
		return "heuristic"
	}
	return p
}

// RateLimitRPS returns requests per second limit.
func RateLimitRPS() float64 {
	rps, err := strconv.ParseFloat(os.Getenv("RATE_LIMIT_RPS"), 64)
	if err != nil || rps <= 0 {
		return 100
	}
	return rps
}

// RateLimitBurst returns the burst size for rate limiting.
func RateLimitBurst() int {
	burst, err := strconv.Atoi(os.Getenv("RATE_LIMIT_BURST"))
	if err != nil || burst <= 0 {
		return 20
	}
	return burst
}

// LogLevel returns the log level (debug, info, warn, error).
func LogLevel() string {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		return "info"
	}
	return level
}
