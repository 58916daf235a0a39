package cfg

import (
	"errors"
	"flag"
	"fmt"
)

// Config holds service-specific configuration on top of the common
// cfg.Registerable and cfg.Validatable interfaces.
type Config struct {
	DrainSeconds             int
	ShutdownBudgetSeconds    int
	APIPort                  int
	DatabaseURL              string
	ClaudeAPIKey             string
	ClaudeModel              string
	LocalModelEndpoint       string
	LocalModelName           string
	ConfidenceMin            float64
	RuleCacheTTLSeconds      int
	HeartbeatIntervalSeconds int
	SlackWebhookURL          string
	APIToken                 string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for the Claude classification oracle (empty = disabled)")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model to use")
	fs.StringVar(&c.LocalModelEndpoint, "local-model-endpoint", "", "base URL of the local model server (empty = disabled)")
	fs.StringVar(&c.LocalModelName, "local-model-name", "llama3.1:8b", "local model to use for cheap classification")
	fs.Float64Var(&c.ConfidenceMin, "confidence-min", 0.5, "minimum cheap-model confidence before escalating (0..1)")
	fs.IntVar(&c.RuleCacheTTLSeconds, "rule-cache-ttl-seconds", 30, "seconds before the in-process rule cache refreshes (1..3600)")
	fs.IntVar(&c.HeartbeatIntervalSeconds, "heartbeat-interval-seconds", 0, "seconds between automatic heartbeat runs (0 = manual only)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for heartbeat summaries")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token required on API requests (empty = no auth)")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if c.ClaudeAPIKey != "" && c.ClaudeModel == "" {
		errs = append(errs, errors.New("CLAUDE_MODEL is required when CLAUDE_API_KEY is set"))
	}
	if c.LocalModelEndpoint != "" && c.LocalModelName == "" {
		errs = append(errs, errors.New("LOCAL_MODEL_NAME is required when LOCAL_MODEL_ENDPOINT is set"))
	}

	if c.ConfidenceMin < 0 || c.ConfidenceMin > 1 {
		errs = append(errs, fmt.Errorf("invalid CONFIDENCE_MIN %g (must be 0..1)", c.ConfidenceMin))
	}
	if c.RuleCacheTTLSeconds <= 0 || c.RuleCacheTTLSeconds > 3600 {
		errs = append(errs, fmt.Errorf("invalid RULE_CACHE_TTL_SECONDS %d (must be 1..3600)", c.RuleCacheTTLSeconds))
	}
	if c.HeartbeatIntervalSeconds < 0 {
		errs = append(errs, fmt.Errorf("invalid HEARTBEAT_INTERVAL_SECONDS %d (must be >= 0)", c.HeartbeatIntervalSeconds))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
