// Package cfg loads the dionisio configuration file.
package cfg

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/pelletier/go-toml"
	"github.com/sethvargo/go-envconfig"
)

const (
	DefGithubWebhookEndpoint = "/listener/github"
	DefStatusEndpoint        = "/"
	DefMetricsEndpoint       = "/metrics"
	DefLogFormat             = "logfmt"
	DefLogTimeKey            = "time_iso8601"
	DefLogLevel              = "info"
	DefCommandPrefix         = "/dionisio"
	DefManifestPath          = "package.json"
	DefVersionQuery          = ".version"
	DefReleaseWorkflowRef    = "develop"
)

type Config struct {
	HTTPListenAddr            string `toml:"http_server_listen_addr" env:"DIONISIO_HTTP_SERVER_LISTEN_ADDR,overwrite"`
	HTTPSListenAddr           string `toml:"https_server_listen_addr" env:"DIONISIO_HTTPS_SERVER_LISTEN_ADDR,overwrite"`
	HTTPSCertFile             string `toml:"https_ssl_cert_file"`
	HTTPSKeyFile              string `toml:"https_ssl_key_file"`
	HTTPGithubWebhookEndpoint string `toml:"github_webhook_endpoint"`
	HTTPStatusEndpoint        string `toml:"status_endpoint"`
	HTTPMetricsEndpoint       string `toml:"prometheus_metrics_endpoint"`
	GithubWebHookSecret       string `toml:"github_webhook_secret" env:"DIONISIO_GITHUB_WEBHOOK_SECRET,overwrite"`
	GithubAPIToken            string `toml:"github_api_token" env:"DIONISIO_GITHUB_API_TOKEN,overwrite"`
	LogFormat                 string `toml:"log_format" env:"DIONISIO_LOG_FORMAT,overwrite"`
	LogTimeKey                string `toml:"log_time_key"`
	LogLevel                  string `toml:"log_level" env:"DIONISIO_LOG_LEVEL,overwrite"`
	// CommandPrefix is the word that starts a command in a comment.
	CommandPrefix string `toml:"command_prefix"`
	// EventFilter is a jq query that is evaluated on the webhook
	// payloads, events for that it is false are ignored.
	EventFilter string   `toml:"event_filter"`
	QA          QA       `toml:"qa"`
	Backport    Backport `toml:"backport"`
	Jira        Jira     `toml:"jira"`
}

type QA struct {
	GuidelinesURL string `toml:"guidelines_url"`
	// ManifestPath is the file in the repository that declares the
	// version of a branch.
	ManifestPath string `toml:"manifest_path"`
	// VersionQuery is the jq query that extracts the version from the
	// manifest.
	VersionQuery string `toml:"version_query"`
	CheckRuns    bool   `toml:"check_runs"`
	// AutoMergeMethod enables adding ready pull requests to the merge
	// queue or enabling auto-merge, one of merge, squash, rebase.
	AutoMergeMethod string `toml:"auto_merge_method"`
}

type Backport struct {
	// ReleaseWorkflow is the workflow file that is dispatched when a
	// release branch was created.
	ReleaseWorkflow    string `toml:"release_workflow"`
	ReleaseWorkflowRef string `toml:"release_workflow_ref"`
}

type Jira struct {
	BaseURL  string `toml:"base_url" env:"DIONISIO_JIRA_BASE_URL,overwrite"`
	APIToken string `toml:"api_token" env:"DIONISIO_JIRA_API_TOKEN,overwrite"`
}

// Enabled returns true if the Jira integration is configured.
func (j *Jira) Enabled() bool {
	return j.BaseURL != "" && j.APIToken != ""
}

func setDefault(field *string, def string) {
	if *field == "" {
		*field = def
	}
}

func (c *Config) setDefaults() {
	setDefault(&c.HTTPGithubWebhookEndpoint, DefGithubWebhookEndpoint)
	setDefault(&c.HTTPStatusEndpoint, DefStatusEndpoint)
	setDefault(&c.HTTPMetricsEndpoint, DefMetricsEndpoint)
	setDefault(&c.LogFormat, DefLogFormat)
	setDefault(&c.LogTimeKey, DefLogTimeKey)
	setDefault(&c.LogLevel, DefLogLevel)
	setDefault(&c.CommandPrefix, DefCommandPrefix)
	setDefault(&c.QA.ManifestPath, DefManifestPath)
	setDefault(&c.QA.VersionQuery, DefVersionQuery)
	setDefault(&c.Backport.ReleaseWorkflowRef, DefReleaseWorkflowRef)
}

// Load parses a TOML configuration and sets defaults for unset settings.
func Load(reader io.Reader) (*Config, error) {
	var result Config

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	if err := toml.Unmarshal(data, &result); err != nil {
		return nil, err
	}

	result.setDefaults()

	return &result, nil
}

// ApplyEnv overwrites settings with the values of the DIONISIO_*
// environment variables that are returned by lookuper.
// Settings for that no variable is set are kept.
func (c *Config) ApplyEnv(ctx context.Context, lookuper envconfig.Lookuper) error {
	return envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   c,
		Lookuper: lookuper,
	})
}

// Validate returns an error if the configuration is incomplete or invalid.
func (c *Config) Validate() error {
	var errs []error

	if c.HTTPListenAddr == "" && c.HTTPSListenAddr == "" {
		errs = append(errs, errors.New("https_server_listen_addr or http_server_listen_addr must be defined, both are unset"))
	}

	if c.HTTPSListenAddr != "" && (c.HTTPSCertFile == "" || c.HTTPSKeyFile == "") {
		errs = append(errs, errors.New("https_ssl_cert_file and https_ssl_key_file must be set when https_server_listen_addr is defined"))
	}

	if c.GithubAPIToken == "" {
		errs = append(errs, errors.New("github_api_token must be set"))
	}

	switch c.LogFormat {
	case "logfmt", "console", "json":
	default:
		errs = append(errs, fmt.Errorf("unsupported log_format: %q", c.LogFormat))
	}

	switch c.QA.AutoMergeMethod {
	case "", "merge", "squash", "rebase":
	default:
		errs = append(errs, fmt.Errorf("unsupported qa.auto_merge_method: %q", c.QA.AutoMergeMethod))
	}

	if (c.Jira.BaseURL == "") != (c.Jira.APIToken == "") {
		errs = append(errs, errors.New("jira.base_url and jira.api_token must be set together"))
	}

	return errors.Join(errs...)
}
