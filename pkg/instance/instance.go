// Package instance models the externally owned framework instance: the
// handle to cloud credentials, API endpoints, and run storage that the
// uploader and the run launcher consume but never construct themselves.
package instance

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aksestok/dagster-cloud/pkg/client"
	"github.com/aksestok/dagster-cloud/pkg/runstore"
)

// ErrNotCloudAgent is returned when an operation that requires the
// cloud-agent instance variant is handed any other instance.
var ErrNotCloudAgent = errors.New("must run inside a cloud agent instance")

// Scope selects which identity headers accompany an API request.
type Scope string

const (
	// ScopeDeployment scopes requests to the configured deployment.
	ScopeDeployment Scope = "DEPLOYMENT"

	// ScopeOrganization scopes requests to the whole organization.
	ScopeOrganization Scope = "ORGANIZATION"
)

// DeploymentHeader carries the deployment name on scoped requests.
const DeploymentHeader = "Dagster-Cloud-Deployment"

// Instance is the external framework's handle to configuration,
// credentials, and run storage. Components receive it injected; they
// never own its lifecycle.
type Instance interface {
	// DagitURL is the cloud UI base URL, with trailing slash.
	DagitURL() string

	// RunStore exposes run record lookup and tag mutation.
	RunStore() runstore.Store
}

// Config is the dagster_cloud_api configuration block.
//
// Verify is a pointer so the unset zero value means "verify TLS": only
// an explicit `verify: false` disables certificate verification.
type Config struct {
	URL        string            `mapstructure:"url"`
	AgentToken string            `mapstructure:"agent_token"`
	Deployment string            `mapstructure:"deployment"`
	Headers    map[string]string `mapstructure:"headers"`
	Cookies    map[string]string `mapstructure:"cookies"`
	Timeout    time.Duration     `mapstructure:"timeout"`
	Verify     *bool             `mapstructure:"verify"`
	Retries    int               `mapstructure:"retries"`
	Proxies    map[string]string `mapstructure:"proxies"`
	AgentLabel string            `mapstructure:"agent_label"`
}

// Validate reports whether the config can back an agent instance.
func (c Config) Validate() error {
	if strings.TrimSpace(c.AgentToken) == "" {
		return fmt.Errorf("agent_token is required")
	}
	if strings.TrimSpace(c.URL) == "" {
		return fmt.Errorf("url is required")
	}
	return nil
}

// AgentInstance is the cloud-agent variant of Instance. It owns the
// managed-retry session and derives every cloud endpoint from the
// configured base URL.
type AgentInstance struct {
	cfg     Config
	runs    runstore.Store
	session *http.Client
}

var _ Instance = (*AgentInstance)(nil)

// NewAgentInstance builds the cloud-agent instance variant.
func NewAgentInstance(cfg Config, runs runstore.Store) (*AgentInstance, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = client.DefaultTimeout
	}
	if cfg.Retries <= 0 {
		cfg.Retries = client.DefaultRetries
	}

	session := client.NewSession(client.SessionConfig{
		Retries:            cfg.Retries,
		Timeout:            cfg.Timeout,
		Proxies:            cfg.Proxies,
		InsecureSkipVerify: cfg.Verify != nil && !*cfg.Verify,
	})

	return &AgentInstance{cfg: cfg, runs: runs, session: session}, nil
}

// DagitURL returns the cloud UI base URL with a trailing slash.
func (a *AgentInstance) DagitURL() string {
	return strings.TrimRight(a.cfg.URL, "/") + "/"
}

// GraphQLURL returns the GraphQL endpoint derived from the base URL.
func (a *AgentInstance) GraphQLURL() string {
	return a.DagitURL() + "graphql"
}

// GenInsightsURLEndpoint returns the control-plane endpoint that mints
// one-time signed upload destinations for insights cost files.
func (a *AgentInstance) GenInsightsURLEndpoint() string {
	return a.DagitURL() + "gen_insights_url"
}

// AgentToken returns the agent API token.
func (a *AgentInstance) AgentToken() string {
	return a.cfg.AgentToken
}

// APIHeaders returns the identity headers for the given scope, merged
// with any extra headers from config.
func (a *AgentInstance) APIHeaders(scope Scope) map[string]string {
	headers := map[string]string{client.APITokenHeader: a.cfg.AgentToken}
	if scope == ScopeDeployment && a.cfg.Deployment != "" {
		headers[DeploymentHeader] = a.cfg.Deployment
	}
	for k, v := range a.cfg.Headers {
		headers[k] = v
	}
	return headers
}

// APITimeout bounds a single cloud API request.
func (a *AgentInstance) APITimeout() time.Duration {
	return a.cfg.Timeout
}

// Proxies returns the configured scheme-to-proxy mapping.
func (a *AgentInstance) Proxies() map[string]string {
	return a.cfg.Proxies
}

// Session returns the managed-retry HTTP session. Retry policy lives in
// the session; callers issue plain requests through it.
func (a *AgentInstance) Session() *http.Client {
	return a.session
}

// RunStore exposes the run records owned by this instance.
func (a *AgentInstance) RunStore() runstore.Store {
	return a.runs
}

// APICookies returns the cookies attached to every cloud API request.
func (a *AgentInstance) APICookies() map[string]string {
	return a.cfg.Cookies
}

// GraphQLClient builds a shim client bound to this instance's endpoint,
// deployment-scoped headers, and configured cookies.
func (a *AgentInstance) GraphQLClient() (*client.Client, error) {
	return client.New(client.Config{
		URL:     a.GraphQLURL(),
		Headers: a.APIHeaders(ScopeDeployment),
		Cookies: a.cfg.Cookies,
		Timeout: client.GraphQLTimeout,
		Session: a.session,
	})
}

// Ref identifies an instance across a process boundary. It is serialized
// into the argument bundle handed to spawned run processes.
type Ref struct {
	URL        string `json:"url"`
	Deployment string `json:"deployment,omitempty"`
	AgentLabel string `json:"agent_label,omitempty"`
}

// GetRef returns the serializable reference to this instance.
func (a *AgentInstance) GetRef() Ref {
	return Ref{
		URL:        a.cfg.URL,
		Deployment: a.cfg.Deployment,
		AgentLabel: a.cfg.AgentLabel,
	}
}

// RequireAgentInstance narrows an Instance to the cloud-agent variant.
// Every cloud-only operation calls this before doing any network or
// process work.
func RequireAgentInstance(inst Instance) (*AgentInstance, error) {
	agent, ok := inst.(*AgentInstance)
	if !ok {
		return nil, ErrNotCloudAgent
	}
	return agent, nil
}
