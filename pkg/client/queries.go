package client

import (
	"context"
	"fmt"
	"time"
)

// GraphQLTimeout bounds requests made through token-derived clients.
const GraphQLTimeout = 300 * time.Second

// NewWithToken builds a client for the given GraphQL endpoint authenticated
// with an agent or user API token.
func NewWithToken(url, token string) (*Client, error) {
	return New(Config{
		URL:     url,
		Headers: map[string]string{APITokenHeader: token},
		Timeout: GraphQLTimeout,
	})
}

// URLFromOrganization returns the cloud base URL for an organization,
// scoped to a deployment when one is given.
func URLFromOrganization(organization, deployment string) string {
	if deployment == "" {
		return fmt.Sprintf("https://%s.dagster.cloud", organization)
	}
	return fmt.Sprintf("https://%s.dagster.cloud/%s", organization, deployment)
}

// Deployment is a full deployment visible to the current token.
type Deployment struct {
	Name string
	ID   int
}

const deploymentsQuery = `
{
    deployments {
        deploymentName
        deploymentId
    }
}
`

// Deployments lists the deployments in the organization.
func (c *Client) Deployments(ctx context.Context) ([]Deployment, error) {
	result, err := c.Execute(ctx, deploymentsQuery, nil)
	if err != nil {
		return nil, err
	}
	items, err := digList(result, "data", "deployments")
	if err != nil {
		return nil, err
	}
	out := make([]Deployment, 0, len(items))
	for _, it := range items {
		m, _ := it.(map[string]any)
		d := Deployment{}
		d.Name, _ = m["deploymentName"].(string)
		if id, ok := m["deploymentId"].(float64); ok {
			d.ID = int(id)
		}
		out = append(out, d)
	}
	return out, nil
}

// AgentStatus describes one agent known to the deployment.
type AgentStatus struct {
	Status string
	Errors []string
}

const agentStatusQuery = `
query AgentStatus {
    agents {
        status
        errors {
            error {
                message
            }
        }
    }
}
`

// AgentStatuses returns the status of every agent serving the deployment.
func (c *Client) AgentStatuses(ctx context.Context) ([]AgentStatus, error) {
	result, err := c.Execute(ctx, agentStatusQuery, nil)
	if err != nil {
		return nil, err
	}
	items, err := digList(result, "data", "agents")
	if err != nil {
		return nil, err
	}
	out := make([]AgentStatus, 0, len(items))
	for _, it := range items {
		m, _ := it.(map[string]any)
		st := AgentStatus{}
		st.Status, _ = m["status"].(string)
		if errs, ok := m["errors"].([]any); ok {
			for _, e := range errs {
				em, _ := e.(map[string]any)
				inner, _ := em["error"].(map[string]any)
				if msg, ok := inner["message"].(string); ok {
					st.Errors = append(st.Errors, msg)
				}
			}
		}
		out = append(out, st)
	}
	return out, nil
}

// WorkspaceEntry is one code location registered in the workspace.
type WorkspaceEntry struct {
	LocationName       string
	SerializedMetadata string
}

const workspaceEntriesQuery = `
query WorkspaceEntries {
    workspace {
        workspaceEntries {
            locationName
            serializedDeploymentMetadata
        }
    }
}
`

// WorkspaceEntries lists the registered code locations with their
// serialized deployment metadata.
func (c *Client) WorkspaceEntries(ctx context.Context) ([]WorkspaceEntry, error) {
	result, err := c.Execute(ctx, workspaceEntriesQuery, nil)
	if err != nil {
		return nil, err
	}
	items, err := digList(result, "data", "workspace", "workspaceEntries")
	if err != nil {
		return nil, err
	}
	out := make([]WorkspaceEntry, 0, len(items))
	for _, it := range items {
		m, _ := it.(map[string]any)
		e := WorkspaceEntry{}
		e.LocationName, _ = m["locationName"].(string)
		e.SerializedMetadata, _ = m["serializedDeploymentMetadata"].(string)
		out = append(out, e)
	}
	return out, nil
}

const addOrUpdateLocationMutation = `
mutation ($document: GenericScalar!) {
    addOrUpdateLocationFromDocument(document: $document) {
        __typename
        ... on WorkspaceEntry {
            locationName
        }
        ... on PythonError {
            message
            stack
        }
        ... on InvalidLocationError {
            errors
        }
    }
}
`

// AddOrUpdateCodeLocation registers or replaces a code location from a
// location document.
func (c *Client) AddOrUpdateCodeLocation(ctx context.Context, document map[string]any) error {
	result, err := c.Execute(ctx, addOrUpdateLocationMutation, map[string]any{"document": document})
	if err != nil {
		return err
	}
	node, err := digMap(result, "data", "addOrUpdateLocationFromDocument")
	if err != nil {
		return err
	}
	switch node["__typename"] {
	case "WorkspaceEntry":
		return nil
	case "InvalidLocationError":
		return &GraphQLError{Message: fmt.Sprintf("error in location config: %v", node["errors"])}
	default:
		return &GraphQLError{Message: fmt.Sprintf("unable to add/update code location: %v", node["message"])}
	}
}

const deleteLocationMutation = `
mutation ($locationName: String!) {
    deleteLocation(locationName: $locationName) {
        __typename
        ... on DeleteLocationSuccess {
            locationName
        }
        ... on PythonError {
            message
            stack
        }
    }
}
`

// DeleteCodeLocation removes a code location from the workspace.
func (c *Client) DeleteCodeLocation(ctx context.Context, locationName string) error {
	result, err := c.Execute(ctx, deleteLocationMutation, map[string]any{"locationName": locationName})
	if err != nil {
		return err
	}
	node, err := digMap(result, "data", "deleteLocation")
	if err != nil {
		return err
	}
	if node["__typename"] != "DeleteLocationSuccess" {
		return &GraphQLError{Message: fmt.Sprintf("unable to delete location: %v", node)}
	}
	return nil
}

const deploymentSettingsQuery = `
query DeploymentSettings {
    deploymentSettings {
        settings
    }
}
`

// DeploymentSettings fetches the deployment settings document.
func (c *Client) DeploymentSettings(ctx context.Context) (map[string]any, error) {
	result, err := c.Execute(ctx, deploymentSettingsQuery, nil)
	if err != nil {
		return nil, err
	}
	node, err := digMap(result, "data", "deploymentSettings")
	if err != nil {
		return nil, err
	}
	settings, ok := node["settings"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: deploymentSettings.settings missing", ErrMalformedResponse)
	}
	return settings, nil
}

const setDeploymentSettingsMutation = `
mutation SetDeploymentSettings($deploymentSettings: DeploymentSettingsInput!) {
    setDeploymentSettings(deploymentSettings: $deploymentSettings) {
        __typename
        ... on DeploymentSettings {
            settings
        }
        ... on UnauthorizedError {
            message
        }
        ... on PythonError {
            message
            stack
        }
    }
}
`

// SetDeploymentSettings replaces the deployment settings document.
func (c *Client) SetDeploymentSettings(ctx context.Context, settings map[string]any) error {
	result, err := c.Execute(ctx, setDeploymentSettingsMutation, map[string]any{"deploymentSettings": settings})
	if err != nil {
		return err
	}
	node, err := digMap(result, "data", "setDeploymentSettings")
	if err != nil {
		return err
	}
	if node["__typename"] != "DeploymentSettings" {
		return &GraphQLError{Message: fmt.Sprintf("unable to set deployment settings: %v", node)}
	}
	return nil
}

// AlertPolicy is a configured alerting rule.
type AlertPolicy struct {
	Name        string
	Description string
	Enabled     bool
}

const alertPoliciesQuery = `
query AlertPolicies {
    alertPolicies {
        name
        description
        enabled
    }
}
`

// AlertPolicies lists the deployment's alert policies.
func (c *Client) AlertPolicies(ctx context.Context) ([]AlertPolicy, error) {
	result, err := c.Execute(ctx, alertPoliciesQuery, nil)
	if err != nil {
		return nil, err
	}
	items, err := digList(result, "data", "alertPolicies")
	if err != nil {
		return nil, err
	}
	out := make([]AlertPolicy, 0, len(items))
	for _, it := range items {
		m, _ := it.(map[string]any)
		p := AlertPolicy{}
		p.Name, _ = m["name"].(string)
		p.Description, _ = m["description"].(string)
		p.Enabled, _ = m["enabled"].(bool)
		out = append(out, p)
	}
	return out, nil
}

func digMap(root map[string]any, path ...string) (map[string]any, error) {
	cur := root
	for _, key := range path {
		next, ok := cur[key].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: missing %q", ErrMalformedResponse, key)
		}
		cur = next
	}
	return cur, nil
}

func digList(root map[string]any, path ...string) ([]any, error) {
	parent, err := digMap(root, path[:len(path)-1]...)
	if err != nil {
		return nil, err
	}
	last := path[len(path)-1]
	items, ok := parent[last].([]any)
	if !ok {
		return nil, fmt.Errorf("%w: missing %q", ErrMalformedResponse, last)
	}
	return items, nil
}
