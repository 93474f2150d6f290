// Package insights uploads tabular cost data to Dagster Cloud. The cloud
// control plane mints a one-time signed destination; the uploader
// serializes the records to a columnar file and posts it there.
package insights

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/aksestok/dagster-cloud/pkg/client"
	"github.com/aksestok/dagster-cloud/pkg/instance"
)

// CostRecord attributes one cost amount to an opaque entity and the
// query that produced it. Records have no identity beyond their fields.
type CostRecord struct {
	OpaqueID string  `json:"opaque_id"`
	Cost     float64 `json:"cost"`
	QueryID  string  `json:"query_id"`
}

// Metric names a single observed value.
type Metric struct {
	Name  string  `json:"metric_name"`
	Value float64 `json:"metric_value"`
}

// uploadDestination is the signed-URL response from the control plane.
type uploadDestination struct {
	URL    string            `json:"url"`
	Fields map[string]string `json:"fields"`
}

// Uploader performs insights cost uploads against an instance.
type Uploader struct {
	encoder Encoder
}

// NewUploader returns an uploader with the default parquet encoder.
func NewUploader() *Uploader {
	return &Uploader{encoder: ParquetEncoder{}}
}

// NewUploaderWithEncoder overrides the columnar encoder. A nil encoder
// models the missing-dependency condition.
func NewUploaderWithEncoder(enc Encoder) *Uploader {
	return &Uploader{encoder: enc}
}

// UploadCostInformation serializes the records under metricName and
// uploads them to a signed destination obtained from the instance's
// control-plane endpoint.
//
// The temp file is removed on every exit path, including upload failure.
func (u *Uploader) UploadCostInformation(ctx context.Context, inst instance.Instance, metricName string, records []CostRecord) error {
	if strings.TrimSpace(metricName) == "" {
		return fmt.Errorf("metric name is required")
	}
	agent, err := instance.RequireAgentInstance(inst)
	if err != nil {
		return err
	}
	if u.encoder == nil {
		return ErrMissingDependency
	}

	tempDir, err := os.MkdirTemp("", "dagster-insights-*")
	if err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(tempDir) }()

	costFile := filepath.Join(tempDir, "cost.parquet")
	if err := u.encoder.EncodeCostFile(costFile, metricName, records); err != nil {
		return err
	}

	dest, err := generateUploadURL(ctx, agent)
	if err != nil {
		return err
	}

	return postCostFile(ctx, agent.Session(), dest, costFile)
}

// generateUploadURL asks the control plane for a one-time signed upload
// destination, authenticated with the instance's deployment-scoped headers.
func generateUploadURL(ctx context.Context, agent *instance.AgentInstance) (*uploadDestination, error) {
	endpoint := agent.GenInsightsURLEndpoint()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build upload-url request: %w", err)
	}
	for k, v := range agent.APIHeaders(instance.ScopeDeployment) {
		req.Header.Set(k, v)
	}

	resp, err := agent.Session().Do(req)
	if err != nil {
		return nil, fmt.Errorf("request upload url: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read upload-url response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &client.HTTPError{
			Op:         "GenerateUploadURL",
			URL:        endpoint,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(raw)),
		}
	}

	var dest uploadDestination
	if err := json.Unmarshal(raw, &dest); err != nil {
		return nil, fmt.Errorf("%w: %v", client.ErrMalformedResponse, err)
	}
	if dest.URL == "" || dest.Fields == nil {
		return nil, fmt.Errorf("%w: upload destination missing url/fields", client.ErrMalformedResponse)
	}
	return &dest, nil
}

// postCostFile posts the cost file as multipart form data to the signed
// destination, carrying the returned fields verbatim.
func postCostFile(ctx context.Context, session *http.Client, dest *uploadDestination, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open cost file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := url.Parse(dest.URL); err != nil {
		return fmt.Errorf("%w: bad upload url: %v", client.ErrMalformedResponse, err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range dest.Fields {
		if err := mw.WriteField(k, v); err != nil {
			return fmt.Errorf("write form field: %w", err)
		}
	}
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("copy cost file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("finalize form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, dest.URL, &body)
	if err != nil {
		return fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := session.Do(req)
	if err != nil {
		return fmt.Errorf("upload cost file: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return &client.HTTPError{
			Op:         "UploadCostFile",
			URL:        dest.URL,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(raw)),
		}
	}
	return nil
}

// PutCostInformation is the user-facing entry point. It surfaces the
// missing-dependency condition as an actionable install message; every
// other error propagates unchanged.
func (u *Uploader) PutCostInformation(ctx context.Context, inst instance.Instance, metricName string, records []CostRecord) error {
	err := u.UploadCostInformation(ctx, inst, metricName, records)
	if errors.Is(err, ErrMissingDependency) {
		return fmt.Errorf("dagster insights dependencies not installed; install dagster-cloud[insights] to use this feature: %w", err)
	}
	return err
}
