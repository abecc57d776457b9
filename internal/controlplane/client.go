/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package controlplane is a typed façade over the REST API of the external
// control plane described in spec.md §6. Every RPC carries the job token as
// a bearer credential. This package treats the control plane purely as an
// HTTP collaborator — no RPC framework, just net/http and encoding/json,
// matching the only HTTP-client idiom present in the teacher corpus
// (the deleted internal/secrets/client.go: bearer token header, status-code
// switch, io.ReadAll on error bodies).
package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/iiasa/wkube-core/internal/model"
)

// Client is the control-plane façade bound to one job's bearer token.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New constructs a Client scoped to a single job's token.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("controlplane: marshal request body: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("controlplane: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("controlplane: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("controlplane: %s %s: unexpected status %d: %s", method, path, resp.StatusCode, string(b))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("controlplane: decode response for %s %s: %w", method, path, err)
	}
	return nil
}

// UpdateJobStatus reports a job status transition (spec.md §6).
func (c *Client) UpdateJobStatus(ctx context.Context, status model.JobStatus) error {
	return c.do(ctx, http.MethodPost, "/jobs/status", map[string]string{"status": string(status)}, nil)
}

type addLogFileResponse struct {
	IsHealthy bool `json:"is_healthy"`
}

// AddLogFile uploads one durable log chunk and returns the health flag the
// control plane reports alongside it.
func (c *Client) AddLogFile(ctx context.Context, chunk model.LogChunk) (bool, error) {
	var resp addLogFileResponse
	payload := map[string]string{
		"filename": chunk.Filename,
		"bytes":    string(chunk.Bytes),
	}
	if err := c.do(ctx, http.MethodPost, "/jobs/logs", payload, &resp); err != nil {
		return false, err
	}
	return resp.IsHealthy, nil
}

type checkHealthResponse struct {
	Healthy bool `json:"healthy"`
}

// CheckJobHealth performs an explicit health probe.
func (c *Client) CheckJobHealth(ctx context.Context) (bool, error) {
	var resp checkHealthResponse
	if err := c.do(ctx, http.MethodGet, "/jobs/health", nil, &resp); err != nil {
		return false, err
	}
	return resp.Healthy, nil
}

// GetFileStream opens a chunked read over a bucket object.
func (c *Client) GetFileStream(ctx context.Context, bucketObjectID string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/files/"+bucketObjectID, nil)
	if err != nil {
		return nil, fmt.Errorf("controlplane: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("controlplane: get file stream: %w", err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("controlplane: get file stream: unexpected status %d: %s", resp.StatusCode, string(b))
	}
	return resp.Body, nil
}

type addFilestreamResponse struct {
	BucketObjectID string `json:"bucket_object_id"`
}

// AddFilestreamAsJobOutput uploads a stream as job output, returning the
// bucket object id the control plane assigned.
func (c *Client) AddFilestreamAsJobOutput(ctx context.Context, filename string, stream io.Reader) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/jobs/output?filename="+filename, stream)
	if err != nil {
		return "", fmt.Errorf("controlplane: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("controlplane: add filestream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("controlplane: add filestream: unexpected status %d: %s", resp.StatusCode, string(b))
	}

	var out addFilestreamResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("controlplane: decode add filestream response: %w", err)
	}
	return out.BucketObjectID, nil
}

// ReplaceBucketObjectIDContent overwrites the content backing a bucket
// object id.
func (c *Client) ReplaceBucketObjectIDContent(ctx context.Context, id string, stream io.Reader) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+"/files/"+id, stream)
	if err != nil {
		return fmt.Errorf("controlplane: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("controlplane: replace bucket object content: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("controlplane: replace bucket object content: unexpected status %d: %s", resp.StatusCode, string(b))
	}
	return nil
}

// GetBucketObjectValidationType fetches the validation type recorded for a
// bucket object.
func (c *Client) GetBucketObjectValidationType(ctx context.Context, id string) (string, error) {
	var out struct {
		ValidationType string `json:"validation_type"`
	}
	if err := c.do(ctx, http.MethodGet, "/files/"+id+"/validation-type", nil, &out); err != nil {
		return "", err
	}
	return out.ValidationType, nil
}

// GetBucketObjectValidationDetails fetches validation details for a bucket
// object, as an opaque JSON document.
func (c *Client) GetBucketObjectValidationDetails(ctx context.Context, id string) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/files/"+id+"/validation-details", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetDatasetTemplateDetails fetches a dataset template's details, as an
// opaque JSON document.
func (c *Client) GetDatasetTemplateDetails(ctx context.Context, id string) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/dataset-templates/"+id, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// RegisterValidation registers a validation result against a bucket object
// and dataset template.
func (c *Client) RegisterValidation(ctx context.Context, bucketObjectID, datasetTemplateID string, metadata map[string]interface{}) error {
	payload := map[string]interface{}{
		"bucket_object_id":    bucketObjectID,
		"dataset_template_id": datasetTemplateID,
		"metadata":            metadata,
	}
	return c.do(ctx, http.MethodPost, "/validations", payload, nil)
}

// FilterPendingPVCs returns the subset of the given PVC names the control
// plane still considers pending (must not be deleted).
func (c *Client) FilterPendingPVCs(ctx context.Context, names []string) ([]string, error) {
	var out struct {
		Pending []string `json:"pending"`
	}
	if err := c.do(ctx, http.MethodPost, "/pvcs/filter-pending", map[string][]string{"names": names}, &out); err != nil {
		return nil, err
	}
	return out.Pending, nil
}

// UpdateStalledJobsStatus triggers the control plane's stalled-job sweep.
func (c *Client) UpdateStalledJobsStatus(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/jobs/update-stalled-status", nil, nil)
}

// WebhookEventType is the fixed type tag for pod-event webhook payloads.
const WebhookEventType = "WKUBE_POD_EVENT"

type webhookEnvelope struct {
	Type string            `json:"type"`
	Data model.EventRecord `json:"data"`
}

// PostWebhookEvent delivers one event record to the control-plane webhook,
// authenticated with the app token header rather than a job bearer token.
func PostWebhookEvent(ctx context.Context, httpClient *http.Client, webhookURL, appToken string, rec model.EventRecord) error {
	buf, err := json.Marshal(webhookEnvelope{Type: WebhookEventType, Data: rec})
	if err != nil {
		return fmt.Errorf("controlplane: marshal webhook event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("controlplane: build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-App-Token", appToken)

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("controlplane: post webhook event: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("controlplane: post webhook event: unexpected status %d: %s", resp.StatusCode, string(b))
	}
	return nil
}
