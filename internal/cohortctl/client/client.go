// Package client talks to the cohortd HTTP API.
package client

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	v1 "github.com/kiosk404/cohort/internal/cohortd/handler/v1"
	batchentity "github.com/kiosk404/cohort/internal/cohortd/service/batch/domain/entity"
	"github.com/kiosk404/cohort/internal/cohortd/service/delegation/domain/entity"
	evententity "github.com/kiosk404/cohort/internal/cohortd/service/events/domain/entity"
	ledgerentity "github.com/kiosk404/cohort/internal/cohortd/service/ledger/domain/entity"
	personaentity "github.com/kiosk404/cohort/internal/cohortd/service/persona/domain/entity"
	"github.com/kiosk404/cohort/internal/pkg/core"
	"github.com/kiosk404/cohort/pkg/utils/json"
	"github.com/kiosk404/cohort/pkg/version"
)

// APIError is a non-2xx reply from cohortd.
type APIError struct {
	Status  int
	Code    int
	Message string
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("server returned %d (code %d): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// IsNotFound reports whether err is a 404 from cohortd.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// Client is the HTTP client for the cohortd /v1 API.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// New creates a client. A nil httpClient gets a 60s timeout; streaming calls
// rely on their context instead.
func New(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "http://" + baseURL
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Token:      token,
		HTTPClient: httpClient,
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body interface{}) (*http.Request, error) {
	u := c.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp.StatusCode, respBody)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

func decodeError(status int, body []byte) error {
	var er core.ErrResponse
	if err := json.Unmarshal(body, &er); err == nil && er.Message != "" {
		return &APIError{Status: status, Code: er.Code, Message: er.Message}
	}
	return &APIError{Status: status, Message: strings.TrimSpace(string(body))}
}

// SubmitTask sends a command to the coordinator, or to target when set.
func (c *Client) SubmitTask(ctx context.Context, req *v1.SubmitTaskRequest) (*v1.SubmitTaskResponse, error) {
	var out v1.SubmitTaskResponse
	if err := c.do(ctx, http.MethodPost, "/v1/tasks", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetTask(ctx context.Context, id string) (*v1.TaskResponse, error) {
	var out v1.TaskResponse
	if err := c.do(ctx, http.MethodGet, "/v1/tasks/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TaskListOptions narrows ListTasks.
type TaskListOptions struct {
	Statuses      []string
	CorrelationID string
	Children      bool
	Limit         int
}

func (c *Client) ListTasks(ctx context.Context, opts TaskListOptions) ([]*entity.Task, error) {
	q := url.Values{}
	if len(opts.Statuses) > 0 {
		q.Set("status", strings.Join(opts.Statuses, ","))
	}
	if opts.CorrelationID != "" {
		q.Set("correlation", opts.CorrelationID)
	}
	if opts.Children {
		q.Set("children", "true")
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	var out v1.ListResponse[*entity.Task]
	if err := c.do(ctx, http.MethodGet, "/v1/tasks", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (c *Client) CancelTask(ctx context.Context, id string) (*v1.TaskResponse, error) {
	var out v1.TaskResponse
	if err := c.do(ctx, http.MethodPost, "/v1/tasks/"+url.PathEscape(id)+"/cancel", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StreamEvents reads the task's event stream, calling fn per event, until the
// task ends, the server closes the stream or ctx is done. With follow unset
// only the stored history is read.
func (c *Client) StreamEvents(ctx context.Context, id string, follow bool, fn func(*evententity.Event) error) error {
	q := url.Values{}
	if !follow {
		q.Set("follow", "false")
	}
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/tasks/"+url.PathEscape(id)+"/events", q, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	// The shared client timeout would cut long streams.
	stream := *c.HTTPClient
	stream.Timeout = 0
	resp, err := stream.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return decodeError(resp.StatusCode, body)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		case line == "":
			if data.Len() == 0 {
				continue
			}
			var ev evententity.Event
			if err := json.Unmarshal([]byte(data.String()), &ev); err != nil {
				return fmt.Errorf("decode event: %w", err)
			}
			data.Reset()
			if err := fn(&ev); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return nil
}

// PersonaListOptions narrows ListPersonas.
type PersonaListOptions struct {
	Tier     string
	Division string
}

func (c *Client) ListPersonas(ctx context.Context, opts PersonaListOptions) ([]*personaentity.Persona, error) {
	q := url.Values{}
	if opts.Tier != "" {
		q.Set("tier", opts.Tier)
	}
	if opts.Division != "" {
		q.Set("division", opts.Division)
	}
	var out v1.ListResponse[*personaentity.Persona]
	if err := c.do(ctx, http.MethodGet, "/v1/personas", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (c *Client) GetPersona(ctx context.Context, id string) (*personaentity.Persona, error) {
	var out personaentity.Persona
	if err := c.do(ctx, http.MethodGet, "/v1/personas/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) PersonaChildren(ctx context.Context, id string) ([]*personaentity.Persona, error) {
	var out v1.ListResponse[*personaentity.Persona]
	if err := c.do(ctx, http.MethodGet, "/v1/personas/"+url.PathEscape(id)+"/children", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// UpdatePersona applies patch; the server rejects patches that break the hierarchy.
func (c *Client) UpdatePersona(ctx context.Context, id string, patch *personaentity.PersonaPatch) (*personaentity.Persona, error) {
	var out personaentity.Persona
	if err := c.do(ctx, http.MethodPatch, "/v1/personas/"+url.PathEscape(id), nil, patch, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CostQuery narrows the cost endpoints. Since and Until take RFC 3339 or a
// duration back from now.
type CostQuery struct {
	TaskIDs  []string
	Persona  string
	Provider string
	Batch    *bool
	Since    string
	Until    string
	Limit    int
}

func (q CostQuery) values() url.Values {
	v := url.Values{}
	if len(q.TaskIDs) > 0 {
		v.Set("task", strings.Join(q.TaskIDs, ","))
	}
	if q.Persona != "" {
		v.Set("persona", q.Persona)
	}
	if q.Provider != "" {
		v.Set("provider", q.Provider)
	}
	if q.Batch != nil {
		v.Set("batch", strconv.FormatBool(*q.Batch))
	}
	if q.Since != "" {
		v.Set("since", q.Since)
	}
	if q.Until != "" {
		v.Set("until", q.Until)
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	return v
}

func (c *Client) ListCosts(ctx context.Context, q CostQuery) ([]*ledgerentity.CostRecord, error) {
	var out v1.ListResponse[*ledgerentity.CostRecord]
	if err := c.do(ctx, http.MethodGet, "/v1/costs", q.values(), nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (c *Client) CostSummary(ctx context.Context, groupBy string, q CostQuery) (*v1.CostSummaryResponse, error) {
	v := q.values()
	if groupBy != "" {
		v.Set("group_by", groupBy)
	}
	var out v1.CostSummaryResponse
	if err := c.do(ctx, http.MethodGet, "/v1/costs/summary", v, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListBatches(ctx context.Context, provider string, states []string, limit int) ([]*batchentity.BatchJob, error) {
	q := url.Values{}
	if provider != "" {
		q.Set("provider", provider)
	}
	if len(states) > 0 {
		q.Set("state", strings.Join(states, ","))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out v1.ListResponse[*batchentity.BatchJob]
	if err := c.do(ctx, http.MethodGet, "/v1/batches", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (c *Client) GetBatch(ctx context.Context, id string) (*v1.BatchJobResponse, error) {
	var out v1.BatchJobResponse
	if err := c.do(ctx, http.MethodGet, "/v1/batches/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListModels(ctx context.Context) ([]v1.ModelObject, error) {
	var out v1.ListResponse[v1.ModelObject]
	if err := c.do(ctx, http.MethodGet, "/v1/models", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// ServerVersion reads /version.
func (c *Client) ServerVersion(ctx context.Context) (*version.Info, error) {
	var out version.Info
	if err := c.do(ctx, http.MethodGet, "/version", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
