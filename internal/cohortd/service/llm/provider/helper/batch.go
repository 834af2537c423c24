package helper

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/kiosk404/cohort/internal/cohortd/service/llm/domain/entity"
	"github.com/kiosk404/cohort/internal/cohortd/service/llm/provider/spi"
	"github.com/kiosk404/cohort/pkg/utils/json"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const batchEndpoint = "/v1/chat/completions"

// OpenAIBatchClient drives the /files + /batches endpoints of an
// OpenAI-compatible provider.
type OpenAIBatchClient struct {
	provider *entity.ModelProvider
	client   openai.Client
}

var _ spi.BatchClient = (*OpenAIBatchClient)(nil)

// NewOpenAIBatchClient builds a batch client for provider.
func NewOpenAIBatchClient(provider *entity.ModelProvider, opts ...option.RequestOption) (*OpenAIBatchClient, error) {
	if provider.APIKey == "" {
		return nil, fmt.Errorf("provider %s has no API key for batch submission", provider.ID)
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(provider.APIKey)}
	if !provider.AuthHeader {
		// Azure style deployments take the key in api-key, not a bearer token.
		reqOpts = []option.RequestOption{option.WithHeader("api-key", provider.APIKey), option.WithHeaderDel("Authorization")}
	}
	if provider.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(provider.BaseURL))
	}
	for k, v := range provider.Headers {
		reqOpts = append(reqOpts, option.WithHeader(k, v))
	}
	reqOpts = append(reqOpts, opts...)
	return &OpenAIBatchClient{provider: provider, client: openai.NewClient(reqOpts...)}, nil
}

type batchLine struct {
	CustomID string        `json:"custom_id"`
	Method   string        `json:"method"`
	URL      string        `json:"url"`
	Body     batchLineBody `json:"body"`
}

type batchLineBody struct {
	Model          string            `json:"model"`
	Messages       []batchMessage    `json:"messages"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	Temperature    *float32          `json:"temperature,omitempty"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type batchMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// EncodeBatchInput renders prompts as the JSONL input file.
func EncodeBatchInput(prompts []*entity.BatchPrompt, instances map[string]*entity.ModelInstance) ([]byte, error) {
	var buf bytes.Buffer
	for _, p := range prompts {
		inst, ok := instances[p.Ref.String()]
		if !ok {
			return nil, fmt.Errorf("batch member %s: model %s is not registered", p.CustomID, p.Ref)
		}
		format := entity.ModelResponseFormatText
		if p.JSON {
			format = entity.ModelResponseFormatJSON
		}
		params := entity.ParamsFor(p.Reasoning, inst, format)

		body := batchLineBody{
			Model:       inst.Connection.Model,
			MaxTokens:   params.MaxTokens,
			Temperature: params.Temperature,
		}
		if p.SystemPrompt != "" {
			body.Messages = append(body.Messages, batchMessage{Role: "system", Content: p.SystemPrompt})
		}
		body.Messages = append(body.Messages, batchMessage{Role: "user", Content: p.Prompt})
		if p.JSON {
			body.ResponseFormat = map[string]string{"type": "json_object"}
		}

		line, err := json.Marshal(batchLine{CustomID: p.CustomID, Method: "POST", URL: batchEndpoint, Body: body})
		if err != nil {
			return nil, fmt.Errorf("encode batch member %s: %w", p.CustomID, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// Submit uploads the JSONL input and creates the batch.
func (c *OpenAIBatchClient) Submit(ctx context.Context, prompts []*entity.BatchPrompt, instances map[string]*entity.ModelInstance) (*entity.BatchHandle, error) {
	if len(prompts) == 0 {
		return nil, fmt.Errorf("empty batch for provider %s", c.provider.ID)
	}
	input, err := EncodeBatchInput(prompts, instances)
	if err != nil {
		return nil, err
	}

	file, err := c.client.Files.New(ctx, openai.FileNewParams{
		File:    openai.File(bytes.NewReader(input), "batch.jsonl", "application/jsonl"),
		Purpose: openai.FilePurposeBatch,
	})
	if err != nil {
		return nil, fmt.Errorf("upload batch input to %s: %w", c.provider.ID, err)
	}

	batch, err := c.client.Batches.New(ctx, openai.BatchNewParams{
		CompletionWindow: openai.BatchNewParamsCompletionWindow24h,
		Endpoint:         openai.BatchNewParamsEndpointV1ChatCompletions,
		InputFileID:      file.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("create batch at %s: %w", c.provider.ID, err)
	}

	return &entity.BatchHandle{
		ProviderID:  c.provider.ID,
		RemoteID:    batch.ID,
		SubmittedAt: time.Now(),
		Native:      true,
	}, nil
}

// Poll reads the batch object.
func (c *OpenAIBatchClient) Poll(ctx context.Context, handle *entity.BatchHandle) (*entity.BatchStatus, error) {
	batch, err := c.client.Batches.Get(ctx, handle.RemoteID)
	if err != nil {
		return nil, fmt.Errorf("poll batch %s at %s: %w", handle.RemoteID, c.provider.ID, err)
	}
	status := &entity.BatchStatus{
		State:     entity.RemoteState(batch.Status),
		Total:     int(batch.RequestCounts.Total),
		Completed: int(batch.RequestCounts.Completed),
		Failed:    int(batch.RequestCounts.Failed),
		OutputRef: batch.OutputFileID,
		ErrorRef:  batch.ErrorFileID,
	}
	if len(batch.Errors.Data) > 0 {
		status.Message = batch.Errors.Data[0].Message
	}
	return status, nil
}

type batchOutputLine struct {
	CustomID string `json:"custom_id"`
	Response *struct {
		StatusCode int `json:"status_code"`
		Body       struct {
			Choices []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
				FinishReason string `json:"finish_reason"`
			} `json:"choices"`
			Usage struct {
				PromptTokens        int `json:"prompt_tokens"`
				CompletionTokens    int `json:"completion_tokens"`
				TotalTokens         int `json:"total_tokens"`
				PromptTokensDetails struct {
					CachedTokens int `json:"cached_tokens"`
				} `json:"prompt_tokens_details"`
			} `json:"usage"`
		} `json:"body"`
	} `json:"response"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Fetch downloads both the output and error files.
func (c *OpenAIBatchClient) Fetch(ctx context.Context, handle *entity.BatchHandle, status *entity.BatchStatus) ([]*entity.BatchItemResult, error) {
	var results []*entity.BatchItemResult
	for _, ref := range []string{status.OutputRef, status.ErrorRef} {
		if ref == "" {
			continue
		}
		resp, err := c.client.Files.Content(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("download batch file %s from %s: %w", ref, c.provider.ID, err)
		}
		items, err := ParseBatchOutput(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("parse batch file %s: %w", ref, err)
		}
		results = append(results, items...)
	}
	return results, nil
}

// ParseBatchOutput decodes a JSONL result file. A line that fails to parse
// aborts the whole file so no member is marked done on partial data.
func ParseBatchOutput(r io.Reader) ([]*entity.BatchItemResult, error) {
	var results []*entity.BatchItemResult
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var line batchOutputLine
		if err := json.Unmarshal(raw, &line); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if line.CustomID == "" {
			return nil, fmt.Errorf("line %d: missing custom_id", lineNo)
		}
		item := &entity.BatchItemResult{CustomID: line.CustomID}
		switch {
		case line.Error != nil:
			item.Error = fmt.Sprintf("%s: %s", line.Error.Code, line.Error.Message)
		case line.Response == nil:
			item.Error = "empty response"
		case line.Response.StatusCode >= 300:
			item.Error = fmt.Sprintf("status %d", line.Response.StatusCode)
		case len(line.Response.Body.Choices) == 0:
			item.Error = "no choices in response"
		default:
			choice := line.Response.Body.Choices[0]
			if choice.FinishReason == "content_filter" {
				item.Error = "content_filter: response withheld by provider policy"
				break
			}
			u := line.Response.Body.Usage
			item.Text = choice.Message.Content
			item.Usage = &entity.TokenUsage{
				PromptTokens:     u.PromptTokens,
				CompletionTokens: u.CompletionTokens,
				CachedTokens:     u.PromptTokensDetails.CachedTokens,
				TotalTokens:      u.TotalTokens,
			}
		}
		results = append(results, item)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// Cancel asks the provider to stop the batch.
func (c *OpenAIBatchClient) Cancel(ctx context.Context, handle *entity.BatchHandle) error {
	if _, err := c.client.Batches.Cancel(ctx, handle.RemoteID); err != nil {
		return fmt.Errorf("cancel batch %s at %s: %w", handle.RemoteID, c.provider.ID, err)
	}
	return nil
}
