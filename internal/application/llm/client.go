// Package llm wraps the chat-completion call that produces a column-mapping
// artifact for one spreadsheet sheet, once per sheet, with no further calls
// during row ingestion.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"

	"github.com/colmap/colmap/internal/domain"
	"github.com/colmap/colmap/internal/domain/errs"
)

const systemPrompt = "You are a data extraction assistant. You analyze spreadsheet sample rows " +
	"and map each column to the most appropriate field from the supplied field list. " +
	"Respond with JSON only, no prose, no markdown fences."

// FieldSpec describes one target field for the mapping prompt.
type FieldSpec struct {
	Name     string
	Label    string
	Type     domain.FieldType
	Required bool
	Hint     string
}

// Client resolves a column mapping for a sample of spreadsheet rows.
type Client struct {
	api        *openai.Client
	model      string
	timeout    time.Duration
	policy     retryPolicy
}

// NewClient builds a Client. apiKey is resolved by the caller (config,
// request override, or process default) before construction, mirroring the
// resolution order the teacher's completion executor uses for its own
// OpenAI client.
func NewClient(apiKey, model string, timeout time.Duration, maxRetries int) *Client {
	return &Client{
		api:     openai.NewClient(apiKey),
		model:   model,
		timeout: timeout,
		policy:  defaultRetryPolicy(maxRetries),
	}
}

// mappingResponse is the wire shape expected from the model: a JSON object
// whose column_mappings keys may arrive as either JSON numbers or numeric
// strings, tolerated the same way on both sides.
type mappingResponse struct {
	HeaderRow        int             `json:"header_row"`
	ColumnMappings   map[string]string `json:"column_mappings"`
	Confidence       *float64        `json:"confidence"`
	UnmatchedColumns []int           `json:"unmatched_columns"`
}

// AnalyzeColumnMapping sends one sample (a small run of rows from the
// sheet, formatted "[row N] c1 | c2 | ...") and a field catalog, and returns
// the resolved ColumnMapping. Retries on transient transport errors with
// exponential backoff; a single call must not exceed c.timeout.
func (c *Client) AnalyzeColumnMapping(ctx context.Context, projectID, sheetName string, sampleRows [][]string, fields []FieldSpec) (domain.ColumnMapping, error) {
	prompt := buildMappingPrompt(sampleRows, fields)

	attempts := c.policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return domain.ColumnMapping{}, ctx.Err()
			case <-time.After(c.policy.delay(attempt)):
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		raw, err := c.call(callCtx, prompt)
		cancel()
		if err == nil {
			mapping, parseErr := parseMappingJSON(raw)
			if parseErr != nil {
				return domain.ColumnMapping{}, errs.NewMappingError(projectID, sheetName, "malformed mapping response", parseErr, false)
			}
			return mapping, nil
		}

		lastErr = err
		log.Warn().Str("project_id", projectID).Str("sheet", sheetName).Int("attempt", attempt).Err(err).Msg("column mapping call failed, retrying")
	}

	return domain.ColumnMapping{}, errs.NewMappingError(projectID, sheetName, "mapping call exhausted retries", lastErr, true)
}

func (c *Client) call(ctx context.Context, prompt string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, req)
	log.Debug().Dur("latency", time.Since(start)).Msg("column mapping call completed")
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty completion response")
	}
	return resp.Choices[0].Message.Content, nil
}

// TestConnection issues a minimal completion call to validate that the
// configured API key and model are usable before a processing job is
// submitted against them.
func (c *Client) TestConnection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	_, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     c.model,
		MaxTokens: 1,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: "ping"},
		},
	})
	return err
}

func buildMappingPrompt(sampleRows [][]string, fields []FieldSpec) string {
	var b strings.Builder
	b.WriteString("Sample rows:\n")
	for i, row := range sampleRows {
		b.WriteString(fmt.Sprintf("[row %d] %s\n", i+1, strings.Join(row, " | ")))
	}
	b.WriteString("\nFields:\n")
	for _, f := range fields {
		marker := ""
		if f.Required {
			marker = " (required)"
		}
		b.WriteString(fmt.Sprintf("- %s%s: %s", f.Name, marker, f.Label))
		if f.Type != "" {
			b.WriteString(fmt.Sprintf(" [%s]", f.Type))
		}
		if f.Hint != "" {
			b.WriteString(" — " + f.Hint)
		}
		b.WriteString("\n")
	}
	b.WriteString("\nReturn JSON: {\"header_row\": int, \"column_mappings\": {\"<column index>\": \"<field name>\"}, " +
		"\"confidence\": float, \"unmatched_columns\": [int, ...]}. Column indices are 0-based. " +
		"header_row is the 1-based sample row that holds column headers, or 0 if none of the sample rows is a header.")
	return b.String()
}

// parseMappingJSON tolerates markdown code fences around the JSON body and
// string-or-int column-mapping keys, matching the leniency the mapping
// contract requires of any producing model.
func parseMappingJSON(raw string) (domain.ColumnMapping, error) {
	body := extractJSON(raw)

	var resp mappingResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return domain.ColumnMapping{}, fmt.Errorf("decode mapping json: %w", err)
	}

	mapping := domain.ColumnMapping{
		HeaderRow:        resp.HeaderRow,
		ColumnToField:    make(map[int]string, len(resp.ColumnMappings)),
		UnmatchedColumns: resp.UnmatchedColumns,
	}
	if resp.Confidence != nil {
		mapping.Confidence = *resp.Confidence
	} else {
		mapping.Confidence = 0.5
	}

	for key, field := range resp.ColumnMappings {
		idx, err := strconv.Atoi(strings.TrimSpace(key))
		if err != nil {
			continue
		}
		mapping.ColumnToField[idx] = field
	}

	return mapping, nil
}

func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if nl := strings.IndexByte(s, '\n'); nl != -1 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
