package openai

import (
	"bytes"
	"encoding/json"
	"net/http"
	"sort"
	"strings"

	"github.com/promptlane/agentloop/internal/sse"
	"github.com/promptlane/agentloop/provider"
)

type stream struct {
	httpResp *http.Response
	dec      *sse.Decoder

	curDelta provider.Delta
	final    *provider.Response
	err      error

	textBuilder      strings.Builder
	toolCallsByIndex map[int]*toolCallAgg
	finishReason     provider.FinishReason
	usage            provider.Usage
}

type toolCallAgg struct {
	id   string
	name string
	args strings.Builder
}

func newStream(httpResp *http.Response) *stream {
	return &stream{
		httpResp:         httpResp,
		dec:              sse.NewDecoder(httpResp.Body),
		toolCallsByIndex: map[int]*toolCallAgg{},
	}
}

var _ provider.Stream = (*stream)(nil)

func (s *stream) Next() bool {
	if s.err != nil || s.final != nil {
		return false
	}
	s.curDelta = provider.Delta{}

	for s.dec.Next() {
		data := bytes.TrimSpace(s.dec.Data())
		if len(data) == 0 {
			continue
		}
		if string(data) == "[DONE]" {
			s.finalize()
			return false
		}

		var er errorResponse
		if json.Unmarshal(data, &er) == nil && er.Error.Message != "" {
			s.err = &provider.Error{
				Provider: "openai",
				Code:     stringifyCode(er.Error.Code, er.Error.Type),
				Message:  er.Error.Message,
			}
			return false
		}

		var chunk chatCompletionChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			s.err = &provider.Error{Provider: "openai", Code: "decode_error", Message: err.Error(), Cause: err}
			return false
		}

		if len(chunk.Choices) == 0 {
			continue
		}
		c := chunk.Choices[0]

		if c.Delta.Content != nil {
			s.textBuilder.WriteString(*c.Delta.Content)
			s.curDelta.Text = *c.Delta.Content
		}

		for _, tc := range c.Delta.ToolCalls {
			agg, ok := s.toolCallsByIndex[tc.Index]
			if !ok {
				agg = &toolCallAgg{}
				s.toolCallsByIndex[tc.Index] = agg
			}
			if tc.ID != "" {
				agg.id = tc.ID
			}
			if tc.Function.Name != "" {
				agg.name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				agg.args.WriteString(tc.Function.Arguments)
			}
			s.curDelta.ToolCalls = append(s.curDelta.ToolCalls, provider.ToolCallDelta{
				Index:          tc.Index,
				ID:             tc.ID,
				Name:           tc.Function.Name,
				ArgumentsDelta: tc.Function.Arguments,
			})
		}

		if c.FinishReason != nil && *c.FinishReason != "" {
			s.finishReason = provider.FinishReason(*c.FinishReason)
		}
		if chunk.Usage != nil {
			s.usage = provider.Usage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
			}
		}

		if s.curDelta.Text != "" || len(s.curDelta.ToolCalls) > 0 {
			return true
		}
	}

	if err := s.dec.Err(); err != nil {
		code, retryable := classifyNetworkErr(err)
		s.err = &provider.Error{Provider: "openai", Code: code, Message: err.Error(), Retryable: retryable, Cause: err}
		return false
	}
	s.finalize()
	return false
}

func (s *stream) Delta() provider.Delta     { return s.curDelta }
func (s *stream) Final() *provider.Response { return s.final }
func (s *stream) Err() error                { return s.err }

func (s *stream) Close() error {
	if s.httpResp != nil && s.httpResp.Body != nil {
		return s.httpResp.Body.Close()
	}
	return nil
}

func (s *stream) finalize() {
	if s.final != nil {
		return
	}

	var parts []provider.ContentPart
	if txt := s.textBuilder.String(); txt != "" {
		parts = append(parts, provider.TextPart{Text: txt})
	}

	if len(s.toolCallsByIndex) > 0 {
		indices := make([]int, 0, len(s.toolCallsByIndex))
		for i := range s.toolCallsByIndex {
			indices = append(indices, i)
		}
		sort.Ints(indices)
		for _, i := range indices {
			agg := s.toolCallsByIndex[i]
			if agg == nil || agg.name == "" {
				continue
			}
			parts = append(parts, provider.ToolCallPart{
				ID:   agg.id,
				Name: agg.name,
				Args: json.RawMessage(agg.args.String()),
			})
		}
	}

	s.final = &provider.Response{
		Message: provider.Message{
			Role:    provider.RoleAssistant,
			Content: parts,
		},
		FinishReason: s.finishReason,
		Usage:        s.usage,
	}
}
