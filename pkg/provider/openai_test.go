package provider_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/papercomputeco/supportdesk/pkg/llm"
	"github.com/papercomputeco/supportdesk/pkg/provider"
)

const textReply = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1700000000,
  "model": "gpt-3.5-turbo-0125",
  "choices": [{
    "index": 0,
    "finish_reason": "stop",
    "message": {"role": "assistant", "content": "We are open 9am-5pm."}
  }],
  "usage": {"prompt_tokens": 12, "completion_tokens": 6, "total_tokens": 18}
}`

const toolReply = `{
  "id": "chatcmpl-2",
  "object": "chat.completion",
  "created": 1700000000,
  "model": "gpt-3.5-turbo-0125",
  "choices": [{
    "index": 0,
    "finish_reason": "tool_calls",
    "message": {
      "role": "assistant",
      "content": null,
      "tool_calls": [{
        "id": "call_abc",
        "type": "function",
        "function": {"name": "read_website_content", "arguments": "{}"}
      }]
    }
  }],
  "usage": {"prompt_tokens": 20, "completion_tokens": 3, "total_tokens": 23}
}`

var _ = Describe("OpenAI", func() {
	var (
		server   *httptest.Server
		captured map[string]any
		reply    string
		status   int
		calls    int
	)

	BeforeEach(func() {
		captured = nil
		reply = textReply
		status = http.StatusOK
		calls = 0

		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer GinkgoRecover()
			calls++

			Expect(r.URL.Path).To(Equal("/v1/chat/completions"))
			Expect(r.Header.Get("Authorization")).To(Equal("Bearer sk-test"))

			body, err := io.ReadAll(r.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(json.Unmarshal(body, &captured)).To(Succeed())

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			io.WriteString(w, reply)
		}))
	})

	AfterEach(func() {
		server.Close()
	})

	newClient := func() *provider.OpenAI {
		p, err := provider.NewOpenAI(provider.OpenAIConfig{
			APIKey:  "sk-test",
			BaseURL: server.URL + "/v1/",
		}, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())
		return p
	}

	It("requires an API key", func() {
		_, err := provider.NewOpenAI(provider.OpenAIConfig{APIKey: "  "}, zap.NewNop())
		Expect(err).To(MatchError(provider.ErrMissingAPIKey))
	})

	It("defaults the model name", func() {
		Expect(newClient().Model()).To(Equal(provider.DefaultModel))
	})

	It("sends messages and sampling options", func() {
		comp, err := newClient().Complete(context.Background(), &llm.CompletionRequest{
			Messages: []llm.Message{
				llm.SystemMessage("You are support."),
				llm.UserMessage("When are you open?"),
			},
			Options: llm.Options{Temperature: llm.Float(0.5), MaxTokens: 500, Stop: []string{"\n\nCustomer:"}},
		})
		Expect(err).NotTo(HaveOccurred())

		Expect(captured["model"]).To(Equal("gpt-3.5-turbo"))
		Expect(captured["temperature"]).To(BeNumerically("==", 0.5))
		Expect(captured["max_tokens"]).To(BeNumerically("==", 500))
		Expect(captured["stop"]).To(Equal([]any{"\n\nCustomer:"}))
		Expect(captured).NotTo(HaveKey("tools"))

		messages := captured["messages"].([]any)
		Expect(messages).To(HaveLen(2))
		Expect(messages[0].(map[string]any)["role"]).To(Equal("system"))
		Expect(messages[1].(map[string]any)["role"]).To(Equal("user"))
		Expect(messages[1].(map[string]any)["content"]).To(Equal("When are you open?"))

		Expect(comp.Content).To(Equal("We are open 9am-5pm."))
		Expect(comp.Model).To(Equal("gpt-3.5-turbo-0125"))
		Expect(comp.FinishReason).To(Equal("stop"))
		Expect(comp.Usage).To(Equal(llm.Usage{PromptTokens: 12, CompletionTokens: 6, TotalTokens: 18, Requests: 1}))
	})

	It("omits stop sequences when none are set", func() {
		_, err := newClient().Complete(context.Background(), &llm.CompletionRequest{
			Messages: []llm.Message{llm.UserMessage("hi")},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(captured).NotTo(HaveKey("stop"))
	})

	It("overrides the model per request", func() {
		_, err := newClient().Complete(context.Background(), &llm.CompletionRequest{
			Model:    "gpt-4o-mini",
			Messages: []llm.Message{llm.UserMessage("hi")},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(captured["model"]).To(Equal("gpt-4o-mini"))
	})

	It("maps tools and tool calls both ways", func() {
		reply = toolReply
		comp, err := newClient().Complete(context.Background(), &llm.CompletionRequest{
			Messages: []llm.Message{
				llm.UserMessage("hours?"),
				{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "call_0", Name: "read_website_content", Arguments: "{}"}}},
				llm.ToolMessage("call_0", "Open 9am-5pm"),
			},
			Tools: []llm.ToolSpec{{
				Name:        "read_website_content",
				Description: "Reads the site",
				Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
			}},
		})
		Expect(err).NotTo(HaveOccurred())

		tools := captured["tools"].([]any)
		Expect(tools).To(HaveLen(1))
		fn := tools[0].(map[string]any)["function"].(map[string]any)
		Expect(fn["name"]).To(Equal("read_website_content"))
		Expect(fn["description"]).To(Equal("Reads the site"))

		messages := captured["messages"].([]any)
		Expect(messages).To(HaveLen(3))
		assistant := messages[1].(map[string]any)
		Expect(assistant["role"]).To(Equal("assistant"))
		toolCalls := assistant["tool_calls"].([]any)
		Expect(toolCalls[0].(map[string]any)["id"]).To(Equal("call_0"))
		toolMsg := messages[2].(map[string]any)
		Expect(toolMsg["role"]).To(Equal("tool"))
		Expect(toolMsg["tool_call_id"]).To(Equal("call_0"))

		Expect(comp.ToolCalls).To(Equal([]llm.ToolCall{{ID: "call_abc", Name: "read_website_content", Arguments: "{}"}}))
		Expect(comp.FinishReason).To(Equal("tool_calls"))
	})

	It("returns API errors without retrying", func() {
		status = http.StatusTooManyRequests
		reply = `{"error": {"message": "Rate limit reached", "type": "requests"}}`

		_, err := newClient().Complete(context.Background(), &llm.CompletionRequest{
			Messages: []llm.Message{llm.UserMessage("hi")},
		})
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("chat completion"))
		Expect(calls).To(Equal(1))
	})

	It("fails when no choices are returned", func() {
		reply = `{"id":"x","object":"chat.completion","created":1,"model":"m","choices":[],"usage":{}}`

		_, err := newClient().Complete(context.Background(), &llm.CompletionRequest{
			Messages: []llm.Message{llm.UserMessage("hi")},
		})
		Expect(err).To(MatchError(ContainSubstring("no choices")))
	})
})
