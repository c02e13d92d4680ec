package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/papercomputeco/supportdesk/pkg/crew"
	"github.com/papercomputeco/supportdesk/pkg/llm"
	"github.com/papercomputeco/supportdesk/pkg/llm/llmtest"
	"github.com/papercomputeco/supportdesk/pkg/pipeline"
	"github.com/papercomputeco/supportdesk/pkg/progress"
	"github.com/papercomputeco/supportdesk/pkg/provider"
	"github.com/papercomputeco/supportdesk/pkg/scrape"
)

const hoursPage = `<html><head><title>Acme</title></head>
<body><h1>Acme Store</h1><p>Open 9am-5pm, Monday to Friday.</p></body></html>`

func testConfig() pipeline.Config {
	cfg := pipeline.DefaultConfig()
	cfg.Model.APIKey = "sk-test"
	return cfg
}

var _ = Describe("Pipeline", func() {
	var (
		ctx     context.Context
		server  *httptest.Server
		fetches atomic.Int32
		model   *llmtest.Model
		p       *pipeline.Pipeline
	)

	newPipeline := func(timeout time.Duration) *pipeline.Pipeline {
		fetcher := scrape.NewFetcher(scrape.Config{Timeout: timeout}, zap.NewNop())
		return pipeline.New(fetcher, zap.NewNop(), pipeline.WithModelFactory(func(provider.OpenAIConfig) (llm.Model, error) {
			return model, nil
		}))
	}

	BeforeEach(func() {
		ctx = context.Background()
		fetches.Store(0)
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fetches.Add(1)
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, hoursPage)
		}))
		model = llmtest.Replies(
			"Draft: the store is open 9am-5pm.",
			"Our business hours are 9am-5pm, Monday to Friday.",
		)
		p = newPipeline(time.Second)
	})

	AfterEach(func() {
		server.Close()
	})

	Describe("Run", func() {
		It("answers from the reviewed output", func() {
			result := p.Run(ctx, pipeline.Request{
				Config:  testConfig(),
				Inquiry: "What are your business hours?",
				URL:     server.URL,
			})

			Expect(result.Err).NotTo(HaveOccurred())
			Expect(result.Failed()).To(BeFalse())
			Expect(result.Stage).To(Equal(pipeline.StageSucceeded))
			Expect(result.Answer).To(ContainSubstring("9am-5pm"))
			Expect(result.Answer).To(Equal("Our business hours are 9am-5pm, Monday to Friday."))
			Expect(result.RunID).NotTo(BeEmpty())
			Expect(result.Usage.TotalTokens).To(Equal(int64(30)))
			Expect(result.Usage.Requests).To(Equal(2))
		})

		It("walks every stage in order", func() {
			result := p.Run(ctx, pipeline.Request{
				Config:  testConfig(),
				Inquiry: "What are your business hours?",
				URL:     server.URL,
			})

			Expect(result.Transitions).To(Equal([]pipeline.Stage{
				pipeline.StageIdle,
				pipeline.StageFetching,
				pipeline.StageContextBuilding,
				pipeline.StageAgentsConfigured,
				pipeline.StageTasksBuilt,
				pipeline.StageExecuting,
				pipeline.StageSucceeded,
			}))
		})

		It("records at most 15 progress labels ending with completion", func() {
			log := progress.New(progress.DefaultLimit)
			result := p.Run(ctx, pipeline.Request{
				Config:   testConfig(),
				Inquiry:  "What are your business hours?",
				URL:      server.URL,
				Progress: log,
			})

			Expect(len(result.Progress)).To(BeNumerically("<=", 15))
			Expect(result.Progress).To(Equal(log.Labels()))
			Expect(result.Progress).To(ContainElement("Website content retrieved successfully!"))
			Expect(result.Progress).To(ContainElement("QA agent is reviewing the response..."))
			Expect(result.Progress[len(result.Progress)-1]).To(Equal("All tasks completed successfully."))
		})

		It("hands the full website text, the inquiry and an empty history marker to the draft", func() {
			p.Run(ctx, pipeline.Request{
				Config:  testConfig(),
				Inquiry: "What are your business hours?",
				URL:     server.URL,
			})

			requests := model.Requests()
			Expect(requests).To(HaveLen(2))

			draft := llmtest.LastUserMessage(requests[0])
			Expect(draft).To(ContainSubstring("Acme Store Open 9am-5pm, Monday to Friday."))
			Expect(draft).To(ContainSubstring("What are your business hours?"))
			Expect(draft).To(ContainSubstring("Previous conversation:\nNone"))
			Expect(requests[0].Tools).To(HaveLen(1))
			Expect(requests[0].Tools[0].Name).To(Equal(scrape.ToolName))
			Expect(*requests[0].Options.Temperature).To(Equal(0.5))
			Expect(requests[0].Options.MaxTokens).To(Equal(500))
		})

		It("passes the draft to the reviewer as explicit context", func() {
			p.Run(ctx, pipeline.Request{
				Config:  testConfig(),
				Inquiry: "What are your business hours?",
				URL:     server.URL,
			})

			review := model.Requests()[1]
			Expect(llmtest.LastUserMessage(review)).To(ContainSubstring("This is the context you're working with:\nDraft: the store is open 9am-5pm."))
			Expect(review.Tools).To(BeEmpty())
			Expect(review.Options.MaxTokens).To(Equal(300))
		})

		It("renders prior turns into the draft prompt chronologically", func() {
			p.Run(ctx, pipeline.Request{
				Config:  testConfig(),
				Inquiry: "And on weekends?",
				URL:     server.URL,
				History: []llm.ConversationTurn{
					{Role: llm.RoleUser, Text: "Hi"},
					{Role: llm.RoleAssistant, Text: "Hello, how can I help?"},
				},
			})

			draft := llmtest.LastUserMessage(model.Requests()[0])
			Expect(draft).To(ContainSubstring("User: Hi\nAssistant: Hello, how can I help?"))
		})

		It("fetches the website once per submission", func() {
			req := pipeline.Request{Config: testConfig(), Inquiry: "Hours?", URL: server.URL}
			p.Run(ctx, req)
			model = llmtest.Replies("draft", "final")
			p.Run(ctx, req)

			Expect(fetches.Load()).To(Equal(int32(2)))
		})

		Context("when the website times out", func() {
			BeforeEach(func() {
				server.Close()
				server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					select {
					case <-r.Context().Done():
					case <-time.After(2 * time.Second):
					}
				}))
				p = newPipeline(50 * time.Millisecond)
			})

			It("fails with a fetch error shown as the answer", func() {
				result := p.Run(ctx, pipeline.Request{
					Config:  testConfig(),
					Inquiry: "What are your business hours?",
					URL:     server.URL,
				})

				Expect(result.Failed()).To(BeTrue())
				Expect(pipeline.KindOf(result.Err)).To(Equal(pipeline.KindFetch))
				Expect(result.Answer).To(HavePrefix(pipeline.ErrorMarker))
				Expect(result.Progress[len(result.Progress)-1]).To(Equal(result.Answer))
				Expect(model.Requests()).To(BeEmpty())

				var fetchErr *scrape.FetchError
				Expect(errors.As(result.Err, &fetchErr)).To(BeTrue())
				Expect(fetchErr.Timeout()).To(BeTrue())

				var perr *pipeline.Error
				Expect(errors.As(result.Err, &perr)).To(BeTrue())
				Expect(perr.Stage).To(Equal(pipeline.StageFetching))
			})
		})

		Context("when no API key is configured", func() {
			It("fails before fetching", func() {
				result := p.Run(ctx, pipeline.Request{
					Config:  pipeline.DefaultConfig(),
					Inquiry: "What are your business hours?",
					URL:     server.URL,
				})

				Expect(result.Failed()).To(BeTrue())
				Expect(pipeline.KindOf(result.Err)).To(Equal(pipeline.KindConfiguration))
				Expect(errors.Is(result.Err, provider.ErrMissingAPIKey)).To(BeTrue())
				Expect(fetches.Load()).To(BeZero())
				Expect(result.Transitions).To(Equal([]pipeline.Stage{pipeline.StageIdle, pipeline.StageFailed}))
			})
		})

		Context("when the inquiry is blank", func() {
			It("fails without fetching", func() {
				result := p.Run(ctx, pipeline.Request{Config: testConfig(), Inquiry: "   ", URL: server.URL})

				Expect(errors.Is(result.Err, pipeline.ErrEmptyInquiry)).To(BeTrue())
				Expect(fetches.Load()).To(BeZero())
			})
		})

		Context("when the model client cannot be created", func() {
			It("reports a configuration error for a missing key", func() {
				fetcher := scrape.NewFetcher(scrape.Config{}, zap.NewNop())
				p = pipeline.New(fetcher, zap.NewNop(), pipeline.WithModelFactory(func(provider.OpenAIConfig) (llm.Model, error) {
					return nil, provider.ErrMissingAPIKey
				}))

				result := p.Run(ctx, pipeline.Request{Config: testConfig(), Inquiry: "Hours?", URL: server.URL})
				Expect(pipeline.KindOf(result.Err)).To(Equal(pipeline.KindConfiguration))
			})
		})

		Context("when the model fails", func() {
			BeforeEach(func() {
				model = llmtest.New(func(int, *llm.CompletionRequest) (*llm.Completion, error) {
					return nil, errors.New("upstream unavailable")
				})
			})

			It("fails with a pipeline error", func() {
				result := p.Run(ctx, pipeline.Request{Config: testConfig(), Inquiry: "Hours?", URL: server.URL})

				Expect(result.Failed()).To(BeTrue())
				Expect(pipeline.KindOf(result.Err)).To(Equal(pipeline.KindPipeline))
				Expect(result.Answer).To(HavePrefix(pipeline.ErrorMarker))
				Expect(result.Answer).To(ContainSubstring("upstream unavailable"))
			})
		})

		Context("when the reviewer returns nothing", func() {
			BeforeEach(func() {
				model = llmtest.Replies("Open 9am-5pm on weekdays.", "")
			})

			It("falls back to the stringified crew result", func() {
				result := p.Run(ctx, pipeline.Request{Config: testConfig(), Inquiry: "Hours?", URL: server.URL})

				Expect(result.Err).NotTo(HaveOccurred())
				Expect(result.Answer).To(Equal("Open 9am-5pm on weekdays."))
			})
		})

		Context("when every task returns nothing", func() {
			BeforeEach(func() {
				model = llmtest.Replies("", "")
			})

			It("fails with an empty answer error", func() {
				result := p.Run(ctx, pipeline.Request{Config: testConfig(), Inquiry: "Hours?", URL: server.URL})

				Expect(errors.Is(result.Err, pipeline.ErrEmptyAnswer)).To(BeTrue())
				Expect(pipeline.KindOf(result.Err)).To(Equal(pipeline.KindPipeline))
			})
		})
	})

	Describe("Answer", func() {
		It("prefers the structured output", func() {
			out := &crew.Output{
				Output: "final",
				Tasks:  []crew.TaskOutput{{Raw: "draft"}, {Raw: "final"}},
			}
			Expect(pipeline.Answer(out)).To(Equal("final"))
		})

		It("falls back to the string form", func() {
			out := &crew.Output{Tasks: []crew.TaskOutput{{Raw: "draft"}, {Raw: ""}}}
			Expect(pipeline.Answer(out)).To(Equal("draft"))
		})

		It("is empty for a nil output", func() {
			Expect(pipeline.Answer(nil)).To(BeEmpty())
		})
	})

	Describe("ErrorText", func() {
		It("prefixes the error marker", func() {
			Expect(pipeline.ErrorText(errors.New("boom"))).To(Equal("❌ Error: boom"))
		})
	})
})
