package crew_test

import (
	"context"
	"errors"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/papercomputeco/supportdesk/pkg/crew"
	"github.com/papercomputeco/supportdesk/pkg/llm"
	"github.com/papercomputeco/supportdesk/pkg/llm/llmtest"
)

type echoTool struct {
	calls []string
	err   error
}

func (t *echoTool) Name() string               { return "echo" }
func (t *echoTool) Description() string        { return "Echoes its arguments" }
func (t *echoTool) Parameters() map[string]any { return map[string]any{"type": "object"} }
func (t *echoTool) Run(_ context.Context, args string) (string, error) {
	t.calls = append(t.calls, args)
	if t.err != nil {
		return "", t.err
	}
	return "echo:" + args, nil
}

func completion(content string, calls ...llm.ToolCall) *llm.Completion {
	return &llm.Completion{
		Content:   content,
		ToolCalls: calls,
		Usage:     llm.Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5, Requests: 1},
	}
}

var _ = Describe("Crew", func() {
	var (
		ctx    context.Context
		model  *llmtest.Model
		writer *crew.Agent
		editor *crew.Agent
	)

	newAgents := func(m llm.Model) {
		writer = &crew.Agent{Role: "Writer", Goal: "Write", Backstory: "You write.", Model: m, Temperature: 0.5, MaxTokens: 500}
		editor = &crew.Agent{Role: "Editor", Goal: "Edit", Backstory: "You edit.", Model: m, Temperature: 0.5, MaxTokens: 300}
	}

	BeforeEach(func() {
		ctx = context.Background()
		model = llmtest.Replies("first draft", "final answer")
		newAgents(model)
	})

	Describe("Kickoff", func() {
		It("fails without tasks", func() {
			_, err := (&crew.Crew{}).Kickoff(ctx, nil)
			Expect(err).To(MatchError(crew.ErrNoTasks))
		})

		It("fails for tasks without an agent", func() {
			c := &crew.Crew{Tasks: []*crew.Task{{Name: "orphan", Description: "x"}}}
			_, err := c.Kickoff(ctx, nil)
			Expect(err).To(MatchError(ContainSubstring("has no agent")))
		})

		It("runs tasks in order and returns the last output", func() {
			draft := &crew.Task{Name: "draft", Description: "Draft it", ExpectedOutput: "Text", Agent: writer}
			review := &crew.Task{Name: "review", Description: "Review it", Agent: editor, Context: []*crew.Task{draft}}
			c := &crew.Crew{Agents: []*crew.Agent{writer, editor}, Tasks: []*crew.Task{draft, review}, Logger: zap.NewNop()}

			out, err := c.Kickoff(ctx, nil)
			Expect(err).NotTo(HaveOccurred())

			Expect(out.Output).To(Equal("final answer"))
			Expect(out.Tasks).To(HaveLen(2))
			Expect(out.Tasks[0].Task).To(Equal("draft"))
			Expect(out.Tasks[0].Agent).To(Equal("Writer"))
			Expect(out.Tasks[0].Raw).To(Equal("first draft"))
			Expect(out.Tasks[1].Agent).To(Equal("Editor"))
			Expect(out.Usage.TotalTokens).To(Equal(int64(30)))
			Expect(out.Usage.Requests).To(Equal(2))
		})

		It("passes the explicit context task output to the next task", func() {
			draft := &crew.Task{Name: "draft", Description: "Draft it", Agent: writer}
			review := &crew.Task{Name: "review", Description: "Review it", Agent: editor, Context: []*crew.Task{draft}}
			c := &crew.Crew{Tasks: []*crew.Task{draft, review}}

			_, err := c.Kickoff(ctx, nil)
			Expect(err).NotTo(HaveOccurred())

			reqs := model.Requests()
			Expect(reqs).To(HaveLen(2))
			Expect(llmtest.LastUserMessage(reqs[0])).NotTo(ContainSubstring("context you're working with"))
			Expect(llmtest.LastUserMessage(reqs[1])).To(ContainSubstring("This is the context you're working with:\nfirst draft"))
		})

		It("sends the agent's persona and sampling options", func() {
			draft := &crew.Task{Name: "draft", Description: "Draft it", Agent: writer}
			c := &crew.Crew{Tasks: []*crew.Task{draft}}

			_, err := c.Kickoff(ctx, nil)
			Expect(err).NotTo(HaveOccurred())

			req := model.Requests()[0]
			Expect(req.Messages[0].Role).To(Equal(llm.RoleSystem))
			Expect(req.Messages[0].Content).To(ContainSubstring("You are Writer. You write."))
			Expect(req.Messages[0].Content).To(ContainSubstring("Your personal goal is: Write"))
			Expect(*req.Options.Temperature).To(Equal(0.5))
			Expect(req.Options.MaxTokens).To(Equal(500))
			Expect(req.Tools).To(BeEmpty())
		})

		It("shares earlier outputs through memory when no context is given", func() {
			first := &crew.Task{Name: "first", Description: "One", Agent: writer}
			second := &crew.Task{Name: "second", Description: "Two", Agent: editor}

			c := &crew.Crew{Tasks: []*crew.Task{first, second}, Memory: true}
			_, err := c.Kickoff(ctx, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(llmtest.LastUserMessage(model.Requests()[1])).To(ContainSubstring("first draft"))
		})

		It("keeps tasks isolated without memory or context", func() {
			first := &crew.Task{Name: "first", Description: "One", Agent: writer}
			second := &crew.Task{Name: "second", Description: "Two", Agent: editor}

			c := &crew.Crew{Tasks: []*crew.Task{first, second}}
			_, err := c.Kickoff(ctx, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(llmtest.LastUserMessage(model.Requests()[1])).NotTo(ContainSubstring("first draft"))
		})

		It("rejects context tasks that have not run yet", func() {
			later := &crew.Task{Name: "later", Description: "Later", Agent: editor}
			early := &crew.Task{Name: "early", Description: "Early", Agent: writer, Context: []*crew.Task{later}}

			_, err := (&crew.Crew{Tasks: []*crew.Task{early, later}}).Kickoff(ctx, nil)
			Expect(err).To(MatchError(ContainSubstring("has not run yet")))
		})

		It("interpolates kickoff inputs", func() {
			task := &crew.Task{Name: "t", Description: "Answer: {inquiry}", ExpectedOutput: "About {inquiry}", Agent: writer}
			out, err := (&crew.Crew{Tasks: []*crew.Task{task}}).Kickoff(ctx, map[string]string{"inquiry": "hours?"})
			Expect(err).NotTo(HaveOccurred())

			prompt := llmtest.LastUserMessage(model.Requests()[0])
			Expect(prompt).To(ContainSubstring("Current Task: Answer: hours?"))
			Expect(prompt).To(ContainSubstring("About hours?"))
			Expect(out.Tasks[0].Description).To(Equal("Answer: hours?"))
		})

		It("wraps model failures", func() {
			failing := llmtest.New(func(int, *llm.CompletionRequest) (*llm.Completion, error) {
				return nil, errors.New("rate limited")
			})
			newAgents(failing)

			task := &crew.Task{Name: "draft", Description: "x", Agent: writer}
			_, err := (&crew.Crew{Tasks: []*crew.Task{task}}).Kickoff(ctx, nil)
			Expect(err).To(MatchError(ContainSubstring("rate limited")))
			Expect(err).To(MatchError(ContainSubstring("task draft")))
		})

		It("fails for agents without a model", func() {
			newAgents(nil)
			task := &crew.Task{Name: "draft", Description: "x", Agent: writer}
			_, err := (&crew.Crew{Tasks: []*crew.Task{task}}).Kickoff(ctx, nil)
			Expect(errors.Is(err, crew.ErrNoModel)).To(BeTrue())
		})

		It("stops when the context is cancelled", func() {
			cancelled, cancel := context.WithCancel(ctx)
			cancel()

			task := &crew.Task{Name: "draft", Description: "x", Agent: writer}
			_, err := (&crew.Crew{Tasks: []*crew.Task{task}}).Kickoff(cancelled, nil)
			Expect(errors.Is(err, context.Canceled)).To(BeTrue())
		})

		It("reports progress steps", func() {
			var steps []crew.Step
			draft := &crew.Task{Name: "draft", Description: "x", Agent: writer}
			review := &crew.Task{Name: "review", Description: "y", Agent: editor}
			c := &crew.Crew{Tasks: []*crew.Task{draft, review}, OnStep: func(s crew.Step) { steps = append(steps, s) }}

			_, err := c.Kickoff(ctx, nil)
			Expect(err).NotTo(HaveOccurred())

			kinds := make([]crew.StepKind, len(steps))
			for i, s := range steps {
				kinds[i] = s.Kind
			}
			Expect(kinds).To(Equal([]crew.StepKind{
				crew.StepTaskStarted, crew.StepTaskFinished,
				crew.StepTaskStarted, crew.StepTaskFinished,
			}))
		})
	})

	Describe("tool calling", func() {
		It("runs requested tools and feeds results back", func() {
			tool := &echoTool{}
			model = llmtest.New(func(n int, req *llm.CompletionRequest) (*llm.Completion, error) {
				if n == 0 {
					Expect(req.Tools).To(HaveLen(1))
					Expect(req.Tools[0].Name).To(Equal("echo"))
					return completion("", llm.ToolCall{ID: "call_1", Name: "echo", Arguments: `{"q":1}`}), nil
				}
				last := req.Messages[len(req.Messages)-1]
				Expect(last.Role).To(Equal(llm.RoleTool))
				Expect(last.ToolCallID).To(Equal("call_1"))
				return completion("answer using " + last.Content), nil
			})
			newAgents(model)

			task := &crew.Task{Name: "draft", Description: "x", Agent: writer, Tools: []crew.Tool{tool}}
			var steps []crew.Step
			c := &crew.Crew{Tasks: []*crew.Task{task}, OnStep: func(s crew.Step) { steps = append(steps, s) }}

			out, err := c.Kickoff(ctx, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Output).To(Equal(`answer using echo:{"q":1}`))
			Expect(tool.calls).To(Equal([]string{`{"q":1}`}))
			Expect(steps).To(ContainElement(crew.Step{Kind: crew.StepToolCalled, Task: "draft", Agent: "Writer", Tool: "echo"}))
		})

		It("reports tool errors to the model instead of failing", func() {
			tool := &echoTool{err: errors.New("site down")}
			model = llmtest.New(func(n int, req *llm.CompletionRequest) (*llm.Completion, error) {
				if n == 0 {
					return completion("", llm.ToolCall{ID: "c", Name: "echo"}), nil
				}
				return completion(req.Messages[len(req.Messages)-1].Content), nil
			})
			newAgents(model)

			task := &crew.Task{Name: "draft", Description: "x", Agent: writer, Tools: []crew.Tool{tool}}
			out, err := (&crew.Crew{Tasks: []*crew.Task{task}}).Kickoff(ctx, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Output).To(Equal("Error: site down"))
		})

		It("answers unknown tools with an error message", func() {
			model = llmtest.New(func(n int, req *llm.CompletionRequest) (*llm.Completion, error) {
				if n == 0 {
					return completion("", llm.ToolCall{ID: "c", Name: "missing"}), nil
				}
				return completion(req.Messages[len(req.Messages)-1].Content), nil
			})
			newAgents(model)

			task := &crew.Task{Name: "draft", Description: "x", Agent: writer}
			out, err := (&crew.Crew{Tasks: []*crew.Task{task}}).Kickoff(ctx, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Output).To(ContainSubstring(`tool "missing" is not available`))
		})

		It("forces a final answer after max iterations", func() {
			tool := &echoTool{}
			model = llmtest.New(func(n int, req *llm.CompletionRequest) (*llm.Completion, error) {
				if len(req.Tools) == 0 {
					return completion("forced answer"), nil
				}
				return completion("", llm.ToolCall{ID: "c", Name: "echo"}), nil
			})
			newAgents(model)
			writer.MaxIterations = 2

			task := &crew.Task{Name: "draft", Description: "x", Agent: writer, Tools: []crew.Tool{tool}}
			out, err := (&crew.Crew{Tasks: []*crew.Task{task}}).Kickoff(ctx, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Output).To(Equal("forced answer"))
			Expect(tool.calls).To(HaveLen(2))
			Expect(model.Requests()).To(HaveLen(3))
		})
	})

	Describe("delegation", func() {
		It("offers no delegation tool when delegation is disabled", func() {
			task := &crew.Task{Name: "draft", Description: "x", Agent: writer}
			c := &crew.Crew{Agents: []*crew.Agent{writer, editor}, Tasks: []*crew.Task{task}}

			_, err := c.Kickoff(ctx, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(model.Requests()[0].Tools).To(BeEmpty())
		})

		It("lets an agent ask a coworker", func() {
			model = llmtest.New(func(n int, req *llm.CompletionRequest) (*llm.Completion, error) {
				switch n {
				case 0:
					Expect(req.Tools).To(HaveLen(1))
					Expect(req.Tools[0].Name).To(Equal(crew.DelegateToolName))
					return completion("", llm.ToolCall{
						ID:        "d1",
						Name:      crew.DelegateToolName,
						Arguments: `{"coworker":"editor","task":"Check spelling","context":"teh text"}`,
					}), nil
				case 1:
					Expect(req.Messages[0].Content).To(ContainSubstring("You are Editor"))
					Expect(llmtest.LastUserMessage(req)).To(ContainSubstring("teh text"))
					return completion("the text"), nil
				default:
					return completion("done: " + req.Messages[len(req.Messages)-1].Content), nil
				}
			})
			newAgents(model)
			writer.AllowDelegation = true

			task := &crew.Task{Name: "draft", Description: "x", Agent: writer}
			var delegated bool
			c := &crew.Crew{
				Agents: []*crew.Agent{writer, editor},
				Tasks:  []*crew.Task{task},
				OnStep: func(s crew.Step) {
					if s.Kind == crew.StepDelegated {
						delegated = true
					}
				},
			}

			out, err := c.Kickoff(ctx, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Output).To(Equal("done: the text"))
			Expect(delegated).To(BeTrue())
		})
	})
})

var _ = Describe("Output", func() {
	It("renders every non-empty task output", func() {
		out := &crew.Output{Tasks: []crew.TaskOutput{{Raw: "draft"}, {Raw: "  "}, {Raw: "review"}}}
		Expect(out.String()).To(Equal("draft\n\nreview"))
	})

	It("renders nil as empty", func() {
		var out *crew.Output
		Expect(out.String()).To(BeEmpty())
	})

	It("leaves Output empty when the last task produced nothing", func() {
		model := llmtest.Replies("draft text", "   ")
		a := &crew.Agent{Role: "A", Model: model}
		t1 := &crew.Task{Name: "one", Description: "x", Agent: a}
		t2 := &crew.Task{Name: "two", Description: "y", Agent: a}

		out, err := (&crew.Crew{Tasks: []*crew.Task{t1, t2}}).Kickoff(context.Background(), nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Output).To(BeEmpty())
		Expect(strings.TrimSpace(out.String())).To(Equal("draft text"))
	})
})
