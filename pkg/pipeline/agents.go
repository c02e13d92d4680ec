package pipeline

import (
	"github.com/papercomputeco/supportdesk/pkg/crew"
	"github.com/papercomputeco/supportdesk/pkg/llm"
)

const (
	draftTaskName  = "inquiry_resolution"
	reviewTaskName = "qa_review"
)

// newSupportAgent builds the drafting agent. It may not delegate.
func newSupportAgent(model llm.Model, cfg Config) *crew.Agent {
	return &crew.Agent{
		Role:            "Senior Support Representative",
		Goal:            "Answer user questions using only provided website documentation.",
		Backstory:       "You're a helpful support agent. Use the scraped website to assist users. Don't hallucinate.",
		Model:           model,
		ModelName:       cfg.Model.Model,
		Temperature:     cfg.Support.Temperature,
		MaxTokens:       cfg.Support.MaxTokens,
		AllowDelegation: false,
		MaxIterations:   cfg.MaxIterations,
	}
}

// newReviewAgent builds the reviewing agent. It has no tools and may not
// delegate.
func newReviewAgent(model llm.Model, cfg Config) *crew.Agent {
	return &crew.Agent{
		Role:            "Support QA Reviewer",
		Goal:            "Ensure support quality and accuracy based strictly on website content.",
		Backstory:       "You review support responses to make sure they are helpful and accurate.",
		Model:           model,
		ModelName:       cfg.Model.Model,
		Temperature:     cfg.Reviewer.Temperature,
		MaxTokens:       cfg.Reviewer.MaxTokens,
		AllowDelegation: false,
		MaxIterations:   cfg.MaxIterations,
	}
}

// Kickoff input keys substituted into the task descriptions.
const (
	inputInquiry        = "inquiry"
	inputHistory        = "history"
	inputWebsite        = "website_url"
	inputWebsiteContent = "website_content"
)

const draftDescription = `You are a support assistant responding only using information from a scraped website.

Website ({website_url}) content:
{website_content}

Previous conversation:
{history}

User Prompt:
{inquiry}

Respond with a clear and complete answer in plain text, based only on the website content.`

const reviewDescription = `Review the support agent's answer for accuracy and clarity based only on website content.

Question:
{inquiry}

Return a final improved plain text answer. No extra formatting.`

// newDraftTask binds the drafting work to the support agent and the
// scraping tool for the target site.
func newDraftTask(agent *crew.Agent, scrapeTool crew.Tool) *crew.Task {
	return &crew.Task{
		Name:           draftTaskName,
		Description:    draftDescription,
		ExpectedOutput: "Plain text answer only.",
		Tools:          []crew.Tool{scrapeTool},
		Agent:          agent,
	}
}

// newReviewTask reviews the draft, which it receives as explicit context.
func newReviewTask(agent *crew.Agent, draft *crew.Task) *crew.Task {
	return &crew.Task{
		Name:           reviewTaskName,
		Description:    reviewDescription,
		ExpectedOutput: "Plain text final answer only.",
		Agent:          agent,
		Context:        []*crew.Task{draft},
	}
}
