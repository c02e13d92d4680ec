package scrape

import (
	"context"
	"fmt"
)

// ToolName is the name under which the scraping capability is offered to a model.
const ToolName = "read_website_content"

// Tool is the scraping capability bound to one URL. A model invokes it to
// re-read the target site while drafting an answer.
type Tool struct {
	fetcher *Fetcher
	url     string
}

// NewTool binds a scraping tool to url.
func NewTool(fetcher *Fetcher, url string) *Tool {
	return &Tool{fetcher: fetcher, url: url}
}

// Name implements crew.Tool.
func (t *Tool) Name() string {
	return ToolName
}

// Description implements crew.Tool.
func (t *Tool) Description() string {
	return fmt.Sprintf("A tool that can be used to read %s's content. Takes no arguments.", t.url)
}

// Parameters implements crew.Tool. The tool takes no arguments.
func (t *Tool) Parameters() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}

// Run fetches the bound URL and returns its text.
func (t *Tool) Run(ctx context.Context, _ string) (string, error) {
	doc, err := t.fetcher.Fetch(ctx, t.url)
	if err != nil {
		return "", err
	}
	return doc.Text, nil
}

// URL returns the bound URL.
func (t *Tool) URL() string {
	return t.url
}
