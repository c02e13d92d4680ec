// Package termrender renders markdown answers for the terminal with glamour.
package termrender

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// DefaultWidth is the wrap width used when the terminal size is unknown.
const DefaultWidth = 80

// Style names understood by glamour.
const (
	StyleDark  = "dark"
	StyleLight = "light"
	StyleASCII = "ascii"
)

// Renderer turns markdown into styled terminal text. The zero value passes
// markdown through unchanged.
type Renderer struct {
	glam *glamour.TermRenderer
}

// New returns a Renderer for out. When out is not a terminal the markdown is
// printed as-is; otherwise the style follows the terminal background.
func New(out io.Writer) (*Renderer, error) {
	f, ok := out.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return &Renderer{}, nil
	}

	width := DefaultWidth
	if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 0 {
		width = w
	}
	return NewStyled(DetectStyle(), width)
}

// NewStyled returns a Renderer with a fixed glamour style and wrap width.
func NewStyled(style string, width int) (*Renderer, error) {
	if width <= 0 {
		width = DefaultWidth
	}
	glam, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return nil, err
	}
	return &Renderer{glam: glam}, nil
}

// DetectStyle picks the dark or light style from the terminal background.
// It queries the terminal, so call it before a full-screen UI takes over.
func DetectStyle() string {
	if termenv.HasDarkBackground() {
		return StyleDark
	}
	return StyleLight
}

// Render styles md. Rendering failures fall back to the raw markdown.
func (r *Renderer) Render(md string) string {
	if r == nil || r.glam == nil {
		return md
	}
	out, err := r.glam.Render(md)
	if err != nil {
		return md
	}
	return strings.Trim(out, "\n")
}
