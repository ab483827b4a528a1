package deps

import (
	"bytes"
	"context"
	"fmt"

	gomd "github.com/gomarkdown/markdown"
	gomdhtml "github.com/gomarkdown/markdown/html"
	gomdparser "github.com/gomarkdown/markdown/parser"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

const (
	LibMarkdown  = "markdown"
	LibSanitizer = "sanitizer"
)

// Func adapts a load function to the Library interface
type Func struct {
	LibName  string
	Provides func(Capabilities) bool
	LoadFunc func(ctx context.Context) (Capabilities, error)
}

func (f Func) Name() string                                   { return f.LibName }
func (f Func) Present(caps Capabilities) bool                 { return f.Provides(caps) }
func (f Func) Load(ctx context.Context) (Capabilities, error) { return f.LoadFunc(ctx) }

func hasMarkdown(caps Capabilities) bool  { return caps.Markdown != nil }
func hasSanitizer(caps Capabilities) bool { return caps.Sanitizer != nil }

// MarkdownLibrary returns the loader for the named Markdown engine
// ("goldmark" or "gomarkdown").
func MarkdownLibrary(engine string) Library {
	return Func{
		LibName:  LibMarkdown,
		Provides: hasMarkdown,
		LoadFunc: func(ctx context.Context) (Capabilities, error) {
			if err := ctx.Err(); err != nil {
				return Capabilities{}, err
			}
			switch engine {
			case "", "goldmark":
				return Capabilities{Markdown: NewGoldmark()}, nil
			case "gomarkdown":
				return Capabilities{Markdown: Gomarkdown{}}, nil
			default:
				return Capabilities{}, fmt.Errorf("unknown markdown engine: %s", engine)
			}
		},
	}
}

// SanitizerLibrary returns the loader for the bluemonday UGC policy
func SanitizerLibrary() Library {
	return Func{
		LibName:  LibSanitizer,
		Provides: hasSanitizer,
		LoadFunc: func(ctx context.Context) (Capabilities, error) {
			if err := ctx.Err(); err != nil {
				return Capabilities{}, err
			}
			return Capabilities{Sanitizer: NewBluemonday()}, nil
		},
	}
}

// DefaultRegistry registers the Markdown engine and the sanitizer
func DefaultRegistry(r *Registry, engine string) *Registry {
	r.Register(MarkdownLibrary(engine))
	r.Register(SanitizerLibrary())
	return r
}

// Goldmark renders GFM with hard line breaks. Raw HTML is passed through and
// left for the sanitizer.
type Goldmark struct {
	md goldmark.Markdown
}

func NewGoldmark() *Goldmark {
	return &Goldmark{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(
				html.WithHardWraps(),
				html.WithUnsafe(),
			),
		),
	}
}

func (g *Goldmark) Convert(src string) (string, error) {
	var buf bytes.Buffer
	if err := g.md.Convert([]byte(src), &buf); err != nil {
		return "", fmt.Errorf("goldmark: %w", err)
	}
	return buf.String(), nil
}

// Gomarkdown renders with gomarkdown's common extensions and hard line breaks.
type Gomarkdown struct{}

func (Gomarkdown) Convert(src string) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("gomarkdown: %v", r)
		}
	}()

	// Parsers keep state between blocks and cannot be shared.
	p := gomdparser.NewWithExtensions(gomdparser.CommonExtensions | gomdparser.HardLineBreak)
	renderer := gomdhtml.NewRenderer(gomdhtml.RendererOptions{Flags: gomdhtml.CommonFlags})
	return string(gomd.ToHTML([]byte(src), p, renderer)), nil
}

// Bluemonday sanitizes with the user-generated-content policy.
type Bluemonday struct {
	policy *bluemonday.Policy
}

func NewBluemonday() *Bluemonday {
	return &Bluemonday{policy: bluemonday.UGCPolicy()}
}

func (b *Bluemonday) Sanitize(s string) string {
	return b.policy.Sanitize(s)
}
