package templates

import (
	"strings"
	"sync"

	"github.com/osteele/liquid"
)

// Renderer renders template content against a variable set.
type Renderer struct {
	engine *liquid.Engine
	cache  sync.Map // template content -> *liquid.Template
}

// NewRenderer creates a renderer with a shared Liquid engine for email.
func NewRenderer() *Renderer {
	return &Renderer{engine: liquid.NewEngine()}
}

// Render renders a template for its channel. Email content goes through
// Liquid; every other channel uses {token} substitution.
func (r *Renderer) Render(t *Template, vars map[string]string) string {
	if t.MessageType == MessageEmail {
		return r.renderLiquid(t.Content, vars)
	}
	return RenderTokens(t.Content, vars)
}

// RenderTokens substitutes {token} placeholders from vars. Token names are
// case-sensitive; unmatched tokens are left literally in the output so a
// typo is visible in the message rather than silently blanked.
func RenderTokens(content string, vars map[string]string) string {
	var b strings.Builder
	b.Grow(len(content))

	for {
		open := strings.IndexByte(content, '{')
		if open < 0 {
			b.WriteString(content)
			break
		}
		closeIdx := strings.IndexByte(content[open:], '}')
		if closeIdx < 0 {
			b.WriteString(content)
			break
		}
		closeIdx += open

		b.WriteString(content[:open])
		token := content[open+1 : closeIdx]
		if val, ok := vars[token]; ok {
			b.WriteString(val)
		} else {
			b.WriteString(content[open : closeIdx+1])
		}
		content = content[closeIdx+1:]
	}
	return b.String()
}

// renderLiquid parses (with caching) and renders email content. On any
// Liquid error the raw content is returned so the send still carries a
// usable body.
func (r *Renderer) renderLiquid(content string, vars map[string]string) string {
	bindings := make(map[string]interface{}, len(vars))
	for k, v := range vars {
		bindings[k] = v
	}

	var tpl *liquid.Template
	if cached, ok := r.cache.Load(content); ok {
		tpl = cached.(*liquid.Template)
	} else {
		parsed, err := r.engine.ParseString(content)
		if err != nil {
			return content
		}
		r.cache.Store(content, parsed)
		tpl = parsed
	}

	out, err := tpl.RenderString(bindings)
	if err != nil {
		return content
	}
	return out
}
