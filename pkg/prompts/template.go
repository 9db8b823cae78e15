package prompts

import (
	"bytes"
	"sync"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/cockroachdb/errors"
)

// FormatPrompter formats a prompt from input values
type FormatPrompter interface {
	Format(values map[string]any) (string, error)
	GetInputVariables() []string
}

// PromptTemplate is a Go template with sprig functions
type PromptTemplate struct {
	Template string
	// InputVariables must be present in the values
	InputVariables []string
	// PartialVariables are merged under the values
	PartialVariables map[string]any

	once   sync.Once
	parsed *template.Template
	err    error
}

var _ FormatPrompter = (*PromptTemplate)(nil)

// NewPromptTemplate returns PromptTemplate
func NewPromptTemplate(tmpl string, inputVars []string) *PromptTemplate {
	return &PromptTemplate{
		Template:       tmpl,
		InputVariables: inputVars,
	}
}

// GetInputVariables returns the required input variables
func (p *PromptTemplate) GetInputVariables() []string {
	return p.InputVariables
}

// Format executes the template with the values
func (p *PromptTemplate) Format(values map[string]any) (string, error) {
	p.once.Do(func() {
		p.parsed, p.err = template.New("prompt").
			Option("missingkey=error").
			Funcs(sprig.TxtFuncMap()).
			Parse(p.Template)
		if p.err != nil {
			p.err = errors.Wrap(p.err, "failed to parse prompt template")
		}
	})
	if p.err != nil {
		return "", p.err
	}

	for _, v := range p.InputVariables {
		if _, ok := values[v]; !ok {
			return "", errors.Newf("missing input variable: %s", v)
		}
	}

	data := make(map[string]any, len(p.PartialVariables)+len(values))
	for k, v := range p.PartialVariables {
		data[k] = v
	}
	for k, v := range values {
		data[k] = v
	}

	var buf bytes.Buffer
	if err := p.parsed.Execute(&buf, data); err != nil {
		return "", errors.Wrap(err, "failed to format prompt")
	}
	return buf.String(), nil
}
