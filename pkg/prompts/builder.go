package prompts

import (
	"fmt"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/reagent/parser"
	"github.com/effective-security/reagent/pkg/llmutils"
	"github.com/effective-security/reagent/tools"
)

// DefaultPreamble is the role given to the model
const DefaultPreamble = `You are a helpful assistant that solves tasks step by step.
You can use tools to gather information or compute results.`

// DefaultTemplate renders the preamble, the tool catalog, the reply format,
// the history and the task, in this order.
const DefaultTemplate = `{{ .Preamble | trim }}

{{ if .Tools -}}
You have access to the following tools:

{{ .Tools }}
{{- else -}}
No tools are available.
{{- end }}

Use the following format:

Thought: reason about what to do next
Action: {"name": "<tool name>", "arguments": {<arguments as a JSON object>}}
Observation: the result of the action
... (Thought, Action and Observation can repeat)
Thought: I now know the final answer
Final Answer: the final answer to the task

Reply with a single Thought followed by either one Action or a Final Answer.
Independent actions can be sent together as a JSON array of actions.
Never write the Observation yourself.
{{- if .History }}

Previous steps:
{{- range .History }}

Thought: {{ .Thought }}
{{- if .Action }}
Action: {{ .Action }}
{{- end }}
{{- if .HasObservation }}
Observation: {{ .Observation }}
{{- end }}
{{- end }}
{{- end }}

Task: {{ .Task | trim }}
`

const catalogTemplate = `{{- range $i, $t := .Tools }}
{{- if $i }}
{{ end -}}
- {{ $t.Name }}: {{ $t.Description | trim | default "no description" }}
{{- range $t.Parameters }}
  - {{ .Name }} ({{ .Type }}{{ if .Required }}, required{{ end }}){{ with .Description }}: {{ . | trim }}{{ end }}
{{- if .Enum }} One of: {{ join ", " .Enum }}.{{ end }}
{{- if .Default }} Default: {{ .Default }}.{{ end }}
{{- end }}
{{- end }}`

// maxCachedCatalogs bounds the rendered catalog cache
const maxCachedCatalogs = 64

// Turn is a completed step of the history
type Turn struct {
	Thought string
	Actions []tools.Call
	// Observation is nil when the step had no action
	Observation *string
}

type turnView struct {
	Thought        string
	Action         string
	Observation    string
	HasObservation bool
}

type toolView struct {
	Name        string
	Description string
	Parameters  []paramView
}

type paramView struct {
	Name        string
	Type        tools.ParamType
	Description string
	Required    bool
	Enum        []string
	Default     string
}

// Option configures Builder
type Option func(*Builder)

// WithPreamble sets the role preamble
func WithPreamble(preamble string) Option {
	return func(b *Builder) {
		b.preamble = preamble
	}
}

// WithTemplate replaces the prompt template.
// The template is given Preamble, Tools, History and Task.
func WithTemplate(tmpl FormatPrompter) Option {
	return func(b *Builder) {
		b.tmpl = tmpl
	}
}

// Builder renders the prompt of a reasoning step.
// The output depends only on its inputs.
type Builder struct {
	preamble string
	tmpl     FormatPrompter
	catalog  *PromptTemplate

	lock     sync.Mutex
	catalogs map[uint64]string
}

// NewBuilder returns Builder
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{
		preamble: DefaultPreamble,
		catalog:  NewPromptTemplate(catalogTemplate, []string{"Tools"}),
		catalogs: make(map[uint64]string),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.tmpl == nil {
		b.tmpl = NewPromptTemplate(DefaultTemplate, []string{"Task"})
	}
	return b
}

// Build returns the prompt for the task, the available tools and the steps so far
func (b *Builder) Build(task string, catalog []tools.Descriptor, history []Turn) (string, error) {
	rendered, err := b.renderCatalog(catalog)
	if err != nil {
		return "", err
	}

	turns := make([]turnView, 0, len(history))
	for i, h := range history {
		v := turnView{Thought: h.Thought}
		if len(h.Actions) > 0 {
			v.Action, err = parser.FormatCalls(h.Actions)
			if err != nil {
				return "", errors.WithMessagef(err, "step %d", i+1)
			}
		}
		if h.Observation != nil {
			v.Observation = *h.Observation
			v.HasObservation = true
		}
		turns = append(turns, v)
	}

	return b.tmpl.Format(map[string]any{
		"Preamble": b.preamble,
		"Tools":    rendered,
		"History":  turns,
		"Task":     task,
	})
}

func (b *Builder) renderCatalog(catalog []tools.Descriptor) (string, error) {
	if len(catalog) == 0 {
		return "", nil
	}

	key := tools.Fingerprint(catalog)
	b.lock.Lock()
	rendered, ok := b.catalogs[key]
	b.lock.Unlock()
	if ok {
		return rendered, nil
	}

	list := make([]toolView, 0, len(catalog))
	for _, d := range catalog {
		tv := toolView{
			Name:        d.Name,
			Description: d.Description,
		}
		for _, p := range d.Parameters {
			pv := paramView{
				Name:        p.Name,
				Type:        p.Type,
				Description: p.Description,
				Required:    p.Required,
			}
			for _, e := range p.Enum {
				pv.Enum = append(pv.Enum, fmt.Sprint(e))
			}
			if p.Default != nil {
				pv.Default = llmutils.ToJSON(p.Default)
			}
			tv.Parameters = append(tv.Parameters, pv)
		}
		list = append(list, tv)
	}

	rendered, err := b.catalog.Format(map[string]any{"Tools": list})
	if err != nil {
		return "", err
	}

	b.lock.Lock()
	if len(b.catalogs) >= maxCachedCatalogs {
		clear(b.catalogs)
	}
	b.catalogs[key] = rendered
	b.lock.Unlock()
	return rendered, nil
}
