package prompts_test

import (
	"strings"
	"testing"

	"github.com/effective-security/reagent/pkg/prompts"
	"github.com/effective-security/reagent/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var catalog = []tools.Descriptor{
	{
		Name:        "calculator",
		Description: "basic arithmetic",
		Parameters: []tools.Parameter{
			{Name: "a", Type: tools.TypeNumber, Required: true, Description: "first operand"},
			{Name: "b", Type: tools.TypeNumber, Required: true, Description: "second operand"},
			{Name: "op", Type: tools.TypeString, Enum: []any{"add", "sub", "mul", "div"}, Default: "add"},
		},
	},
	{
		Name: "now",
	},
}

func strPtr(s string) *string {
	return &s
}

func TestBuilderCatalog(t *testing.T) {
	t.Parallel()

	b := prompts.NewBuilder()
	p, err := b.Build("compute 2+2", catalog, nil)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(p, prompts.DefaultPreamble+"\n\nYou have access to the following tools:\n\n"), p)
	assert.Contains(t, p, "- calculator: basic arithmetic\n"+
		"  - a (number, required): first operand\n"+
		"  - b (number, required): second operand\n"+
		"  - op (string) One of: add, sub, mul, div. Default: \"add\".\n"+
		"- now: no description\n\nUse the following format:")
	assert.NotContains(t, p, "Previous steps:")
	assert.True(t, strings.HasSuffix(p, "Never write the Observation yourself.\n\nTask: compute 2+2\n"), p)
}

func TestBuilderOrder(t *testing.T) {
	t.Parallel()

	history := []prompts.Turn{
		{
			Thought:     "I need to add",
			Actions:     []tools.Call{{Name: "calculator", Arguments: map[string]any{"a": 2, "b": 2}}},
			Observation: strPtr("4"),
		},
		{
			Thought: "let me think again",
		},
		{
			Thought: "check both",
			Actions: []tools.Call{
				{Name: "now"},
				{Name: "calculator", Arguments: map[string]any{"a": 1, "b": 1, "op": "mul"}},
			},
			Observation: strPtr("[1] 2025-01-01\n[2] 1"),
		},
	}

	b := prompts.NewBuilder(prompts.WithPreamble("You are a calculator agent."))
	p, err := b.Build("compute 2+2", catalog, history)
	require.NoError(t, err)

	expectedHistory := "Previous steps:\n\n" +
		"Thought: I need to add\n" +
		"Action: {\"name\":\"calculator\",\"arguments\":{\"a\":2,\"b\":2}}\n" +
		"Observation: 4\n\n" +
		"Thought: let me think again\n\n" +
		"Thought: check both\n" +
		"Action: [{\"name\":\"now\",\"arguments\":{}},{\"name\":\"calculator\",\"arguments\":{\"a\":1,\"b\":1,\"op\":\"mul\"}}]\n" +
		"Observation: [1] 2025-01-01\n[2] 1\n\n" +
		"Task: compute 2+2\n"
	assert.True(t, strings.HasSuffix(p, expectedHistory), p)

	// preamble, catalog, format, history, task
	order := []string{
		"You are a calculator agent.",
		"- calculator: basic arithmetic",
		"Use the following format:",
		"Previous steps:",
		"Task: compute 2+2",
	}
	last := -1
	for _, s := range order {
		idx := strings.Index(p, s)
		require.Greater(t, idx, last, s)
		last = idx
	}
}

func TestBuilderDeterministic(t *testing.T) {
	t.Parallel()

	history := []prompts.Turn{{
		Thought:     "t",
		Actions:     []tools.Call{{Name: "calculator", Arguments: map[string]any{"z": 1, "a": 2, "m": map[string]any{"y": 1, "b": 2}}}},
		Observation: strPtr("o"),
	}}

	b := prompts.NewBuilder()
	first, err := b.Build("task", catalog, history)
	require.NoError(t, err)
	for range 10 {
		p, err := b.Build("task", catalog, history)
		require.NoError(t, err)
		assert.Equal(t, first, p)
	}

	// a new builder renders the same
	p, err := prompts.NewBuilder().Build("task", catalog, history)
	require.NoError(t, err)
	assert.Equal(t, first, p)
}

func TestBuilderNoTools(t *testing.T) {
	t.Parallel()

	p, err := prompts.NewBuilder(prompts.WithPreamble("  Be brief.  ")).Build("  say hi  ", nil, nil)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(p, "Be brief.\n\nNo tools are available.\n\nUse the following format:"), p)
	assert.True(t, strings.HasSuffix(p, "\n\nTask: say hi\n"), p)
}

func TestBuilderCustomTemplate(t *testing.T) {
	t.Parallel()

	tmpl := prompts.NewPromptTemplate(`{{ .Preamble }}|{{ len .History }}|{{ .Task }}|{{ .Tools | trim }}`, []string{"Task"})
	b := prompts.NewBuilder(prompts.WithTemplate(tmpl), prompts.WithPreamble("P"))

	p, err := b.Build("T", catalog[1:], []prompts.Turn{{Thought: "x"}})
	require.NoError(t, err)
	assert.Equal(t, "P|1|T|- now: no description", p)
}

func TestBuilderBadArguments(t *testing.T) {
	t.Parallel()

	_, err := prompts.NewBuilder().Build("task", nil, []prompts.Turn{{
		Thought: "t",
		Actions: []tools.Call{{Name: "x", Arguments: map[string]any{"ch": make(chan int)}}},
	}})
	assert.ErrorContains(t, err, "step 1")
}
