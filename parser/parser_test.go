package parser_test

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/reagent/parser"
	"github.com/effective-security/reagent/tools"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(s string) *string {
	return &s
}

func TestParseResponse(t *testing.T) {
	tcases := []struct {
		name    string
		raw     string
		thought string
		actions []tools.Call
		final   *string
		repair  parser.Repair
	}{
		{
			name:    "thought only",
			raw:     "I should think about it more.",
			thought: "I should think about it more.",
		},
		{
			name:    "thought marker only",
			raw:     "Thought: let me consider the options\n",
			thought: "let me consider the options",
		},
		{
			name:    "action",
			raw:     "Thought: I need to add the numbers.\nAction: {\"name\": \"calculator\", \"arguments\": {\"operation\": \"add\", \"a\": 2, \"b\": 2}}",
			thought: "I need to add the numbers.",
			actions: []tools.Call{{Name: "calculator", Arguments: map[string]any{"operation": "add", "a": 2.0, "b": 2.0}}},
		},
		{
			name:    "final answer",
			raw:     "Thought: I know the answer.\nFinal Answer: 2 + 2 = 4",
			thought: "I know the answer.",
			final:   ptr("2 + 2 = 4"),
		},
		{
			name:    "final answer wins over action",
			raw:     "Thought: done\nAction: {\"name\": \"calculator\", \"arguments\": {\"a\": 1}}\nFinal Answer: 4",
			thought: "done",
			final:   ptr("4"),
		},
		{
			name:    "final answer before action",
			raw:     "Final Answer: 4\nAction: {\"name\": \"calculator\"}",
			final:   ptr("4"),
			thought: "",
		},
		{
			name:    "empty final answer",
			raw:     "Thought: nothing to say\nFinal Answer:",
			thought: "nothing to say",
			final:   ptr(""),
		},
		{
			name:    "multiline final answer",
			raw:     "Thought: summary\nFinal Answer: line one\nline two\n\nObservation: made up",
			thought: "summary",
			final:   ptr("line one\nline two"),
		},
		{
			name:    "preamble is the thought",
			raw:     "The user wants the weather.\nAction: {\"name\": \"weather\", \"arguments\": {\"city\": \"Paris\"}}",
			thought: "The user wants the weather.",
			actions: []tools.Call{{Name: "weather", Arguments: map[string]any{"city": "Paris"}}},
		},
		{
			name:    "case insensitive and markdown",
			raw:     "**thought:** check the tool\nACTION: {\"name\": \"echo\", \"arguments\": {\"text\": \"hi\"}}",
			thought: "check the tool",
			actions: []tools.Call{{Name: "echo", Arguments: map[string]any{"text": "hi"}}},
		},
		{
			name:    "markers inside a line are text",
			raw:     "Thought: the next Action: is not here\nFinal Answer: none",
			thought: "the next Action: is not here",
			final:   ptr("none"),
		},
		{
			name: "nested arguments",
			raw: "Thought: search\nAction: {\"name\": \"search\", \"arguments\": {\"filter\": {\"tags\": [\"a\", \"b\"], \"range\": {\"min\": 1, \"max\": [2, {\"x\": 3}]}}}}\n" +
				"Observation: pending",
			thought: "search",
			actions: []tools.Call{{Name: "search", Arguments: map[string]any{
				"filter": map[string]any{
					"tags":  []any{"a", "b"},
					"range": map[string]any{"min": 1.0, "max": []any{2.0, map[string]any{"x": 3.0}}},
				},
			}}},
		},
		{
			name:    "braces in strings",
			raw:     "Action: {\"name\": \"echo\", \"arguments\": {\"text\": \"a } b { c \\\" ] [\"}} trailing }",
			actions: []tools.Call{{Name: "echo", Arguments: map[string]any{"text": "a } b { c \" ] ["}}},
		},
		{
			name:    "marker inside JSON string",
			raw:     "Action: {\"name\": \"echo\", \"arguments\": {\"text\": \"first\\nObservation: second\"}}",
			actions: []tools.Call{{Name: "echo", Arguments: map[string]any{"text": "first\nObservation: second"}}},
		},
		{
			name:    "code fence",
			raw:     "Thought: use a fence\nAction:\n```json\n{\"name\": \"echo\", \"arguments\": {\"text\": \"fenced\"}}\n```\n",
			thought: "use a fence",
			actions: []tools.Call{{Name: "echo", Arguments: map[string]any{"text": "fenced"}}},
		},
		{
			name:    "html comments",
			raw:     "<!-- scratch -->\nThought: clean\n<!-- more -->\nFinal Answer: yes",
			thought: "clean",
			final:   ptr("yes"),
		},
		{
			name:    "tool and parameters",
			raw:     "Action: {\"tool\": \"calculator\", \"parameters\": {\"a\": 1, \"b\": 2}}",
			actions: []tools.Call{{Name: "calculator", Arguments: map[string]any{"a": 1.0, "b": 2.0}}},
		},
		{
			name:    "action and string input",
			raw:     "Action: {\"action\": \"calculator\", \"action_input\": \"{\\\"a\\\": 1}\"}",
			actions: []tools.Call{{Name: "calculator", Arguments: map[string]any{"a": 1.0}}},
		},
		{
			name:    "no arguments",
			raw:     "Action: {\"name\": \"now\"}",
			actions: []tools.Call{{Name: "now", Arguments: map[string]any{}}},
		},
		{
			name:    "null arguments",
			raw:     "Action: {\"name\": \"now\", \"arguments\": null}",
			actions: []tools.Call{{Name: "now", Arguments: map[string]any{}}},
		},
		{
			name:    "batch",
			raw:     "Thought: both\nAction: [{\"name\": \"weather\", \"arguments\": {\"city\": \"Paris\"}}, {\"name\": \"weather\", \"arguments\": {\"city\": \"Rome\"}}]",
			thought: "both",
			actions: []tools.Call{
				{Name: "weather", Arguments: map[string]any{"city": "Paris"}},
				{Name: "weather", Arguments: map[string]any{"city": "Rome"}},
			},
		},
		{
			name:    "repair whitespace",
			raw:     "Action: {\"name\": \"echo\",\n  \"arguments\": {\"text\": \"line one\n   line two\"}}",
			actions: []tools.Call{{Name: "echo", Arguments: map[string]any{"text": "line one line two"}}},
			repair:  parser.RepairWhitespace,
		},
		{
			name:    "repair missing closers",
			raw:     "Thought: cut off\nAction: {\"name\": \"calculator\", \"arguments\": {\"a\": 1, \"b\": [2, 3",
			thought: "cut off",
			actions: []tools.Call{{Name: "calculator", Arguments: map[string]any{"a": 1.0, "b": []any{2.0, 3.0}}}},
			repair:  parser.RepairClosers,
		},
		{
			name:    "repair dangling string",
			raw:     "Action: {\"name\": \"echo\", \"arguments\": {\"text\": \"hello",
			actions: []tools.Call{{Name: "echo", Arguments: map[string]any{"text": "hello"}}},
			repair:  parser.RepairClosers,
		},
		{
			name:    "repair trailing garbage",
			raw:     "Action: {\"name\": \"calculator\", \"arguments\": {\"a\": 1} and then some words\nObservation: 1",
			actions: []tools.Call{{Name: "calculator", Arguments: map[string]any{"a": 1.0}}},
			repair:  parser.RepairTruncate,
		},
		{
			name:    "repair syntax",
			raw:     "Action: {'name': 'calculator', 'arguments': {'a': 1, 'b': 2,}}",
			actions: []tools.Call{{Name: "calculator", Arguments: map[string]any{"a": 1.0, "b": 2.0}}},
			repair:  parser.RepairSyntax,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := parser.ParseResponse(tc.raw)
			require.NoError(t, err)

			assert.Equal(t, tc.thought, resp.Thought)
			assert.Equal(t, tc.final, resp.FinalAnswer)
			assert.Equal(t, tc.final != nil, resp.IsFinal())
			assert.Equal(t, tc.repair, resp.Repair)
			if diff := cmp.Diff(tc.actions, resp.Actions, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("actions mismatch (-want +got):\n%s", diff)
			}
			if len(tc.actions) > 0 {
				require.NotNil(t, resp.Action)
				assert.Equal(t, tc.actions[0], *resp.Action)
			} else {
				assert.Nil(t, resp.Action)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	tcases := []struct {
		name    string
		raw     string
		thought string
		reason  string
	}{
		{
			name:    "not JSON",
			raw:     "Thought: use the calculator\nAction: calculator with 2 and 2",
			thought: "use the calculator",
			reason:  "action is not a JSON object",
		},
		{
			name:   "empty",
			raw:    "Action:   \n",
			reason: "action is empty",
		},
		{
			name:   "no name",
			raw:    "Action: {\"arguments\": {\"a\": 1}}",
			reason: "action has no tool name",
		},
		{
			name:   "blank name",
			raw:    "Action: {\"name\": \"  \"}",
			reason: "action has no tool name",
		},
		{
			name:   "arguments not object",
			raw:    "Action: {\"name\": \"calculator\", \"arguments\": [1, 2]}",
			reason: "arguments of calculator must be an object",
		},
		{
			name:   "string arguments not object",
			raw:    "Action: {\"name\": \"calculator\", \"arguments\": \"1 + 2\"}",
			reason: "arguments of calculator must be an object",
		},
		{
			name:   "empty batch",
			raw:    "Action: []",
			reason: "action list is empty",
		},
		{
			name:   "bad batch item",
			raw:    "Action: [{\"name\": \"a\"}, 42]",
			reason: "action 1: action is not a JSON object",
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := parser.ParseResponse(tc.raw)
			require.Error(t, err)
			assert.Nil(t, resp)

			var perr *parser.ParseError
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, tc.raw, perr.Raw)
			assert.Equal(t, tc.reason, perr.Reason)
			assert.Equal(t, tc.thought, perr.Thought)
			assert.Equal(t, "parse error: "+tc.reason, err.Error())

			thought, action, final, err2 := parser.Parse(tc.raw)
			assert.Equal(t, err, err2)
			assert.Equal(t, tc.thought, thought)
			assert.Nil(t, action)
			assert.Nil(t, final)
		})
	}
}

func TestParse(t *testing.T) {
	thought, action, final, err := parser.Parse("Thought: add\nAction: {\"name\": \"calculator\", \"arguments\": {\"a\": 2, \"b\": 2}}")
	require.NoError(t, err)
	assert.Equal(t, "add", thought)
	require.NotNil(t, action)
	assert.Equal(t, "calculator", action.Name)
	assert.Nil(t, final)

	thought, action, final, err = parser.Parse("Thought: sure\nFinal Answer: 4")
	require.NoError(t, err)
	assert.Equal(t, "sure", thought)
	assert.Nil(t, action)
	require.NotNil(t, final)
	assert.Equal(t, "4", *final)
}

// re-parsing the canonical form of a parsed reply yields the same reply
func TestParseFormatIdempotent(t *testing.T) {
	inputs := []string{
		"Thought: add\nAction: {\"name\": \"calculator\", \"arguments\": {\"operation\": \"add\", \"a\": 2, \"b\": 2}}",
		"Thought: nested\nAction: {\"name\": \"search\", \"arguments\": {\"q\": \"go \\\"generics\\\"\", \"filter\": {\"tags\": [\"a\", {\"b\": null}], \"limit\": 10}}}",
		"Thought: batch\nAction: [{\"name\": \"a\", \"arguments\": {}}, {\"tool\": \"b\", \"args\": {\"x\": true}}]",
		"Thought: done\nFinal Answer: The answer is 4.\nIt was easy.",
		"Final Answer:",
		"just thinking",
		"Thought: cut\nAction: {\"name\": \"calculator\", \"arguments\": {\"a\": 1",
		"Action: {\"name\": \"noargs\"}",
	}

	for _, in := range inputs {
		first, err := parser.ParseResponse(in)
		require.NoError(t, err, in)

		canonical, err := parser.Format(first)
		require.NoError(t, err)

		second, err := parser.ParseResponse(canonical)
		require.NoError(t, err, canonical)
		assert.Equal(t, parser.RepairNone, second.Repair)

		if diff := cmp.Diff(first, second, cmpopts.IgnoreFields(parser.Response{}, "Repair")); diff != "" {
			t.Errorf("%q: re-parse mismatch (-first +second):\n%s", in, diff)
		}

		again, err := parser.Format(second)
		require.NoError(t, err)
		assert.Equal(t, canonical, again)
	}
}

func TestFormat(t *testing.T) {
	s, err := parser.Format(&parser.Response{
		Thought: "add",
		Actions: []tools.Call{{Name: "calculator", Arguments: map[string]any{"b": 2, "a": 1}}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Thought: add\nAction: {\"name\":\"calculator\",\"arguments\":{\"a\":1,\"b\":2}}\n", s)

	s, err = parser.Format(&parser.Response{
		Thought:     "done",
		Actions:     []tools.Call{{Name: "ignored"}},
		FinalAnswer: ptr("4"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Thought: done\nFinal Answer: 4\n", s)

	js, err := parser.FormatCalls([]tools.Call{{Name: "a"}, {Name: "b", Arguments: map[string]any{"x": "y"}}})
	require.NoError(t, err)
	assert.Equal(t, `[{"name":"a","arguments":{}},{"name":"b","arguments":{"x":"y"}}]`, js)

	_, err = parser.FormatCall(tools.Call{Name: "bad", Arguments: map[string]any{"ch": make(chan int)}})
	assert.Error(t, err)
}
