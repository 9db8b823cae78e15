package metricskey

import "github.com/effective-security/metrics"

// Stats
var (
	// StatsAgentSessions is base for counter metric for total agent sessions by outcome
	StatsAgentSessions = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_agent_sessions",
		Help:         "stats_agent_sessions provides total agent sessions completed, by outcome",
		RequiredTags: []string{"outcome"},
	}

	StatsAgentSteps = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_agent_steps",
		Help:         "stats_agent_steps provides total reasoning steps recorded, by resulting state",
		RequiredTags: []string{"state"},
	}

	StatsAgentParseErrors = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_agent_parse_errors",
		Help:         "stats_agent_parse_errors provides total model responses that could not be parsed",
		RequiredTags: []string{"tolerated"},
	}

	StatsParserRepairs = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_parser_repairs",
		Help:         "stats_parser_repairs provides total action payloads recovered by a repair heuristic",
		RequiredTags: []string{"heuristic"},
	}

	StatsToolCallsSucceeded = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_tool_calls_succeeded",
		Help:         "stats_tool_calls_succeeded provides total tool calls succeeded",
		RequiredTags: []string{"tool"},
	}

	StatsToolCallsFailed = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_tool_calls_failed",
		Help:         "stats_tool_calls_failed provides total tool calls failed",
		RequiredTags: []string{"tool", "kind"},
	}

	StatsToolCallsNotFound = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_tool_calls_not_found",
		Help:         "stats_tool_calls_not_found provides total tool calls not found",
		RequiredTags: []string{"tool"},
	}

	StatsRPCServerRequests = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_rpc_server_requests",
		Help:         "stats_rpc_server_requests provides total requests handled by the tool server",
		RequiredTags: []string{"method", "status"},
	}

	StatsRPCClientErrors = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_rpc_client_errors",
		Help:         "stats_rpc_client_errors provides total failed tool server calls",
		RequiredTags: []string{"method", "kind"},
	}
)

// Perf
var (
	PerfAgentSession = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_agent_session",
		Help:         "perf_agent_session provides duration of agent session",
		RequiredTags: []string{"outcome"},
	}

	PerfToolCall = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_tool_call",
		Help:         "perf_tool_call provides duration of tool call",
		RequiredTags: []string{"tool"},
	}

	PerfRPCClientCall = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_rpc_client_call",
		Help:         "perf_rpc_client_call provides round trip duration of tool server call",
		RequiredTags: []string{"method"},
	}

	PerfRPCServerRequest = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_rpc_server_request",
		Help:         "perf_rpc_server_request provides duration of tool server request handling",
		RequiredTags: []string{"method"},
	}
)

// Metrics returns slice of metrics from this repo
// keep sorted by name
var Metrics = []*metrics.Describe{
	&PerfAgentSession,
	&PerfRPCClientCall,
	&PerfRPCServerRequest,
	&PerfToolCall,
	&StatsAgentParseErrors,
	&StatsAgentSessions,
	&StatsAgentSteps,
	&StatsParserRepairs,
	&StatsRPCClientErrors,
	&StatsRPCServerRequests,
	&StatsToolCallsFailed,
	&StatsToolCallsNotFound,
	&StatsToolCallsSucceeded,
}
