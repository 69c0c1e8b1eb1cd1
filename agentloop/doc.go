// Package agentloop drives one task through repeated model rounds.
//
// Each round streams a response from a Streamer, extracts tool blocks from
// the text, runs the calls one at a time in document order and feeds every
// result back to the model as a single user message. The loop ends when the
// model stops asking for tools, when two consecutive rounds ask for exactly
// the same calls, when the turn cap is reached, or when the context is
// cancelled.
//
// # Architecture
//
//   - Controller: the round state machine for a single Task.
//   - Task: status, result and accounting for one run; status only moves
//     forward and is frozen once terminal.
//   - Conversation: append-only message history handed to the Streamer.
//   - Streamer: the provider contract. ClientStreamer adapts a
//     unifiedllm.Client.
//   - UsageTracker: token estimates and pricing when providers report none.
//   - EventEmitter: typed event stream for hosts.
//
// # Quick Start
//
//	table := tools.NewBuiltinTable(tools.DefaultOptions())
//	exec := tools.NewExecutor(table, tools.NewLocalEnvironment("/path/to/project"))
//	ctrl := agentloop.NewController(agentloop.NewClientStreamer(client), exec, agentloop.DefaultConfig())
//
//	task := agentloop.NewTask("coder", "Add a --verbose flag")
//	conv := agentloop.NewConversation(systemPrompt, task.Description)
//	ctrl.Run(ctx, task, conv)
//	fmt.Println(task.Status, task.Result)
package agentloop
