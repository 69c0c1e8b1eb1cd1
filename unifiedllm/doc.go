// Package unifiedllm is a small provider-agnostic model client. Hosted
// providers go through gollm (github.com/teilomillet/gollm); local models go
// through Ollama's native chat API.
//
//	adapter, _ := unifiedllm.NewOllamaAdapter("qwen2.5-coder", "")
//	client := unifiedllm.NewClient(
//	    unifiedllm.WithProvider("ollama", adapter),
//	    unifiedllm.WithStreamMiddleware(unifiedllm.RetryStreamMiddleware(unifiedllm.DefaultRetryPolicy())),
//	)
//	events, _ := client.Stream(ctx, unifiedllm.Request{
//	    Messages: []unifiedllm.Message{unifiedllm.UserMessage("Hello")},
//	})
//	for ev := range events {
//	    fmt.Print(ev.Delta)
//	}
//
// Every failure is an *Error whose Kind decides whether Retry tries again.
// The model catalog maps ids and aliases to providers and prices.
package unifiedllm
