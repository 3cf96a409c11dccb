// Gateway is an LLM-provider reverse proxy.
//
// It accepts OpenAI/Anthropic-shaped API calls, forwards them to the
// real provider with minimal added latency, and records a structured
// log of every exchange without blocking the response. It also relays
// bidirectional realtime WebSocket sessions.
//
// Usage:
//
//	# Start with the default configuration file
//	gateway run
//
//	# Start with a custom configuration file
//	gateway run --config /etc/gateway/config.yaml
//
//	# Validate a configuration file
//	gateway validate --config config.yaml
//
//	# Show version information
//	gateway version
package main

func main() {
	Execute()
}
