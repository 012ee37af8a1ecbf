// Package llm defines the backend abstraction used to talk to large
// language models. Concrete implementations live in the subpackages:
// openai speaks the Chat Completions HTTP protocol, scriptbridge
// shells out to an external script for local experimentation.
package llm
