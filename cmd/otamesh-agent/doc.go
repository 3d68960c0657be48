// Package main provides the entry point for otamesh-agent.
//
// The agent runs on a device and keeps it on the release the server
// resolves for it:
//
//	otamesh-agent run     # check periodically until stopped
//	otamesh-agent check   # run a single update cycle
//	otamesh-agent status  # print the persisted session
//
// Settings come from flags, OTAMESH_AGENT_* environment variables and the
// YAML file, in that order of precedence.
package main
