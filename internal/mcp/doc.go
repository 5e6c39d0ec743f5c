// Package mcp exposes the penny engine as an MCP server.
//
// Tools cover the task lifecycle (task_start, task_status, task_answer,
// task_abort, task_resume, task_list), workflow discovery (workflow_list)
// and tool discovery (tool_search). Every invocation is counted and timed.
package mcp
