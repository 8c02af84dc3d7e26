// Package docker is devlauncher's Docker Service Manager.
//
// It drives compose stacks by shelling out to the `docker compose` CLI
// (up, down, logs, exec) and reads container state through the Docker
// Engine SDK. Everything the lifecycle controller and the task
// orchestrator need is behind the Manager interface:
//
//   - ComposeManager is the real implementation
//   - FakeManager records calls for tests and never touches a daemon
//
// Spawned processes run in their own process group so a timeout can kill
// the whole tree, not just the direct child.
package docker
