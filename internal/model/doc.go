// Package model defines the domain types and value objects for devlauncher.
//
// This package contains pure data structures and validation predicates with
// no I/O. Entities (Project, Task, PortAllocation) are persisted by the
// store package and mutated only through the lifecycle controller and the
// task orchestrator.
//
// The package also defines the error taxonomy shared by every layer
// (ValidationError, PortExhaustedError, ProcessSpawnError, ...) and the
// CLIError type that carries process exit codes for the command line.
package model
