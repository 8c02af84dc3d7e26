// Package port implements host port allocation for devlauncher projects.
//
// Every project service that publishes a port gets one from a configured
// half-open range [Start, End), 20000-29999 by default. Allocation is a
// scan from a rotating cursor with wrap-around that skips:
//
//   - ports already reserved for another project (the reservation table)
//   - ports currently bound on the host (a bind-and-release probe)
//
// The reservation table is process-wide and guarded by a single mutex held
// for the whole batch of a project, so a batch is all-or-nothing and two
// concurrent batches can never hand out the same port.
package port
