/*
Package ports defines the driven ports (interfaces) of the canopy runtime.

These interfaces decouple the scheduling loop from concrete backends and
storage, so the same machine can run against a scripted executor in tests,
an external process in production, and any of the step stores.

# Key Interfaces

  - Executor: runs one active leaf for one scheduling round.
  - Resolver: the read side of a charter, handed to executors.
  - StepStore: persists emitted steps per session, in arrival order.
  - DefinitionLoader: supplies declarative node and pack definitions.
  - DistributedLocker: serialises access to a persisted session across replicas.
*/
package ports
