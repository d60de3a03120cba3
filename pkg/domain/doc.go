/*
Package domain contains the core model of the canopy runtime.

It defines the templates an application registers (Node, Pack, Tool,
Transition, Command), the live instance tree the runtime drives, the
messages exchanged with executors and the Step emitted after every
scheduling round. The package is pure: no I/O and no persistence, so the
runtime, the codecs and the adapters can all share it.

# Key Entities

  - Node: immutable template for a role (instructions, state schema, tools,
    transitions, commands, packs, worker flag, executor reference).
  - Instance: one node of the live tree, with its own state, ordered
    children and an optional suspension marker. Pack states live on the root.
  - Message: a conversation or control message made of typed Items and
    attributed to the instance that produced it.
  - Effect: the closed set of outcomes a transition or command may return.
  - Step: the immutable snapshot produced by one scheduling round.
*/
package domain
