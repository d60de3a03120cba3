// Package codec converts instance trees, messages and steps to and from a
// registry-aware wire form.
//
// A node that is registered in the charter is written as {"ref": "<name>"}
// and comes back as the very same *domain.Node. A node that only exists
// inline is written by value, with its tools, transitions and commands
// reduced to {"ref": "<name>"} stubs: executable bodies cannot be serialized.
// On the way back the registry gets a chance to re-attach bodies by name;
// whatever it does not know stays a stub.
//
// JSON has a single number type, so integer state values come back as
// float64. Schemas accept whole floats for int fields.
package codec
