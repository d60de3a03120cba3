/*
Package dsl provides a fluent builder for assembling a charter in Go code.

It is an alternative to charter manifests for flows whose behavior lives in
Go anyway: transitions, commands and tools are attached to nodes directly
and registered in the resulting charter so restored sessions can re-attach
them by name.

Example usage:

	b := dsl.New("support").
		Executor(charter.DefaultExecutor, llm).
		Pack(memoryPack)

	b.Node("triage").
		Instructions("Route the customer to the right desk.").
		State(schema.Schema{"topic": "string"}, nil).
		Go("to_billing", "billing").
		Packs("memory")

	b.Node("billing").
		Instructions("Resolve billing questions.").
		Command(refund)

	ch, err := b.Build()
	// ... pass ch to canopy.New(ch)
*/
package dsl
