/*
Package canopy is a concurrent scheduler for trees of agent roles.

An application describes its roles once, in a charter: nodes with
instructions, state schemas, tools, transitions, commands and the executor
that runs them. At runtime canopy keeps a live tree of node instances. The
leaves of that tree are the instances that may act; at most one of them is
the primary (the one talking to the user) and any number are workers that
run next to it and cede their results back to their parent.

# Concept

Every round, the scheduler drains the pending input as one batch, calls the
executor of every runnable leaf concurrently, waits for all of them and
merges their results (transitions, spawned children, state patches, cedes,
suspensions) into a new tree. The round is committed as an immutable Step
that the host persists. A machine never changes a step once it is handed
out, so steps can be stored, streamed and replayed.

Commands bypass executors entirely. They let the host change state, spawn
workers or resume a suspended instance directly, and yield a step of their
own.

# Usage

	package main

	import (
		"context"
		"log"

		"github.com/aretw0/canopy"
		"github.com/aretw0/canopy/pkg/charter"
		"github.com/aretw0/canopy/pkg/domain"
		"github.com/aretw0/canopy/pkg/ports"
	)

	func main() {
		ch := charter.New("support")
		_ = ch.RegisterExecutor(charter.DefaultExecutor, ports.ExecutorFunc(
			func(ctx context.Context, req *ports.RunRequest) (*ports.RunResult, error) {
				reply := domain.NewTextMessage(domain.RoleAssistant, "How can I help?")
				return &ports.RunResult{Messages: []domain.Message{reply}, YieldReason: domain.YieldEndTurn}, nil
			}))
		_ = ch.RegisterNode("desk", &domain.Node{Instructions: "Greet the customer."})

		eng, err := canopy.New(ch)
		if err != nil {
			log.Fatal(err)
		}
		m, err := eng.Start("desk", nil)
		if err != nil {
			log.Fatal(err)
		}

		steps, err := eng.Send(context.Background(), m, domain.NewTextMessage(domain.RoleUser, "hi"))
		if err != nil {
			log.Fatal(err)
		}
		for _, s := range steps {
			for _, msg := range s.History {
				log.Println(msg.Text())
			}
		}
	}
*/
package canopy
