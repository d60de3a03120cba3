/*
Package runner drives one session interactively: it reads input from a
handler, feeds it to a session manager and hands the resulting steps back
to the handler for display.

# Input

TextHandler reads one line per turn. Plain lines are user messages; lines
starting with a slash are controls:

	/refund {"amount": 10}      run a command with JSON input
	/refund amount=10 to=@w1    key=value input; @id targets an instance
	/resume ok-1 approved       resume the suspension ok-1 with a payload
	/quit                       end the session

JSONHandler reads JSON lines with the same meaning, for headless use.

# Usage

	r := runner.New(mgr, "user-1",
		runner.WithFactory(session.StartNode(eng, "triage", nil)),
		runner.WithHandler(runner.NewTextHandler(os.Stdin, os.Stdout)),
	)
	if err := r.Run(ctx); err != nil {
		log.Fatal(err)
	}
*/
package runner
