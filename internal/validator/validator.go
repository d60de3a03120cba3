// Package validator checks a bound charter for references that only fail
// once a session reaches them.
package validator

import (
	"errors"
	"fmt"
	"sort"

	"github.com/aretw0/canopy/pkg/adapters/scripted"
	"github.com/aretw0/canopy/pkg/charter"
	"github.com/aretw0/canopy/pkg/domain"
)

// Report collects problems found in a charter. Errors break sessions that
// reach them; warnings are worth a look but may be intended.
type Report struct {
	Errors   []string
	Warnings []string
}

// Err joins the errors, or returns nil when there are none.
func (r *Report) Err() error {
	errs := make([]error, len(r.Errors))
	for i, e := range r.Errors {
		errs[i] = errors.New(e)
	}
	return errors.Join(errs...)
}

func (r *Report) errorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *Report) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Validate crawls ch from start, following the moves scripted turns make
// (transitions and spawns), and reports dead links, unreachable nodes and
// declared tools, transitions or commands that have no implementation.
func Validate(ch *charter.Charter, start string, scripts map[string][]scripted.Turn) *Report {
	r := &Report{}
	stubs(ch, r)

	if _, err := ch.ResolveNode(start); err != nil {
		r.errorf("start node %q not found", start)
		return r
	}

	visited := map[string]bool{}
	queue := []string{start}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if visited[current] {
			continue
		}
		visited[current] = true

		for _, target := range moves(scripts[current]) {
			if _, err := ch.ResolveNode(target); err != nil {
				r.errorf("node %q: script moves to unknown node %q", current, target)
				continue
			}
			if !visited[target] {
				queue = append(queue, target)
			}
		}
	}

	if len(scripts) > 0 {
		for _, name := range ch.Nodes() {
			if !visited[name] {
				r.warnf("node %q is not reachable from %q by script", name, start)
			}
		}
	}
	return r
}

func moves(turns []scripted.Turn) []string {
	var out []string
	for _, t := range turns {
		if t.Transition != "" {
			out = append(out, t.Transition)
		}
		for _, c := range t.Spawn {
			if c.Ref != "" {
				out = append(out, c.Ref)
			}
		}
	}
	return out
}

func stubs(ch *charter.Charter, r *Report) {
	for _, name := range ch.Nodes() {
		n, err := ch.ResolveNode(name)
		if err != nil {
			continue
		}
		for _, t := range missing(n.Tools, (*domain.Tool).Executable) {
			r.warnf("node %q: tool %q has no implementation", name, t)
		}
		for _, t := range missing(n.Transitions, (*domain.Transition).Executable) {
			r.warnf("node %q: transition %q has no implementation", name, t)
		}
		for _, c := range missing(n.Commands, (*domain.Command).Executable) {
			r.warnf("node %q: command %q has no implementation", name, c)
		}
	}
	for _, name := range ch.Packs() {
		p, err := ch.ResolvePack(name)
		if err != nil {
			continue
		}
		for _, t := range missing(p.Tools, (*domain.Tool).Executable) {
			r.warnf("pack %q: tool %q has no implementation", name, t)
		}
		for _, c := range missing(p.Commands, (*domain.Command).Executable) {
			r.warnf("pack %q: command %q has no implementation", name, c)
		}
	}
}

// missing returns the sorted names whose value carries no code.
func missing[T any](m map[string]*T, executable func(*T) bool) []string {
	var out []string
	for k, v := range m {
		if !executable(v) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
