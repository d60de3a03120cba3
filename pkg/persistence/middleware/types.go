// Package middleware wraps a StepStore with behavior applied to every step
// on its way to and from storage.
package middleware

import "github.com/aretw0/canopy/pkg/ports"

// Middleware allows wrapping a StepStore to add behavior.
type Middleware func(ports.StepStore) ports.StepStore

// Chain wraps store with mws. The first middleware is the outermost, so it
// sees steps first on Append and last on Load.
func Chain(store ports.StepStore, mws ...Middleware) ports.StepStore {
	for i := len(mws) - 1; i >= 0; i-- {
		store = mws[i](store)
	}
	return store
}
