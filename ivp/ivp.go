// Package ivp supplies reference right-hand sides used by tests and the
// demo CLI mode: small, well-understood scalar fields that exercise the
// integrator without depending on an external PDE model.
package ivp

import (
	"math"

	"github.com/sarchlab/rkmerson/rk"
)

// Decay is dx/dt = -x, the exponential-decay reference problem.
var Decay = rk.RightHandSide(func(t float64, x, dxdt []float64) error {
	for i := range x {
		dxdt[i] = -x[i]
	}
	return nil
})

// Oscillator is a stiff, rapidly-varying right-hand side contrived to force
// the integrator to reject and shrink steps before it can accept one.
var Oscillator = rk.RightHandSide(func(t float64, x, dxdt []float64) error {
	for i := range x {
		dxdt[i] = 500 * math.Sin(500*t+float64(i))
	}
	return nil
})

// Singular is dx/dt = 1/(1-x), which diverges to infinity as x approaches
// 1 and exercises the integrator's NaN-recovery path.
var Singular = rk.RightHandSide(func(t float64, x, dxdt []float64) error {
	for i := range x {
		dxdt[i] = 1.0 / (1.0 - x[i])
	}
	return nil
})

// IdentityField is the zero right-hand side: x never changes, so any
// difference observed between workers after a step must have come from the
// ghost exchange rather than the integration itself.
var IdentityField = rk.RightHandSide(func(t float64, x, dxdt []float64) error {
	for i := range dxdt {
		dxdt[i] = 0
	}
	return nil
})
