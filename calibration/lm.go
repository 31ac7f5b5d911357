package calibration

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// residualFunc fills dst with the residuals at params. It must be safe for concurrent calls.
type residualFunc func(dst, params []float64)

// lmSettings controls the Levenberg-Marquardt solver.
type lmSettings struct {
	MaxIterations int
	// Stop once an accepted step reduces the cost by less than this fraction.
	CostTolerance float64
	// Stop once every parameter moves by less than this fraction of its magnitude.
	StepTolerance float64
}

var defaultLMSettings = lmSettings{
	MaxIterations: 60,
	CostTolerance: 1e-12,
	StepTolerance: 1e-12,
}

// lmResult is the outcome of a solve.
type lmResult struct {
	Params     []float64
	Residuals  []float64
	Iterations int
}

// SumOfSquares returns the squared norm of the final residuals.
func (r lmResult) SumOfSquares() float64 {
	return floats.Dot(r.Residuals, r.Residuals)
}

// levenbergMarquardt minimizes the squared norm of the nResiduals outputs of f starting at x0.
// The damping term is scaled by the diagonal of J^T J so parameters of very different magnitudes
// share one step size. Jacobians are central finite differences.
func levenbergMarquardt(f residualFunc, x0 []float64, nResiduals int, settings lmSettings) (lmResult, error) {
	n := len(x0)
	x := append([]float64(nil), x0...)
	r := make([]float64, nResiduals)
	f(r, x)
	cost := floats.Dot(r, r)
	if math.IsNaN(cost) || math.IsInf(cost, 0) {
		return lmResult{}, errors.New("residuals are not finite at the initial guess")
	}

	jac := mat.NewDense(nResiduals, n, nil)
	jacSettings := &fd.JacobianSettings{Formula: fd.Central, Concurrent: true}
	var jtj mat.SymDense
	var grad, delta mat.VecDense
	candidate := make([]float64, n)
	rCandidate := make([]float64, nResiduals)
	lambda := 1e-3

	iter := 0
	for ; iter < settings.MaxIterations; iter++ {
		fd.Jacobian(jac, f, x, jacSettings)
		jtj.SymOuterK(1, jac.T())
		grad.MulVec(jac.T(), mat.NewVecDense(nResiduals, r))

		improved := false
		for !improved {
			damped := mat.NewSymDense(n, nil)
			damped.CopySym(&jtj)
			for i := 0; i < n; i++ {
				d := jtj.At(i, i)
				damped.SetSym(i, i, d+lambda*math.Max(d, 1e-12))
			}
			var chol mat.Cholesky
			if !chol.Factorize(damped) {
				lambda *= 10
				if lambda > 1e16 {
					return lmResult{Params: x, Residuals: r, Iterations: iter}, nil
				}
				continue
			}
			if err := chol.SolveVecTo(&delta, &grad); err != nil {
				lambda *= 10
				continue
			}
			for i := range candidate {
				candidate[i] = x[i] - delta.AtVec(i)
			}
			f(rCandidate, candidate)
			newCost := floats.Dot(rCandidate, rCandidate)
			if newCost < cost && !math.IsNaN(newCost) {
				improved = true
				small := true
				for i := range x {
					if math.Abs(delta.AtVec(i)) > settings.StepTolerance*(math.Abs(x[i])+settings.StepTolerance) {
						small = false
						break
					}
				}
				relReduction := (cost - newCost) / cost
				copy(x, candidate)
				copy(r, rCandidate)
				cost = newCost
				lambda = math.Max(lambda/10, 1e-12)
				if small || relReduction < settings.CostTolerance {
					return lmResult{Params: x, Residuals: r, Iterations: iter + 1}, nil
				}
			} else {
				lambda *= 10
				if lambda > 1e16 {
					// No descent direction left at this precision.
					return lmResult{Params: x, Residuals: r, Iterations: iter + 1}, nil
				}
			}
		}
	}
	return lmResult{Params: x, Residuals: r, Iterations: iter}, nil
}
