package anytrpo

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anydiff/anyfwd"
	"github.com/unixpickle/anyvec"
)

// conjugateGradients solves "Fx = grad" for x, where F is
// the Fisher matrix of the policy outputs, and overwrites
// grad with the solution.
//
// Algorithm taken from
// https://en.wikipedia.org/wiki/Conjugate_gradient_method#The_resulting_algorithm.
func (t *TRPO) conjugateGradients(obs []float64, n int, oldOuts anyvec.Vector,
	grad anydiff.Grad) {
	c := t.creator()

	// x = 0
	x := zeroGrad(grad)

	// r = b - Ax = b
	residual := copyGrad(grad)

	// p = r
	proj := copyGrad(grad)

	residualMag := dotGrad(residual, residual)

	for i := 0; i < t.cgIters(); i++ {
		// A*p
		appliedProj := t.applyFisher(obs, n, oldOuts, proj)

		// (r dot r) / (p dot A*p)
		alpha := quotient(c, residualMag, dotGrad(proj, appliedProj))

		// x = x + alpha*p
		alphaProj := copyGrad(proj)
		alphaProj.Scale(alpha)
		addToGrad(x, alphaProj)

		// r = r - alpha*A*p
		appliedProj.Scale(alpha)
		subFromGrad(residual, appliedProj)

		// (newR dot newR) / (r dot r)
		newResidualMag := dotGrad(residual, residual)
		beta := quotient(c, newResidualMag, residualMag)
		residualMag = newResidualMag

		// p = beta*p + r
		oldProj := proj
		proj = copyGrad(residual)
		oldProj.Scale(beta)
		addToGrad(proj, oldProj)
	}

	setGrad(grad, x)
}

// applyFisher computes the Fisher-vector product for a
// direction using forward automatic differentiation
// through the KL divergence, plus a damping term.
func (t *TRPO) applyFisher(obs []float64, n int, oldOuts anyvec.Vector,
	dir anydiff.Grad) anydiff.Grad {
	vc := t.creator()
	c := &anyfwd.Creator{ValueCreator: vc, GradSize: 1}

	fwdPolicy := NewPolicy(c, t.Policy.ObsSize, t.Policy.Hidden, t.Policy.ParamSize)
	oldParams := t.Policy.Parameters()
	newToOld := map[*anydiff.Var]*anydiff.Var{}
	for i, param := range fwdPolicy.Parameters() {
		oldParam := oldParams[i]
		newToOld[param] = oldParam
		fwdVec := param.Vector.(*anyfwd.Vector)
		fwdVec.Values.Set(oldParam.Vector)
		if gradVec, ok := dir[oldParam]; ok {
			fwdVec.Jacobian[0].Set(gradVec)
		}
	}

	fwdObs := c.MakeVector(len(obs)).(*anyfwd.Vector)
	fwdObs.Values.Set(vc.MakeVectorData(vc.MakeNumericList(obs)))
	fwdOld := c.MakeVector(oldOuts.Len()).(*anyfwd.Vector)
	fwdOld.Values.Set(oldOuts)

	newOuts := fwdPolicy.Apply(anydiff.NewConst(fwdObs), n)
	kl := anydiff.Scale(anydiff.Sum(t.ActionSpace.KL(anydiff.NewConst(fwdOld),
		newOuts, n)), c.MakeNumeric(1/float64(n)))

	fwdGrad := anydiff.Grad{}
	for newParam, oldParam := range newToOld {
		if _, ok := dir[oldParam]; ok {
			fwdGrad[newParam] = c.MakeVector(newParam.Vector.Len())
		}
	}
	one := c.MakeVector(1)
	one.AddScalar(c.MakeNumeric(1))
	kl.Propagate(one, fwdGrad)

	out := anydiff.Grad{}
	for newParam, paramGrad := range fwdGrad {
		out[newToOld[newParam]] = paramGrad.(*anyfwd.Vector).Jacobian[0]
	}

	damping := t.cgDamping()
	if damping != 0 {
		for variable, vec := range out {
			damped := dir[variable].Copy()
			damped.Scale(vc.MakeNumeric(damping))
			vec.Add(damped)
		}
	}
	return out
}

func copyGrad(g anydiff.Grad) anydiff.Grad {
	res := anydiff.Grad{}
	for k, v := range g {
		res[k] = v.Copy()
	}
	return res
}

func zeroGrad(g anydiff.Grad) anydiff.Grad {
	res := copyGrad(g)
	res.Clear()
	return res
}

func dotGrad(g1, g2 anydiff.Grad) anyvec.Numeric {
	var c anyvec.Creator
	for k := range g1 {
		c = k.Vector.Creator()
		break
	}
	sum := c.MakeVector(1)
	for variable, grad := range g1 {
		sum.AddScalar(grad.Dot(g2[variable]))
	}
	return anyvec.Sum(sum)
}

func quotient(c anyvec.Creator, num, denom anyvec.Numeric) anyvec.Numeric {
	vec := c.MakeVector(1)
	vec.AddScalar(denom)
	anyvec.Pow(vec, c.MakeNumeric(-1))
	vec.Scale(num)
	return anyvec.Sum(vec)
}

func addToGrad(dst, src anydiff.Grad) {
	for variable, dstVec := range dst {
		dstVec.Add(src[variable])
	}
}

func subFromGrad(dst, src anydiff.Grad) {
	for variable, dstVec := range dst {
		dstVec.Sub(src[variable])
	}
}

func setGrad(dst, src anydiff.Grad) {
	for variable, dstVec := range dst {
		dstVec.Set(src[variable])
	}
}
