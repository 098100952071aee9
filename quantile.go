package anyrlcontrib

import (
	"github.com/unixpickle/anydiff"
)

// QuantileMidpoints returns the quantile fractions
// (2i+1)/(2n) targeted by an n-quantile approximation.
func QuantileMidpoints(n int) []float64 {
	res := make([]float64, n)
	for i := range res {
		res[i] = (2*float64(i) + 1) / (2 * float64(n))
	}
	return res
}

// QuantileHuberLoss computes the pairwise quantile Huber
// regression loss between predicted and target quantiles.
//
// The preds vector contains numQuantiles predicted
// quantiles per batch entry.
// The targets contain one row of target atoms per batch
// entry; the rows are treated as constants.
//
// The result is a scalar: the loss summed over quantile
// pairs and averaged over the batch and target atoms.
func QuantileHuberLoss(preds anydiff.Res, targets [][]float64,
	numQuantiles int) anydiff.Res {
	batch := len(targets)
	if preds.Output().Len() != batch*numQuantiles {
		panic("prediction length mismatch")
	}
	c := preds.Output().Creator()
	taus := QuantileMidpoints(numQuantiles)

	numTargets := len(targets[0])
	var total anydiff.Res
	for j := 0; j < numTargets; j++ {
		// The j-th target atom of each batch entry,
		// broadcast across that entry's predictions.
		expanded := make([]float64, batch*numQuantiles)
		for i, row := range targets {
			for q := 0; q < numQuantiles; q++ {
				expanded[i*numQuantiles+q] = row[j]
			}
		}
		tConst := anydiff.NewConst(c.MakeVectorData(c.MakeNumericList(expanded)))

		u := anydiff.Sub(tConst, preds)

		// The asymmetric quantile weights |tau - 1{u<0}|
		// are constants along the gradient path.
		uComps := c.Float64Slice(u.Output().Data())
		signs := make([]float64, len(uComps))
		weights := make([]float64, len(uComps))
		for i, x := range uComps {
			tau := taus[i%numQuantiles]
			if x < 0 {
				signs[i] = -1
				weights[i] = 1 - tau
			} else {
				signs[i] = 1
				weights[i] = tau
			}
		}
		signConst := anydiff.NewConst(c.MakeVectorData(c.MakeNumericList(signs)))
		weightConst := anydiff.NewConst(c.MakeVectorData(c.MakeNumericList(weights)))

		loss := anydiff.Pool(anydiff.Mul(u, signConst), func(abs anydiff.Res) anydiff.Res {
			// Huber: 0.5*min(|u|,1)^2 + (|u| - min(|u|,1)).
			clipped := anydiff.ClipRange(abs, c.MakeNumeric(0), c.MakeNumeric(1))
			return anydiff.Pool(clipped, func(clipped anydiff.Res) anydiff.Res {
				return anydiff.Add(
					anydiff.Scale(anydiff.Square(clipped), c.MakeNumeric(0.5)),
					anydiff.Sub(abs, clipped),
				)
			})
		})
		term := anydiff.Sum(anydiff.Mul(loss, weightConst))
		if total == nil {
			total = term
		} else {
			total = anydiff.Add(total, term)
		}
	}

	return anydiff.Scale(total, c.MakeNumeric(1/float64(batch*numTargets)))
}
