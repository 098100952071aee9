package anyrlcontrib

import (
	"math"
	"testing"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec/anyvec64"
)

func TestQuantileMidpoints(t *testing.T) {
	taus := QuantileMidpoints(4)
	expected := []float64{0.125, 0.375, 0.625, 0.875}
	for i, x := range expected {
		if math.Abs(taus[i]-x) > 1e-8 {
			t.Errorf("midpoint %d: expected %f but got %f", i, x, taus[i])
		}
	}
}

func TestQuantileHuberLossValue(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	preds := anydiff.NewConst(c.MakeVectorData([]float64{0, 1}))
	loss := QuantileHuberLoss(preds, [][]float64{{0.5}}, 2).Output().Data().([]float64)

	// u = +0.5 at tau=0.25 and u = -0.5 at tau=0.75,
	// both inside the quadratic zone:
	// 0.25*0.125 + 0.25*0.125 = 0.0625.
	if math.Abs(loss[0]-0.0625) > 1e-8 {
		t.Errorf("expected loss 0.0625 but got %f", loss[0])
	}
}

func TestQuantileHuberLossLinearZone(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	preds := anydiff.NewConst(c.MakeVectorData([]float64{0}))
	loss := QuantileHuberLoss(preds, [][]float64{{3}}, 1).Output().Data().([]float64)

	// u = 3 at tau=0.5: weight 0.5, huber 0.5 + 2 = 2.5.
	if math.Abs(loss[0]-1.25) > 1e-8 {
		t.Errorf("expected loss 1.25 but got %f", loss[0])
	}
}

func TestQuantileHuberLossGradientDirection(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	v := anydiff.NewVar(c.MakeVectorData([]float64{0, 0}))
	grad := anydiff.NewGrad(v)

	loss := QuantileHuberLoss(v, [][]float64{{1}}, 2)
	one := c.MakeVector(1)
	one.AddScalar(c.MakeNumeric(1.0))
	loss.Propagate(one, grad)

	// Both predictions sit below the target, so the loss
	// decreases as they increase.
	comps := grad[v].Data().([]float64)
	for i, x := range comps {
		if x >= 0 {
			t.Errorf("gradient %d should be negative but got %f", i, x)
		}
	}
}
