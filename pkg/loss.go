package pkg

import (
	mat "github.com/nlpodyssey/spago/pkg/mat32"
	"github.com/nlpodyssey/spago/pkg/ml/ag"
	"github.com/nlpodyssey/spago/pkg/ml/losses"

	"fttransformer/pkg/model"
)

const lossEpsilon = 1e-7

type lossFunc func(g *ag.Graph, prediction ag.Node, target mat.Float) ag.Node

// lossFor picks the loss matching the target type and the output activation of the model.
func lossFor(metaData *model.Metadata, activation model.Activation) lossFunc {
	if metaData.TargetType != model.Categorical {
		return meanSquaredError
	}
	switch activation {
	case model.Softmax:
		return negativeLogLikelihood
	case model.Sigmoid:
		return binaryCrossEntropy
	default:
		return func(g *ag.Graph, logits ag.Node, target mat.Float) ag.Node {
			return losses.CrossEntropy(g, logits, int(target))
		}
	}
}

func meanSquaredError(g *ag.Graph, prediction ag.Node, target mat.Float) ag.Node {
	return losses.MSE(g, prediction, g.NewScalar(target), false)
}

// negativeLogLikelihood expects a probability distribution over the classes.
func negativeLogLikelihood(g *ag.Graph, probabilities ag.Node, target mat.Float) ag.Node {
	oneHot := make([]mat.Float, len(probabilities.Value().Data()))
	oneHot[int(target)] = 1
	p := g.ReduceSum(g.Prod(probabilities, g.NewVariable(mat.NewVecDense(oneHot), false)))
	return g.Neg(g.Log(g.AddScalar(p, g.Constant(lossEpsilon))))
}

// binaryCrossEntropy expects a single probability for the class with index 1.
func binaryCrossEntropy(g *ag.Graph, probability ag.Node, target mat.Float) ag.Node {
	eps := g.Constant(lossEpsilon)
	y := g.NewScalar(target)
	one := g.NewScalar(1)
	positive := g.Prod(y, g.Log(g.AddScalar(probability, eps)))
	negative := g.Prod(g.Sub(one, y), g.Log(g.AddScalar(g.Sub(one, probability), eps)))
	return g.Neg(g.Add(positive, negative))
}
