package layers

import (
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

func fillUniform(data []float64, bound float64, rng *rand.Rand) {
	dist := distuv.Uniform{Min: -bound, Max: bound, Src: rng}
	for i := range data {
		data[i] = dist.Rand()
	}
}

func fillNormal(data []float64, sigma float64, rng *rand.Rand) {
	dist := distuv.Normal{Mu: 0, Sigma: sigma, Src: rng}
	for i := range data {
		data[i] = dist.Rand()
	}
}

// XavierUniform fills a (fanOut, fanIn) weight with U(-a, a), a = gain·sqrt(6/(fanIn+fanOut)).
func XavierUniform(p *Param, fanIn, fanOut int, gain float64, rng *rand.Rand) {
	fillUniform(p.Value.Data, gain*math.Sqrt(6/float64(fanIn+fanOut)), rng)
}

// XavierNormal fills with N(0, gain²·2/(fanIn+fanOut)).
func XavierNormal(p *Param, fanIn, fanOut int, gain float64, rng *rand.Rand) {
	fillNormal(p.Value.Data, gain*math.Sqrt(2/float64(fanIn+fanOut)), rng)
}

// KaimingNormal fills with N(0, 2/fanIn), the fan_in mode for (leaky) ReLU with slope 0.
func KaimingNormal(p *Param, fanIn int, rng *rand.Rand) {
	fillNormal(p.Value.Data, math.Sqrt(2/float64(fanIn)), rng)
}

// FanInUniform fills with U(-1/sqrt(fanIn), 1/sqrt(fanIn)), the default for
// linear and convolution layers.
func FanInUniform(p *Param, fanIn int, rng *rand.Rand) {
	fillUniform(p.Value.Data, 1/math.Sqrt(float64(fanIn)), rng)
}

// StandardNormal fills with N(0, 1).
func StandardNormal(p *Param, rng *rand.Rand) {
	fillNormal(p.Value.Data, 1, rng)
}
