package circuitinput

import "github.com/ethereum/go-ethereum/metrics"

var (
	blockCounter     = metrics.NewRegisteredCounter("busmapping/blocks", nil)
	txCounter        = metrics.NewRegisteredCounter("busmapping/txs", nil)
	stepCounter      = metrics.NewRegisteredCounter("busmapping/steps", nil)
	opCounter        = metrics.NewRegisteredCounter("busmapping/ops", nil)
	stepErrorCounter = metrics.NewRegisteredCounter("busmapping/steps/error", nil)
	stepDummyCounter = metrics.NewRegisteredCounter("busmapping/steps/dummy", nil)
	copyEventCounter = metrics.NewRegisteredCounter("busmapping/copyevents", nil)
)
