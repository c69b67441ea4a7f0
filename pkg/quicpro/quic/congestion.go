package quic

import (
	"fmt"
	"math"
	"sync"
	"time"

	multierror "github.com/hashicorp/go-multierror"
)

// CUBIC-like congestion control. Unlike a NewReno controller, window
// growth in congestion avoidance follows a cubic function of time
// since the last congestion event rather than a linear MSS/cwnd step.
const (
	defaultMSS          = 1200 // typical QUIC/UDP maximum datagram size
	defaultBeta         = 0.7
	defaultCubicConst   = 0.4
)

// LossCallback is invoked after every loss event with the new
// congestion window and the number of bytes the controller considers
// lost.
type LossCallback func(newCwnd uint64, lossBytes uint64)

// CongestionController implements the CUBIC-like congestion window.
type CongestionController struct {
	mu sync.Mutex

	cwnd    uint64
	ssthresh uint64
	mss     uint64
	beta    float64
	cubicK  float64
	minCwnd uint64

	originPoint  uint64
	lastCongTime time.Time

	callbacks []LossCallback
}

// NewCongestionController returns a controller seeded at 10*mss
// (the conventional slow-start initial window) with ssthresh
// unbounded until the first loss.
func NewCongestionController() *CongestionController {
	mss := uint64(defaultMSS)
	return &CongestionController{
		cwnd:         10 * mss,
		ssthresh:     math.MaxUint64,
		mss:          mss,
		beta:         defaultBeta,
		cubicK:       defaultCubicConst,
		minCwnd:      2 * mss,
		originPoint:  10 * mss,
		lastCongTime: time.Now(),
	}
}

// Cwnd returns the current congestion window in bytes.
func (cc *CongestionController) Cwnd() uint64 {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.cwnd
}

// CanSend reports whether n bytes fit within the current window.
func (cc *CongestionController) CanSend(n uint64) bool {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return n <= cc.cwnd
}

// OnAck grows the window for n newly-acknowledged bytes: linearly
// while in slow start, along the cubic curve in congestion avoidance.
func (cc *CongestionController) OnAck(n uint64) {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	if cc.cwnd < cc.ssthresh {
		cc.cwnd += n
	} else {
		t := time.Since(cc.lastCongTime).Seconds()
		target := float64(cc.originPoint) + cc.cubicK*t*t*t
		targetInt := uint64(0)
		if target > 0 {
			targetInt = uint64(target)
		}
		if targetInt > cc.cwnd {
			cc.cwnd = targetInt
		}
	}

	if cc.cwnd < cc.minCwnd {
		cc.cwnd = cc.minCwnd
	}
}

// OnLoss applies the multiplicative-decrease loss reaction: ssthresh =
// max(floor(cwnd*beta), minCwnd); originPoint = cwnd; cwnd = ssthresh.
// Registered loss callbacks are then invoked, each isolated from the
// others' panics or errors via multierror so one bad callback cannot
// stop the rest from observing the event.
func (cc *CongestionController) OnLoss(lossBytes uint64) error {
	cc.mu.Lock()

	reduced := uint64(float64(cc.cwnd) * cc.beta)
	if reduced < cc.minCwnd {
		reduced = cc.minCwnd
	}
	cc.ssthresh = reduced
	cc.originPoint = cc.cwnd
	cc.lastCongTime = time.Now()
	cc.cwnd = cc.ssthresh

	newCwnd := cc.cwnd
	callbacks := append([]LossCallback(nil), cc.callbacks...)
	cc.mu.Unlock()

	var result *multierror.Error
	for _, cb := range callbacks {
		if err := invokeIsolated(cb, newCwnd, lossBytes); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// invokeIsolated runs a loss callback and converts a panic into an
// error so OnLoss's caller is never interrupted by a misbehaving
// callback.
func invokeIsolated(cb LossCallback, newCwnd, lossBytes uint64) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("quic: loss callback panicked: %v", r)
		}
	}()
	cb(newCwnd, lossBytes)
	return nil
}

// RegisterLossCallback adds f to the set invoked on every loss event.
func (cc *CongestionController) RegisterLossCallback(f LossCallback) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.callbacks = append(cc.callbacks, f)
}

// MinCwnd returns 2*mss, the floor the window never drops below.
func (cc *CongestionController) MinCwnd() uint64 {
	return cc.minCwnd
}
