// Package validate rejects implausible price observations before they reach
// persistence or broadcast. Validation is pure: rejected points are the
// caller's to log and drop.
package validate

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"quotefeed/internal/model"
)

// Result is the outcome of validating one point.
type Result struct {
	OK     bool
	Errors []string
}

// Validator holds the sanity thresholds. Zero values disable the
// corresponding check except the price check, which always applies.
type Validator struct {
	// MaxChangePct caps the magnitude of an instantaneous percent move;
	// vendor glitches show up as absurd single-cycle swings.
	MaxChangePct float64
	// MaxVolumeFactor caps volume growth versus a recent reference volume.
	MaxVolumeFactor float64
	// MaxAge rejects observations older than the staleness window.
	MaxAge time.Duration

	now func() time.Time
}

func New(maxChangePct, maxVolumeFactor float64, maxAge time.Duration) Validator {
	return Validator{
		MaxChangePct:    maxChangePct,
		MaxVolumeFactor: maxVolumeFactor,
		MaxAge:          maxAge,
		now:             time.Now,
	}
}

// Validate checks one point against the thresholds. prevVolume is the most
// recent accepted volume for the same symbol, or zero when unknown.
func (v Validator) Validate(p model.MarketDataPoint, prevVolume int64) Result {
	var errs []string

	if p.Price.Sign() <= 0 {
		errs = append(errs, fmt.Sprintf("price must be positive, got %s", p.Price))
	}
	if v.MaxChangePct > 0 {
		limit := decimal.NewFromFloat(v.MaxChangePct)
		if p.ChangePct.Abs().GreaterThan(limit) {
			errs = append(errs, fmt.Sprintf("percent change %s exceeds ceiling %s", p.ChangePct, limit))
		}
	}
	if v.MaxVolumeFactor > 0 && prevVolume > 0 && p.Volume > 0 {
		if float64(p.Volume) > float64(prevVolume)*v.MaxVolumeFactor {
			errs = append(errs, fmt.Sprintf("volume %d exceeds %gx reference %d", p.Volume, v.MaxVolumeFactor, prevVolume))
		}
	}
	if v.MaxAge > 0 && p.Timestamp > 0 {
		nowFn := v.now
		if nowFn == nil {
			nowFn = time.Now
		}
		if age := nowFn().Sub(p.Time()); age > v.MaxAge {
			errs = append(errs, fmt.Sprintf("observation is stale: age %s exceeds %s", age.Round(time.Second), v.MaxAge))
		}
	}

	return Result{OK: len(errs) == 0, Errors: errs}
}
