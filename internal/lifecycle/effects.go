package lifecycle

import (
	"fmt"
	"math"

	"github.com/campfire/backend/internal/models"
)

// Party names whose ledger account an effect lands on.
type Party int

const (
	PartyClient Party = iota
	PartyContractor
	PartyPlatform
)

func (p Party) String() string {
	switch p {
	case PartyContractor:
		return "contractor"
	case PartyPlatform:
		return "platform"
	default:
		return "client"
	}
}

// AccountKind returns the ledger account kind the party's effect applies to.
func (p Party) AccountKind() models.AccountKind {
	switch p {
	case PartyContractor:
		return models.AccountContractorEarnings
	case PartyPlatform:
		return models.AccountPlatformRevenue
	default:
		return models.AccountClientCredits
	}
}

// Effect is one ledger movement a transition requires.
type Effect struct {
	Party          Party
	Reason         string
	Amount         int64
	AvailableDelta int64
	HeldDelta      int64
	LifetimeDelta  int64
}

// MaxReservation caps hours*rate. Products up to 2^53 are exact in float64.
const MaxReservation int64 = 1 << 53

// CheckPricing rejects an hours/rate pair whose reservation cannot be
// represented. Missing pricing is valid and reserves nothing.
func CheckPricing(hours *float64, rate *int64) error {
	if hours == nil || rate == nil {
		return nil
	}
	h, r := *hours, *rate
	if math.IsNaN(h) || math.IsInf(h, 0) || h < 0 || r < 0 {
		return fmt.Errorf("%w: hours=%v rate=%d", ErrPricingOutOfRange, h, r)
	}
	if p := h * float64(r); p > float64(MaxReservation) {
		return fmt.Errorf("%w: hours=%v rate=%d exceeds %d", ErrPricingOutOfRange, h, r, MaxReservation)
	}
	return nil
}

// ReservationAmount is hours*rate rounded to whole credits. ok is false when the
// task carries no pricing, or pricing that CheckPricing rejects.
func ReservationAmount(t *models.Task) (amount int64, ok bool) {
	if t.EstimatedHours == nil || t.HourlyRate == nil {
		return 0, false
	}
	if CheckPricing(t.EstimatedHours, t.HourlyRate) != nil {
		return 0, false
	}
	amount = int64(math.Round(*t.EstimatedHours * float64(*t.HourlyRate)))
	if amount <= 0 {
		return 0, false
	}
	return amount, true
}

// PlatformFee is the fee taken from a realized amount at the given rate in basis points.
func PlatformFee(amount int64, bps int) int64 {
	if bps <= 0 || amount <= 0 {
		return 0
	}
	if bps >= 10000 {
		return amount
	}
	b := int64(bps)
	return amount/10000*b + amount%10000*b/10000
}

func (e *Engine) effectsFor(snap Snapshot, path Path, next models.TaskStatus) []Effect {
	switch {
	case next == models.TaskStatusAssigned:
		amt, ok := ReservationAmount(snap.Task)
		if !ok {
			return nil
		}
		return []Effect{{
			Party:          PartyClient,
			Reason:         models.ReasonTaskReserved,
			Amount:         amt,
			AvailableDelta: -amt,
			HeldDelta:      amt,
		}}

	case next == models.TaskStatusClosed:
		held := snap.Reserved
		if held <= 0 {
			return nil
		}
		fee := PlatformFee(held, e.policy.PlatformFeeBPS)
		share := held - fee
		out := []Effect{{
			Party:     PartyClient,
			Reason:    models.ReasonTaskPaid,
			Amount:    held,
			HeldDelta: -held,
		}}
		if share > 0 {
			out = append(out, Effect{
				Party:          PartyContractor,
				Reason:         models.ReasonTaskEarned,
				Amount:         share,
				AvailableDelta: share,
				LifetimeDelta:  share,
			})
		}
		if fee > 0 {
			out = append(out, Effect{
				Party:          PartyPlatform,
				Reason:         models.ReasonPlatformFee,
				Amount:         fee,
				AvailableDelta: fee,
				LifetimeDelta:  fee,
			})
		}
		return out

	case next == models.TaskStatusCancelled, path == PathPass:
		held := snap.Reserved
		if held <= 0 {
			return nil
		}
		reason := models.ReasonTaskCancelled
		if path == PathPass {
			reason = models.ReasonTaskReleased
		}
		return []Effect{{
			Party:          PartyClient,
			Reason:         reason,
			Amount:         held,
			AvailableDelta: held,
			HeldDelta:      -held,
		}}
	}
	return nil
}
