package reference

import (
	"errors"
	"sync"
	"time"

	"sentimentflow/internal/models"
	"sentimentflow/internal/store"
	"sentimentflow/logger"
)

// BlobName is the store key the anchor is persisted under.
const BlobName = "reference_prices"

const (
	captureHour   = 6
	captureMinute = 43
)

// Tracker owns the daily reference anchor: the bitcoin and ethereum prices
// captured at 6:43 in the host's local time zone. The anchor survives
// restarts via the blob store and is the baseline for percent-deviation
// comparisons.
//
// The capture rule deliberately uses the process-local wall clock, not a
// fixed zone offset, so the instant drifts if the host zone changes.
type Tracker struct {
	mu     sync.RWMutex
	anchor models.ReferenceAnchor
	store  *store.Store
	log    *logger.Log
}

func NewTracker(st *store.Store) *Tracker {
	return &Tracker{
		store: st,
		log:   logger.GetLogger(),
	}
}

// Load reads the persisted anchor once at startup. A missing or corrupt blob
// leaves the anchor unset; neither is fatal.
func (t *Tracker) Load() {
	log := t.log.WithComponent("reference_tracker")

	var anchor models.ReferenceAnchor
	err := t.store.Load(BlobName, &anchor)
	switch {
	case err == nil:
		t.mu.Lock()
		t.anchor = anchor
		t.mu.Unlock()
		log.WithFields(logger.Fields{
			"bitcoin":  anchor.Bitcoin,
			"ethereum": anchor.Ethereum,
		}).Info("loaded reference prices")
	case errors.Is(err, store.ErrNotFound):
		log.Info("no stored reference prices yet")
	default:
		log.WithError(err).Warn("failed to load reference prices, starting without anchor")
	}
}

// MaybeCapture overwrites the anchor with the current prices when localNow
// falls anywhere inside the 6:43 capture minute, then persists it. Repeat
// invocations within the minute re-capture; with a 30s poll cadence that is
// at most two writes and the last one wins.
func (t *Tracker) MaybeCapture(btcPrice, ethPrice float64, localNow time.Time) bool {
	if localNow.Hour() != captureHour || localNow.Minute() != captureMinute {
		return false
	}

	captured := localNow
	t.mu.Lock()
	t.anchor = models.ReferenceAnchor{
		Bitcoin:   &btcPrice,
		Ethereum:  &ethPrice,
		Timestamp: &captured,
	}
	anchor := t.anchor
	t.mu.Unlock()

	log := t.log.WithComponent("reference_tracker").WithFields(logger.Fields{
		"bitcoin":  btcPrice,
		"ethereum": ethPrice,
	})
	if err := t.store.Save(BlobName, anchor); err != nil {
		log.WithError(err).Warn("failed to persist reference prices")
	} else {
		log.Info("reference prices captured")
	}
	return true
}

// PercentDeviation reports the percent change of current against the anchor
// price for the given instrument. The second return is false while no anchor
// exists.
func (t *Tracker) PercentDeviation(current float64, instrument string) (float64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var ref *float64
	switch instrument {
	case models.InstrumentBitcoin:
		ref = t.anchor.Bitcoin
	case models.InstrumentEthereum:
		ref = t.anchor.Ethereum
	}
	if ref == nil {
		return 0, false
	}
	return (current - *ref) / *ref * 100, true
}

// Anchor returns a copy of the current anchor values for inclusion in a
// market snapshot.
func (t *Tracker) Anchor() models.ReferenceAnchor {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.anchor
}
