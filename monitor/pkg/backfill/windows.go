package backfill

import (
	"cmp"
	"errors"
	"fmt"
	"slices"

	"github.com/gagliardetto/solana-go"

	"github.com/malbeclabs/lolly/monitor/pkg/store"
)

// ErrAnchorsNotIndexed means fewer than two events of the requested range
// are stored, so no window can be bounded.
var ErrAnchorsNotIndexed = errors.New("backfill: at least two events of the range must be indexed")

// MissingEventWindow bounds a run of missing events by the signatures of
// the stored events on either side.
type MissingEventWindow struct {
	LeastRecent   solana.Signature
	LeastRecentID int64
	MostRecent    solana.Signature
	MostRecentID  int64
	// StopAfter is the number of events missing between the anchors.
	StopAfter int64
}

func (w MissingEventWindow) contains(id int64) bool {
	return id > w.LeastRecentID && id < w.MostRecentID
}

// Windows returns one window per gap between adjacent stored events, most
// recent first.
func Windows(events []store.EventRow) ([]MissingEventWindow, error) {
	if len(events) < 2 {
		return nil, ErrAnchorsNotIndexed
	}
	sorted := slices.Clone(events)
	slices.SortFunc(sorted, func(a, b store.EventRow) int { return cmp.Compare(b.EventID, a.EventID) })

	var out []MissingEventWindow
	for i := 0; i+1 < len(sorted); i++ {
		more, less := sorted[i], sorted[i+1]
		if more.EventID-less.EventID <= 1 {
			continue
		}
		mostSig, err := solana.SignatureFromBase58(more.Signature)
		if err != nil {
			return nil, fmt.Errorf("failed to parse signature of event %d: %w", more.EventID, err)
		}
		leastSig, err := solana.SignatureFromBase58(less.Signature)
		if err != nil {
			return nil, fmt.Errorf("failed to parse signature of event %d: %w", less.EventID, err)
		}
		out = append(out, MissingEventWindow{
			LeastRecent:   leastSig,
			LeastRecentID: less.EventID,
			MostRecent:    mostSig,
			MostRecentID:  more.EventID,
			StopAfter:     more.EventID - less.EventID - 1,
		})
	}
	return out, nil
}
