package autoreply

import (
	"sort"

	"github.com/nextlevelbuilder/replygate/internal/bus"
)

// maxObservedWindow caps the merged sent-message window retained per chat.
const maxObservedWindow = 50

// Detect infers whether a human operator has sent messages in a conversation
// the automation is managing. observed is the transport's time-ordered
// "sent from me" log — the ground truth of what actually left the account.
//
// The earliest automation-authored turn anchors the comparison: its most
// recent occurrence in observed bounds the scan, and any from-me message from
// that point on whose text is not among automation-authored turns must have
// been typed by a human.
//
// Known false negatives, accepted in favor of availability: a human reusing
// text the automation also sent is indistinguishable, and an anchor pruned
// from the observed window before any human message arrives is unprovable.
func Detect(history []Turn, observed []bus.SentMessage) bool {
	if len(history) == 0 {
		return false
	}

	var anchor string
	found := false
	for _, t := range history {
		if t.Speaker == SpeakerAssistant {
			anchor = t.Text
			found = true
			break
		}
	}
	if !found {
		// Nothing automation-authored yet; intervention is undetectable.
		return false
	}

	// Most recent occurrence of the anchor, searching from the end.
	anchorIdx := -1
	for i := len(observed) - 1; i >= 0; i-- {
		if observed[i].FromMe && observed[i].Text == anchor {
			anchorIdx = i
			break
		}
	}
	if anchorIdx == -1 {
		// Baseline not observed yet, or pruned. Not classified as intervention.
		return false
	}

	ours := make(map[string]bool, len(history))
	for _, t := range history {
		if t.Speaker == SpeakerAssistant {
			ours[t.Text] = true
		}
	}

	for _, m := range observed[anchorIdx:] {
		if !m.FromMe {
			continue
		}
		if !ours[m.Text] {
			return true
		}
	}
	return false
}

// MergeObserved folds a freshly fetched sent-message window into the cached
// one: entries are deduplicated by message ID, sorted by timestamp ascending,
// and capped at maxObservedWindow.
func MergeObserved(cached, fetched []bus.SentMessage) []bus.SentMessage {
	seen := make(map[string]bool, len(cached)+len(fetched))
	merged := make([]bus.SentMessage, 0, len(cached)+len(fetched))
	for _, m := range cached {
		if m.ID != "" && seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		merged = append(merged, m)
	}
	for _, m := range fetched {
		if m.ID != "" && seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		merged = append(merged, m)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})

	if len(merged) > maxObservedWindow {
		merged = merged[:maxObservedWindow]
	}
	return merged
}
