package autoreply

import (
	"testing"

	"github.com/nextlevelbuilder/replygate/internal/bus"
)

func fromMe(id, text string, ts int64) bus.SentMessage {
	return bus.SentMessage{ID: id, Text: text, Timestamp: ts, FromMe: true}
}

func TestDetectNoHistory(t *testing.T) {
	if Detect(nil, []bus.SentMessage{fromMe("1", "hi", 1)}) {
		t.Error("detected intervention with no history")
	}
}

func TestDetectNoAssistantTurn(t *testing.T) {
	history := []Turn{{Speaker: SpeakerUser, Text: "hello"}}
	if Detect(history, []bus.SentMessage{fromMe("1", "hi", 1)}) {
		t.Error("detected intervention with no automation-authored turn")
	}
}

func TestDetectAnchorMissing(t *testing.T) {
	history := []Turn{
		{Speaker: SpeakerUser, Text: "hello"},
		{Speaker: SpeakerAssistant, Text: "hi, how can I help?"},
	}
	observed := []bus.SentMessage{
		fromMe("1", "totally unrelated", 1),
		fromMe("2", "also unrelated", 2),
	}
	// The baseline has not been observed (or was pruned): not intervention.
	if Detect(history, observed) {
		t.Error("classified intervention without an observed anchor")
	}
}

func TestDetectHumanMessageAfterAnchor(t *testing.T) {
	history := []Turn{
		{Speaker: SpeakerUser, Text: "hello"},
		{Speaker: SpeakerAssistant, Text: "A"},
		{Speaker: SpeakerUser, Text: "more"},
		{Speaker: SpeakerAssistant, Text: "C"},
	}
	observed := []bus.SentMessage{
		fromMe("1", "A", 1),
		fromMe("2", "B", 2), // human operator
		fromMe("3", "C", 3),
	}
	if !Detect(history, observed) {
		t.Error("missed human message B between automation messages")
	}
}

func TestDetectAllObservedKnown(t *testing.T) {
	history := []Turn{
		{Speaker: SpeakerUser, Text: "hello"},
		{Speaker: SpeakerAssistant, Text: "A"},
		{Speaker: SpeakerUser, Text: "more"},
		{Speaker: SpeakerAssistant, Text: "B"},
	}
	observed := []bus.SentMessage{
		fromMe("1", "A", 1),
		fromMe("2", "B", 2),
	}
	if Detect(history, observed) {
		t.Error("flagged intervention although every observed message is automation-authored")
	}
}

func TestDetectIgnoresInboundMessages(t *testing.T) {
	history := []Turn{
		{Speaker: SpeakerAssistant, Text: "A"},
	}
	observed := []bus.SentMessage{
		fromMe("1", "A", 1),
		{ID: "2", Text: "a message from the peer", Timestamp: 2, FromMe: false},
	}
	if Detect(history, observed) {
		t.Error("peer messages must not count as intervention")
	}
}

func TestDetectAnchorsOnMostRecentOccurrence(t *testing.T) {
	// The anchor text appears twice; only messages after the LAST occurrence
	// may be flagged. "old human msg" sits between the two occurrences and
	// must be ignored.
	history := []Turn{
		{Speaker: SpeakerAssistant, Text: "A"},
	}
	observed := []bus.SentMessage{
		fromMe("1", "A", 1),
		fromMe("2", "old human msg", 2),
		fromMe("3", "A", 3),
	}
	if Detect(history, observed) {
		t.Error("scan must start at the most recent anchor occurrence")
	}
}

func TestDetectMessageBeforeAnchorIgnored(t *testing.T) {
	history := []Turn{
		{Speaker: SpeakerAssistant, Text: "A"},
	}
	observed := []bus.SentMessage{
		fromMe("1", "ancient human msg", 1),
		fromMe("2", "A", 2),
	}
	if Detect(history, observed) {
		t.Error("messages before the anchor are out of scope")
	}
}

func TestMergeObservedDedupSortCap(t *testing.T) {
	cached := []bus.SentMessage{
		fromMe("b", "two", 2),
		fromMe("a", "one", 1),
	}
	fetched := []bus.SentMessage{
		fromMe("b", "two", 2), // duplicate ID
		fromMe("c", "three", 3),
	}

	merged := MergeObserved(cached, fetched)

	if len(merged) != 3 {
		t.Fatalf("expected 3 entries after dedup, got %d", len(merged))
	}
	for i := 1; i < len(merged); i++ {
		if merged[i-1].Timestamp > merged[i].Timestamp {
			t.Fatalf("merged window not sorted by timestamp: %+v", merged)
		}
	}
}

func TestMergeObservedCap(t *testing.T) {
	var fetched []bus.SentMessage
	for i := 0; i < maxObservedWindow+20; i++ {
		fetched = append(fetched, fromMe(string(rune('a'+i%26))+string(rune('0'+i/26)), "m", int64(i)))
	}
	merged := MergeObserved(nil, fetched)
	if len(merged) != maxObservedWindow {
		t.Errorf("expected cap at %d, got %d", maxObservedWindow, len(merged))
	}
}
