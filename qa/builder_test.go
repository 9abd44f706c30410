package qa_test

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/solenoidlabs/recall/core"
	"github.com/solenoidlabs/recall/qa"
)

func msg(seq int, role core.Role, content string) core.Message {
	return core.Message{
		ID:             "msg-" + string(rune('a'+seq)),
		ConversationID: "conv-1",
		Seq:            seq,
		Role:           role,
		Status:         core.StatusComplete,
		Content:        content,
	}
}

func TestBuildPairsTurnSpansToolMessages(t *testing.T) {
	messages := []core.Message{
		msg(0, core.RoleUser, "what did I spend last month?"),
		msg(1, core.RoleTool, "raw tool output"),
		msg(2, core.RoleAssistant, "you spent a lot on groceries"),
	}

	pairs := qa.BuildPairs(messages, "conv-1", "ws-1", "sess-1")
	if len(pairs) != 1 {
		t.Fatalf("expected 1 pair, got %d", len(pairs))
	}
	p := pairs[0]
	if p.StartSeq != 0 || p.EndSeq != 2 {
		t.Errorf("expected span [0,2], got [%d,%d]", p.StartSeq, p.EndSeq)
	}
	if p.Type != qa.PairTypeTurn {
		t.Errorf("expected turn pair, got %s", p.Type)
	}
	if p.PairID != qa.TurnPairID("conv-1", 0) {
		t.Errorf("unexpected pair id %q", p.PairID)
	}
}

func TestBuildPairsDropsOrphanedUser(t *testing.T) {
	messages := []core.Message{
		msg(0, core.RoleUser, "first question goes unanswered"),
		msg(1, core.RoleUser, "second question"),
		msg(2, core.RoleAssistant, "answer to the second"),
		msg(3, core.RoleUser, "trailing orphan with no reply"),
	}

	pairs := qa.BuildPairs(messages, "conv-1", "", "")
	if len(pairs) != 1 {
		t.Fatalf("expected 1 pair, got %d", len(pairs))
	}
	if pairs[0].StartSeq != 1 || pairs[0].EndSeq != 2 {
		t.Errorf("expected span [1,2], got [%d,%d]", pairs[0].StartSeq, pairs[0].EndSeq)
	}
}

func TestBuildPairsSkipsSystemAndIncomplete(t *testing.T) {
	draft := msg(1, core.RoleAssistant, "half-finished reply")
	draft.Status = core.StatusStreaming

	messages := []core.Message{
		msg(0, core.RoleSystem, "you are a helpful assistant"),
		msg(2, core.RoleUser, "is anyone listening out there?"),
		draft,
		msg(3, core.RoleAssistant, "yes, loud and clear!"),
	}

	pairs := qa.BuildPairs(messages, "conv-1", "", "")
	if len(pairs) != 1 {
		t.Fatalf("expected 1 pair, got %d", len(pairs))
	}
	if pairs[0].Question != "is anyone listening out there?" {
		t.Errorf("unexpected question %q", pairs[0].Question)
	}
}

func TestBuildPairsToolTraces(t *testing.T) {
	assistant := msg(1, core.RoleAssistant, "let me check")
	assistant.ToolCalls = []core.ToolCall{
		{ID: "call-1", Name: "get_balance", Args: json.RawMessage(`{"account":"main"}`)},
		{ID: "call-2", Name: "get_rate", Args: json.RawMessage(`{}`)},
		{ID: "call-3", Name: "lost_call", Args: json.RawMessage(`{}`)},
	}
	result1 := msg(2, core.RoleTool, "balance is $120")
	result1.ToolCallID = "call-1"
	result2 := msg(3, core.RoleTool, "")
	result2.ToolCallID = "call-2"

	messages := []core.Message{
		msg(0, core.RoleUser, "how much money do I have?"),
		assistant,
		result1,
		result2,
		msg(4, core.RoleAssistant, "you have $120 in the main account"),
	}

	pairs := qa.BuildPairs(messages, "conv-1", "ws-1", "")

	var traces []qa.Pair
	for _, p := range pairs {
		if p.Type == qa.PairTypeTrace {
			traces = append(traces, p)
		}
	}
	if len(traces) != 2 {
		t.Fatalf("expected 2 trace pairs, got %d", len(traces))
	}
	if traces[0].Question != `Tool: get_balance({"account":"main"})` {
		t.Errorf("unexpected trace question %q", traces[0].Question)
	}
	if traces[0].Answer != "balance is $120" {
		t.Errorf("unexpected trace answer %q", traces[0].Answer)
	}
	if traces[1].Answer != qa.EmptyToolResult {
		t.Errorf("expected placeholder for empty result, got %q", traces[1].Answer)
	}
	if traces[0].PairID != qa.TracePairID("conv-1", 1, "call-1") {
		t.Errorf("unexpected trace pair id %q", traces[0].PairID)
	}
}

func TestBuildPairsSortsBySequence(t *testing.T) {
	messages := []core.Message{
		msg(2, core.RoleAssistant, "the answer comes second"),
		msg(0, core.RoleUser, "the question comes first"),
	}
	pairs := qa.BuildPairs(messages, "conv-1", "", "")
	if len(pairs) != 1 {
		t.Fatalf("expected 1 pair, got %d", len(pairs))
	}
	if pairs[0].Question != "the question comes first" {
		t.Errorf("messages not sorted before pairing")
	}
}

func TestBuildPairsIsPure(t *testing.T) {
	messages := []core.Message{
		msg(0, core.RoleUser, "same input every time"),
		msg(1, core.RoleAssistant, "same output every time"),
	}
	a := qa.BuildPairs(messages, "conv-1", "ws-1", "sess-1")
	b := qa.BuildPairs(messages, "conv-1", "ws-1", "sess-1")
	if !reflect.DeepEqual(a, b) {
		t.Error("identical inputs produced different pairs")
	}
	if a[0].ContentHash == "" {
		t.Error("expected content hash to be set")
	}
}
