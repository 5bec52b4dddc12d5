package frame

import (
	"errors"
	"testing"
)

const resultLine = `00:00:38.306 RSL: RESULT = {"GPIO2":{"416":"PWM1"},"GPIO4":{"0":"None"}}` + "\r\n"

func feedAll(t *testing.T, a *Accumulator, chunks [][]byte) []Message {
	t.Helper()
	var msgs []Message
	for _, c := range chunks {
		got, err := a.Feed(c)
		if err != nil {
			t.Fatalf("unexpected feed error: %v", err)
		}
		msgs = append(msgs, got...)
	}
	return msgs
}

func TestFeed_ChunkBoundaryIndependence(t *testing.T) {
	data := []byte(resultLine)

	whole := feedAll(t, New(), [][]byte{data})

	// Split at every possible boundary, including mid-JSON.
	for cut := 1; cut < len(data); cut++ {
		split := feedAll(t, New(), [][]byte{data[:cut], data[cut:]})

		if len(split) != len(whole) {
			t.Fatalf("cut %d: got %d messages, want %d", cut, len(split), len(whole))
		}
		for i := range whole {
			if split[i].Raw != whole[i].Raw {
				t.Errorf("cut %d: message %d = %q, want %q", cut, i, split[i].Raw, whole[i].Raw)
			}
		}
	}

	// Byte-by-byte must also agree.
	var single [][]byte
	for i := range data {
		single = append(single, data[i:i+1])
	}
	got := feedAll(t, New(), single)
	if len(got) != 1 || got[0].Raw != whole[0].Raw {
		t.Errorf("byte-wise feed disagrees: %+v", got)
	}
}

func TestFeed_NestedBracesYieldOneMessage(t *testing.T) {
	msgs, err := New().Feed([]byte(`{"a": {"b": 1}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}

	outer, ok := msgs[0].Fields["a"].(map[string]any)
	if !ok {
		t.Fatalf("nested object lost: %+v", msgs[0].Fields)
	}
	if outer["b"].(float64) != 1 {
		t.Errorf("nested value = %v, want 1", outer["b"])
	}
}

func TestFeed_LeadingCloseBraceDoesNotComplete(t *testing.T) {
	a := New()

	msgs, err := a.Feed([]byte("}}} garbage from a prior capture\r\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("spurious completion from stray close braces: %+v", msgs)
	}

	// The real message afterwards must still come out whole.
	msgs, err = a.Feed([]byte(`{"ok":true}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Raw != `{"ok":true}` {
		t.Fatalf("got %+v, want one {\"ok\":true} message", msgs)
	}
}

func TestFeed_MultipleMessagesInOneChunk(t *testing.T) {
	msgs, err := New().Feed([]byte(`{"a":1}` + "\n" + `{"b":2}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Raw != `{"a":1}` || msgs[1].Raw != `{"b":2}` {
		t.Errorf("messages = %q, %q", msgs[0].Raw, msgs[1].Raw)
	}
}

func TestFeed_PrefixAndLineNoiseStripped(t *testing.T) {
	// Device wraps long objects across lines; CR/LF lands inside the payload.
	chunks := [][]byte{
		[]byte("00:00:38.306 RSL: RESULT = {\"0\":\"No"),
		[]byte("ne\",\r\n\"32\":\"Button\"}"),
	}
	msgs := feedAll(t, New(), chunks)
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	want := `{"0":"None","32":"Button"}`
	if msgs[0].Raw != want {
		t.Errorf("raw = %q, want %q", msgs[0].Raw, want)
	}
}

func TestFeed_MalformedPayloadReported(t *testing.T) {
	a := New()

	_, err := a.Feed([]byte(`{"broken": }`))
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("error = %v, want ErrMalformed", err)
	}

	// Accumulator must have reset; a clean retry succeeds.
	msgs, err := a.Feed([]byte(`{"ok":1}`))
	if err != nil {
		t.Fatalf("unexpected error after malformed frame: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages after reset, want 1", len(msgs))
	}
}

func TestFeed_MalformedFrameDoesNotSwallowChunkRemainder(t *testing.T) {
	// A bad frame and a good one arriving in the same chunk must behave
	// exactly like the two frames arriving separately: the error is
	// reported and the good message still comes out.
	data := `{"broken": }{"ok":1}`

	msgs, err := New().Feed([]byte(data))
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("error = %v, want ErrMalformed", err)
	}
	if len(msgs) != 1 || msgs[0].Raw != `{"ok":1}` {
		t.Fatalf("good frame lost alongside malformed one: %+v", msgs)
	}

	// Same bytes split between the frames must agree.
	a := New()
	if _, err := a.Feed([]byte(`{"broken": }`)); !errors.Is(err, ErrMalformed) {
		t.Fatalf("error = %v, want ErrMalformed", err)
	}
	split, err := a.Feed([]byte(`{"ok":1}`))
	if err != nil || len(split) != 1 || split[0].Raw != msgs[0].Raw {
		t.Fatalf("split feed disagrees: msgs=%+v err=%v", split, err)
	}
}

func TestFeed_UnclosedMessageStaysPending(t *testing.T) {
	a := New()

	msgs, err := a.Feed([]byte(`{"half":`))
	if err != nil || len(msgs) != 0 {
		t.Fatalf("got msgs=%v err=%v, want none", msgs, err)
	}
	if !a.Pending() {
		t.Error("accumulator should report a pending message")
	}

	a.Reset()
	if a.Pending() {
		t.Error("reset did not clear pending state")
	}
}
