package frame

import (
	"bytes"
	"testing"

	"github.com/rasata/nettybridge/wire"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	groups := []*Group{
		{
			ID:        1,
			Handshake: &wire.Handshake{ClientHash: [16]byte{1}, ServerHash: [16]byte{2}, Match: wire.MatchUnset},
			Payload:   &wire.Payload{Body: []byte("hello")},
		},
		{
			ID:      2,
			Payload: &wire.Payload{Headers: map[string][]byte{"a": []byte("1")}, Body: []byte("world")},
		},
	}

	dec := NewDecoder()
	var got []*Group
	for _, g := range groups {
		buf := Encode(g)
		out, err := dec.Feed(buf)
		if err != nil {
			t.Fatalf("feed failed: %v", err)
		}
		got = append(got, out...)
	}
	if err := dec.End(); err != nil {
		t.Fatalf("unexpected trailing data: %v", err)
	}

	if len(got) != len(groups) {
		t.Fatalf("got %d groups, want %d", len(got), len(groups))
	}
	for i, g := range got {
		if g.ID != groups[i].ID {
			t.Fatalf("group %d: id mismatch: got %d want %d", i, g.ID, groups[i].ID)
		}
		if !bytes.Equal(g.Payload.Body, groups[i].Payload.Body) {
			t.Fatalf("group %d: body mismatch", i)
		}
	}
}

func TestDecoderChunkingInvariant(t *testing.T) {
	g := &Group{
		ID:        7,
		Handshake: &wire.Handshake{ClientHash: [16]byte{9}, ServerHash: [16]byte{8}, Match: wire.MatchBoth},
		Payload:   &wire.Payload{Body: bytes.Repeat([]byte("x"), 500)},
	}
	whole := Encode(g)

	for chunkSize := 1; chunkSize <= len(whole); chunkSize *= 3 {
		dec := NewDecoder()
		var groups []*Group
		for i := 0; i < len(whole); i += chunkSize {
			end := i + chunkSize
			if end > len(whole) {
				end = len(whole)
			}
			out, err := dec.Feed(whole[i:end])
			if err != nil {
				t.Fatalf("chunkSize %d: feed failed at offset %d: %v", chunkSize, i, err)
			}
			groups = append(groups, out...)
		}
		if len(groups) != 1 {
			t.Fatalf("chunkSize %d: got %d groups, want 1", chunkSize, len(groups))
		}
		if !bytes.Equal(groups[0].Payload.Body, g.Payload.Body) {
			t.Fatalf("chunkSize %d: body mismatch", chunkSize)
		}
	}
}

func TestFeedShortInputProducesNothing(t *testing.T) {
	dec := NewDecoder()
	got, err := dec.Feed([]byte{0, 0, 0, 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no groups from a 4-byte feed, got %d", len(got))
	}
	if err := dec.End(); err == nil {
		t.Fatal("expected a trailing-data error at End with a partial header buffered")
	}
}

// A frame_count of 0 leaves nothing for the payload codec to decode; the
// group is rejected rather than treated as an empty-payload success (spec
// §4.1, §8).
func TestFeedZeroFrameCount(t *testing.T) {
	dec := NewDecoder()
	header := make([]byte, 8) // id=0, frame_count=0
	_, err := dec.Feed(header)
	if err == nil {
		t.Fatal("expected the payload codec to reject a zero-frame group")
	}
}

func TestEndReportsTrailingData(t *testing.T) {
	dec := NewDecoder()
	_, err := dec.Feed([]byte{0, 0, 0, 1, 0, 0, 0, 1, 0xff})
	if err != nil {
		t.Fatalf("unexpected error mid-frame: %v", err)
	}
	err = dec.End()
	var trailing *TrailingDataError
	if err == nil {
		t.Fatal("expected a trailing-data error for an incomplete frame at End")
	} else if te, ok := err.(*TrailingDataError); !ok {
		t.Fatalf("expected *TrailingDataError, got %T", err)
	} else {
		trailing = te
	}
	if len(trailing.Data) == 0 {
		t.Fatal("expected trailing data to carry the unconsumed bytes")
	}
}

func TestDecoderStickyDowngrade(t *testing.T) {
	dec := NewDecoder()

	noHS := &Group{ID: 1, Payload: &wire.Payload{Body: []byte("plain")}}
	out, err := dec.Feed(Encode(noHS))
	if err != nil {
		t.Fatalf("first feed failed: %v", err)
	}
	if len(out) != 1 || out[0].Handshake != nil {
		t.Fatalf("expected one no-handshake group, got %+v", out)
	}
	if dec.expectHandshake {
		t.Fatal("expected sticky downgrade to have cleared expectHandshake")
	}

	second := &Group{ID: 2, Payload: &wire.Payload{Body: []byte("still plain")}}
	out, err = dec.Feed(Encode(second))
	if err != nil {
		t.Fatalf("second feed failed: %v", err)
	}
	if len(out) != 1 || out[0].Handshake != nil {
		t.Fatalf("expected second group to stay in no-handshake mode, got %+v", out)
	}
}
