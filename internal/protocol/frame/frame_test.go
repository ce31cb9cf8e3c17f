package frame

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeControlWireBytes(t *testing.T) {
	cases := map[MessageType][]byte{
		TypeJoin:  {0x8F, 0x01},
		TypeLeave: {0x8F, 0x02},
		TypeAck:   {0x8F, 0x00},
	}
	for typ, want := range cases {
		got, err := EncodeControl(typ)
		if err != nil {
			t.Fatalf("encode %s: %v", typ, err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("encode %s: got=% x want=% x", typ, got, want)
		}
	}
}

func TestEncodeControlRejectsDataAndEnd(t *testing.T) {
	for _, typ := range []MessageType{TypeData, TypeEnd, MessageType(0x7F)} {
		if _, err := EncodeControl(typ); !errors.Is(err, ErrNotControl) {
			t.Fatalf("expected ErrNotControl for %s, got %v", typ, err)
		}
	}
}

func TestEncodeDataWireBytes(t *testing.T) {
	got := EncodeData([]byte("hi"))
	want := []byte{0x8F, 0x03, 'h', 'i', 0x8F, 0x04}
	if !bytes.Equal(got, want) {
		t.Fatalf("got=% x want=% x", got, want)
	}

	got = EncodeData(nil)
	want = []byte{0x8F, 0x03, 0x8F, 0x04}
	if !bytes.Equal(got, want) {
		t.Fatalf("empty payload: got=% x want=% x", got, want)
	}
}

func TestEncodeDataDoublesEscape(t *testing.T) {
	payload := []byte{0x01, Escape, 0x02, Escape, Escape}
	got := EncodeData(payload)
	want := []byte{0x8F, 0x03, 0x01, 0x8F, 0x8F, 0x02, 0x8F, 0x8F, 0x8F, 0x8F, 0x8F, 0x04}
	if !bytes.Equal(got, want) {
		t.Fatalf("got=% x want=% x", got, want)
	}

	plain := EncodeData([]byte{0x01, 0x00, 0x02, 0x00, 0x00})
	if len(got)-len(plain) != 3 {
		t.Fatalf("expected 3 extra bytes for 3 escapes, got %d", len(got)-len(plain))
	}
	if EscapedLen(payload) != len(payload)+3 {
		t.Fatalf("unexpected escaped len: %d", EscapedLen(payload))
	}
}

func TestCheckPayloadLimits(t *testing.T) {
	limits := Limits{MaxPayloadBytes: 4}
	if err := CheckPayload([]byte("four"), limits); err != nil {
		t.Fatalf("payload at limit: %v", err)
	}
	if err := CheckPayload([]byte("fives"), limits); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
	if err := CheckPayload(make([]byte, 1<<20), Limits{}); err != nil {
		t.Fatalf("zero limits should not cap payloads: %v", err)
	}
}

func TestMessageTypeString(t *testing.T) {
	if TypeJoin.String() != "join" || TypeEnd.String() != "end" {
		t.Fatalf("unexpected names: %s %s", TypeJoin, TypeEnd)
	}
	if MessageType(0x42).String() != "type(0x42)" {
		t.Fatalf("unexpected unknown name: %s", MessageType(0x42))
	}
}
