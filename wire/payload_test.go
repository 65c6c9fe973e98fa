package wire

import (
	"bytes"
	"testing"
)

func TestPayloadRoundTrip(t *testing.T) {
	cases := []*Payload{
		{Body: []byte("hello")},
		{Headers: map[string][]byte{"x": []byte("1")}, Body: []byte{}},
		{Headers: map[string][]byte{"a": []byte("1"), "b": []byte("2")}, Body: []byte{0xde, 0xad, 0xbe, 0xef}},
	}

	for i, want := range cases {
		buf := EncodePayload(want)
		got, err := DecodePayload(buf)
		if err != nil {
			t.Fatalf("case %d: %v", i, err)
		}
		if !bytes.Equal(got.Body, want.Body) {
			t.Fatalf("case %d: body mismatch: got %x want %x", i, got.Body, want.Body)
		}
		if len(got.Headers) != len(want.Headers) {
			t.Fatalf("case %d: header count mismatch", i)
		}
		for k, v := range want.Headers {
			if !bytes.Equal(got.Headers[k], v) {
				t.Fatalf("case %d: header %q mismatch", i, k)
			}
		}
	}
}

func TestDecodePayloadTruncatedHeaders(t *testing.T) {
	buf := EncodePayload(&Payload{Headers: map[string][]byte{"a": []byte("1")}, Body: []byte("x")})
	_, err := DecodePayload(buf[:1])
	if err == nil {
		t.Fatal("expected an error decoding truncated payload headers")
	}
}

func TestSystemErrorPayloadRoundTrip(t *testing.T) {
	se := &SystemError{Code: "CHANNEL_FAILURE", Message: "boom"}
	p := EncodeErrorPayload(map[string][]byte{"x-trace": []byte("1")}, se)

	got, ok := AsSystemError(p)
	if !ok {
		t.Fatal("expected AsSystemError to recognize the payload")
	}
	if got.Code != se.Code || got.Message != se.Message {
		t.Fatalf("system error mismatch: got %+v want %+v", got, se)
	}
}

func TestAsSystemErrorRejectsOrdinaryPayload(t *testing.T) {
	p := &Payload{Body: []byte("just some bytes, not an error")}
	if _, ok := AsSystemError(p); ok {
		t.Fatal("AsSystemError should not match an ordinary payload")
	}
}

func TestAsSystemErrorRejectsShortBody(t *testing.T) {
	p := &Payload{Body: []byte{0x01}}
	if _, ok := AsSystemError(p); ok {
		t.Fatal("AsSystemError should not match a body shorter than the discriminator")
	}
}

func TestEmptyResponseBodyDistinctFromErrorDiscriminator(t *testing.T) {
	p := &Payload{Body: EmptyResponseBody}
	if _, ok := AsSystemError(p); ok {
		t.Fatal("the empty-response body must never be mistaken for a system error")
	}
}
