package adbproto

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestSendProtocolString(t *testing.T) {
	for _, tc := range []struct {
		msg    string
		expect string
	}{
		{"", "0000"},
		{"host:version", "000chost:version"},
		{"host:transport:emulator-5554", "001chost:transport:emulator-5554"},
		{strings.Repeat("x", 255), "00ff" + strings.Repeat("x", 255)},
	} {
		var b bytes.Buffer
		if err := SendProtocolString(&b, tc.msg); err != nil {
			t.Fatalf("%q: unexpected error: %v", tc.msg, err)
		}
		if act, exp := b.String(), tc.expect; act != exp {
			t.Errorf("%q: expected %q, got %q", tc.msg, exp, act)
		}
	}
}

func TestSendProtocolStringTooLong(t *testing.T) {
	var b bytes.Buffer
	if err := SendProtocolString(&b, strings.Repeat("x", 0xFFFF+1)); err == nil {
		t.Error("expected error for oversized message")
	} else if !errors.Is(err, ErrProtocol) {
		t.Errorf("expected protocol error, got %v", err)
	}
	if b.Len() != 0 {
		t.Errorf("expected nothing to be written, got %q", b.String())
	}
}

func TestReadProtocolString(t *testing.T) {
	for _, tc := range []struct {
		wire   string
		expect string
	}{
		{"0000", ""},
		{"0009dead:beef", "dead:beef"},
		{"000Aupper:case", "upper:case"}, // uppercase hex is tolerated
	} {
		s, err := ReadProtocolString(strings.NewReader(tc.wire))
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", tc.wire, err)
		}
		if act, exp := s, tc.expect; act != exp {
			t.Errorf("%q: expected %q, got %q", tc.wire, exp, act)
		}
	}
}

func TestReadProtocolStringShort(t *testing.T) {
	for _, wire := range []string{"", "00", "0005abc"} {
		if _, err := ReadProtocolString(strings.NewReader(wire)); err == nil {
			t.Errorf("%q: expected error for truncated input", wire)
		} else if !errors.Is(err, ErrProtocol) && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
			t.Errorf("%q: unexpected error type: %v", wire, err)
		}
	}
}

func TestReadOkayFail(t *testing.T) {
	t.Run("Okay", func(t *testing.T) {
		if err := ReadOkayFail(strings.NewReader("OKAY")); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
	t.Run("Fail", func(t *testing.T) {
		err := ReadOkayFail(strings.NewReader("FAIL0005hello"))
		if err == nil {
			t.Fatal("expected error")
		}
		if !errors.Is(err, ErrServer) {
			t.Errorf("expected server error, got %v", err)
		}
		if !strings.Contains(err.Error(), "hello") {
			t.Errorf("expected error to contain server message, got %q", err.Error())
		}
	})
	t.Run("FailTruncatedMessage", func(t *testing.T) {
		err := ReadOkayFail(strings.NewReader("FAIL0005he"))
		if err == nil {
			t.Fatal("expected error")
		}
		if !errors.Is(err, ErrProtocol) {
			t.Errorf("expected protocol error for truncated failure message, got %v", err)
		}
	})
	t.Run("Garbage", func(t *testing.T) {
		err := ReadOkayFail(strings.NewReader("WHAT"))
		if err == nil {
			t.Fatal("expected error")
		}
		if !errors.Is(err, ErrProtocol) {
			t.Errorf("expected protocol error, got %v", err)
		}
	})
}
