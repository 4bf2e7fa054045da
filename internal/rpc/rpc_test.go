package rpc

import (
	"bytes"
	"testing"
)

func TestEncodeDecodePageRoundTrip(t *testing.T) {
	page := bytes.Repeat([]byte{0xDE, 0xAD, 0xBE, 0xEF}, 1024)
	hexStr := EncodePage(page)
	if len(hexStr) != 2*len(page) {
		t.Fatalf("hex length = %d, want %d", len(hexStr), 2*len(page))
	}
	if hexStr[:2] != "de" {
		t.Errorf("expected lower-case hex, got %q", hexStr[:2])
	}
	got, err := DecodePage(hexStr, len(page))
	if err != nil {
		t.Fatalf("DecodePage: %v", err)
	}
	if !bytes.Equal(got, page) {
		t.Error("decoded page does not match original bytes")
	}
}

func TestDecodePageWrongLength(t *testing.T) {
	_, err := DecodePage(EncodePage(make([]byte, 100)), 4096)
	if err == nil {
		t.Fatal("expected RPC_PROTOCOL error for wrong length")
	}
}

func TestJoinSplitFieldsRoundTrip(t *testing.T) {
	payload := JoinFields(0x600000001000, 3)
	if payload != "105553116270592:3" {
		t.Fatalf("JoinFields = %q", payload)
	}
	fields, err := SplitFields(payload, 2)
	if err != nil {
		t.Fatalf("SplitFields: %v", err)
	}
	if fields[0] != 0x600000001000 || fields[1] != 3 {
		t.Errorf("fields = %v", fields)
	}
}

func TestSplitFieldsWrongCount(t *testing.T) {
	if _, err := SplitFields("1:2:3", 2); err == nil {
		t.Fatal("expected error for field count mismatch")
	}
}

func TestSplitFieldsNonNumeric(t *testing.T) {
	if _, err := SplitFields("abc:2", 2); err == nil {
		t.Fatal("expected error for non-numeric field")
	}
}
