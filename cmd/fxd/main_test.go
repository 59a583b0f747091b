package main

import (
	"bytes"
	"encoding/hex"
	"strings"
	"testing"

	"fxchain/crypto"
)

func TestGenerateKeyOutputRoundTrips(t *testing.T) {
	var out bytes.Buffer
	if err := generateKey(&out); err != nil {
		t.Fatalf("generate key: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected address and key lines, got %q", out.String())
	}
	address := strings.TrimPrefix(lines[0], "address: ")
	keyHex := strings.TrimPrefix(lines[1], "private key: ")

	decoded, err := crypto.DecodeAddress(address)
	if err != nil {
		t.Fatalf("printed address does not decode: %v", err)
	}
	raw, err := hex.DecodeString(keyHex)
	if err != nil {
		t.Fatalf("printed key is not hex: %v", err)
	}
	key, err := crypto.PrivateKeyFromBytes(raw)
	if err != nil {
		t.Fatalf("printed key does not restore: %v", err)
	}
	if key.PubKey().Address().String() != decoded.String() {
		t.Fatalf("restored key derives %s, printed %s", key.PubKey().Address(), decoded)
	}
}
