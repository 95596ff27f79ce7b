package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestMaskFieldRedactsAccountAddresses(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{}))

	logger.Info("deposit reconciled",
		MaskField("owner", "fwd1qqqsecretaccount"),
		MaskField("market", "market-1.factory"),
	)

	raw := buf.Bytes()
	if bytes.Contains(raw, []byte("fwd1qqqsecretaccount")) {
		t.Fatalf("log output leaked account address: %s", raw)
	}

	var entry map[string]any
	if err := json.Unmarshal(raw, &entry); err != nil {
		t.Fatalf("failed to unmarshal log entry: %v", err)
	}
	if entry["owner"] != RedactedValue {
		t.Fatalf("owner not masked: %v", entry["owner"])
	}
	if entry["market"] != "market-1.factory" {
		t.Fatalf("allowlisted market id was masked: %v", entry["market"])
	}
}

func TestAllowlistExcludesAccountKeys(t *testing.T) {
	for _, key := range []string{"owner", "caller", "account", "treasury"} {
		if IsAllowlisted(key) {
			t.Fatalf("%s should not be allowlisted: %v", key, RedactionAllowlist())
		}
	}
	if !IsAllowlisted("stage") {
		t.Fatal("stage identifiers are public and should pass through")
	}
	if MaskValue("") != "" {
		t.Fatal("empty values must pass through unmasked")
	}
	if MaskValue("fwd1something") != RedactedValue {
		t.Fatal("non-empty values must be masked")
	}
}
