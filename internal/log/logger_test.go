package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestInitWriter_ProdEmitsJSON(t *testing.T) {
	var buf bytes.Buffer
	InitWriter("prod", "tempchat-test", &buf)
	defer zerolog.SetGlobalLevel(zerolog.DebugLevel)

	log.Info().Str("room_id", "r1").Msg("room expired")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}
	if entry["room_id"] != "r1" || entry["message"] != "room expired" {
		t.Errorf("entry = %v", entry)
	}
	if entry["service"] != "tempchat-test" || entry["env"] != "prod" {
		t.Errorf("missing service/env fields: %v", entry)
	}
	if _, ok := entry["time"]; !ok {
		t.Error("entry has no timestamp")
	}
}

func TestInitWriter_ProdSuppressesDebug(t *testing.T) {
	var buf bytes.Buffer
	InitWriter("prod", "tempchat-test", &buf)
	defer zerolog.SetGlobalLevel(zerolog.DebugLevel)

	log.Debug().Msg("noise")
	if buf.Len() != 0 {
		t.Errorf("debug output in prod: %q", buf.String())
	}
}
