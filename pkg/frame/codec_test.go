package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleAlertFrame() Frame {
	return NewAlertFrame("inc-1", 1_700_000_000_000, Alert{
		TS:          1_700_000_000_000,
		ID:          "alert-1",
		Severity:    SeverityHigh,
		Entities:    []EntityRef{{Type: "host", ID: "web-01"}, {Type: "ip", ID: "192.168.1.100"}},
		Tags:        []string{"ssh", "brute_force", "T1110"},
		Summary:     "SSH brute force attack detected",
		EvidenceRef: "evidence://blob/abc123",
	})
}

func TestCodecsRoundTripEveryVariant(t *testing.T) {
	frames := []Frame{
		{TS: 1, IncidentID: "inc-1", Telemetry: &Telemetry{TS: 1, Host: "h", Source: "zeek", ECSJSON: "{}"}},
		sampleAlertFrame(),
		{TS: 1, IncidentID: "inc-1", Finding: &Finding{TS: 1, ID: "f1", Hypothesis: "lateral movement", CandidateTTPs: []string{"T1021.004"}}},
		{TS: 1, IncidentID: "inc-1", Plan: &ActionPlan{TS: 1, IncidentID: "inc-1", Playbooks: []string{"isolate_host"}, RiskTier: "high"}},
		{TS: 1, IncidentID: "inc-1", Run: &PlaybookRun{TS: 1, PlaybookID: "pb-1", Status: "success"}},
	}

	for _, codec := range []Codec{JSONCodec{}, BinaryCodec{}} {
		for _, f := range frames {
			t.Run(codec.Name()+"/"+mustVariant(t, f), func(t *testing.T) {
				encoded, err := codec.Encode(f)
				require.NoError(t, err)

				decoded, err := codec.Decode(encoded)
				require.NoError(t, err)

				assert.Equal(t, f, decoded)
			})
		}
	}
}

func mustVariant(t *testing.T, f Frame) string {
	t.Helper()
	v, err := f.Variant()
	require.NoError(t, err)
	return v
}

func TestVariantRejectsZeroOrMultiplePayloads(t *testing.T) {
	empty := Frame{TS: 1, IncidentID: "inc-1"}
	_, err := empty.Variant()
	assert.ErrorIs(t, err, ErrNoPayload)

	both := Frame{
		TS:         1,
		IncidentID: "inc-1",
		Telemetry:  &Telemetry{},
		Alert:      &Alert{},
	}
	_, err = both.Variant()
	assert.ErrorIs(t, err, ErrMultiplePayloads)
}

func TestJSONCodecWireShape(t *testing.T) {
	f := sampleAlertFrame()
	b, err := JSONCodec{}.Encode(f)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"ts":{"unix_ms":1700000000000}`)
	assert.Contains(t, string(b), `"incident_id":"inc-1"`)
	assert.Contains(t, string(b), `"alert":{`)
}

func TestBinaryCodecUnknownVariantFails(t *testing.T) {
	encoded, err := BinaryCodec{}.Encode(sampleAlertFrame())
	require.NoError(t, err)

	corrupted := append([]byte(nil), encoded...)
	corrupted[0] = 0xFF

	_, err = BinaryCodec{}.Decode(corrupted)
	assert.ErrorIs(t, err, ErrUnknownVariant)
}

func TestForName(t *testing.T) {
	c, err := ForName("json")
	require.NoError(t, err)
	assert.Equal(t, "json", c.Name())

	c, err = ForName("binary")
	require.NoError(t, err)
	assert.Equal(t, "binary", c.Name())

	_, err = ForName("protobuf")
	assert.Error(t, err)
}
