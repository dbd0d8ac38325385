package frame

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// Codec serializes/deserializes Frame to/from bytes. Both wire formats
// defined below satisfy it; selection is a deployment-time flag.
type Codec interface {
	Encode(f Frame) ([]byte, error)
	Decode(b []byte) (Frame, error)
	Name() string
}

// jsonEnvelope is the JSON wire shape:
// {ts:{unix_ms:int}, incident_id:string, <variant_name>:{...}}.
type jsonEnvelope struct {
	TS struct {
		UnixMS int64 `json:"unix_ms"`
	} `json:"ts"`
	IncidentID string       `json:"incident_id"`
	Telemetry  *Telemetry   `json:"telemetry,omitempty"`
	Alert      *Alert       `json:"alert,omitempty"`
	Finding    *Finding     `json:"finding,omitempty"`
	Plan       *ActionPlan  `json:"plan,omitempty"`
	Run        *PlaybookRun `json:"run,omitempty"`
}

// JSONCodec is the human-readable wire format.
type JSONCodec struct{}

// Name implements Codec.
func (JSONCodec) Name() string { return "json" }

// Encode implements Codec. Encoding is deterministic: Go's encoding/json
// marshals struct fields in declaration order and never trails whitespace.
func (JSONCodec) Encode(f Frame) ([]byte, error) {
	if _, err := f.Variant(); err != nil {
		return nil, err
	}
	env := jsonEnvelope{
		IncidentID: f.IncidentID,
		Telemetry:  f.Telemetry,
		Alert:      f.Alert,
		Finding:    f.Finding,
		Plan:       f.Plan,
		Run:        f.Run,
	}
	env.TS.UnixMS = f.TS
	return json.Marshal(env)
}

// Decode implements Codec. Unknown top-level fields are ignored by
// encoding/json's default unmarshal behavior.
func (JSONCodec) Decode(b []byte) (Frame, error) {
	var env jsonEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Frame{}, fmt.Errorf("frame: decode json: %w", err)
	}
	f := Frame{
		TS:         env.TS.UnixMS,
		IncidentID: env.IncidentID,
		Telemetry:  env.Telemetry,
		Alert:      env.Alert,
		Finding:    env.Finding,
		Plan:       env.Plan,
		Run:        env.Run,
	}
	if _, err := f.Variant(); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// Binary wire tags. Field numbers are pinned so the format never shifts
// under struct reordering; unrecognized variant tags fail decode with
// ErrUnknownVariant rather than silently misreading subsequent bytes.
const (
	binVariantTelemetry   byte = 1
	binVariantAlert       byte = 2
	binVariantFinding     byte = 3
	binVariantPlan        byte = 4
	binVariantPlaybookRun byte = 5
)

// BinaryCodec is the compact, variant-tagged, field-numbered wire format.
// It encodes the envelope (ts, incident_id) followed by a length-prefixed
// JSON payload for the active variant — deterministic field order and
// pinned numeric width (uint32 big-endian lengths, int64 big-endian ts),
// without hand-rolling a second struct-tag parser for the payload itself.
type BinaryCodec struct{}

// Name implements Codec.
func (BinaryCodec) Name() string { return "binary" }

// Encode implements Codec.
func (BinaryCodec) Encode(f Frame) ([]byte, error) {
	variant, err := f.Variant()
	if err != nil {
		return nil, err
	}

	var tag byte
	var payload any
	switch variant {
	case VariantTelemetry:
		tag, payload = binVariantTelemetry, f.Telemetry
	case VariantAlert:
		tag, payload = binVariantAlert, f.Alert
	case VariantFinding:
		tag, payload = binVariantFinding, f.Finding
	case VariantPlan:
		tag, payload = binVariantPlan, f.Plan
	case VariantPlaybookRun:
		tag, payload = binVariantPlaybookRun, f.Run
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("frame: encode binary payload: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteByte(tag)
	if err := binary.Write(&buf, binary.BigEndian, f.TS); err != nil {
		return nil, err
	}
	idBytes := []byte(f.IncidentID)
	if err := binary.Write(&buf, binary.BigEndian, uint32(len(idBytes))); err != nil {
		return nil, err
	}
	buf.Write(idBytes)
	if err := binary.Write(&buf, binary.BigEndian, uint32(len(payloadBytes))); err != nil {
		return nil, err
	}
	buf.Write(payloadBytes)
	return buf.Bytes(), nil
}

// Decode implements Codec.
func (BinaryCodec) Decode(b []byte) (Frame, error) {
	r := bytes.NewReader(b)

	tag, err := r.ReadByte()
	if err != nil {
		return Frame{}, fmt.Errorf("frame: decode binary tag: %w", err)
	}

	var ts int64
	if err := binary.Read(r, binary.BigEndian, &ts); err != nil {
		return Frame{}, fmt.Errorf("frame: decode binary ts: %w", err)
	}

	var idLen uint32
	if err := binary.Read(r, binary.BigEndian, &idLen); err != nil {
		return Frame{}, fmt.Errorf("frame: decode binary incident_id length: %w", err)
	}
	idBytes := make([]byte, idLen)
	if _, err := r.Read(idBytes); err != nil {
		return Frame{}, fmt.Errorf("frame: decode binary incident_id: %w", err)
	}

	var payloadLen uint32
	if err := binary.Read(r, binary.BigEndian, &payloadLen); err != nil {
		return Frame{}, fmt.Errorf("frame: decode binary payload length: %w", err)
	}
	payloadBytes := make([]byte, payloadLen)
	if _, err := r.Read(payloadBytes); err != nil {
		return Frame{}, fmt.Errorf("frame: decode binary payload: %w", err)
	}

	f := Frame{TS: ts, IncidentID: string(idBytes)}
	switch tag {
	case binVariantTelemetry:
		var t Telemetry
		if err := json.Unmarshal(payloadBytes, &t); err != nil {
			return Frame{}, err
		}
		f.Telemetry = &t
	case binVariantAlert:
		var a Alert
		if err := json.Unmarshal(payloadBytes, &a); err != nil {
			return Frame{}, err
		}
		f.Alert = &a
	case binVariantFinding:
		var fi Finding
		if err := json.Unmarshal(payloadBytes, &fi); err != nil {
			return Frame{}, err
		}
		f.Finding = &fi
	case binVariantPlan:
		var p ActionPlan
		if err := json.Unmarshal(payloadBytes, &p); err != nil {
			return Frame{}, err
		}
		f.Plan = &p
	case binVariantPlaybookRun:
		var pr PlaybookRun
		if err := json.Unmarshal(payloadBytes, &pr); err != nil {
			return Frame{}, err
		}
		f.Run = &pr
	default:
		return Frame{}, ErrUnknownVariant
	}
	return f, nil
}

// ForName resolves a Codec by deployment-time configuration name
// ("json" or "binary").
func ForName(name string) (Codec, error) {
	switch name {
	case "json", "":
		return JSONCodec{}, nil
	case "binary":
		return BinaryCodec{}, nil
	default:
		return nil, fmt.Errorf("frame: unknown codec %q", name)
	}
}
