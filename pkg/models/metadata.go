package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MetadataVersion is the only payload version this executor understands.
// Unknown versions are ignored, never guessed at.
const MetadataVersion = 1

// Payload kinds within the versioned metadata envelope.
const (
	PayloadKindPlain = "plain_payment"
	PayloadKindYield = "yield_directive"
)

// ErrUnknownMetadataVersion is returned when the metadata envelope carries a
// version this executor does not understand.
var ErrUnknownMetadataVersion = errors.New("unknown metadata version")

// MetadataPayload is the decoded form of a task's metadata bytes: a tagged
// sum over a plain payment and a yield directive.
type MetadataPayload struct {
	Version int             `json:"v"`
	Kind    string          `json:"kind"`
	Yield   *YieldDirective `json:"yield,omitempty"`
}

// YieldDirective asks the executor to route settlement through a yield
// position, identified off-ledger by the task's strategy record.
type YieldDirective struct {
	Protocol string `json:"protocol"`
}

// IsYield reports whether the payload carries a yield directive.
func (p *MetadataPayload) IsYield() bool {
	return p != nil && p.Kind == PayloadKindYield
}

// DecodeMetadata parses task metadata bytes into a validated payload.
// Empty metadata is a plain payment. A payload with an unknown version
// returns ErrUnknownMetadataVersion; callers treat that as plain settlement
// rather than guessing at fields.
func DecodeMetadata(raw []byte) (*MetadataPayload, error) {
	if len(raw) == 0 {
		return &MetadataPayload{Version: MetadataVersion, Kind: PayloadKindPlain}, nil
	}

	var payload MetadataPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("malformed metadata: %w", err)
	}
	if payload.Version != MetadataVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMetadataVersion, payload.Version)
	}

	switch payload.Kind {
	case PayloadKindPlain:
		return &payload, nil
	case PayloadKindYield:
		if payload.Yield == nil {
			return nil, errors.New("yield directive payload missing yield body")
		}
		if _, err := ParseProtocol(payload.Yield.Protocol); err != nil {
			return nil, fmt.Errorf("yield directive: %w", err)
		}
		return &payload, nil
	default:
		return nil, fmt.Errorf("unknown metadata kind: %q", payload.Kind)
	}
}

// EncodeMetadata serializes a payload into task metadata bytes.
func EncodeMetadata(p *MetadataPayload) ([]byte, error) {
	return json.Marshal(p)
}
