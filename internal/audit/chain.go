package audit

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/davidahmann/creditgate/pkg/types"
)

// EventView is the canonical shape of an event that enters the hash chain.
// Digest and PrevDigest are excluded.
func EventView(ev types.WorkflowEvent) map[string]any {
	return map[string]any{
		"seq":       ev.Seq,
		"attempt":   ev.Attempt,
		"step":      string(ev.Stage),
		"status":    string(ev.Status),
		"timestamp": ev.Timestamp,
		"actor":     string(ev.Actor),
		"payload":   ev.Payload,
	}
}

// ChainDigest links ev to its predecessor: sha256(prev || canonical(ev)).
// The first event of a request uses an empty prev.
func ChainDigest(prev string, ev types.WorkflowEvent) (string, error) {
	canonical, err := Canonicalize(EventView(ev))
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(prev))
	h.Write(canonical)
	return digestPrefix + hex.EncodeToString(h.Sum(nil)), nil
}
