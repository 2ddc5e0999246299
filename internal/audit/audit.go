// Package audit fingerprints a sale's event log with a content identifier, so
// two copies of a log can be compared by a single string.
package audit

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/Mohsinsiddi/w3ico/internal/sale"
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// Encode renders events as JSON Lines in sequence order. It fails on a gap
// or a repeat in the sequence numbers.
func Encode(events []sale.Event) ([]byte, error) {
	var buf bytes.Buffer
	for i, ev := range events {
		if want := int64(i + 1); ev.Seq != want {
			return nil, fmt.Errorf("audit: event %d has seq %d, want %d", i, ev.Seq, want)
		}
		line, err := json.Marshal(ev)
		if err != nil {
			return nil, fmt.Errorf("audit: encoding event %d: %w", ev.Seq, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// LogCID returns the CIDv1 (raw codec, sha2-256) of the full event log.
func LogCID(events []sale.Event) (cid.Cid, error) {
	data, err := Encode(events)
	if err != nil {
		return cid.Undef, err
	}
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, sum), nil
}

// Verify reports whether events hash to want.
func Verify(events []sale.Event, want string) (bool, error) {
	expected, err := cid.Decode(want)
	if err != nil {
		return false, fmt.Errorf("audit: %q is not a CID: %w", want, err)
	}
	got, err := LogCID(events)
	if err != nil {
		return false, err
	}
	return got.Equals(expected), nil
}
