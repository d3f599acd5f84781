// Package cidcodec decodes content identifiers from the formats the ledger
// stores them in. On-chain values are usually the hex encoding of a UTF-8
// CID string, profile file hashes arrive as integer character codes, and
// either may already be a plain CID. Decoding is best effort: a value that
// un-hexes to readable text is accepted even when it does not look like a
// CID, with a warning.
package cidcodec

import (
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/thenervelab/miner-ipfs-service/internal/logging"
)

// ErrUndecodable reports an input no decoding strategy could handle.
var ErrUndecodable = errors.New("cidcodec: value is not a recognizable CID encoding")

// Decoder applies the decoding heuristic, logging when it has to guess.
type Decoder struct {
	log *slog.Logger
}

func New(logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Decoder{log: logging.NewComponentLogger(logger, "cidcodec")}
}

// ChainValue decodes a raw on-chain profile value into a CID string.
func (d *Decoder) ChainValue(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", ErrUndecodable
	}
	if IsCIDShaped(trimmed) {
		return trimmed, nil
	}
	return d.decodeLoose(trimmed)
}

// FileHash decodes a profile file_hash field, which arrives as a sequence
// of integer character codes.
func (d *Decoder) FileHash(codes []int) (string, error) {
	if len(codes) == 0 {
		return "", ErrUndecodable
	}
	var b strings.Builder
	for _, code := range codes {
		b.WriteRune(rune(code))
	}
	joined := strings.TrimSpace(b.String())
	if joined == "" {
		return "", ErrUndecodable
	}
	if IsCIDShaped(joined) {
		return joined, nil
	}
	return d.decodeLoose(joined)
}

// decodeLoose handles values that are not already CID-shaped: hex of a
// UTF-8 CID string, a literal base-16 CID, or a shaped original as a last
// resort.
func (d *Decoder) decodeLoose(original string) (string, error) {
	cleaned := strings.TrimPrefix(strings.TrimPrefix(original, "0x"), "0X")

	if bytes, err := hex.DecodeString(cleaned); err == nil && utf8.Valid(bytes) {
		decoded := string(bytes)
		if !IsCIDShaped(decoded) {
			d.log.Warn("hex value decoded to a string that does not look like a CID",
				logging.String("decoded", decoded))
		}
		return decoded, nil
	}

	if isPlausibleHexCID(cleaned) {
		return cleaned, nil
	}

	if IsCIDShaped(original) {
		return original, nil
	}

	return "", ErrUndecodable
}

// IsCIDShaped reports whether a string matches a known CID textual shape:
// a CIDv0 (Qm, 46 chars), a base32 CIDv1 (bafy/bafk prefix), or a base36
// CIDv1 (k prefix).
func IsCIDShaped(s string) bool {
	switch {
	case strings.HasPrefix(s, "Qm") && len(s) == 46:
		return true
	case (strings.HasPrefix(s, "bafy") || strings.HasPrefix(s, "bafk")) && len(s) > 50:
		return true
	case strings.HasPrefix(s, "k") && len(s) > 50:
		return true
	}
	return false
}

// isPlausibleHexCID reports whether a cleaned string reads as the base-16
// text form of a CID: all hex digits, with a recognized multibase prefix
// or enough length to be a hash.
func isPlausibleHexCID(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !isHexDigit(r) {
			return false
		}
	}
	return strings.HasPrefix(s, "f0") || strings.HasPrefix(s, "01") || len(s) > 40
}

func isHexDigit(r rune) bool {
	switch {
	case r >= '0' && r <= '9':
		return true
	case r >= 'a' && r <= 'f':
		return true
	case r >= 'A' && r <= 'F':
		return true
	}
	return false
}
