// Package rpc implements the named request/reply transport (spec.md
// §4.3): an HTTP POST per call, path = function name, UTF-8 string
// bodies. Page payloads travel as lower-case two-hex-digit-per-byte
// strings; mixed numeric fields join with a single ':'.
package rpc

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/dsmmcken/ivy-dsm/internal/dsmerr"
)

// EncodePage renders page bytes as lower-case hex, per spec.md §4.3.
func EncodePage(page []byte) string {
	return hex.EncodeToString(page)
}

// DecodePage parses a hex page payload. A length that doesn't match
// wantLen bytes (after decoding) is RPC_PROTOCOL: "wrong reply length"
// signals a programming error, not a transient condition.
func DecodePage(payload string, wantLen int) ([]byte, error) {
	b, err := hex.DecodeString(payload)
	if err != nil {
		return nil, dsmerr.Wrap(dsmerr.KindRPCProtocol, "page payload is not valid hex", err)
	}
	if len(b) != wantLen {
		return nil, dsmerr.New(dsmerr.KindRPCProtocol, fmt.Sprintf("page payload is %d bytes, want %d", len(b), wantLen))
	}
	return b, nil
}

// JoinFields builds a ':'-separated numeric payload, e.g. "addr:req_node".
func JoinFields(fields ...uint64) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = strconv.FormatUint(f, 10)
	}
	return strings.Join(parts, ":")
}

// SplitFields parses a ':'-separated payload into n numeric fields.
func SplitFields(payload string, n int) ([]uint64, error) {
	parts := strings.Split(payload, ":")
	if len(parts) != n {
		return nil, dsmerr.New(dsmerr.KindRPCProtocol, fmt.Sprintf("expected %d ':'-separated fields, got %d", n, len(parts)))
	}
	out := make([]uint64, n)
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return nil, dsmerr.Wrap(dsmerr.KindRPCProtocol, "non-numeric field in payload", err)
		}
		out[i] = v
	}
	return out, nil
}

const (
	ReplyOK    = "OK"
	ReplyNotOK = "NOT_OK"
)
