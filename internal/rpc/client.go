package rpc

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dsmmcken/ivy-dsm/internal/dsmerr"
)

// backoffFloor and backoffCeiling bound the exponential retry schedule
// call_blocking uses in place of the reference's flat 1-second sleep
// (spec.md §9, "Blocking retry"). The "retry forever" policy itself is
// unchanged: call_blocking never gives up.
const (
	backoffFloor   = 50 * time.Millisecond
	backoffCeiling = 5 * time.Second
)

// Client issues named RPCs against a fixed peer list, addressed by index
// (spec.md's node indices into the config's `nodes` array).
type Client struct {
	peers      []string // "host:port", indexed identically to config.Nodes
	httpClient *http.Client
	log        *logrus.Entry
}

// NewClient builds a Client over peers. No per-call deadline is set — the
// transport's contract (spec.md §4.3) is "no cancellation, no deadlines".
func NewClient(peers []string, log *logrus.Entry) *Client {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Client{
		peers:      peers,
		httpClient: &http.Client{},
		log:        log,
	}
}

func (c *Client) url(peerIndex int, name string) (string, error) {
	if peerIndex < 0 || peerIndex >= len(c.peers) {
		return "", dsmerr.New(dsmerr.KindBadState, "peer index out of range")
	}
	return fmt.Sprintf("http://%s/%s", c.peers[peerIndex], name), nil
}

// Call attempts name once against peerIndex and returns on first reply (or
// error). Transport-level failures are tagged RPC_TRANSIENT; any non-200
// HTTP status is RPC_PROTOCOL, whatever the body says.
func (c *Client) Call(peerIndex int, name string, payload []byte) ([]byte, error) {
	u, err := c.url(peerIndex, name)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Post(u, "text/plain; charset=utf-8", bytes.NewReader(payload))
	if err != nil {
		return nil, dsmerr.Wrap(dsmerr.KindRPCTransient, "rpc call failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, dsmerr.Wrap(dsmerr.KindRPCTransient, "rpc reply body unreadable", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, dsmerr.New(dsmerr.KindRPCProtocol, fmt.Sprintf("rpc %s: peer replied status %d: %s", name, resp.StatusCode, string(body)))
	}
	return body, nil
}

// CallBlocking retries Call with exponential backoff, bounded by
// backoffCeiling, until it succeeds. It never returns an error: a peer's
// transient unreachability must not abort a coherence transaction
// (spec.md §4.3). Only RPC_TRANSIENT failures are retried; anything else
// (RPC_PROTOCOL, BAD_STATE) is a programming error and is fatal.
func (c *Client) CallBlocking(peerIndex int, name string, payload []byte) []byte {
	delay := backoffFloor
	attempt := 0
	for {
		reply, err := c.Call(peerIndex, name, payload)
		if err == nil {
			return reply
		}
		if !dsmerr.Is(err, dsmerr.KindRPCTransient) {
			c.log.WithFields(logrus.Fields{"peer": peerIndex, "name": name}).WithError(err).Fatal("rpc: non-retryable call_blocking failure")
		}

		attempt++
		c.log.WithFields(logrus.Fields{
			"peer":    peerIndex,
			"name":    name,
			"attempt": attempt,
			"delay":   delay,
		}).WithError(err).Warn("rpc: call_blocking retrying")

		time.Sleep(delay)
		delay *= 2
		if delay > backoffCeiling {
			delay = backoffCeiling
		}
	}
}
