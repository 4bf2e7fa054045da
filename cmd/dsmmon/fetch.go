package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dsmmcken/ivy-dsm/internal/debugapi"
)

// fetchSnapshot polls one node's GET /debug/directory. It never retries —
// unlike the coherence RPC transport's call_blocking, this is read-only
// operator tooling; a failed poll is just a stale frame, reported in the
// model rather than retried in place.
func fetchSnapshot(client *http.Client, addr string) (*debugapi.Snapshot, error) {
	resp, err := client.Get("http://" + addr + "/debug/directory")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("debug endpoint returned status %d", resp.StatusCode)
	}
	var snap debugapi.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 2 * time.Second}
}
