// Package config loads the cluster configuration: the node list, the
// manager's index, the shared region's size, and its fixed base virtual
// address (spec.md §6). The format is normatively JSON.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dsmmcken/ivy-dsm/internal/dsmerr"
)

// raw mirrors the on-disk JSON shape; unknown keys are ignored by
// encoding/json's default Unmarshal behavior, matching spec.md §6.
type raw struct {
	Nodes     []string `json:"nodes"`
	ManagerID *int     `json:"manager_id"`
	RegionSz  *uint64  `json:"region_sz"`
	BaseAddr  *string  `json:"base_addr"`
}

// Cluster is the parsed, validated configuration.
type Cluster struct {
	Nodes     []string // "host:port", index-addressed
	ManagerID int
	RegionSz  uint64
	BaseAddr  uintptr
}

// Load reads and validates the cluster config at path. Failure modes match
// spec.md §6 exactly: CONFIG_MISSING if the file doesn't exist,
// CONFIG_FORMAT if any required key is missing or mistyped, BAD_NODE_ID if
// manager_id is out of range.
func Load(path string) (*Cluster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, dsmerr.Wrap(dsmerr.KindConfigMissing, "config file not found: "+path, err)
		}
		return nil, dsmerr.Wrap(dsmerr.KindConfigMissing, "reading config file", err)
	}

	var r raw
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, dsmerr.Wrap(dsmerr.KindConfigFormat, "config file is not valid JSON", err)
	}

	if len(r.Nodes) == 0 {
		return nil, dsmerr.New(dsmerr.KindConfigFormat, `missing or empty "nodes"`)
	}
	if r.ManagerID == nil {
		return nil, dsmerr.New(dsmerr.KindConfigFormat, `missing "manager_id"`)
	}
	if r.RegionSz == nil || *r.RegionSz == 0 {
		return nil, dsmerr.New(dsmerr.KindConfigFormat, `missing or zero "region_sz"`)
	}
	if r.BaseAddr == nil {
		return nil, dsmerr.New(dsmerr.KindConfigFormat, `missing "base_addr"`)
	}

	base, err := parseHexAddr(*r.BaseAddr)
	if err != nil {
		return nil, dsmerr.Wrap(dsmerr.KindConfigFormat, `"base_addr" is not a hexadecimal address`, err)
	}

	if *r.ManagerID < 0 || *r.ManagerID >= len(r.Nodes) {
		return nil, dsmerr.New(dsmerr.KindBadNodeID, fmt.Sprintf("manager_id %d is out of range for %d nodes", *r.ManagerID, len(r.Nodes)))
	}

	return &Cluster{
		Nodes:     r.Nodes,
		ManagerID: *r.ManagerID,
		RegionSz:  *r.RegionSz,
		BaseAddr:  base,
	}, nil
}

// ValidateNodeID checks a node id supplied on the command line (spec.md
// §6's argv[2]) against the loaded cluster.
func (c *Cluster) ValidateNodeID(id int) error {
	if id < 0 || id >= len(c.Nodes) {
		return dsmerr.New(dsmerr.KindBadNodeID, fmt.Sprintf("node id %d is out of range for %d nodes", id, len(c.Nodes)))
	}
	return nil
}

func parseHexAddr(s string) (uintptr, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, err
	}
	return uintptr(v), nil
}
