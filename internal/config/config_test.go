package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dsmmcken/ivy-dsm/internal/dsmerr"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "cluster.json")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `{
		"nodes": ["127.0.0.1:9000", "127.0.0.1:9001"],
		"manager_id": 0,
		"region_sz": 8192,
		"base_addr": "0x600000000000"
	}`)

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(c.Nodes) != 2 {
		t.Errorf("Nodes = %v, want 2 entries", c.Nodes)
	}
	if c.ManagerID != 0 {
		t.Errorf("ManagerID = %d, want 0", c.ManagerID)
	}
	if c.RegionSz != 8192 {
		t.Errorf("RegionSz = %d, want 8192", c.RegionSz)
	}
	if c.BaseAddr != 0x600000000000 {
		t.Errorf("BaseAddr = %x, want 0x600000000000", c.BaseAddr)
	}
}

func TestLoadIgnoresUnknownKeys(t *testing.T) {
	path := writeConfig(t, `{
		"nodes": ["a:1"],
		"manager_id": 0,
		"region_sz": 4096,
		"base_addr": "0x600000000000",
		"unused_extra_field": "whatever"
	}`)
	if _, err := Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if !dsmerr.Is(err, dsmerr.KindConfigMissing) {
		t.Fatalf("err = %v, want CONFIG_MISSING", err)
	}
}

func TestLoadMissingKey(t *testing.T) {
	path := writeConfig(t, `{"nodes": ["a:1"], "manager_id": 0, "region_sz": 4096}`)
	_, err := Load(path)
	if !dsmerr.Is(err, dsmerr.KindConfigFormat) {
		t.Fatalf("err = %v, want CONFIG_FORMAT", err)
	}
}

func TestLoadMalformedJSON(t *testing.T) {
	path := writeConfig(t, `{not valid json`)
	_, err := Load(path)
	if !dsmerr.Is(err, dsmerr.KindConfigFormat) {
		t.Fatalf("err = %v, want CONFIG_FORMAT", err)
	}
}

func TestLoadBadNodeID(t *testing.T) {
	path := writeConfig(t, `{
		"nodes": ["a:1", "b:2"],
		"manager_id": 5,
		"region_sz": 4096,
		"base_addr": "0x600000000000"
	}`)
	_, err := Load(path)
	if !dsmerr.Is(err, dsmerr.KindBadNodeID) {
		t.Fatalf("err = %v, want BAD_NODE_ID", err)
	}
}

func TestValidateNodeID(t *testing.T) {
	c := &Cluster{Nodes: []string{"a:1", "b:2"}}
	if err := c.ValidateNodeID(1); err != nil {
		t.Errorf("ValidateNodeID(1): %v", err)
	}
	if err := c.ValidateNodeID(2); !dsmerr.Is(err, dsmerr.KindBadNodeID) {
		t.Errorf("ValidateNodeID(2) = %v, want BAD_NODE_ID", err)
	}
}
