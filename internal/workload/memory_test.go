package workload

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/dsmmcken/ivy-dsm/internal/coherence"
	"github.com/dsmmcken/ivy-dsm/internal/memregion"
	"github.com/dsmmcken/ivy-dsm/internal/pagedir"
	"github.com/dsmmcken/ivy-dsm/internal/rpc"
)

const testBase = uintptr(0x600000000000)

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	addr := l.Addr().String()
	l.Close()
	return addr
}

func waitUp(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if conn, err := net.Dial("tcp", addr); err == nil {
			conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("%s never came up", addr)
}

func oneNodeMemory(t *testing.T, numPages int) *Memory {
	t.Helper()
	regionSize := uintptr(numPages) * pagedir.PageSize
	addr := freeAddr(t)
	dir := pagedir.New(testBase, regionSize, 0)
	region := memregion.NewFake(testBase, regionSize)
	client := rpc.NewClient([]string{addr}, nil)
	engine := coherence.New(0, 0, dir, region, client, nil)
	srv := rpc.NewServer(nil)
	engine.BindRPC(srv)
	go srv.Listen(addr)
	waitUp(t, addr)
	return NewMemory(region, engine)
}

func TestMemoryReadWriteRoundTripWithinOnePage(t *testing.T) {
	mem := oneNodeMemory(t, 1)
	data := []byte("hello, shared memory")
	if err := mem.Write(testBase+16, data); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := mem.Read(testBase+16, len(data))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("got %q, want %q", got, data)
	}
}

func TestMemoryReadWriteSpansPageBoundary(t *testing.T) {
	mem := oneNodeMemory(t, 2)
	offset := pagedir.PageSize - 4
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	if err := mem.Write(testBase+offset, data); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := mem.Read(testBase+offset, len(data))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("got %v, want %v", got, data)
	}
}

func TestMemoryUint32RoundTrip(t *testing.T) {
	mem := oneNodeMemory(t, 1)
	if err := mem.WriteUint32(testBase, 0xDEADBEEF); err != nil {
		t.Fatalf("WriteUint32: %v", err)
	}
	got, err := mem.ReadUint32(testBase)
	if err != nil {
		t.Fatalf("ReadUint32: %v", err)
	}
	if got != 0xDEADBEEF {
		t.Errorf("got %#x, want 0xDEADBEEF", got)
	}
}

func TestMemoryUint64RoundTrip(t *testing.T) {
	mem := oneNodeMemory(t, 1)
	if err := mem.WriteUint64(testBase, 0x0102030405060708); err != nil {
		t.Fatalf("WriteUint64: %v", err)
	}
	got, err := mem.ReadUint64(testBase)
	if err != nil {
		t.Fatalf("ReadUint64: %v", err)
	}
	if got != 0x0102030405060708 {
		t.Errorf("got %#x, want 0x0102030405060708", got)
	}
}
