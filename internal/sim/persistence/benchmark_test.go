package persistence

import (
	"path/filepath"
	"testing"

	"github.com/ffutop/modbus-master/internal/sim/model"
)

// Write-path cost per backend: the OnWrite hook is called once per
// mutating function code, so its latency bounds slave throughput.

func BenchmarkFileStorageOnWrite(b *testing.B) {
	path := filepath.Join(b.TempDir(), "bench.bin")
	ms := NewFileStorage(path)
	m, err := ms.Load()
	if err != nil {
		b.Fatalf("Load: %v", err)
	}
	defer ms.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.HoldingRegisters[10] = uint16(i)
		ms.OnWrite(model.TableHoldingRegisters, 10, 1)
	}
}

func BenchmarkMmapStorageOnWrite(b *testing.B) {
	path := filepath.Join(b.TempDir(), "bench.mmap")
	ms := NewMmapStorage(path)
	m, err := ms.Load()
	if err != nil {
		b.Fatalf("Load: %v", err)
	}
	defer ms.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		// Dirty the page again before each flush.
		m.HoldingRegisters[10] = uint16(i)
		ms.OnWrite(model.TableHoldingRegisters, 10, 1)
	}
}

func BenchmarkFileStorageLoad(b *testing.B) {
	path := filepath.Join(b.TempDir(), "bench.bin")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ms := NewFileStorage(path)
		if _, err := ms.Load(); err != nil {
			b.Fatalf("Load: %v", err)
		}
		ms.Close()
	}
}

func BenchmarkMmapStorageLoad(b *testing.B) {
	path := filepath.Join(b.TempDir(), "bench.mmap")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ms := NewMmapStorage(path)
		if _, err := ms.Load(); err != nil {
			b.Fatalf("Load: %v", err)
		}
		ms.Close()
	}
}
