package capture

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func BenchmarkAddRecord(b *testing.B) {
	dir, err := os.MkdirTemp("", "capturefile")
	if err != nil {
		b.Fatal(err)
	}
	defer os.RemoveAll(dir)

	cf, err := Open(filepath.Join(dir, "bench.capture"), WithWrite())
	if err != nil {
		b.Fatal(err)
	}
	defer cf.Close()

	record := make([]byte, 1024)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := cf.AddRecord(record); err != nil {
			b.Fatal(err)
		}
	}
	b.StopTimer()
	if err := cf.Commit(); err != nil {
		b.Fatal(err)
	}
}

func BenchmarkRecordAt(b *testing.B) {
	dir, err := os.MkdirTemp("", "capturefile")
	if err != nil {
		b.Fatal(err)
	}
	defer os.RemoveAll(dir)

	cf, err := Open(filepath.Join(dir, "bench.capture"), WithWrite())
	if err != nil {
		b.Fatal(err)
	}
	defer cf.Close()

	const total = 10000
	for i := 1; i <= total; i++ {
		if _, err := cf.AddRecord([]byte(fmt.Sprintf("record %d padded out to a realistic size", i))); err != nil {
			b.Fatal(err)
		}
	}
	if err := cf.Commit(); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		n := uint64(i%total + 1)
		if _, err := cf.RecordAt(n); err != nil {
			b.Fatal(err)
		}
	}
}
