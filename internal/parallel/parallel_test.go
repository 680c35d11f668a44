package parallel

import (
	"sync/atomic"
	"testing"
)

func TestForCoversAllIndices(t *testing.T) {
	tests := []struct {
		name string
		n    int
		cfg  Config
	}{
		{"sequential fallback", 100, Config{Enabled: false}},
		{"below chunk threshold", 8, Config{Enabled: true, NumWorkers: 4, MinChunkSize: 16}},
		{"parallel", 1000, Config{Enabled: true, NumWorkers: 4, MinChunkSize: 16}},
		{"more workers than items", 20, Config{Enabled: true, NumWorkers: 64, MinChunkSize: 1}},
		{"default config", 500, DefaultConfig()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hits := make([]atomic.Int32, tt.n)
			For(tt.n, func(i int) {
				hits[i].Add(1)
			}, tt.cfg)

			for i := range hits {
				if got := hits[i].Load(); got != 1 {
					t.Fatalf("index %d visited %d times, want 1", i, got)
				}
			}
		})
	}
}

func TestForZeroItems(t *testing.T) {
	called := false
	For(0, func(int) { called = true }, DefaultConfig())
	if called {
		t.Error("f called for n=0")
	}
}
