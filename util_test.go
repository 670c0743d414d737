package svcmux

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessageIDFormat(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		id := NewMessageID()
		assert.Len(t, id, 27)
		assert.Equal(t, byte('-'), id[10])
		_, dup := seen[id]
		assert.False(t, dup, id)
		seen[id] = struct{}{}
	}
}

func TestIDGenerators(t *testing.T) {
	g := &CounterIDGenerator{}
	assert.Equal(t, "1", g.NextID())
	assert.Equal(t, "2", g.NextID())

	a, b := UUIDIDGenerator{}.NextID(), UUIDIDGenerator{}.NextID()
	assert.Len(t, a, 27)
	assert.NotEqual(t, a, b)

	f := IDGeneratorFunc(func() string { return "x" })
	assert.Equal(t, "x", f.NextID())
}

func TestCounterIDGeneratorConcurrent(t *testing.T) {
	g := &CounterIDGenerator{}
	var (
		wg   sync.WaitGroup
		lock sync.Mutex
		ids  = make(map[string]struct{})
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				id := g.NextID()
				lock.Lock()
				ids[id] = struct{}{}
				lock.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, ids, 800)
}

func TestIDString(t *testing.T) {
	tests := []struct {
		in   interface{}
		want string
	}{
		{nil, ""},
		{"abc", "abc"},
		{json.Number("42"), "42"},
		{float64(12), "12"},
		{1.5, "1.5"},
		{float32(2), "2"},
		{7, "7"},
		{int8(-3), "-3"},
		{uint64(9), "9"},
		{true, "true"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, idString(tt.in), "%#v", tt.in)
	}
}

func BenchmarkMessageID(b *testing.B) {
	for i := 0; i < b.N; i++ {
		NewMessageID()
	}
}
