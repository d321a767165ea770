package objstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

// Memory is an in-process Store for tests and local runs.
type Memory struct {
	mu      sync.Mutex
	objects map[string][]byte
	reads   map[string]int
	writes  map[string]int
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		objects: make(map[string][]byte),
		reads:   make(map[string]int),
		writes:  make(map[string]int),
	}
}

func memKey(bucket, key string) string { return bucket + "/" + key }

// Put stores raw bytes, e.g. a fake upload.
func (m *Memory) Put(bucket, key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[memKey(bucket, key)] = append([]byte(nil), data...)
	m.writes[memKey(bucket, key)]++
}

// Reads returns how many times an object has been opened or read.
func (m *Memory) Reads(bucket, key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads[memKey(bucket, key)]
}

// Writes returns how many times an object has been written.
func (m *Memory) Writes(bucket, key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes[memKey(bucket, key)]
}

// Open implements Store.
func (m *Memory) Open(_ context.Context, bucket, key string) (io.ReadCloser, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads[memKey(bucket, key)]++
	data, ok := m.objects[memKey(bucket, key)]
	if !ok {
		return nil, 0, fmt.Errorf("mem://%s/%s: %w", bucket, key, ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

// ReadText implements Store.
func (m *Memory) ReadText(_ context.Context, bucket, key string) (Text, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads[memKey(bucket, key)]++
	data, ok := m.objects[memKey(bucket, key)]
	if !ok {
		return Missing, nil
	}
	return Found(string(data)), nil
}

// WriteText implements Store.
func (m *Memory) WriteText(_ context.Context, bucket, key, text string) error {
	m.Put(bucket, key, []byte(text))
	return nil
}

// List implements Store.
func (m *Memory) List(_ context.Context, bucket, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	full := memKey(bucket, prefix)
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, full) {
			keys = append(keys, strings.TrimPrefix(k, bucket+"/"))
		}
	}
	sort.Strings(keys)
	return keys, nil
}
