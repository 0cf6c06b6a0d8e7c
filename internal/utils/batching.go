package utils

import (
	"sync"
)

const DEFAULT_BATCH_SIZE = 50

// BatchBuffer collects items and hands them out in batches of at most maxSize.
type BatchBuffer[T any] struct {
	buffer     []T
	maxSize    int
	bufferLock sync.Mutex
}

func NewBatchBuffer[T any](maxSize int) *BatchBuffer[T] {
	if maxSize <= 0 {
		maxSize = DEFAULT_BATCH_SIZE
	}
	return &BatchBuffer[T]{
		buffer:  make([]T, 0, maxSize),
		maxSize: maxSize,
	}
}

// Add appends item and returns a full batch once maxSize items are buffered.
func (b *BatchBuffer[T]) Add(item T) []T {
	b.bufferLock.Lock()
	defer b.bufferLock.Unlock()

	b.buffer = append(b.buffer, item)
	if len(b.buffer) < b.maxSize {
		return nil
	}
	return b.takeLocked()
}

// Flush returns whatever is buffered, or nil.
func (b *BatchBuffer[T]) Flush() []T {
	b.bufferLock.Lock()
	defer b.bufferLock.Unlock()
	return b.takeLocked()
}

func (b *BatchBuffer[T]) takeLocked() []T {
	if len(b.buffer) == 0 {
		return nil
	}
	batch := b.buffer
	b.buffer = make([]T, 0, b.maxSize)
	return batch
}

func (b *BatchBuffer[T]) Size() int {
	b.bufferLock.Lock()
	defer b.bufferLock.Unlock()
	return len(b.buffer)
}

// Chunk splits items into consecutive batches of at most size, preserving order.
func Chunk[T any](items []T, size int) [][]T {
	buf := NewBatchBuffer[T](size)
	var batches [][]T
	for _, item := range items {
		if batch := buf.Add(item); batch != nil {
			batches = append(batches, batch)
		}
	}
	if rest := buf.Flush(); rest != nil {
		batches = append(batches, rest)
	}
	return batches
}
