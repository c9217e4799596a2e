// Package buffers provides reusable byte buffers to reduce heap allocations
// during file-crypto streaming.
package buffers

import (
	"log"
	"sync"
	"sync/atomic"

	"github.com/rescale/blindbackup/internal/constants"
)

// Pool monitoring counters.
var (
	chunkAllocations int64 // Total chunk buffer allocations (new creates)
	chunkReuses      int64 // Total chunk buffer reuses from pool
	smallAllocations int64 // Total small buffer allocations
	smallReuses      int64 // Total small buffer reuses from pool
)

var (
	// chunkPool provides 16MB buffers. No package in this module currently
	// takes buffers from it.
	chunkPool = &sync.Pool{
		New: func() interface{} {
			atomic.AddInt64(&chunkAllocations, 1)
			allocs := atomic.LoadInt64(&chunkAllocations)
			// Log every 10th allocation to avoid spam during heavy use.
			if allocs%10 == 0 {
				reuses := atomic.LoadInt64(&chunkReuses)
				log.Printf("Buffer pool: %d chunk allocations, %d reuses (%.1f%% reuse rate)",
					allocs, reuses, float64(reuses)/float64(allocs+reuses)*100)
			}
			buf := make([]byte, constants.ChunkSize)
			return &buf
		},
	}

	// smallPool provides 16KB buffers used while streaming a file body
	// through AES-CBC (internal/filecrypto).
	smallPool = &sync.Pool{
		New: func() interface{} {
			atomic.AddInt64(&smallAllocations, 1)
			buf := make([]byte, constants.EncryptionChunkSize)
			return &buf
		},
	}
)

// GetChunkBuffer retrieves a 16MB buffer from the pool. The buffer must be
// returned to the pool using PutChunkBuffer when done.
//
// Usage:
//
//	buf := buffers.GetChunkBuffer()
//	defer buffers.PutChunkBuffer(buf)
//	n, err := io.ReadFull(r, *buf)
//	// Use (*buf)[:n] for actual data
func GetChunkBuffer() *[]byte {
	buf := chunkPool.Get().(*[]byte)
	return buf
}

// PutChunkBuffer returns a buffer to the pool for reuse. The buffer must not
// be used after calling this function. Only buffers of the correct size
// (ChunkSize) are pooled; the buffer is cleared first to prevent plaintext
// or key material from persisting across reuses.
func PutChunkBuffer(buf *[]byte) {
	if buf != nil && len(*buf) == constants.ChunkSize {
		clear(*buf)
		atomic.AddInt64(&chunkReuses, 1)
		chunkPool.Put(buf)
	}
}

// GetSmallBuffer retrieves a 16KB buffer from the pool, used primarily for
// file-crypto streaming operations.
//
// Usage:
//
//	buf := buffers.GetSmallBuffer()
//	defer buffers.PutSmallBuffer(buf)
//	n, err := r.Read(*buf)
//	// Use (*buf)[:n] for actual data
func GetSmallBuffer() *[]byte {
	return smallPool.Get().(*[]byte)
}

// PutSmallBuffer returns a small buffer to the pool for reuse. Only buffers
// of the correct size are pooled; the buffer is cleared first.
func PutSmallBuffer(buf *[]byte) {
	if buf != nil && len(*buf) == constants.EncryptionChunkSize {
		clear(*buf)
		atomic.AddInt64(&smallReuses, 1)
		smallPool.Put(buf)
	}
}

// Stats holds buffer pool statistics, useful for monitoring memory usage.
type Stats struct {
	ChunkBufferSize  int   // Size of chunk buffers (bytes)
	SmallBufferSize  int   // Size of small buffers (bytes)
	ChunkAllocations int64 // Total chunk buffer allocations (new creates)
	ChunkReuses      int64 // Total chunk buffer reuses from pool
	SmallAllocations int64 // Total small buffer allocations (new creates)
	SmallReuses      int64 // Total small buffer reuses from pool
}

// GetStats returns a snapshot of current buffer pool statistics.
func GetStats() Stats {
	return Stats{
		ChunkBufferSize:  constants.ChunkSize,
		SmallBufferSize:  constants.EncryptionChunkSize,
		ChunkAllocations: atomic.LoadInt64(&chunkAllocations),
		ChunkReuses:      atomic.LoadInt64(&chunkReuses),
		SmallAllocations: atomic.LoadInt64(&smallAllocations),
		SmallReuses:      atomic.LoadInt64(&smallReuses),
	}
}
