package acquisition

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sergev/snap/protocol"
)

// ChunkMetadata is the device's answer to the chunk request
type ChunkMetadata struct {
	TotalBytes uint32 `json:"total_bytes"`
}

// ComputeChunkCount returns how many transfers of at most MaxTransferBytes
// carry limit samples in the given mode. An unknown mode needs no chunks.
func ComputeChunkCount(limit uint64, mode Mode) uint32 {
	bps := mode.BytesPerSample()
	if bps == 0 {
		return 0
	}
	perChunk := uint64(MaxTransferBytes / bps)
	chunks := limit / perChunk
	if limit%perChunk != 0 {
		chunks++
	}
	if chunks > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(chunks)
}

// ErrStarted marks a BeginStream failure that happened after the device
// accepted START; such a device has to be stopped.
var ErrStarted = errors.New("acquisition started")

// BeginStream configures the sample rate, starts the acquisition and requests
// the chunks. The chunk request is not acknowledged here: its response is the
// first thing the streaming reader consumes.
func BeginStream(link protocol.Link, cfg Config, timeout time.Duration) error {
	t, err := cfg.Mode.table()
	if err != nil {
		return err
	}

	if _, err := protocol.Exchange(link, t.config, protocol.Uint32(uint32(cfg.SampleRate)), timeout); err != nil {
		return fmt.Errorf("failed to configure sample rate: %w", err)
	}
	if _, err := protocol.Exchange(link, t.start, nil, timeout); err != nil {
		return fmt.Errorf("failed to start acquisition: %w", err)
	}

	chunks := ComputeChunkCount(cfg.SampleLimit, cfg.Mode)
	if err := protocol.SendCommand(link, t.getChunk, protocol.Uint32(chunks)); err != nil {
		return fmt.Errorf("%w, failed to request %d chunks: %w", ErrStarted, chunks, err)
	}
	return nil
}

// ReadChunkMetadata reads the response to the chunk request
func ReadChunkMetadata(link protocol.Link, mode Mode, timeout time.Duration) (ChunkMetadata, error) {
	t, err := mode.table()
	if err != nil {
		return ChunkMetadata{}, err
	}
	resp, err := protocol.ReadResponse(link, timeout)
	if err != nil {
		return ChunkMetadata{}, err
	}
	if err := resp.Err(t.getChunk); err != nil {
		return ChunkMetadata{}, err
	}
	if len(resp.Payload) < 4 {
		return ChunkMetadata{}, &protocol.ProtocolError{Op: "read chunk metadata",
			Err: fmt.Errorf("%w: %d byte payload, expected 4", protocol.ErrLengthMismatch, len(resp.Payload))}
	}
	return ChunkMetadata{TotalBytes: binary.LittleEndian.Uint32(resp.Payload)}, nil
}
