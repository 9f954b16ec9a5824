package ota

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"log/slog"
	"strings"
)

const hashChunkSize = 1024

// Stream writes an image sequentially into a partition while hashing it.
// It implements io.Writer so an image can be copied straight in from any
// transport.
type Stream struct {
	u         *Updater
	partition int
	base      uint32
	written   uint32
	chunks    int
	hasher    hash.Hash
}

// NewStream returns a Stream writing into partition starting at offset.
func (u *Updater) NewStream(partition int, offset uint32) *Stream {
	return &Stream{
		u:         u,
		partition: partition,
		base:      offset,
		hasher:    sha256.New(),
	}
}

// Write programs p at the current position. An image may not grow past
// the end of its partition.
func (s *Stream) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if uint64(s.base)+uint64(s.written)+uint64(len(p)) > PartitionSize {
		s.u.logger.Error("ota:firmware-too-large",
			slog.Int("offset", int(s.base)),
			slog.Int("written", int(s.written)),
			slog.Int("chunk", len(p)),
		)
		return 0, ErrImageTooLarge
	}
	if err := s.u.Write(s.partition, p, s.base+s.written); err != nil {
		return 0, err
	}
	s.hasher.Write(p)
	s.written += uint32(len(p))
	s.chunks++

	if s.chunks%64 == 0 {
		s.u.logger.Debug("ota:chunk-received",
			slog.Int("chunk", s.chunks),
			slog.Int("total", int(s.written)),
		)
	}
	return len(p), nil
}

// Written returns the number of bytes programmed so far.
func (s *Stream) Written() uint32 {
	return s.written
}

// Sum returns the SHA-256 of everything written so far.
func (s *Stream) Sum() []byte {
	return s.hasher.Sum(nil)
}

// Verify compares the image digest with a hex-encoded SHA-256. An empty
// expected digest skips verification.
func (s *Stream) Verify(expected string) error {
	actual := hex.EncodeToString(s.Sum())
	expected = strings.ToLower(strings.TrimSpace(expected))

	s.u.logger.Info("ota:verifying",
		slog.Int("bytes", int(s.written)),
		slog.String("hash", actual),
	)
	if expected != "" && expected != actual {
		s.u.logger.Error("ota:hash-mismatch", slog.String("expected", expected))
		return ErrHashMismatch
	}
	return nil
}

// HashRange returns the SHA-256 of length bytes at offset inside partition,
// read back from flash.
func (u *Updater) HashRange(partition int, offset, length uint32) ([]byte, error) {
	h := sha256.New()
	buf := make([]byte, hashChunkSize)
	for done := uint32(0); done < length; {
		n := min(length-done, hashChunkSize)
		if err := u.Read(partition, offset+done, buf[:n]); err != nil {
			return nil, err
		}
		h.Write(buf[:n])
		done += n
	}
	return h.Sum(nil), nil
}
