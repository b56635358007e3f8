package event

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"

	bin "github.com/gagliardetto/binary"
)

// CurrentVersion is the payload schema version written by this engine.
const CurrentVersion uint8 = 0

var (
	ErrUnknownKind       = errors.New("event: unknown payload kind")
	ErrClockUnavailable  = errors.New("event: clock unavailable")
	ErrTrailingBytes     = errors.New("event: trailing bytes after payload")
	ErrEmitterNotCreated = errors.New("event: event emitter not created")
)

// Record is one sequenced event as published to the log sink.
type Record struct {
	EventID   int64
	Version   uint8
	BlockTime int64
	Data      Payload
}

// Kind returns the discriminator of the record's payload.
func (r *Record) Kind() Kind { return r.Data.Kind() }

type header struct {
	EventID   int64
	Version   uint8
	BlockTime int64
	Tag       uint8
}

// MarshalBinary encodes the record: event_id i64, version u8, block_time i64,
// then the u8 payload tag followed by the payload fields, all little-endian.
func (r *Record) MarshalBinary() ([]byte, error) {
	if r.Data == nil {
		return nil, fmt.Errorf("event: record %d has no payload", r.EventID)
	}
	kind := r.Data.Kind()
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, kind)
	}

	var buf bytes.Buffer
	enc := bin.NewBorshEncoder(&buf)
	if err := enc.Encode(header{
		EventID:   r.EventID,
		Version:   r.Version,
		BlockTime: r.BlockTime,
		Tag:       uint8(kind),
	}); err != nil {
		return nil, fmt.Errorf("event: failed to encode header: %w", err)
	}
	if err := enc.Encode(reflect.Indirect(reflect.ValueOf(r.Data)).Interface()); err != nil {
		return nil, fmt.Errorf("event: failed to encode %s payload: %w", kind, err)
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes a record produced by MarshalBinary.
func (r *Record) UnmarshalBinary(data []byte) error {
	dec := bin.NewBorshDecoder(data)

	var h header
	if err := dec.Decode(&h); err != nil {
		return fmt.Errorf("event: failed to decode header: %w", err)
	}
	kind := Kind(h.Tag)
	payload, err := newPayload(kind)
	if err != nil {
		return fmt.Errorf("%w: tag %d", err, h.Tag)
	}
	if err := dec.Decode(payload); err != nil {
		return fmt.Errorf("event: failed to decode %s payload: %w", kind, err)
	}
	if dec.Remaining() > 0 {
		return fmt.Errorf("%w: %d bytes", ErrTrailingBytes, dec.Remaining())
	}

	r.EventID = h.EventID
	r.Version = h.Version
	r.BlockTime = h.BlockTime
	r.Data = payload
	return nil
}

// Decode parses a single encoded record.
func Decode(data []byte) (*Record, error) {
	var r Record
	if err := r.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return &r, nil
}
