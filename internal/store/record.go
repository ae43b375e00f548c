package store

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// On-flash framing of one record:
//
//	[recordMark][len u16 LE][CBOR payload][crc16 BE]
//
// The CRC covers the length and the payload. A record whose CRC does not
// match ends the log: it is a torn write and everything after it is unused.
const (
	recordMark  = 0xA5
	frameHeader = 3
	frameCRC    = 2
	maxPayload  = 1024
)

type op uint8

const (
	opPut op = iota + 1
	opDel
	opClear
)

type record struct {
	_         struct{} `cbor:",toarray"`
	Op        op
	Namespace string
	Key       string
	Value     string
}

var (
	errEndOfLog = errors.New("end of log")
	errTorn     = errors.New("torn record")
)

func encodeRecord(r record) ([]byte, error) {
	payload, err := cbor.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("store: encode: %w", err)
	}
	if len(payload) > maxPayload {
		return nil, fmt.Errorf("store: record %q is %d bytes: %w", r.Key, len(payload), ErrTooLarge)
	}
	buf := make([]byte, frameHeader+len(payload)+frameCRC)
	buf[0] = recordMark
	binary.LittleEndian.PutUint16(buf[1:3], uint16(len(payload)))
	copy(buf[frameHeader:], payload)
	crc := crc16(buf[1 : frameHeader+len(payload)])
	binary.BigEndian.PutUint16(buf[frameHeader+len(payload):], crc)
	return buf, nil
}

// decodeRecord parses the record at the start of b and returns its framed
// size. It returns errEndOfLog on erased flash and errTorn on a bad frame.
func decodeRecord(b []byte) (record, int, error) {
	if len(b) < frameHeader || b[0] == 0xFF {
		return record{}, 0, errEndOfLog
	}
	if b[0] != recordMark {
		return record{}, 0, errTorn
	}
	n := int(binary.LittleEndian.Uint16(b[1:3]))
	if n > maxPayload || frameHeader+n+frameCRC > len(b) {
		return record{}, 0, errTorn
	}
	want := binary.BigEndian.Uint16(b[frameHeader+n:])
	if crc16(b[1:frameHeader+n]) != want {
		return record{}, 0, errTorn
	}
	var r record
	if err := cbor.Unmarshal(b[frameHeader:frameHeader+n], &r); err != nil {
		return record{}, 0, errTorn
	}
	return r, frameHeader + n + frameCRC, nil
}

// crc16 is CRC-16-CCITT (poly 0x1021, init 0xFFFF).
func crc16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
