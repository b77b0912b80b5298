package nkt

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/snksoft/crc"
)

// messages are encoded as [SOT][MESSAGE][EOT].
// the message is formatted as
// [DEST] [SOURCE] [TYPE] [REGISTER] [0..240 data bytes] [CRC]
// and any of SOT, EOT or the substitution marker appearing inside the message
// or its CRC is escaped as [marker][byte + 0x40]

const (
	// telStart is the start of telegram byte
	telStart = 0x0D

	// telEnd is the end of telegram byte
	telEnd = 0x0A

	// minSourceAddr is the minimum value used for a source address
	minSourceAddr = 0xA1

	// specialCharFirstReplacement is the first byte used to replace a special character
	specialCharFirstReplacement = 0x5E

	// specialCharShift is the amount to special characters up.
	// special characters max out at 0x5E, so we will never overflow
	specialCharShift = 0x40

	// maxData is the largest payload a telegram may carry
	maxData = 240
)

// message types
const (
	Nack     byte = 0
	CRCError byte = 1
	Busy     byte = 2
	Ack      byte = 3
	Read     byte = 4
	Write    byte = 5
	WriteSET byte = 6
	WriteCLR byte = 7
	Datagram byte = 8
	WriteTGL byte = 9
)

var (
	// dataOrder is the byte order of register payloads
	dataOrder = binary.LittleEndian

	// specialChars is a byte slice of values that must be filtered out of messages
	specialChars = []byte{telEnd, telStart, specialCharFirstReplacement}

	crcTable = crc.NewTable(crc.XMODEM)

	// ErrCRC is generated when the checksum of a received telegram does not match
	ErrCRC = errors.New("nkt: CRC mismatch, data lost in transmission, device state unknown")

	// MessageTypes maps bytecodes to a human readable name
	MessageTypes = map[byte]string{
		Nack:     "Nack",
		CRCError: "CRC Error",
		Busy:     "Busy",
		Ack:      "Ack",
		Read:     "Read",
		Write:    "Write",
		WriteSET: "Write SET",
		WriteCLR: "Write CLR",
		Datagram: "Datagram",
		WriteTGL: "Write TGL",
	}

	// currentSourceAddr holds the current source address and can only be accessed
	// by a single goroutine at once
	currentSourceAddr = make(chan byte, 1)
)

func init() {
	currentSourceAddr <- minSourceAddr
}

// MessagePrimitive is a struct holding the raw bytes for a message before packing, CRC, and other processing
type MessagePrimitive struct {
	Dest, Src, Type, Register byte
	Data                      []byte
}

func (mp MessagePrimitive) String() string {
	return fmt.Sprintf("%s dest=%#02x src=%#02x reg=%#02x data=% X",
		MessageTypes[mp.Type], mp.Dest, mp.Src, mp.Register, mp.Data)
}

// getSourceAddr returns a quasi-unique source address, so that a response can
// be matched to its request
func getSourceAddr() byte {
	addr := <-currentSourceAddr
	if addr < 0xFF {
		currentSourceAddr <- addr + 1
	} else {
		currentSourceAddr <- minSourceAddr
	}
	return addr
}

// crcHelper computes the two-byte CRC value in a concurrent safe way and one line
func crcHelper(buf []byte) []byte {
	crcBytes := make([]byte, 2)
	binary.BigEndian.PutUint16(crcBytes, crcTable.CRC16(crcTable.UpdateCrc(crcTable.InitCrc(), buf)))
	return crcBytes
}

func sanitize(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for _, b := range data {
		if bytes.IndexByte(specialChars, b) != -1 {
			out = append(out, specialCharFirstReplacement, b+specialCharShift)
		} else {
			out = append(out, b)
		}
	}
	return out
}

func reverseSanitize(data []byte) []byte {
	out := make([]byte, 0, len(data))
	subNext := false
	for _, b := range data {
		if b == specialCharFirstReplacement && !subNext {
			subNext = true
			continue
		}
		if subNext {
			b -= specialCharShift
		}
		out = append(out, b)
		subNext = false
	}
	return out
}

// MakeTelegram produces a telegram from the constituent pieces.
// the workflow to generate a telegram is as follows:
//  0. Using the message and metadata (to/from where, what type, what register)
//     generate the message body
//  1. Calculate a CRC-16 value based on CRC-CCITT XMODEM and append it
//  2. Scan for special characters and escape them
//  3. Prepend and append [SOT] and [EOT]
func MakeTelegram(mp MessagePrimitive) ([]byte, error) {
	if _, ok := MessageTypes[mp.Type]; !ok {
		return nil, fmt.Errorf("nkt: message type %d is invalid", mp.Type)
	}
	if len(mp.Data) > maxData {
		return nil, fmt.Errorf("nkt: %d data bytes exceeds the limit of %d", len(mp.Data), maxData)
	}
	buf := append([]byte{mp.Dest, mp.Src, mp.Type, mp.Register}, mp.Data...)
	buf = append(buf, crcHelper(buf)...)

	out := append([]byte{telStart}, sanitize(buf)...)
	return append(out, telEnd), nil
}

// DecodeTelegram renders a raw byte stream into a MessagePrimitive
func DecodeTelegram(tele []byte) (MessagePrimitive, error) {
	iStart := bytes.IndexByte(tele, telStart)
	if iStart == -1 {
		return MessagePrimitive{}, fmt.Errorf("nkt: telegram start byte %X not found", telStart)
	}
	iEnd := bytes.IndexByte(tele[iStart:], telEnd)
	if iEnd == -1 {
		return MessagePrimitive{}, fmt.Errorf("nkt: telegram end byte %X not found", telEnd)
	}
	tele = reverseSanitize(tele[iStart+1 : iStart+iEnd])
	if len(tele) < 6 {
		return MessagePrimitive{}, fmt.Errorf("nkt: telegram of %d bytes is too short", len(tele))
	}

	fidx := len(tele) - 2
	if !bytes.Equal(tele[fidx:], crcHelper(tele[:fidx])) {
		return MessagePrimitive{}, ErrCRC
	}
	tele = tele[:fidx]
	return MessagePrimitive{
		Dest:     tele[0],
		Src:      tele[1],
		Type:     tele[2],
		Register: tele[3],
		Data:     tele[4:],
	}, nil
}
