package serializer

import (
	"encoding/binary"
	"fmt"
	"distkv/rpc/common"
)

// NewBinarySerializer creates a new serializer using a custom binary format
// optimized for speed and efficiency
func NewBinarySerializer() IRPCSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IRPCSerializer using a custom binary format
type binarySerializerImpl struct {
}

// Bit flags to indicate which optional fields are present
const (
	hasPayload byte = 1 << 0
	hasErr     byte = 1 << 1
)

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	totalSize := b.sizeBytes(msg)
	result := make([]byte, totalSize)

	// Write MsgType, Service, Method
	result[0] = byte(msg.MsgType)
	result[1] = byte(msg.Service)
	result[2] = byte(msg.Method)

	// Position for the flags byte, filled in last
	flagsPos := 3
	pos := 4

	var flags byte = 0

	// Handle Payload
	if msg.Payload != nil {
		flags |= hasPayload
		payloadLen := len(msg.Payload)

		binary.BigEndian.PutUint32(result[pos:pos+4], uint32(payloadLen))
		pos += 4

		if payloadLen > 0 {
			copy(result[pos:pos+payloadLen], msg.Payload)
			pos += payloadLen
		}
	}

	// Handle Err
	if msg.Err != "" {
		flags |= hasErr
		errBytes := []byte(msg.Err)
		errLen := len(errBytes)

		binary.BigEndian.PutUint32(result[pos:pos+4], uint32(errLen))
		pos += 4

		copy(result[pos:pos+errLen], errBytes)
		pos += errLen
	}

	result[flagsPos] = flags

	return result, nil
}

func (b binarySerializerImpl) Deserialize(data []byte, msg *common.Message) error {
	// MsgType + Service + Method + flags
	if len(data) < 4 {
		return fmt.Errorf("data too short for message header")
	}

	msg.MsgType = common.MessageType(data[0])
	msg.Service = common.Service(data[1])
	msg.Method = common.Method(data[2])
	flags := data[3]

	pos := 4

	if flags&hasPayload != 0 {
		if pos+4 > len(data) {
			return fmt.Errorf("data too short for payload length")
		}

		payloadLen := binary.BigEndian.Uint32(data[pos : pos+4])
		pos += 4

		if pos+int(payloadLen) > len(data) {
			return fmt.Errorf("data too short for payload data")
		}

		if payloadLen > 0 {
			msg.Payload = make([]byte, payloadLen)
			copy(msg.Payload, data[pos:pos+int(payloadLen)])
		} else {
			msg.Payload = []byte{}
		}
		pos += int(payloadLen)
	} else {
		msg.Payload = nil
	}

	if flags&hasErr != 0 {
		if pos+4 > len(data) {
			return fmt.Errorf("data too short for error length")
		}

		errLen := binary.BigEndian.Uint32(data[pos : pos+4])
		pos += 4

		if pos+int(errLen) > len(data) {
			return fmt.Errorf("data too short for error data")
		}

		msg.Err = string(data[pos : pos+int(errLen)])
		pos += int(errLen)
	} else {
		msg.Err = ""
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// sizeBytes calculates the total size needed for serialization
func (b binarySerializerImpl) sizeBytes(msg common.Message) int {
	// 1 byte each for MsgType, Service, Method + 1 byte for flags
	size := 4

	if msg.Payload != nil {
		size += 4 + len(msg.Payload)
	}
	if msg.Err != "" {
		size += 4 + len(msg.Err)
	}

	return size
}
