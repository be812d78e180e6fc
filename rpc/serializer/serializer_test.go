package serializer

import (
	"distkv/rpc/common"
	"reflect"
	"testing"
)

// testSerializers is a map of serializer name to factory function
var testSerializers = map[string]func() IRPCSerializer{
	"JSON":   NewJSONSerializer,
	"GOB":    NewGOBSerializer,
	"Binary": NewBinarySerializer,
}

// testMessages creates a set of test messages with different fields filled
func testMessages() []common.Message {
	return []common.Message{
		// Basic response with no payload
		{MsgType: common.MsgTResponse, Service: common.ServiceKVS, Method: common.MethodGet},

		// Put request
		{
			MsgType: common.MsgTRequest,
			Service: common.ServiceKVS,
			Method:  common.MethodPut,
			Payload: []byte("encoded-put-request"),
		},

		// Get response with value
		{
			MsgType: common.MsgTResponse,
			Service: common.ServiceKVS,
			Method:  common.MethodGet,
			Payload: []byte("encoded-get-response"),
		},

		// Error response
		{
			MsgType: common.MsgTError,
			Service: common.ServiceKVS,
			Method:  common.MethodPut,
			Err:     "test error message",
		},

		// Paxos message with all fields filled
		{
			MsgType: common.MsgTRequest,
			Service: common.ServicePaxos,
			Method:  common.MethodAccept,
			Payload: []byte("gob-encoded-accept-args"),
			Err:     "",
		},
	}
}

// TestSerializerRoundTrip tests that messages can be serialized and deserialized correctly
func TestSerializerRoundTrip(t *testing.T) {
	messages := testMessages()

	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			for i, msg := range messages {
				// Serialize
				data, err := serializer.Serialize(msg)
				if err != nil {
					t.Errorf("Failed to serialize message %d: %v", i, err)
					continue
				}

				// Deserialize
				var result common.Message
				err = serializer.Deserialize(data, &result)
				if err != nil {
					t.Errorf("Failed to deserialize message %d: %v", i, err)
					continue
				}

				// Compare
				if !reflect.DeepEqual(msg, result) {
					t.Errorf("Message %d doesn't match after round trip:\nOriginal: %+v\nResult: %+v",
						i, msg, result)
				}
			}
		})
	}
}

// TestMessageTypes tests each message type with each serializer
func TestMessageTypes(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			for msgType := common.MsgTRequest; msgType <= common.MsgTError; msgType++ {
				msg := common.Message{MsgType: msgType, Service: common.ServiceKVS, Method: common.MethodGet}

				// Serialize
				data, err := serializer.Serialize(msg)
				if err != nil {
					t.Errorf("Failed to serialize message type %s: %v", msgType.String(), err)
					continue
				}

				// Deserialize
				var result common.Message
				err = serializer.Deserialize(data, &result)
				if err != nil {
					t.Errorf("Failed to deserialize message type %s: %v", msgType.String(), err)
					continue
				}

				// Check type
				if result.MsgType != msgType {
					t.Errorf("Message type doesn't match after round trip: Expected %s, got %s",
						msgType.String(), result.MsgType.String())
				}
			}
		})
	}
}

// TestBinarySerializerSpecific tests specific edge cases for the binary serializer
func TestBinarySerializerSpecific(t *testing.T) {
	serializer := NewBinarySerializer()

	testCases := []struct {
		name string
		msg  common.Message
	}{
		{
			name: "Empty message",
			msg:  common.Message{},
		},
		{
			name: "Message with nil payload and no error",
			msg: common.Message{
				MsgType: common.MsgTRequest,
				Service: common.ServiceKVS,
				Method:  common.MethodPut,
				Payload: nil,
				Err:     "",
			},
		},
		{
			name: "Message with empty payload slice but not nil",
			msg: common.Message{
				MsgType: common.MsgTRequest,
				Service: common.ServiceKVS,
				Method:  common.MethodPut,
				Payload: []byte{},
			},
		},
		{
			name: "Message with error only",
			msg: common.Message{
				MsgType: common.MsgTError,
				Service: common.ServiceController,
				Method:  common.MethodStartServer,
				Err:     "boom",
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// Serialize
			data, err := serializer.Serialize(tc.msg)
			if err != nil {
				t.Fatalf("Failed to serialize: %v", err)
			}

			// Deserialize
			var result common.Message
			err = serializer.Deserialize(data, &result)
			if err != nil {
				t.Fatalf("Failed to deserialize: %v", err)
			}

			if tc.msg.MsgType != result.MsgType {
				t.Errorf("MsgType mismatch: expected %v, got %v", tc.msg.MsgType, result.MsgType)
			}

			if tc.msg.Service != result.Service {
				t.Errorf("Service mismatch: expected %v, got %v", tc.msg.Service, result.Service)
			}

			if tc.msg.Method != result.Method {
				t.Errorf("Method mismatch: expected %v, got %v", tc.msg.Method, result.Method)
			}

			if tc.msg.Err != result.Err {
				t.Errorf("Err mismatch: expected '%s', got '%s'", tc.msg.Err, result.Err)
			}

			// Special handling for byte slices that may be nil or empty
			if (tc.msg.Payload == nil) != (result.Payload == nil) {
				t.Errorf("Payload nil/non-nil mismatch: expected %v, got %v", tc.msg.Payload, result.Payload)
			} else if tc.msg.Payload != nil && result.Payload != nil {
				if len(tc.msg.Payload) != len(result.Payload) {
					t.Errorf("Payload length mismatch: expected %d, got %d", len(tc.msg.Payload), len(result.Payload))
				} else {
					for i := 0; i < len(tc.msg.Payload); i++ {
						if tc.msg.Payload[i] != result.Payload[i] {
							t.Errorf("Payload content mismatch at index %d", i)
							break
						}
					}
				}
			}
		})
	}
}

// TestInvalidBinaryData tests how the binary serializer handles corrupt or invalid data
func TestInvalidBinaryData(t *testing.T) {
	serializer := NewBinarySerializer()

	testCases := []struct {
		name        string
		data        []byte
		expectError bool
	}{
		{
			name:        "Empty data",
			data:        []byte{},
			expectError: true,
		},
		{
			name:        "Too short header",
			data:        []byte{1, 0, 0}, // MsgType, Service, Method but no flags byte
			expectError: true,
		},
		{
			name:        "Valid header only",
			data:        []byte{1, 0, 0, 0}, // header with no flags set
			expectError: false,
		},
		{
			name:        "Invalid length for payload",
			data:        []byte{1, 0, 0, 1, 0, 0, 0, 5, 'a', 'b', 'c'}, // claims payload length 5 but only 3 bytes provided
			expectError: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var msg common.Message
			err := serializer.Deserialize(tc.data, &msg)

			if tc.expectError && err == nil {
				t.Errorf("Expected error but got none")
			} else if !tc.expectError && err != nil {
				t.Errorf("Did not expect error but got: %v", err)
			}
		})
	}
}
