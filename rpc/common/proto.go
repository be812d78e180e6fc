package common

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// --------------------------------------------------------------------------
// Message Envelope
// --------------------------------------------------------------------------

// Message is the wire envelope for every RPC this repo's replicas and
// clients speak. Payload is a gob-encoded, Service/Method-specific request
// or response value; keeping the envelope itself fixed-shape means adding
// a method never touches the three serializers, only what travels inside
// Payload.
type Message struct {
	MsgType MessageType
	Service Service
	Method  Method
	Payload []byte
	Err     string
}

// NewRequest builds a request Message carrying body, gob-encoded.
func NewRequest(service Service, method Method, body interface{}) (*Message, error) {
	payload, err := EncodePayload(body)
	if err != nil {
		return nil, err
	}
	return &Message{MsgType: MsgTRequest, Service: service, Method: method, Payload: payload}, nil
}

// NewResponse builds a response Message carrying body, gob-encoded.
func NewResponse(service Service, method Method, body interface{}) (*Message, error) {
	payload, err := EncodePayload(body)
	if err != nil {
		return nil, err
	}
	return &Message{MsgType: MsgTResponse, Service: service, Method: method, Payload: payload}, nil
}

// NewErrorResponse builds a response Message reporting err instead of a
// payload.
func NewErrorResponse(service Service, method Method, err error) *Message {
	return &Message{MsgType: MsgTError, Service: service, Method: method, Err: err.Error()}
}

// EncodePayload gob-encodes v for use as a Message's Payload.
func EncodePayload(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("common: encode payload: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodePayload decodes a Message's Payload, previously produced by
// EncodePayload, into v.
func DecodePayload(b []byte, v interface{}) error {
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(v); err != nil {
		return fmt.Errorf("common: decode payload: %w", err)
	}
	return nil
}

// --------------------------------------------------------------------------
// KVS service payloads (rpc/server.kvsAdapter, rpc/client.Client)
// --------------------------------------------------------------------------

// KVSRequest carries every field any KVS method might need; a given
// method reads only the fields it cares about and leaves the rest zero.
type KVSRequest struct {
	Row, Col            string
	CurrValue, NewValue []byte
	RequestID, LockID   string
}

// KVSResponse carries the result of a KVS method.
type KVSResponse struct {
	Success bool
	Value   []byte
	Values  []string
}

// --------------------------------------------------------------------------
// Controller service payloads (rpc/server.controllerServerAdapter)
// --------------------------------------------------------------------------

// ControllerRequest carries every field any controller method might need.
type ControllerRequest struct {
	ReplicaIndex int
	PeerAddrs    []string
	Addr         string
}

// ControllerResponse carries the result of a controller method.
type ControllerResponse struct {
	Addrs []string
}

// --------------------------------------------------------------------------
// MessageType
// --------------------------------------------------------------------------

// MessageType distinguishes a request from a successful or failed response.
type MessageType uint8

const (
	MsgTRequest MessageType = iota
	MsgTResponse
	MsgTError
)

func (t MessageType) String() string {
	switch t {
	case MsgTRequest:
		return "request"
	case MsgTResponse:
		return "response"
	case MsgTError:
		return "error"
	default:
		return "unknown"
	}
}

// --------------------------------------------------------------------------
// Service
// --------------------------------------------------------------------------

// Service identifies which internal component a Message is destined for.
type Service uint8

const (
	ServiceKVS Service = iota
	ServicePaxos
	ServiceController
)

func (s Service) String() string {
	switch s {
	case ServiceKVS:
		return "kvs"
	case ServicePaxos:
		return "paxos"
	case ServiceController:
		return "controller"
	default:
		return "unknown"
	}
}

// --------------------------------------------------------------------------
// Method
// --------------------------------------------------------------------------

// Method identifies which operation of a Service a Message invokes.
type Method uint8

const (
	// KVS methods (§6.1)

	MethodPut Method = iota
	MethodCPut
	MethodDelete
	MethodGet
	MethodSetNX
	MethodDel
	MethodGetAllRows
	MethodGetAllRowsByIP
	MethodGetColsInRow
	MethodGetColsInRowByIP

	// Paxos peer methods (§4.2)

	MethodPrepare
	MethodAccept
	MethodDecide

	// Controller methods (§6.3)

	MethodStartServer
	MethodStopServer
	MethodGetAll
	MethodKillAll
)

func (m Method) String() string {
	switch m {
	case MethodPut:
		return "Put"
	case MethodCPut:
		return "CPut"
	case MethodDelete:
		return "Delete"
	case MethodGet:
		return "Get"
	case MethodSetNX:
		return "SetNX"
	case MethodDel:
		return "Del"
	case MethodGetAllRows:
		return "GetAllRows"
	case MethodGetAllRowsByIP:
		return "GetAllRowsByIP"
	case MethodGetColsInRow:
		return "GetColsInRow"
	case MethodGetColsInRowByIP:
		return "GetColsInRowByIP"
	case MethodPrepare:
		return "Prepare"
	case MethodAccept:
		return "Accept"
	case MethodDecide:
		return "Decide"
	case MethodStartServer:
		return "StartServer"
	case MethodStopServer:
		return "StopServer"
	case MethodGetAll:
		return "GetAll"
	case MethodKillAll:
		return "KillAll"
	default:
		return "unknown"
	}
}
