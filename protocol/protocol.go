package protocol

import (
	"encoding/json"
	"time"
)

// MessageType defines the type of message being sent between client and server
type MessageType string

const (
	// Server -> Client message types
	MessageTypeInitialState      MessageType = "initial_state"
	MessageTypeRegistryChanged   MessageType = "registry_changed"
	MessageTypeErrorNotification MessageType = "error_notification"
	MessageTypeCommandResult     MessageType = "command_result"

	// Client -> Server message types
	MessageTypeDiscoverDevices MessageType = "discover_devices"
	MessageTypeListDevices     MessageType = "list_devices"
	MessageTypeGetFile         MessageType = "get_file"
	MessageTypeSaveFile        MessageType = "save_file"
	MessageTypeDeviceCommand   MessageType = "device_command"
)

// ErrorCode defines error codes for error messages
type ErrorCode string

// Client Request Related
const (
	ErrorCodeInvalidRequestFormat ErrorCode = "INVALID_REQUEST_FORMAT"
	ErrorCodeInvalidParameters    ErrorCode = "INVALID_PARAMETERS"
	ErrorCodeTargetNotFound       ErrorCode = "TARGET_NOT_FOUND"
	ErrorCodeMalformedSave        ErrorCode = "MALFORMED_SAVE"
)

// Server/Communication Related
const (
	ErrorCodeNodeTimeout         ErrorCode = "NODE_TIMEOUT"
	ErrorCodeNodeRefused         ErrorCode = "NODE_REFUSED"
	ErrorCodeNoDevicesFound      ErrorCode = "NO_DEVICES_FOUND"
	ErrorCodeCommunicationError  ErrorCode = "COMMUNICATION_ERROR"
	ErrorCodeInternalServerError ErrorCode = "INTERNAL_SERVER_ERROR"
)

// DeviceCommand is a command without a file payload sent to a single node
type DeviceCommand string

const (
	DeviceCommandReboot  DeviceCommand = "reboot"
	DeviceCommandFactory DeviceCommand = "factory"
	DeviceCommandDisplay DeviceCommand = "display" // set when Value is present, query otherwise
	DeviceCommandTftp    DeviceCommand = "tftp"    // set when Value is present, query otherwise
	DeviceCommandUptime  DeviceCommand = "uptime"
	DeviceCommandVersion DeviceCommand = "version"
)

// Message is the base structure for all WebSocket messages
type Message struct {
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	RequestID string          `json:"requestId,omitempty"`
}

// Node represents a discovered node
type Node struct {
	IP           string   `json:"ip"`
	IdentityLine string   `json:"identity"`
	DisplayName  string   `json:"displayName,omitempty"`
	Capability   string   `json:"capability"`
	Mode         string   `json:"mode"`
	Flag         string   `json:"flag,omitempty"`
	Files        []string `json:"files"` // mode file first
}

// Error represents an error in the WebSocket protocol
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// InitialStatePayload is the payload for the initial_state message
type InitialStatePayload struct {
	Nodes             []Node    `json:"nodes"`
	ServerStartupTime time.Time `json:"serverStartupTime"`
}

// RegistryChangedPayload is the payload for the registry_changed message
type RegistryChangedPayload struct {
	Nodes []Node `json:"nodes"`
}

// ErrorNotificationPayload is the payload for the error_notification message
type ErrorNotificationPayload struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// CommandResultPayload is the payload for the command_result message
type CommandResultPayload struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// DiscoverDevicesPayload is the payload for the discover_devices message
type DiscoverDevicesPayload struct {
	// Empty payload
}

// ListDevicesPayload is the payload for the list_devices message
type ListDevicesPayload struct {
	Targets []string `json:"targets,omitempty"` // IP addresses or display names (optional)
}

// GetFilePayload is the payload for the get_file message
type GetFilePayload struct {
	Target string `json:"target"` // IP address or display name
	File   string `json:"file"`   // e.g. "network.txt"
}

// SaveFilePayload is the payload for the save_file message
type SaveFilePayload struct {
	Target string `json:"target"`
	Text   string `json:"text"` // "#<file>.txt\n<key=value...>"
}

// DeviceCommandPayload is the payload for the device_command message
type DeviceCommandPayload struct {
	Target  string        `json:"target"`
	Command DeviceCommand `json:"command"`
	Value   *bool         `json:"value,omitempty"`
}

// FileData is the data for the command_result message of get_file
type FileData struct {
	Name  string `json:"name"`
	Text  string `json:"text"`  // header line + body, header only when not found
	Found bool   `json:"found"` // false when the node did not return the file
}

// DeviceCommandData is the data for the command_result message of device_command
type DeviceCommandData struct {
	Command DeviceCommand `json:"command"`
	On      *bool         `json:"on,omitempty"`
	Uptime  *int64        `json:"uptime,omitempty"` // seconds
	Version string        `json:"version,omitempty"`
}

// CreateMessage creates a new Message with the given type and payload
func CreateMessage(msgType MessageType, payload interface{}, requestID string) ([]byte, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	msg := Message{
		Type:      msgType,
		Payload:   payloadBytes,
		RequestID: requestID,
	}

	return json.Marshal(msg)
}

// ParseMessage parses a JSON message into a Message struct
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// ParsePayload parses the payload of a message into the given struct
func ParsePayload(msg *Message, payload interface{}) error {
	return json.Unmarshal(msg.Payload, payload)
}
