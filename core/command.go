package core

import (
	"errors"

	"adcrec/protocol"
)

var (
	ErrUnknownCommand   = errors.New("unknown command")
	ErrCommandIDInUse   = errors.New("command ID already registered")
	ErrCommandIDInvalid = errors.New("command ID out of range")
)

// maxCommands bounds the fixed-ID dispatch table.
const maxCommands = 32

// CommandHandler is a function that handles a command with raw frame data
// The handler is responsible for decoding its own arguments from the data pointer
type CommandHandler func(data *[]byte) error

// Command is one entry of the dispatch table
type Command struct {
	ID      uint16
	Name    string
	Handler CommandHandler
}

// CommandRegistry maps fixed message IDs to handlers. Both sides share the
// ID table in package protocol, so there is no dictionary to build.
type CommandRegistry struct {
	commands [maxCommands]*Command
	count    int
}

var globalRegistry = NewCommandRegistry()

// NewCommandRegistry creates an empty registry
func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{}
}

// RegisterCommand registers a handler in the global registry
func RegisterCommand(id uint16, handler CommandHandler) error {
	return globalRegistry.Register(id, handler)
}

// Register adds a handler for id. IDs are registered once.
func (r *CommandRegistry) Register(id uint16, handler CommandHandler) error {
	if int(id) >= maxCommands {
		return ErrCommandIDInvalid
	}
	if r.commands[id] != nil {
		return ErrCommandIDInUse
	}
	r.commands[id] = &Command{
		ID:      id,
		Name:    protocol.MessageName(id),
		Handler: handler,
	}
	r.count++
	return nil
}

// GetCommand retrieves a command by ID
func (r *CommandRegistry) GetCommand(id uint16) (*Command, bool) {
	if int(id) >= maxCommands || r.commands[id] == nil {
		return nil, false
	}
	return r.commands[id], true
}

// Count returns the number of registered commands
func (r *CommandRegistry) Count() int {
	return r.count
}

// Reset removes every registration
func (r *CommandRegistry) Reset() {
	*r = CommandRegistry{}
}

// Dispatch calls the handler registered for cmdID
func (r *CommandRegistry) Dispatch(cmdID uint16, data *[]byte) error {
	cmd, ok := r.GetCommand(cmdID)
	if !ok || cmd.Handler == nil {
		return ErrUnknownCommand
	}
	return cmd.Handler(data)
}

// DispatchCommand is a convenience function using the global registry
func DispatchCommand(cmdID uint16, data *[]byte) error {
	return globalRegistry.Dispatch(cmdID, data)
}

// GetGlobalRegistry returns the global command registry
func GetGlobalRegistry() *CommandRegistry {
	return globalRegistry
}

// ResponseSender is the outgoing half of the device transport
type ResponseSender interface {
	SendCommand(cmdID uint16, args func(output protocol.OutputBuffer))
	Room() int
}

// Global transport for sending responses (set by main)
var globalTransport ResponseSender

// SetGlobalTransport sets the transport used by SendResponse
func SetGlobalTransport(transport ResponseSender) {
	globalTransport = transport
}

// SendResponse sends a response message using the global transport
func SendResponse(id uint16, args func(output protocol.OutputBuffer)) {
	if globalTransport != nil {
		globalTransport.SendCommand(id, args)
	}
}

// TransportRoom returns the space left for responses, or 0 without a
// transport.
func TransportRoom() int {
	if globalTransport == nil {
		return 0
	}
	return globalTransport.Room()
}
