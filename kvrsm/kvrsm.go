// Package kvrsm is a small in-memory key/value RSM, grounded in the
// teacher's cmd/kv StateMachine: a mutex-guarded map applied to by
// committed commands, encoded with the same
// github.com/ugorji/go/codec msgpack handle the teacher uses for its
// own snapshot format.
package kvrsm

import (
	"sync"

	"github.com/dave-finlay/chronicle"
	"github.com/ugorji/go/codec"
)

var handle = &codec.MsgpackHandle{}

// CommandType discriminates a Command's effect.
type CommandType int

const (
	CommandSet CommandType = iota
	CommandUnset
)

// Command is the payload carried by a chronicle.RsmCommand routed to a
// KV machine.
type Command struct {
	Type  CommandType
	Key   string
	Value []byte
}

// EncodeCommand msgpack-encodes cmd for use as a
// chronicle.RsmCommand.Payload.
func EncodeCommand(cmd Command) ([]byte, error) {
	var buf []byte
	if err := codec.NewEncoderBytes(&buf, handle).Encode(cmd); err != nil {
		return nil, err
	}
	return buf, nil
}

// DecodeCommand is the inverse of EncodeCommand.
func DecodeCommand(payload []byte) (Command, error) {
	var cmd Command
	err := codec.NewDecoderBytes(payload, handle).Decode(&cmd)
	return cmd, err
}

// KV is a named chronicle.RSM holding an in-memory string-keyed store.
// The proposer never calls Apply itself (it only admits or rejects
// commands by name via chronicle.RsmRegistry); Apply is invoked by the
// embedding server once the local agent reports a command's seqno
// committed.
type KV struct {
	name string

	mu     sync.RWMutex
	states map[string][]byte
}

// New constructs a KV machine named name, as referenced by
// chronicle.RsmConfig.Name.
func New(name string) *KV {
	return &KV{name: name, states: map[string][]byte{}}
}

// Factory adapts New into a chronicle.RsmFactory: every RsmConfig whose
// Payload is ignored (the KV machine carries no persistent
// configuration of its own) produces a fresh KV named after the
// config.
func Factory(cfg chronicle.RsmConfig) (chronicle.RSM, bool) {
	return New(cfg.Name), true
}

func (m *KV) Name() string { return m.name }

// Apply decodes and applies a committed command. A malformed payload
// leaves the store unchanged and its decode error is returned rather
// than crashing the applying goroutine, since the command was already
// admitted and committed and cannot be un-committed.
func (m *KV) Apply(payload []byte) error {
	cmd, err := DecodeCommand(payload)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	switch cmd.Type {
	case CommandSet:
		m.states[cmd.Key] = cmd.Value
	case CommandUnset:
		delete(m.states, cmd.Key)
	}
	return nil
}

func (m *KV) Value(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.states[key]
	return v, ok
}

func (m *KV) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.states))
	for k := range m.states {
		keys = append(keys, k)
	}
	return keys
}
