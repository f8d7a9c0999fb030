package kvprobe

import "context"

// Store is the subset of the key-value store command set the probe exercises.
// Implementations hold a single connection and are not used concurrently.
type Store interface {
	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error
	// Get reads a key. A missing key yields Absent() and a nil error.
	Get(ctx context.Context, key Key) (Result, error)
	// Set writes value unconditionally and clears any expiry.
	Set(ctx context.Context, key Key, value Value) error
	// SetNX writes value only when key does not exist; it reports whether the write happened.
	SetNX(ctx context.Context, key Key, value Value) (bool, error)
	// BatchGet reads all keys in one command. Results are in query order.
	BatchGet(ctx context.Context, keys []Key, mode BatchMode) ([]Result, error)
	// Expire sets a relative expiry in seconds; it reports whether key existed.
	Expire(ctx context.Context, key Key, seconds int) (bool, error)
	// TTL returns remaining seconds, NoExpiry or MissingKey.
	TTL(ctx context.Context, key Key) (int64, error)
	// LoadScript registers a server-side script. A script the store refuses to
	// compile yields an Error with Code ScriptRejected.
	LoadScript(ctx context.Context, script *Script) error
	// RunScript executes a loaded script atomically and returns its integer reply.
	RunScript(ctx context.Context, script *Script, keys []Key, args ...any) (int64, error)
	// Batch sends all commands in one round trip. Commands run in order but not as a unit.
	Batch(ctx context.Context, cmds []Command) ([]CommandResult, error)
	// FlushAll removes every key.
	FlushAll(ctx context.Context) error
	// Close releases the connection.
	Close() error
}

// Script is a server-side script body identified by a human readable name.
type Script struct {
	Name   string
	Source string
}

// NewScript returns a Script.
func NewScript(name, source string) *Script {
	return &Script{Name: name, Source: source}
}

// CommandKind enumerates the commands a Batch can carry.
type CommandKind int

const (
	CmdGet CommandKind = iota
	CmdSet
	CmdSetNX
	CmdExpire
	CmdTTL
	CmdScript
)

func (k CommandKind) String() string {
	switch k {
	case CmdGet:
		return "GET"
	case CmdSet:
		return "SET"
	case CmdSetNX:
		return "SETNX"
	case CmdExpire:
		return "EXPIRE"
	case CmdTTL:
		return "TTL"
	case CmdScript:
		return "SCRIPT"
	}
	return "UNKNOWN"
}

// Command is one entry of a client-side batch (pipeline).
type Command struct {
	Kind    CommandKind
	Key     Key
	Value   Value
	Seconds int
	Script  *Script
	Args    []any
}

// CommandResult is the reply to one Command.
// Get fills Result; SetNX and Expire report 1 or 0 in Int; TTL and Script report their integer reply.
type CommandResult struct {
	Result Result
	Int    int64
	Err    error
}

func GetCmd(key Key) Command                { return Command{Kind: CmdGet, Key: key} }
func SetCmd(key Key, value Value) Command   { return Command{Kind: CmdSet, Key: key, Value: value} }
func SetNXCmd(key Key, value Value) Command { return Command{Kind: CmdSetNX, Key: key, Value: value} }
func ExpireCmd(key Key, seconds int) Command {
	return Command{Kind: CmdExpire, Key: key, Seconds: seconds}
}
func TTLCmd(key Key) Command { return Command{Kind: CmdTTL, Key: key} }
func ScriptCmd(script *Script, key Key, args ...any) Command {
	return Command{Kind: CmdScript, Key: key, Script: script, Args: args}
}

// FirstError returns the first per-command error in results.
func FirstError(results []CommandResult) error {
	for i := range results {
		if results[i].Err != nil {
			return results[i].Err
		}
	}
	return nil
}
