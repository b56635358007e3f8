// Package ingest is the monitor's single write path: it turns transaction
// logs into stored events and their activity projections.
package ingest

import (
	"strings"

	"github.com/gagliardetto/solana-go"
)

// ExecError is a program-level failure reported on the last log line.
type ExecError struct {
	Program string
	Message string
}

func (e *ExecError) Error() string {
	return "program " + e.Program + " failed: " + e.Message
}

// ParseExecError inspects the last log line for "Program <id> failed: <msg>".
func ParseExecError(logs []string) *ExecError {
	for i := len(logs) - 1; i >= 0; i-- {
		line := strings.TrimSpace(logs[i])
		if line == "" {
			continue
		}
		rest, ok := strings.CutPrefix(line, "Program ")
		if !ok {
			return nil
		}
		program, msg, ok := strings.Cut(rest, " failed: ")
		if !ok || strings.ContainsRune(program, ' ') {
			return nil
		}
		return &ExecError{Program: program, Message: msg}
	}
	return nil
}

// Bundle is one transaction's logs, from the live stream or from history.
type Bundle struct {
	Signature solana.Signature
	Slot      uint64
	// RPCError is the runtime error object reported by the node, if any.
	RPCError any
	Logs     []string
}
