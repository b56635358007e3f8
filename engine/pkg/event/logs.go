package event

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
)

const (
	// ProgramDataPrefix prefixes every framed record in the transaction logs.
	ProgramDataPrefix = "Program data: "
	programLogPrefix  = "Program log: "
)

// Discriminator identifies framed lottery records among other program data.
var Discriminator = func() [8]byte {
	sum := sha256.Sum256([]byte("event:LollyEvent"))
	var d [8]byte
	copy(d[:], sum[:8])
	return d
}()

// EncodeLog frames a record as a program data log line.
func EncodeLog(r *Record) (string, error) {
	data, err := r.MarshalBinary()
	if err != nil {
		return "", err
	}
	framed := make([]byte, 0, len(Discriminator)+len(data))
	framed = append(framed, Discriminator[:]...)
	framed = append(framed, data...)
	return ProgramDataPrefix + base64.StdEncoding.EncodeToString(framed), nil
}

// Extracted is a record parsed from a log line together with its raw bytes.
type Extracted struct {
	Raw    []byte
	Record *Record
}

// ExtractLogs returns every framed record emitted by programID in logs, in
// emission order. Program data lines are attributed to the program at the
// top of the invocation stack; lines outside any invocation are accepted.
func ExtractLogs(programID solana.PublicKey, logs []string) ([]Extracted, error) {
	var (
		out   []Extracted
		stack []string
		pid   = programID.String()
	)
	for _, line := range logs {
		switch {
		case strings.HasPrefix(line, programLogPrefix):
		case strings.HasPrefix(line, "Program ") && strings.Contains(line, " invoke ["):
			stack = append(stack, strings.Fields(line)[1])
		case strings.HasPrefix(line, "Program ") && (strings.HasSuffix(line, " success") || strings.Contains(line, " failed")):
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		case strings.HasPrefix(line, ProgramDataPrefix):
			if len(stack) > 0 && stack[len(stack)-1] != pid {
				continue
			}
			raw, ok := decodeFrame(strings.TrimPrefix(line, ProgramDataPrefix))
			if !ok {
				continue
			}
			rec, err := Decode(raw)
			if err != nil {
				return out, fmt.Errorf("event: failed to decode record: %w", err)
			}
			out = append(out, Extracted{Raw: raw, Record: rec})
		}
	}
	return out, nil
}

// decodeFrame strips the discriminator, reporting false for foreign frames.
func decodeFrame(b64 string) ([]byte, bool) {
	framed, err := base64.StdEncoding.DecodeString(strings.TrimSpace(b64))
	if err != nil {
		return nil, false
	}
	if len(framed) < len(Discriminator) || !bytes.Equal(framed[:len(Discriminator)], Discriminator[:]) {
		return nil, false
	}
	return framed[len(Discriminator):], true
}
