package protocol

import (
	"fmt"
	"io"
	"strings"
)

var (
	OkLine   = []byte("+OK\r\n")
	Terminal = []byte("\r\n")
)

// WriteOK acknowledges a committed write.
func WriteOK(w io.Writer) error {
	_, err := w.Write(OkLine)
	return err
}

// WriteAck acknowledges a committed write with its storage sequence
// number.
func WriteAck(w io.Writer, seq uint64) error {
	_, err := fmt.Fprintf(w, ":%d\r\n", seq)
	return err
}

// WriteError reports a failed write. Exactly one of these lines is
// written per malformed logical write; line terminators inside the
// message are escaped so the reply stays a single line.
func WriteError(w io.Writer, errMsg string) error {
	errMsg = strings.ReplaceAll(errMsg, "\r", "\\r")
	errMsg = strings.ReplaceAll(errMsg, "\n", "\\n")

	_, err := fmt.Fprintf(w, "-ERR %s\r\n", errMsg)
	return err
}
