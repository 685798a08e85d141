// Package iostreams bundles the process input and output streams so commands
// and the chat TUI can be driven by buffers in tests.
package iostreams

import (
	"bytes"
	"io"
	"os"
)

type IOStreams struct {
	In     io.Reader
	Out    io.Writer
	ErrOut io.Writer
}

// Empty type to represent the _type_ IOStreams. Genesis is to support a key in a Context
type Key struct{}

// StreamsKey is a global instance of the Key type
var StreamsKey = Key{}

var osStreams *IOStreams

// GetOSIOStreams returns the singleton wrapping stdin, stdout, and stderr.
func GetOSIOStreams() *IOStreams {
	if osStreams == nil {
		osStreams = &IOStreams{
			In:     os.Stdin,
			Out:    os.Stdout,
			ErrOut: os.Stderr,
		}
	}
	return osStreams
}

// NewTestIOStreams returns buffer-backed streams along with the underlying
// buffers for assertions.
func NewTestIOStreams() (IOStreams, *bytes.Buffer, *bytes.Buffer, *bytes.Buffer) {
	in := &bytes.Buffer{}
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	return IOStreams{
		In:     in,
		Out:    out,
		ErrOut: errOut,
	}, in, out, errOut
}
