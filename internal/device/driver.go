// Package device is the execution boundary between the conformance engine
// and an implementation of cooperative vector operations. Emulator is the
// in-process implementation used when no hardware driver is attached.
package device

import (
	"context"
	"errors"
	"fmt"

	"github.com/23skdu/longbow-coopvec/internal/cases"
	"github.com/23skdu/longbow-coopvec/internal/coopvec"
	"github.com/23skdu/longbow-coopvec/internal/shader"
)

var (
	// ErrNotSupported marks a case the implementation declines to run.
	ErrNotSupported = errors.New("not supported")
	// ErrResource marks an allocation or dispatch the implementation could
	// not satisfy.
	ErrResource = errors.New("resource error")
)

// UnsupportedError names the missing capability.
type UnsupportedError struct {
	Feature string
}

func (e *UnsupportedError) Error() string { return e.Feature + " not supported" }

func (e *UnsupportedError) Is(target error) bool { return target == ErrNotSupported }

func unsupported(format string, args ...interface{}) error {
	return &UnsupportedError{Feature: fmt.Sprintf(format, args...)}
}

// Handle identifies an allocation for the lifetime of a driver.
type Handle uint64

// Buffer is a host visible allocation with a device address.
type Buffer struct {
	Handle  Handle
	Address uint64
	Data    []byte
}

func (b *Buffer) Size() int { return len(b.Data) }

// MatrixConversion is one ConvertMatrixLayout request. A nil Dst only
// queries the destination size. Host selects the host-side conversion
// entry point instead of a recorded device command.
type MatrixConversion struct {
	coopvec.Conversion
	Src  []byte
	Dst  []byte
	Host bool
}

// Driver is the execution boundary.
type Driver interface {
	Name() string
	Capabilities() Capabilities
	Supports(c cases.Case) error

	Allocate(size int) (*Buffer, error)
	Free(b *Buffer)

	// ConvertMatrixLayout returns the destination byte size and, when
	// Dst is set, writes the converted matrix.
	ConvertMatrixLayout(ctx context.Context, m MatrixConversion) (int, error)

	// RunProgram executes p over the bound buffers: input A, matrix or
	// input B, bias C, output O, and the device address table.
	RunProgram(ctx context.Context, p *shader.Program, d cases.Definition, bufs []*Buffer) error
}

// NumBindings is the number of buffers RunProgram expects.
const NumBindings = 5
