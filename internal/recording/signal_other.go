//go:build !unix

package recording

import (
	"errors"
	"os"
)

var errNoSuspend = errors.New("suspending a capture is not supported on this platform")

func suspend(*os.Process) error { return errNoSuspend }

func resume(*os.Process) error { return errNoSuspend }
