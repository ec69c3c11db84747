package relay

import "io"

// spawnedChild is the platform-neutral handle the main loop holds for the
// currently attached agent CLI process. Exactly one exists per
// generation; a new generation replaces it rather than mutating it.
type spawnedChild struct {
	pid   int
	stdin io.Writer
	exit  <-chan int // exit code, sent exactly once

	interrupt func() error
	kill      func() error
	close     func() error
}

func (c *spawnedChild) WriteInput(p []byte) error {
	_, err := c.stdin.Write(p)
	return err
}

func (c *spawnedChild) Interrupt() error { return c.interrupt() }
func (c *spawnedChild) Kill() error      { return c.kill() }
func (c *spawnedChild) Close() error     { return c.close() }
