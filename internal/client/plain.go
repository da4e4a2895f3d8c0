package client

import (
	"bufio"
	"context"
	"fmt"
	"io"
)

// RunPlain drives a session from line-oriented input, printing everything the
// relay sends to out and local errors to errOut. It returns nil on /quit, on
// end of input or when ctx is cancelled, and the connection error otherwise.
func RunPlain(ctx context.Context, sess *Session, proc *Processor, in io.Reader, out, errOut io.Writer) error {
	done := make(chan struct{})
	defer close(done)

	events := make(chan Event)
	recvErr := make(chan error, 1)
	go func() {
		for {
			ev, err := sess.Receive()
			if err != nil {
				recvErr <- err
				return
			}
			select {
			case events <- ev:
			case <-done:
				return
			}
		}
	}()

	input := make(chan string)
	go func() {
		defer close(input)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case input <- scanner.Text():
			case <-done:
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-recvErr:
			return err
		case ev := <-events:
			fmt.Fprintln(out, ev)
		case line, ok := <-input:
			if !ok {
				return nil
			}
			outcome, err := proc.Process(line)
			if err != nil {
				fmt.Fprintf(errOut, "Error: %v\n", err)
				continue
			}
			if outcome.Notice != "" {
				fmt.Fprintln(out, outcome.Notice)
			}
			if outcome.Quit {
				return nil
			}
			if outcome.Message != nil {
				if err := sess.Send(outcome.Message); err != nil {
					return fmt.Errorf("send: %w", err)
				}
			}
		}
	}
}
