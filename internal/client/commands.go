// Package client implements the interactive side of linechat: turning console
// input into protocol messages, talking to a relay and presenting what comes
// back either in a terminal UI or as plain lines.
package client

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"linechat/internal/protocol"
)

// HelpText lists the console commands.
const HelpText = `Available commands:
    /help                - Show this message
    /send <path>         - Send a file
    /recvinfo            - Get list of files
    /recvfile <filename> - Receive a file
    /quit                - Quit the application`

// ErrUnknownCommand is returned for slash commands the client does not know.
// Nothing is sent in that case.
var ErrUnknownCommand = errors.New("unknown command")

// LocalFileError reports a file that could not be read for /send.
type LocalFileError struct {
	Path string
	Err  error
}

func (e *LocalFileError) Error() string {
	return fmt.Sprintf("cannot send %s: %v", e.Path, e.Err)
}

func (e *LocalFileError) Unwrap() error {
	return e.Err
}

// UsageError reports a command invoked with missing arguments.
type UsageError struct {
	Usage string
}

func (e *UsageError) Error() string {
	return "usage: " + e.Usage
}

// Outcome is what one line of input amounts to.
type Outcome struct {
	// Message is sent to the relay when non-nil.
	Message protocol.Message
	// Notice is shown locally.
	Notice string
	// Quit ends the session once set.
	Quit bool
}

// Processor turns console input into messages for one identity.
type Processor struct {
	identity protocol.Identity
	readFile func(string) ([]byte, error)
	now      func() time.Time
}

func NewProcessor(identity protocol.Identity) *Processor {
	return &Processor{identity: identity, readFile: os.ReadFile, now: time.Now}
}

// Identity is the author stamped on everything this processor emits.
func (p *Processor) Identity() protocol.Identity {
	return p.identity
}

// Process interprets one line of input. Errors are local problems to show the
// user; they never mean the connection is unusable.
func (p *Processor) Process(input string) (Outcome, error) {
	input = strings.TrimRight(input, "\r\n")
	if !strings.HasPrefix(input, "/") {
		if strings.TrimSpace(input) == "" {
			return Outcome{}, nil
		}
		return Outcome{Message: protocol.NewText(p.identity, input, p.now())}, nil
	}

	fields := strings.Fields(input)
	name := strings.ToLower(fields[0])
	rest := strings.TrimSpace(strings.TrimPrefix(input, fields[0]))

	switch name {
	case "/help":
		return Outcome{Notice: HelpText}, nil
	case "/quit":
		return Outcome{Quit: true}, nil
	case "/send":
		if rest == "" {
			return Outcome{}, &UsageError{Usage: "/send <path>"}
		}
		data, err := p.readFile(rest)
		if err != nil {
			return Outcome{}, &LocalFileError{Path: rest, Err: err}
		}
		file := protocol.NewFile(p.identity, filepath.Base(rest), data)
		return Outcome{
			Message: file,
			Notice:  fmt.Sprintf("sending %s (%s)", file.FileName, humanize.Bytes(uint64(len(data)))),
		}, nil
	case "/recvfile":
		if len(fields) < 2 {
			return Outcome{}, &UsageError{Usage: "/recvfile <filename>"}
		}
		return Outcome{Message: protocol.NewCommand(p.identity, protocol.CommandRecvFile, fields[1])}, nil
	case "/recvinfo":
		return Outcome{Message: protocol.NewCommand(p.identity, protocol.CommandRecvInfo)}, nil
	default:
		return Outcome{}, fmt.Errorf("%w: %s", ErrUnknownCommand, fields[0])
	}
}
