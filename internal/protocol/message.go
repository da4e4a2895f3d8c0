// Package protocol defines the line-oriented wire format shared by the relay
// server and its clients. Every record is a single JSON object terminated by
// '\n'. Structured records carry a "type" discriminator; anything that does
// not decode as one of the known shapes is treated as a raw line.
package protocol

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
)

// Kind discriminates the structured message shapes on the wire.
type Kind string

const (
	KindText    Kind = "text"
	KindFile    Kind = "file"
	KindCommand Kind = "command"
	// KindRaw is never written on the wire; it marks unstructured lines.
	KindRaw Kind = ""
)

// Recognized command names.
const (
	CommandRecvFile = "recvfile"
	CommandRecvInfo = "recvinfo"
)

// TimeLayout is used when a text message is rendered for humans.
const TimeLayout = "02/01/2006 15:04"

// Message is the closed set of things a line can be: *Text, *File, *Command or Raw.
type Message interface {
	Kind() Kind
	isMessage()
}

// Text is a chat line.
type Text struct {
	User      Identity  `json:"user"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// File carries a whole file payload. FileSize is whatever the sender declared
// and is not checked against len(FileData).
type File struct {
	User     Identity `json:"user"`
	FileName string   `json:"file_name"`
	FileSize int64    `json:"file_size"`
	FileData []byte   `json:"file_data"`
}

// Command asks the server for a direct reply.
type Command struct {
	User Identity `json:"user"`
	Name string   `json:"command"`
	Args []string `json:"args"`
}

// Raw is a line that matched no structured shape.
type Raw string

func (*Text) Kind() Kind    { return KindText }
func (*File) Kind() Kind    { return KindFile }
func (*Command) Kind() Kind { return KindCommand }
func (Raw) Kind() Kind      { return KindRaw }

func (*Text) isMessage()    {}
func (*File) isMessage()    {}
func (*Command) isMessage() {}
func (Raw) isMessage()      {}

// NewText stamps body with the given author and time. A trailing line
// terminator is dropped since it would break framing.
func NewText(user Identity, body string, at time.Time) *Text {
	return &Text{User: user, Body: strings.TrimRight(body, "\r\n"), CreatedAt: at.UTC()}
}

// NewFile wraps data as a file payload.
func NewFile(user Identity, name string, data []byte) *File {
	return &File{User: user, FileName: name, FileSize: int64(len(data)), FileData: data}
}

// NewCommand builds a command message.
func NewCommand(user Identity, name string, args ...string) *Command {
	if args == nil {
		args = []string{}
	}
	return &Command{User: user, Name: name, Args: args}
}

// Digest is the hex blake2b-256 sum of the payload.
func (f *File) Digest() string {
	sum := blake2b.Sum256(f.FileData)
	return hex.EncodeToString(sum[:])
}

// Format renders the text the way it is shown to people:
// "<dd/mm/yyyy HH:MM> <sender>: <body>".
func (t *Text) Format() string {
	return fmt.Sprintf("%s %s: %s", t.CreatedAt.UTC().Format(TimeLayout), t.User.Username, strings.TrimRight(t.Body, "\r\n"))
}

// CommandName returns the command name without the optional leading '/'.
func (c *Command) CommandName() string {
	return strings.ToLower(strings.TrimPrefix(c.Name, "/"))
}

// Arg returns the i-th argument or "" when absent.
func (c *Command) Arg(i int) string {
	if i < 0 || i >= len(c.Args) {
		return ""
	}
	return c.Args[i]
}

// Encode serializes m as a single record without the trailing newline.
func Encode(m Message) ([]byte, error) {
	switch msg := m.(type) {
	case *Text:
		return json.Marshal(struct {
			Type Kind `json:"type"`
			*Text
		}{KindText, msg})
	case *File:
		return json.Marshal(struct {
			Type Kind `json:"type"`
			*File
		}{KindFile, msg})
	case *Command:
		return json.Marshal(struct {
			Type Kind `json:"type"`
			*Command
		}{KindCommand, msg})
	case Raw:
		return []byte(strings.TrimRight(string(msg), "\r\n")), nil
	case nil:
		return nil, fmt.Errorf("protocol: encode nil message")
	default:
		return nil, fmt.Errorf("protocol: unsupported message %T", m)
	}
}

// EncodeLine is Encode followed by the record separator.
func EncodeLine(m Message) ([]byte, error) {
	b, err := Encode(m)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// Decode classifies one line. It never fails: lines that are not a known
// structured record come back as Raw.
func Decode(line []byte) Message {
	line = bytes.TrimRight(line, "\r\n")
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(line, &fields); err != nil || fields == nil {
		return Raw(line)
	}

	if rawKind, ok := fields["type"]; ok {
		var kind Kind
		if err := json.Unmarshal(rawKind, &kind); err != nil {
			return Raw(line)
		}
		switch kind {
		case KindCommand:
			return decodeAs(line, &Command{})
		case KindFile:
			return decodeAs(line, &File{})
		case KindText:
			return decodeAs(line, &Text{})
		default:
			return Raw(line)
		}
	}

	// Untagged records from older peers: first complete shape wins.
	switch {
	case hasFields(fields, "command", "args"):
		return decodeAs(line, &Command{})
	case hasFields(fields, "file_name", "file_size", "file_data"):
		return decodeAs(line, &File{})
	case hasFields(fields, "body", "created_at"):
		return decodeAs(line, &Text{})
	}
	return Raw(line)
}

func decodeAs(line []byte, out Message) Message {
	if err := json.Unmarshal(line, out); err != nil {
		return Raw(line)
	}
	return out
}

func hasFields(fields map[string]json.RawMessage, names ...string) bool {
	for _, name := range names {
		if _, ok := fields[name]; !ok {
			return false
		}
	}
	return true
}
