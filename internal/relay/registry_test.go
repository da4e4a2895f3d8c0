package relay

import (
	"testing"

	"linechat/internal/protocol"
)

func TestRegistryListing(t *testing.T) {
	reg := NewRegistry()
	if reg.Len() != 0 || len(reg.Listing()) != 0 {
		t.Fatalf("new registry is not empty")
	}

	alice := protocol.NewIdentity("Alice")
	bob := protocol.NewIdentity("Bob")
	reg.Put(protocol.NewFile(alice, "photo.png", make([]byte, 10)))
	reg.Put(protocol.NewFile(bob, "notes.txt", []byte("hi")))
	// re-upload keeps the first-seen position but replaces the content
	reg.Put(protocol.NewFile(bob, "photo.png", make([]byte, 3)))

	want := []string{
		"Bob: 3 bytes -> photo.png",
		"Bob: 2 bytes -> notes.txt",
	}
	got := reg.Listing()
	if len(got) != len(want) {
		t.Fatalf("listing = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("listing[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	f, ok := reg.Get("photo.png")
	if !ok || f.User.Username != "Bob" || len(f.FileData) != 3 {
		t.Fatalf("unexpected lookup result: %+v ok=%v", f, ok)
	}
	if _, ok := reg.Get("PHOTO.png"); ok {
		t.Error("lookup must be exact")
	}
}

func TestRegistryListsDeclaredSize(t *testing.T) {
	reg := NewRegistry()
	reg.Put(&protocol.File{User: protocol.NewIdentity("Eve"), FileName: "liar.bin", FileSize: 999, FileData: []byte{1}})
	if got := reg.Listing()[0]; got != "Eve: 999 bytes -> liar.bin" {
		t.Errorf("listing = %q", got)
	}
}
