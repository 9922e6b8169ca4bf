// Package mailbox walks local mail stores of several shapes and yields raw
// candidate messages.
package mailbox

import (
	"fmt"
	"os"
	"time"
)

// Kind selects the traversal strategy for a source.
type Kind int

const (
	// KindMbox is a single UNIX mbox container file.
	KindMbox Kind = iota
	// KindMboxTree is a directory tree in which every regular file is an
	// mbox container.
	KindMboxTree
	// KindMaildir is a directory tree with one whole message per file.
	KindMaildir
	// KindAppleMail is a maildir-like tree whose .emlx files wrap each
	// message in a length-prefixed envelope.
	KindAppleMail
	// KindFile is a single file holding exactly one message.
	KindFile
)

func (k Kind) String() string {
	switch k {
	case KindMbox:
		return "mbox"
	case KindMboxTree:
		return "mbox-tree"
	case KindMaildir:
		return "maildir"
	case KindAppleMail:
		return "apple"
	case KindFile:
		return "file"
	}
	return "unknown"
}

// Source is an immutable description of where mail comes from.
type Source struct {
	Kind Kind
	Path string
}

// NewSource classifies path under the user-facing selector. The "mbox"
// selector picks between a single container and a tree of them by stat.
func NewSource(selector, path string) (Source, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return Source{}, fmt.Errorf("mailbox: stat source: %w", err)
	}
	switch selector {
	case "mbox":
		if fi.IsDir() {
			return Source{Kind: KindMboxTree, Path: path}, nil
		}
		return Source{Kind: KindMbox, Path: path}, nil
	case "maildir", "apple":
		if !fi.IsDir() {
			return Source{}, fmt.Errorf("mailbox: %s source %q is not a directory", selector, path)
		}
		k := KindMaildir
		if selector == "apple" {
			k = KindAppleMail
		}
		return Source{Kind: k, Path: path}, nil
	case "file":
		if fi.IsDir() {
			return Source{}, fmt.Errorf("mailbox: file source %q is a directory", path)
		}
		return Source{Kind: KindFile, Path: path}, nil
	}
	return Source{}, fmt.Errorf("mailbox: unknown source type %q", selector)
}

// Message is one raw candidate message with its provenance. ModTime is the
// containing file's modification time, used later for date repair.
type Message struct {
	Raw     []byte
	Path    string
	Index   int // ordinal within an mbox container, 0 elsewhere
	ModTime time.Time
}
