// Package artifact stores large payloads on disk in directories named by a
// digest of the record they belong to.
package artifact

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/natefinch/atomic"
)

// ErrBadName reports an identifier or file name that would escape its directory.
var ErrBadName = errors.New("invalid artifact name")

// Ref holds the fields an artifact identifier is derived from.
// Field order is the encoding order.
type Ref struct {
	Namespace string `json:"namespace,omitempty"`
	Text      string `json:"text"`
	Fragment  string `json:"fragment,omitempty"`
	Site      string `json:"site"`
}

// Identifier returns the 32 hex digit MD5 digest of ref's canonical JSON encoding.
// Artifact directories are named by it, so the encoding must not change.
func Identifier(ref Ref) string {
	sum := md5.Sum(canonical(ref))
	return hex.EncodeToString(sum[:])
}

func canonical(ref Ref) []byte {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// Encoding a struct of strings cannot fail.
	_ = enc.Encode(ref)
	return legacyEscapes(bytes.TrimSuffix(buf.Bytes(), []byte("\n")))
}

// legacyEscapes rewrites encoding/json output to the escaping earlier
// releases hashed: "/" is written as "\/", and U+2028 and U+2029 are left raw.
func legacyEscapes(b []byte) []byte {
	out := make([]byte, 0, len(b)+8)
	for i := 0; i < len(b); i++ {
		switch c := b[i]; {
		case c == '\\' && i+1 < len(b):
			if esc := b[i:min(i+6, len(b))]; bytes.Equal(esc, []byte(`\u2028`)) || bytes.Equal(esc, []byte(`\u2029`)) {
				r := '\u2028'
				if esc[5] == '9' {
					r = '\u2029'
				}
				out = utf8.AppendRune(out, r)
				i += 5
				continue
			}
			out = append(out, c, b[i+1])
			i++
		case c == '/':
			out = append(out, '\\', '/')
		default:
			out = append(out, c)
		}
	}
	return out
}

// Dir is a directory holding one subdirectory per artifact identifier.
type Dir struct {
	root string
}

// NewDir returns a Dir rooted at root. Nothing is created until a write.
func NewDir(root string) *Dir {
	return &Dir{root: root}
}

// Path returns the directory of artifact id.
func (d *Dir) Path(id string) string {
	return filepath.Join(d.root, id)
}

// Exists reports whether the directory of artifact id is present.
func (d *Dir) Exists(id string) bool {
	info, err := os.Stat(d.Path(id))
	return err == nil && info.IsDir()
}

// Relocate renames the directory of oldID to newID.
func (d *Dir) Relocate(oldID, newID string) error {
	if err := checkName(oldID); err != nil {
		return err
	}
	if err := checkName(newID); err != nil {
		return err
	}
	if oldID == newID {
		return nil
	}
	if _, err := os.Stat(d.Path(newID)); err == nil {
		return fmt.Errorf("relocate %s: target %s: %w", oldID, newID, os.ErrExist)
	}
	if err := os.Rename(d.Path(oldID), d.Path(newID)); err != nil {
		return fmt.Errorf("relocate %s to %s: %w", oldID, newID, err)
	}
	return nil
}

// Remove deletes the directory of artifact id. A missing directory is not an error.
func (d *Dir) Remove(id string) error {
	if err := checkName(id); err != nil {
		return err
	}
	if err := os.RemoveAll(d.Path(id)); err != nil {
		return fmt.Errorf("remove %s: %w", id, err)
	}
	return nil
}

// Write atomically replaces file name of artifact id with the contents of r.
func (d *Dir) Write(id, name string, r io.Reader) error {
	if err := checkName(id); err != nil {
		return err
	}
	if err := checkName(name); err != nil {
		return err
	}
	if err := os.MkdirAll(d.Path(id), 0o755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}
	if err := atomic.WriteFile(filepath.Join(d.Path(id), name), r); err != nil {
		return fmt.Errorf("failed to write artifact %s/%s: %w", id, name, err)
	}
	return nil
}

// Read returns file name of artifact id.
func (d *Dir) Read(id, name string) ([]byte, error) {
	if err := checkName(id); err != nil {
		return nil, err
	}
	if err := checkName(name); err != nil {
		return nil, err
	}
	return os.ReadFile(filepath.Join(d.Path(id), name))
}

func checkName(name string) error {
	if name == "" || name == "." || name == ".." || filepath.Base(name) != name {
		return fmt.Errorf("%q: %w", name, ErrBadName)
	}
	return nil
}
