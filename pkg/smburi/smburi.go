// Package smburi defines the resource identifier shared by the cache, the
// task manager and the native client.
//
// An ID is the normalized string form of an SMB location:
//
//	smb://                      network root (workgroups and servers)
//	smb://host                  server
//	smb://host/share            share
//	smb://host/share/dir/file   path inside a share
//
// IDs are plain comparable strings so they can key maps directly.
package smburi

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Scheme is the only accepted URI scheme.
const Scheme = "smb"

const prefix = Scheme + "://"

// ID identifies a remote resource.
type ID string

// Root is the network root.
const Root ID = prefix

var (
	ErrInvalidScheme = errors.New("smburi: scheme must be smb")
	ErrInvalidName   = errors.New("smburi: invalid name")
	ErrNoParent      = errors.New("smburi: root has no parent")
)

// Parse validates and normalizes s. Percent escapes are decoded, empty
// segments and trailing slashes are dropped and the host is lowercased.
func Parse(s string) (ID, error) {
	if !strings.HasPrefix(strings.ToLower(s), prefix) {
		return "", fmt.Errorf("%w: %q", ErrInvalidScheme, s)
	}
	rest := s[len(prefix):]

	var segs []string
	for _, raw := range strings.Split(rest, "/") {
		if raw == "" {
			continue
		}
		seg, err := url.PathUnescape(raw)
		if err != nil {
			return "", fmt.Errorf("smburi: %q: %w", s, err)
		}
		if err := validName(seg); err != nil {
			return "", fmt.Errorf("smburi: %q: %w", s, err)
		}
		segs = append(segs, seg)
	}
	if len(segs) > 0 {
		segs[0] = strings.ToLower(segs[0])
	}
	return build(segs), nil
}

// MustParse is Parse that panics. Intended for constants and tests.
func MustParse(s string) ID {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

// Server returns the ID of a server.
func Server(host string) ID {
	return build([]string{strings.ToLower(host)})
}

// Share returns the ID of a share on host.
func Share(host, share string) ID {
	return build([]string{strings.ToLower(host), share})
}

func build(segs []string) ID {
	return ID(prefix + strings.Join(segs, "/"))
}

func validName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	case strings.ContainsAny(name, "/\\\x00"):
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func (id ID) String() string { return string(id) }

// Segments returns host, share and path components in order.
func (id ID) Segments() []string {
	rest := strings.TrimPrefix(string(id), prefix)
	if rest == "" {
		return nil
	}
	return strings.Split(rest, "/")
}

func (id ID) depth() int {
	rest := strings.TrimPrefix(string(id), prefix)
	if rest == "" {
		return 0
	}
	return strings.Count(rest, "/") + 1
}

func (id ID) IsRoot() bool   { return id.depth() == 0 }
func (id ID) IsServer() bool { return id.depth() == 1 }
func (id ID) IsShare() bool  { return id.depth() == 2 }

// InShare reports whether id addresses a share or something inside one.
func (id ID) InShare() bool { return id.depth() >= 2 }

// Host returns the server component, or "" for the root.
func (id ID) Host() string {
	segs := id.Segments()
	if len(segs) == 0 {
		return ""
	}
	return segs[0]
}

// ShareName returns the share component, or "".
func (id ID) ShareName() string {
	segs := id.Segments()
	if len(segs) < 2 {
		return ""
	}
	return segs[1]
}

// ShareID returns the ID of the share containing id. It returns "" when id
// is not inside a share.
func (id ID) ShareID() ID {
	segs := id.Segments()
	if len(segs) < 2 {
		return ""
	}
	return build(segs[:2])
}

// Path returns the slash-separated path relative to the share root. It is
// "" for the share itself.
func (id ID) Path() string {
	segs := id.Segments()
	if len(segs) <= 2 {
		return ""
	}
	return strings.Join(segs[2:], "/")
}

// Name returns the last component, or "" for the root.
func (id ID) Name() string {
	segs := id.Segments()
	if len(segs) == 0 {
		return ""
	}
	return segs[len(segs)-1]
}

// Parent drops the last component. The parent of a server is the root.
func (id ID) Parent() (ID, error) {
	segs := id.Segments()
	if len(segs) == 0 {
		return "", ErrNoParent
	}
	return build(segs[:len(segs)-1]), nil
}

// Child appends name. Server names are lowercased like in Parse.
func (id ID) Child(name string) (ID, error) {
	if err := validName(name); err != nil {
		return "", err
	}
	if id.IsRoot() {
		return ID(prefix + strings.ToLower(name)), nil
	}
	return ID(string(id) + "/" + name), nil
}

// IsAncestorOf reports whether other lies strictly below id.
func (id ID) IsAncestorOf(other ID) bool {
	if id.IsRoot() {
		return !other.IsRoot() && strings.HasPrefix(string(other), prefix)
	}
	return strings.HasPrefix(string(other), string(id)+"/")
}

// SameShare reports whether both IDs live in the same share of the same host.
func (id ID) SameShare(other ID) bool {
	a, b := id.ShareID(), other.ShareID()
	return a != "" && a == b
}

// Rebase moves id from below oldBase to below newBase. It returns id
// unchanged when id is not oldBase or one of its descendants.
func (id ID) Rebase(oldBase, newBase ID) ID {
	if id == oldBase {
		return newBase
	}
	if !oldBase.IsAncestorOf(id) {
		return id
	}
	return ID(string(newBase) + strings.TrimPrefix(string(id), string(oldBase)))
}

// URL renders id with each segment percent-escaped.
func (id ID) URL() string {
	segs := id.Segments()
	escaped := make([]string, len(segs))
	for i, s := range segs {
		escaped[i] = url.PathEscape(s)
	}
	return prefix + strings.Join(escaped, "/")
}
