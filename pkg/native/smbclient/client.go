// Package smbclient implements native.Client on top of go-smb2.
//
// Sessions are dialed lazily, one per host and credential, and mounted
// shares are kept until Reset. Like every native.Client it must only be used
// from the dispatcher goroutine, so it takes no locks.
package smbclient

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hirochachacha/go-smb2"

	"github.com/marmos91/dittosmb/internal/logger"
	"github.com/marmos91/dittosmb/pkg/native"
	"github.com/marmos91/dittosmb/pkg/smburi"
)

// Config configures the SMB client.
type Config struct {
	// Port is the TCP port of the SMB servers.
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535"`

	// DialTimeout bounds connecting to a server.
	DialTimeout time.Duration `mapstructure:"dial_timeout" validate:"omitempty,gt=0"`

	// Workstation is the name announced during NTLM authentication.
	Workstation string `mapstructure:"workstation"`
}

const (
	DefaultPort        = 445
	DefaultDialTimeout = 10 * time.Second
)

type credential struct {
	domain   string
	username string
	password string
}

func (c credential) key() string {
	return c.domain + `\` + c.username
}

// Client is a native.Client speaking SMB2/3.
type Client struct {
	cfg Config

	creds    map[smburi.ID]credential
	sessions map[string]*smb2.Session
	shares   map[smburi.ID]*smb2.Share

	// dial is replaceable in tests.
	dial func(network, addr string, timeout time.Duration) (net.Conn, error)
}

var _ native.Client = (*Client)(nil)

// New creates a Client. Zero config values take their defaults.
func New(cfg Config) *Client {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	return &Client{
		cfg:      cfg,
		creds:    make(map[smburi.ID]credential),
		sessions: make(map[string]*smb2.Session),
		shares:   make(map[smburi.ID]*smb2.Share),
		dial:     net.DialTimeout,
	}
}

// ============================================================================
// Sessions
// ============================================================================

// credentialFor returns the credential for id, preferring one registered for
// its share over one registered for its host. The zero credential means
// guest.
func (c *Client) credentialFor(id smburi.ID) credential {
	if id.InShare() {
		if cred, ok := c.creds[id.ShareID()]; ok {
			return cred
		}
	}
	return c.creds[smburi.Server(id.Host())]
}

func (c *Client) session(op string, id smburi.ID) (*smb2.Session, error) {
	cred := c.credentialFor(id)
	key := id.Host() + "|" + cred.key()
	if s, ok := c.sessions[key]; ok {
		return s, nil
	}

	addr := net.JoinHostPort(id.Host(), strconv.Itoa(c.cfg.Port))
	conn, err := c.dial("tcp", addr, c.cfg.DialTimeout)
	if err != nil {
		return nil, native.NewError(native.ErrUnreachable, op, id, err)
	}

	user := cred.username
	if user == "" {
		user = "guest"
	}
	d := &smb2.Dialer{
		Initiator: &smb2.NTLMInitiator{
			User:        user,
			Password:    cred.password,
			Domain:      cred.domain,
			Workstation: c.cfg.Workstation,
		},
	}
	s, err := d.Dial(conn)
	if err != nil {
		_ = conn.Close()
		return nil, mapError(op, id, err)
	}

	logger.Debug("Opened SMB session to %s as %q", addr, cred.key())
	c.sessions[key] = s
	return s, nil
}

func (c *Client) share(op string, id smburi.ID) (*smb2.Share, error) {
	if !id.InShare() {
		return nil, native.NewError(native.ErrInvalidArgument, op, id, errors.New("not inside a share"))
	}
	shareID := id.ShareID()
	if fs, ok := c.shares[shareID]; ok {
		return fs, nil
	}

	s, err := c.session(op, id)
	if err != nil {
		return nil, err
	}
	fs, err := s.Mount(fmt.Sprintf(`\\%s\%s`, id.Host(), id.ShareName()))
	if err != nil {
		return nil, mapError(op, id, err)
	}
	c.shares[shareID] = fs
	return fs, nil
}

// dropShare forgets a mounted share, e.g. after its credential changed.
func (c *Client) dropShare(id smburi.ID) {
	for shareID, fs := range c.shares {
		if shareID == id || (id.IsServer() && shareID.Host() == id.Host()) {
			_ = fs.Umount()
			delete(c.shares, shareID)
		}
	}
}

// sharePath converts id to the backslash separated path inside its share.
// The share root is "".
func sharePath(id smburi.ID) string {
	return strings.ReplaceAll(id.Path(), "/", `\`)
}

// ============================================================================
// native.Client
// ============================================================================

func (c *Client) PutCredential(id smburi.ID, domain, username, password string) error {
	c.creds[id] = credential{domain: domain, username: username, password: password}
	c.dropShare(id)
	return nil
}

func (c *Client) RemoveCredential(id smburi.ID) error {
	delete(c.creds, id)
	c.dropShare(id)
	return nil
}

func (c *Client) OpenDir(id smburi.ID) (native.Dir, error) {
	switch {
	case id.IsRoot():
		return nil, native.NewError(native.ErrNotSupported, "opendir", id,
			errors.New("workgroup discovery is not available"))
	case id.IsServer():
		return c.openServer(id)
	}

	fs, err := c.share("opendir", id)
	if err != nil {
		return nil, err
	}
	f, err := fs.Open(sharePath(id))
	if err != nil {
		return nil, mapError("opendir", id, err)
	}
	return &dir{id: id, f: f}, nil
}

func (c *Client) openServer(id smburi.ID) (native.Dir, error) {
	s, err := c.session("opendir", id)
	if err != nil {
		return nil, err
	}
	names, err := s.ListSharenames()
	if err != nil {
		return nil, mapError("opendir", id, err)
	}
	entries := make([]native.DirEntry, 0, len(names))
	for _, name := range names {
		entries = append(entries, native.DirEntry{Kind: shareKind(name), Name: name})
	}
	return &shareList{entries: entries}, nil
}

func shareKind(name string) native.EntryKind {
	switch strings.ToUpper(name) {
	case "IPC$":
		return native.KindIPCShare
	case "PRINT$":
		return native.KindPrinterShare
	}
	return native.KindFileShare
}

func (c *Client) Stat(id smburi.ID) (native.Stat, error) {
	fs, err := c.share("stat", id)
	if err != nil {
		return native.Stat{}, err
	}
	fi, err := fs.Stat(sharePath(id))
	if err != nil {
		return native.Stat{}, mapError("stat", id, err)
	}
	return statOf(fi), nil
}

func statOf(fi os.FileInfo) native.Stat {
	return native.Stat{Size: fi.Size(), ModTime: fi.ModTime(), IsDir: fi.IsDir()}
}

func (c *Client) CreateFile(id smburi.ID) error {
	fs, err := c.share("create", id)
	if err != nil {
		return err
	}
	f, err := fs.OpenFile(sharePath(id), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return mapError("create", id, err)
	}
	return mapError("create", id, f.Close())
}

func (c *Client) Mkdir(id smburi.ID) error {
	fs, err := c.share("mkdir", id)
	if err != nil {
		return err
	}
	return mapError("mkdir", id, fs.Mkdir(sharePath(id), 0o755))
}

func (c *Client) Rename(id, newID smburi.ID) error {
	if !id.SameShare(newID) {
		return native.NewError(native.ErrNotSupported, "rename", id, errors.New("rename across shares"))
	}
	fs, err := c.share("rename", id)
	if err != nil {
		return err
	}
	return mapError("rename", id, fs.Rename(sharePath(id), sharePath(newID)))
}

func (c *Client) Unlink(id smburi.ID) error {
	return c.remove("unlink", id)
}

func (c *Client) Rmdir(id smburi.ID) error {
	return c.remove("rmdir", id)
}

func (c *Client) remove(op string, id smburi.ID) error {
	fs, err := c.share(op, id)
	if err != nil {
		return err
	}
	return mapError(op, id, fs.Remove(sharePath(id)))
}

func (c *Client) OpenFile(id smburi.ID, mode string) (native.File, error) {
	flag, err := openFlags(mode)
	if err != nil {
		return nil, native.NewError(native.ErrInvalidArgument, "openfile", id, err)
	}
	fs, err := c.share("openfile", id)
	if err != nil {
		return nil, err
	}
	f, err := fs.OpenFile(sharePath(id), flag, 0o644)
	if err != nil {
		return nil, mapError("openfile", id, err)
	}
	return &file{id: id, f: f}, nil
}

func openFlags(mode string) (int, error) {
	switch mode {
	case native.ModeRead:
		return os.O_RDONLY, nil
	case native.ModeReadWrite:
		return os.O_RDWR, nil
	case native.ModeWrite, native.ModeTruncate:
		return os.O_WRONLY | os.O_CREATE | os.O_TRUNC, nil
	case native.ModeAppend:
		return os.O_WRONLY | os.O_CREATE | os.O_APPEND, nil
	}
	return 0, fmt.Errorf("unknown mode %q", mode)
}

// Reset unmounts every share and logs off every session.
func (c *Client) Reset() error {
	for id, fs := range c.shares {
		if err := fs.Umount(); err != nil {
			logger.Debug("Failed to unmount %s: %v", id, err)
		}
	}
	for key, s := range c.sessions {
		if err := s.Logoff(); err != nil {
			logger.Debug("Failed to log off %s: %v", key, err)
		}
	}
	logger.Info("Dropped %d SMB sessions", len(c.sessions))
	c.shares = make(map[smburi.ID]*smb2.Share)
	c.sessions = make(map[string]*smb2.Session)
	return nil
}

func (c *Client) Close() error {
	err := c.Reset()
	c.creds = make(map[smburi.ID]credential)
	return err
}
