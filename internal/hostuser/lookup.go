// SPDX-License-Identifier: MPL-2.0

package hostuser

import (
	"bufio"
	"bytes"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/crypto/ssh"
	"mvdan.cc/sh/v3/syntax"
)

// DefaultAuthorizedKeysFile is the key file path, relative to the home directory.
const DefaultAuthorizedKeysFile = ".ssh/authorized_keys"

type (
	// ReadFileFunc reads a whole file; it matches os.ReadFile.
	ReadFileFunc func(name string) ([]byte, error)

	// Option configures a Lookup.
	Option func(*Lookup)

	// Lookup builds Records from the host account database.
	Lookup struct {
		db       AccountDB
		readFile ReadFileFunc
		keysFile string
		logger   *slog.Logger
	}
)

// WithAccountDB sets the account database. The default is a SystemAccountDB.
func WithAccountDB(db AccountDB) Option {
	return func(l *Lookup) {
		l.db = db
	}
}

// WithReadFile sets the function used to read authorized_keys files.
func WithReadFile(fn ReadFileFunc) Option {
	return func(l *Lookup) {
		l.readFile = fn
	}
}

// WithAuthorizedKeysFile overrides DefaultAuthorizedKeysFile. Relative paths
// are taken from the account's home directory. An empty path disables key
// collection.
func WithAuthorizedKeysFile(path string) Option {
	return func(l *Lookup) {
		l.keysFile = path
	}
}

// WithLogger sets the logger used for skipped key lines.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Lookup) {
		l.logger = logger
	}
}

// NewLookup creates a Lookup reading the host by default.
func NewLookup(opts ...Option) *Lookup {
	l := &Lookup{
		readFile: os.ReadFile,
		keysFile: DefaultAuthorizedKeysFile,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.db == nil {
		l.db = NewSystemAccountDB(l.logger)
	}
	return l
}

// Lookup snapshots the named account.
func (l *Lookup) Lookup(username string) (*Record, error) {
	acct, err := l.db.LookupUser(username)
	if err != nil {
		if errors.Is(err, ErrNoSuchUser) {
			return nil, &UnknownUserError{Name: username}
		}
		return nil, &UnknownUserError{Name: username, Cause: err}
	}

	uid, err := parseID(acct.UID)
	if err != nil {
		return nil, &UnknownUserError{Name: username, Cause: err}
	}
	gid, err := parseID(acct.GID)
	if err != nil {
		return nil, &GroupResolutionError{User: username, GID: acct.GID, Cause: err}
	}

	primaryName, err := l.db.GroupName(acct.GID)
	if err != nil {
		return nil, &GroupResolutionError{User: username, GID: acct.GID, Cause: err}
	}

	groups, err := l.supplementaryGroups(acct, gid)
	if err != nil {
		return nil, err
	}

	shell := acct.Shell
	if shell == "" {
		shell = defaultShell
	}

	rec := &Record{
		Name:         acct.Name,
		UID:          uid,
		GID:          gid,
		Home:         acct.Home,
		Shell:        shell,
		PrimaryGroup: Group{Name: primaryName, GID: gid},
		Groups:       groups,
	}

	keys, err := l.authorizedKeys(rec)
	if err != nil {
		return nil, err
	}
	rec.Keys = keys

	return rec, nil
}

func (l *Lookup) supplementaryGroups(acct Account, primary uint32) ([]Group, error) {
	ids, err := l.db.GroupIDs(acct)
	if err != nil {
		return nil, &GroupResolutionError{User: acct.Name, GID: acct.GID, Cause: err}
	}

	seen := map[uint32]bool{primary: true}
	var groups []Group
	for _, id := range ids {
		gid, err := parseID(id)
		if err != nil {
			return nil, &GroupResolutionError{User: acct.Name, GID: id, Cause: err}
		}
		if seen[gid] {
			continue
		}
		seen[gid] = true

		name, err := l.db.GroupName(id)
		if err != nil {
			return nil, &GroupResolutionError{User: acct.Name, GID: id, Cause: err}
		}
		groups = append(groups, Group{Name: name, GID: gid})
	}
	return groups, nil
}

func (l *Lookup) authorizedKeys(rec *Record) ([]AuthorizedKey, error) {
	if l.keysFile == "" {
		return nil, nil
	}

	path := l.keysFile
	if !filepath.IsAbs(path) {
		if rec.Home == "" {
			return nil, nil
		}
		path = filepath.Join(rec.Home, path)
	}

	data, err := l.readFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			l.logger.Debug("no authorized keys file", "user", rec.Name, "path", path)
			return nil, nil
		}
		return nil, &CredentialReadError{Path: path, Cause: err}
	}

	return l.parseAuthorizedKeys(path, data), nil
}

// parseAuthorizedKeys keeps every line ssh.ParseAuthorizedKey accepts,
// rewritten in canonical single-space form. Blank lines and comments are
// ignored. Malformed entries, and entries a POSIX shell cannot carry, are
// logged and skipped.
func (l *Lookup) parseAuthorizedKeys(path string, data []byte) []AuthorizedKey {
	var keys []AuthorizedKey
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		pub, comment, options, _, err := ssh.ParseAuthorizedKey([]byte(line))
		if err != nil {
			l.logger.Warn("skipping malformed authorized key", "path", path, "line", lineNo, "error", err)
			continue
		}
		comment = strings.Join(strings.Fields(comment), " ")
		canonical := canonicalKeyLine(options, pub, comment)
		if _, err := syntax.Quote(canonical, syntax.LangPOSIX); err != nil {
			l.logger.Warn("skipping malformed authorized key", "path", path, "line", lineNo, "error", err)
			continue
		}
		keys = append(keys, AuthorizedKey{
			Line:        canonical,
			Type:        pub.Type(),
			Comment:     comment,
			Fingerprint: ssh.FingerprintSHA256(pub),
		})
	}
	if err := sc.Err(); err != nil {
		l.logger.Warn("stopped reading authorized keys early", "path", path, "error", err)
	}
	return keys
}

// canonicalKeyLine joins the parsed parts of an authorized_keys entry with
// single spaces.
func canonicalKeyLine(options []string, pub ssh.PublicKey, comment string) string {
	parts := make([]string, 0, 3)
	if len(options) > 0 {
		parts = append(parts, strings.Join(options, ","))
	}
	parts = append(parts, strings.TrimSpace(string(ssh.MarshalAuthorizedKey(pub))))
	if comment != "" {
		parts = append(parts, comment)
	}
	return strings.Join(parts, " ")
}

func parseID(s string) (uint32, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(n), nil
}
