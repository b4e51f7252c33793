// SPDX-License-Identifier: MPL-2.0

package hostuser

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"strings"
)

const (
	passwdPath   = "/etc/passwd"
	defaultShell = "/bin/sh"
)

// ErrNoSuchUser is returned by AccountDB implementations when the user does not exist.
var ErrNoSuchUser = errors.New("no such user")

type (
	// Account is the raw account entry as the database reports it.
	Account struct {
		Name  string
		UID   string
		GID   string
		Home  string
		Shell string
	}

	// AccountDB is the read-only view of the host account database.
	AccountDB interface {
		// LookupUser returns the account or an error wrapping ErrNoSuchUser.
		LookupUser(name string) (Account, error)
		// GroupName maps a numeric group id to its name.
		GroupName(gid string) (string, error)
		// GroupIDs lists every group id the account belongs to, the primary one included.
		GroupIDs(acct Account) ([]string, error)
	}

	// SystemAccountDB reads the host database through os/user, with the login
	// shell taken from the passwd file. Accounts served only by NSS sources
	// such as LDAP are not in that file and get defaultShell.
	SystemAccountDB struct {
		readFile func(string) ([]byte, error)
		logger   *slog.Logger
	}
)

// NewSystemAccountDB creates an AccountDB backed by the host. A nil logger
// means slog.Default().
func NewSystemAccountDB(logger *slog.Logger) *SystemAccountDB {
	if logger == nil {
		logger = slog.Default()
	}
	return &SystemAccountDB{readFile: os.ReadFile, logger: logger}
}

// LookupUser implements AccountDB.
func (db *SystemAccountDB) LookupUser(name string) (Account, error) {
	u, err := user.Lookup(name)
	if err != nil {
		var unknown user.UnknownUserError
		if errors.As(err, &unknown) {
			return Account{}, fmt.Errorf("%w: %s", ErrNoSuchUser, name)
		}
		return Account{}, err
	}

	return Account{
		Name:  u.Username,
		UID:   u.Uid,
		GID:   u.Gid,
		Home:  u.HomeDir,
		Shell: db.loginShell(u.Username),
	}, nil
}

// GroupName implements AccountDB.
func (db *SystemAccountDB) GroupName(gid string) (string, error) {
	g, err := user.LookupGroupId(gid)
	if err != nil {
		return "", err
	}
	return g.Name, nil
}

// GroupIDs implements AccountDB.
func (db *SystemAccountDB) GroupIDs(acct Account) ([]string, error) {
	u, err := user.Lookup(acct.Name)
	if err != nil {
		return nil, err
	}
	return u.GroupIds()
}

// loginShell finds the shell column of the passwd entry. os/user does not
// expose it, so the file is scanned directly.
func (db *SystemAccountDB) loginShell(name string) string {
	data, err := db.readFile(passwdPath)
	if err != nil {
		db.logger.Debug("cannot read passwd file, using default login shell",
			"user", name, "path", passwdPath, "shell", defaultShell, "error", err)
		return defaultShell
	}
	if shell := shellFromPasswd(data, name); shell != "" {
		return shell
	}
	db.logger.Debug("user has no passwd file entry, using default login shell",
		"user", name, "path", passwdPath, "shell", defaultShell)
	return defaultShell
}

func shellFromPasswd(data []byte, name string) string {
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := sc.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ":")
		if len(fields) < 7 || fields[0] != name {
			continue
		}
		return strings.TrimSpace(fields[6])
	}
	return ""
}
