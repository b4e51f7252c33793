// SPDX-License-Identifier: MPL-2.0

package hostuser

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"strings"
	"testing"

	"golang.org/x/crypto/ssh"
)

type fakeAccountDB struct {
	accounts   map[string]Account
	groups     map[string]string
	memberOf   map[string][]string
	lookupErr  error
	groupIDErr error
}

func (f *fakeAccountDB) LookupUser(name string) (Account, error) {
	if f.lookupErr != nil {
		return Account{}, f.lookupErr
	}
	acct, ok := f.accounts[name]
	if !ok {
		return Account{}, fmt.Errorf("%w: %s", ErrNoSuchUser, name)
	}
	return acct, nil
}

func (f *fakeAccountDB) GroupName(gid string) (string, error) {
	name, ok := f.groups[gid]
	if !ok {
		return "", fmt.Errorf("group: unknown groupid %s", gid)
	}
	return name, nil
}

func (f *fakeAccountDB) GroupIDs(acct Account) ([]string, error) {
	if f.groupIDErr != nil {
		return nil, f.groupIDErr
	}
	return f.memberOf[acct.Name], nil
}

func newFakeDB() *fakeAccountDB {
	return &fakeAccountDB{
		accounts: map[string]Account{
			"jdoe": {Name: "jdoe", UID: "1001", GID: "1001", Home: "/home/jdoe", Shell: "/usr/local/bin/bash"},
		},
		groups: map[string]string{
			"0":    "wheel",
			"1001": "jdoe",
			"5":    "operator",
		},
		memberOf: map[string][]string{
			"jdoe": {"1001", "0", "5", "0"},
		},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testKey(t *testing.T, comment string) string {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatalf("convert key: %v", err)
	}
	line := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(sshPub)))
	if comment != "" {
		line += " " + comment
	}
	return line
}

func filesReader(files map[string]string) ReadFileFunc {
	return func(name string) ([]byte, error) {
		content, ok := files[name]
		if !ok {
			return nil, fmt.Errorf("open %s: %w", name, fs.ErrNotExist)
		}
		return []byte(content), nil
	}
}

func TestLookup_Record(t *testing.T) {
	t.Parallel()

	k1 := testKey(t, "jdoe@laptop")
	k2 := testKey(t, "")
	keysFile := strings.Join([]string{
		"# managed by hand",
		k1,
		"",
		"not-a-key AAAA",
		`from="10.0.0.0/8" ` + k2,
	}, "\n")

	l := NewLookup(
		WithAccountDB(newFakeDB()),
		WithReadFile(filesReader(map[string]string{"/home/jdoe/.ssh/authorized_keys": keysFile})),
		WithLogger(discardLogger()),
	)

	rec, err := l.Lookup("jdoe")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}

	if rec.Name != "jdoe" || rec.UID != 1001 || rec.GID != 1001 {
		t.Errorf("identity = %s/%d/%d, want jdoe/1001/1001", rec.Name, rec.UID, rec.GID)
	}
	if rec.Home != "/home/jdoe" || rec.Shell != "/usr/local/bin/bash" {
		t.Errorf("home/shell = %s/%s", rec.Home, rec.Shell)
	}
	if rec.PrimaryGroup != (Group{Name: "jdoe", GID: 1001}) {
		t.Errorf("PrimaryGroup = %+v", rec.PrimaryGroup)
	}

	wantGroups := []Group{{Name: "wheel", GID: 0}, {Name: "operator", GID: 5}}
	if len(rec.Groups) != len(wantGroups) {
		t.Fatalf("Groups = %+v, want %+v", rec.Groups, wantGroups)
	}
	for i := range wantGroups {
		if rec.Groups[i] != wantGroups[i] {
			t.Errorf("Groups[%d] = %+v, want %+v", i, rec.Groups[i], wantGroups[i])
		}
	}
	if got := strings.Join(rec.GroupNames(), ","); got != "wheel,operator" {
		t.Errorf("GroupNames() = %s", got)
	}

	if len(rec.Keys) != 2 {
		t.Fatalf("Keys = %d entries, want 2 (malformed line skipped)", len(rec.Keys))
	}
	if rec.Keys[0].Line != k1 || rec.Keys[0].Comment != "jdoe@laptop" || rec.Keys[0].Type != ssh.KeyAlgoED25519 {
		t.Errorf("Keys[0] = %+v", rec.Keys[0])
	}
	if !strings.HasPrefix(rec.Keys[0].Fingerprint, "SHA256:") {
		t.Errorf("Keys[0].Fingerprint = %q", rec.Keys[0].Fingerprint)
	}
	if !strings.HasPrefix(rec.Keys[1].Line, `from="10.0.0.0/8" `) {
		t.Errorf("Keys[1].Line lost its options: %q", rec.Keys[1].Line)
	}
}

func TestLookup_MissingKeysFileIsNotAnError(t *testing.T) {
	t.Parallel()

	l := NewLookup(
		WithAccountDB(newFakeDB()),
		WithReadFile(filesReader(nil)),
		WithLogger(discardLogger()),
	)

	rec, err := l.Lookup("jdoe")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if len(rec.Keys) != 0 {
		t.Errorf("Keys = %v, want none", rec.Keys)
	}
}

func TestLookup_UnreadableKeysFile(t *testing.T) {
	t.Parallel()

	denied := fmt.Errorf("open /home/jdoe/.ssh/authorized_keys: %w", fs.ErrPermission)
	l := NewLookup(
		WithAccountDB(newFakeDB()),
		WithReadFile(func(string) ([]byte, error) { return nil, denied }),
		WithLogger(discardLogger()),
	)

	_, err := l.Lookup("jdoe")
	if !errors.Is(err, ErrCredentialReadFailed) {
		t.Fatalf("error = %v, want ErrCredentialReadFailed", err)
	}
	if !errors.Is(err, fs.ErrPermission) {
		t.Errorf("error = %v, want fs.ErrPermission in the chain", err)
	}
	var credErr *CredentialReadError
	if !errors.As(err, &credErr) || credErr.Path != "/home/jdoe/.ssh/authorized_keys" {
		t.Errorf("error = %#v", err)
	}
}

func TestLookup_KeysFileOptions(t *testing.T) {
	t.Parallel()

	key := testKey(t, "ops")
	var readPaths []string
	read := func(name string) ([]byte, error) {
		readPaths = append(readPaths, name)
		return []byte(key), nil
	}

	abs := NewLookup(WithAccountDB(newFakeDB()), WithReadFile(read), WithAuthorizedKeysFile("/etc/ssh/keys/jdoe"))
	rec, err := abs.Lookup("jdoe")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if len(rec.Keys) != 1 || readPaths[0] != "/etc/ssh/keys/jdoe" {
		t.Errorf("keys = %v, read = %v", rec.Keys, readPaths)
	}

	off := NewLookup(WithAccountDB(newFakeDB()), WithReadFile(read), WithAuthorizedKeysFile(""))
	rec, err = off.Lookup("jdoe")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if len(rec.Keys) != 0 || len(readPaths) != 1 {
		t.Errorf("disabled key collection still read files: %v", readPaths)
	}
}

func TestLookup_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(db *fakeAccountDB)
		user    string
		wantErr error
	}{
		{
			name:    "unknown user",
			user:    "nobody-here",
			wantErr: ErrUnknownUser,
		},
		{
			name:    "database failure",
			user:    "jdoe",
			mutate:  func(db *fakeAccountDB) { db.lookupErr = errors.New("nsswitch: backend down") },
			wantErr: ErrUnknownUser,
		},
		{
			name:    "primary group without name",
			user:    "jdoe",
			mutate:  func(db *fakeAccountDB) { delete(db.groups, "1001") },
			wantErr: ErrGroupResolutionFailed,
		},
		{
			name:    "supplementary group without name",
			user:    "jdoe",
			mutate:  func(db *fakeAccountDB) { delete(db.groups, "5") },
			wantErr: ErrGroupResolutionFailed,
		},
		{
			name:    "group list failure",
			user:    "jdoe",
			mutate:  func(db *fakeAccountDB) { db.groupIDErr = errors.New("getgrouplist failed") },
			wantErr: ErrGroupResolutionFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			db := newFakeDB()
			if tt.mutate != nil {
				tt.mutate(db)
			}
			l := NewLookup(WithAccountDB(db), WithReadFile(filesReader(nil)), WithLogger(discardLogger()))

			rec, err := l.Lookup(tt.user)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			if rec != nil {
				t.Errorf("record = %+v, want nil on failure", rec)
			}
		})
	}
}

func TestShellFromPasswd(t *testing.T) {
	t.Parallel()

	passwd := []byte(strings.Join([]string{
		"# $FreeBSD$",
		"root:*:0:0:Charlie &:/root:/bin/csh",
		"jdoe:*:1001:1001:Jane Doe:/home/jdoe:/usr/local/bin/zsh",
		"broken:line",
	}, "\n"))

	if got := shellFromPasswd(passwd, "jdoe"); got != "/usr/local/bin/zsh" {
		t.Errorf("shell(jdoe) = %q", got)
	}
	if got := shellFromPasswd(passwd, "root"); got != "/bin/csh" {
		t.Errorf("shell(root) = %q", got)
	}
	if got := shellFromPasswd(passwd, "broken"); got != "" {
		t.Errorf("shell(broken) = %q, want empty", got)
	}

}

func TestSystemAccountDB_LoginShellFallback(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		readFile func(string) ([]byte, error)
		wantLog  string
	}{
		{
			name:     "passwd unreadable",
			readFile: func(string) ([]byte, error) { return nil, fs.ErrNotExist },
			wantLog:  "cannot read passwd file",
		},
		{
			name: "account only in a directory service",
			readFile: func(string) ([]byte, error) {
				return []byte("root:*:0:0:Charlie &:/root:/bin/csh\n"), nil
			},
			wantLog: "no passwd file entry",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
			db := &SystemAccountDB{readFile: tt.readFile, logger: logger}

			if got := db.loginShell("jdoe"); got != defaultShell {
				t.Errorf("loginShell() = %q, want %q", got, defaultShell)
			}
			out := buf.String()
			if !strings.Contains(out, tt.wantLog) || !strings.Contains(out, "user=jdoe") || !strings.Contains(out, "level=DEBUG") {
				t.Errorf("log output = %q", out)
			}
		})
	}
}

func TestLookup_KeysAreNormalized(t *testing.T) {
	t.Parallel()

	tabbed := strings.Replace(testKey(t, "jdoe@laptop"), " ", "\t", -1)
	spaced := testKey(t, "jdoe  at   work")
	badComment := testKey(t, "caf\xe9")
	keysFile := strings.Join([]string{tabbed, spaced, badComment}, "\n")

	l := NewLookup(
		WithAccountDB(newFakeDB()),
		WithReadFile(filesReader(map[string]string{"/home/jdoe/.ssh/authorized_keys": keysFile})),
		WithLogger(discardLogger()),
	)

	rec, err := l.Lookup("jdoe")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if len(rec.Keys) != 2 {
		t.Fatalf("Keys = %+v, want 2 (invalid UTF-8 comment skipped)", rec.Keys)
	}

	if want := strings.Replace(tabbed, "\t", " ", -1); rec.Keys[0].Line != want {
		t.Errorf("Keys[0].Line = %q, want %q", rec.Keys[0].Line, want)
	}
	if rec.Keys[0].Comment != "jdoe@laptop" {
		t.Errorf("Keys[0].Comment = %q", rec.Keys[0].Comment)
	}
	if rec.Keys[1].Comment != "jdoe at work" || !strings.HasSuffix(rec.Keys[1].Line, " jdoe at work") {
		t.Errorf("Keys[1] = %+v", rec.Keys[1])
	}
	for _, k := range rec.Keys {
		if strings.ContainsAny(k.Line, "\t\n") {
			t.Errorf("Line %q still holds control whitespace", k.Line)
		}
	}
}
