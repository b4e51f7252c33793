// SPDX-License-Identifier: MPL-2.0

package plan

import (
	"errors"
	"net/netip"
	"reflect"
	"slices"
	"strings"
	"testing"

	"github.com/fnichol/iocage-provision/internal/hostuser"
	"github.com/fnichol/iocage-provision/internal/jail"

	"gopkg.in/yaml.v3"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/syntax"
)

// siteOptions mirrors a typical site configuration.
func siteOptions() Options {
	return Options{
		IocagePath:    DefaultIocagePath,
		Properties:    []string{"resolver=none", "boot=on"},
		SSHPackage:    "openssh-portable",
		SSHService:    "openssh",
		Sudo:          true,
		ExtraGroups:   []string{"wheel"},
		ShellPackages: map[string]string{"bash": "bash", "zsh": "zsh", "fish": "fish"},
	}
}

func ferrisSpec() jail.Spec {
	return jail.Spec{
		Name:    "ferris",
		Address: netip.MustParsePrefix("192.168.0.100/24"),
		Gateway: netip.MustParseAddr("192.168.0.1"),
		Release: "13.2-RELEASE",
	}
}

func jdoeRecord() *hostuser.Record {
	return &hostuser.Record{
		Name:         "jdoe",
		UID:          1001,
		GID:          1001,
		Home:         "/home/jdoe",
		Shell:        "/usr/local/bin/bash",
		PrimaryGroup: hostuser.Group{Name: "jdoe", GID: 1001},
		Groups:       []hostuser.Group{{Name: "wheel", GID: 0}, {Name: "operator", GID: 5}},
		Keys: []hostuser.AuthorizedKey{
			{Line: "ssh-ed25519 AAAAC3NzaC1lZDI1NTE5AAAAIFake1 jdoe@laptop", Type: "ssh-ed25519", Fingerprint: "SHA256:one"},
			{Line: `from="10.0.0.0/8" ssh-ed25519 AAAAC3NzaC1lZDI1NTE5AAAAIFake2 it's-me`, Type: "ssh-ed25519", Fingerprint: "SHA256:two"},
		},
	}
}

func homebaseSpec() jail.Spec {
	return jail.Spec{
		Name:    "homebase",
		Address: netip.MustParsePrefix("10.0.0.25/24"),
		Gateway: netip.MustParseAddr("10.0.0.1"),
		Release: "13.2-RELEASE",
		SSH:     true,
		User:    jdoeRecord(),
	}
}

func mustBuild(t *testing.T, b *Builder, spec jail.Spec) *Plan {
	t.Helper()
	p, err := b.Build(spec)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return p
}

func indexOf(kinds []Kind, k Kind) int { return slices.Index(kinds, k) }

// scriptCalls parses an in-jail script and returns the unquoted arguments of
// every simple command in it.
func scriptCalls(t *testing.T, src string) [][]string {
	t.Helper()
	f, err := syntax.NewParser(syntax.Variant(syntax.LangPOSIX)).Parse(strings.NewReader(src), "script")
	if err != nil {
		t.Fatalf("script does not parse: %v\n%s", err, src)
	}
	var calls [][]string
	syntax.Walk(f, func(node syntax.Node) bool {
		call, ok := node.(*syntax.CallExpr)
		if !ok {
			return true
		}
		args := make([]string, 0, len(call.Args))
		for _, w := range call.Args {
			lit, err := expand.Literal(nil, w)
			if err != nil {
				t.Fatalf("expand word: %v", err)
			}
			args = append(args, lit)
		}
		calls = append(calls, args)
		return true
	})
	return calls
}

func hasCall(calls [][]string, want []string) bool {
	for _, c := range calls {
		if reflect.DeepEqual(c, want) {
			return true
		}
	}
	return false
}

func TestBuild_MinimalJail(t *testing.T) {
	t.Parallel()

	p := mustBuild(t, NewBuilder(siteOptions()), ferrisSpec())
	steps := p.Steps()

	wantArgv := [][]string{
		{"iocage", "create", "--name", "ferris", "--release", "13.2-RELEASE"},
		{"iocage", "set", "vnet=on", "ferris"},
		{"iocage", "set", "ip4_addr=vnet0|192.168.0.100/24", "ferris"},
		{"iocage", "set", "defaultrouter=192.168.0.1", "ferris"},
		{"iocage", "set", "resolver=none", "ferris"},
		{"iocage", "set", "boot=on", "ferris"},
		{"iocage", "start", "ferris"},
	}
	if len(steps) != len(wantArgv) {
		t.Fatalf("plan has %d steps, want %d: %v", len(steps), len(wantArgv), p.Kinds())
	}
	for i, want := range wantArgv {
		if !reflect.DeepEqual(steps[i].Argv, want) {
			t.Errorf("step %d argv = %q, want %q", i, steps[i].Argv, want)
		}
		if steps[i].Stdin != "" {
			t.Errorf("step %d has stdin, host-level steps must not", i)
		}
	}

	kinds := p.Kinds()
	if kinds[0] != KindCreateJail || kinds[len(kinds)-1] != KindStartJail {
		t.Errorf("kinds = %v", kinds)
	}
	for _, k := range kinds[1 : len(kinds)-1] {
		if k != KindSetProperty {
			t.Errorf("middle step kind = %s, want set-property", k)
		}
	}
}

func TestBuild_SSHAndUser(t *testing.T) {
	t.Parallel()

	p := mustBuild(t, NewBuilder(siteOptions()), homebaseSpec())
	kinds := p.Kinds()
	steps := p.Steps()

	start := indexOf(kinds, KindStartJail)
	for i, k := range kinds {
		switch k {
		case KindInstallPackage, KindEnableService, KindStartService, KindConfigureSudo,
			KindCreateGroup, KindCreateUser, KindInstallAuthorizedKey:
			if i < start {
				t.Errorf("%s at %d precedes start-jail at %d", k, i, start)
			}
		}
	}

	if got := steps[start+1]; got.Kind != KindInstallPackage || !slices.Contains(got.Argv, "openssh-portable") {
		t.Errorf("first step after start = %+v, want openssh-portable install", got)
	}
	enable := indexOf(kinds, KindEnableService)
	if enable != start+2 || kinds[enable+1] != KindStartService {
		t.Errorf("ssh service steps out of place: %v", kinds)
	}
	if !hasCall(scriptCalls(t, steps[enable].Stdin), []string{"sysrc", "openssh_enable=YES"}) {
		t.Errorf("enable script = %q", steps[enable].Stdin)
	}
	if !hasCall(scriptCalls(t, steps[enable+1].Stdin), []string{"service", "openssh", "start"}) {
		t.Errorf("start script = %q", steps[enable+1].Stdin)
	}

	createUser := indexOf(kinds, KindCreateUser)
	if createUser < indexOf(kinds, KindStartService) {
		t.Error("create-user runs before the ssh service is started")
	}
	var groupCalls [][]string
	for i, s := range steps {
		if s.Kind != KindCreateGroup {
			continue
		}
		if i > createUser {
			t.Error("groups must exist before the user is created")
		}
		groupCalls = append(groupCalls, scriptCalls(t, s.Stdin)...)
	}
	for _, want := range [][]string{
		{"pw", "groupadd", "-n", "jdoe", "-g", "1001"},
		{"pw", "groupadd", "-n", "wheel", "-g", "0"},
		{"pw", "groupadd", "-n", "operator", "-g", "5"},
	} {
		if !hasCall(groupCalls, want) {
			t.Errorf("missing group command %q", want)
		}
	}

	var keySteps []Step
	for _, s := range steps {
		if s.Kind == KindInstallAuthorizedKey {
			keySteps = append(keySteps, s)
		}
	}
	if len(keySteps) != 2 {
		t.Fatalf("got %d install-authorized-key steps, want 2", len(keySteps))
	}
	if kinds[len(kinds)-1] != KindInstallAuthorizedKey {
		t.Errorf("plan should end with key installation, ends with %s", kinds[len(kinds)-1])
	}

	var pkgs []string
	for _, s := range steps {
		if s.Kind == KindInstallPackage {
			pkgs = append(pkgs, s.Argv[len(s.Argv)-1])
		}
	}
	if want := []string{"openssh-portable", "sudo", "bash"}; !reflect.DeepEqual(pkgs, want) {
		t.Errorf("packages = %v, want %v", pkgs, want)
	}

	user := steps[createUser]
	wantUser := []string{"pw", "useradd", "-n", "jdoe", "-u", "1001", "-g", "jdoe", "-G", "wheel,operator", "-d", "/home/jdoe", "-m", "-s", "/usr/local/bin/bash"}
	if !hasCall(scriptCalls(t, user.Stdin), wantUser) {
		t.Errorf("create-user script = %q, want command %q", user.Stdin, wantUser)
	}

	keyCalls := scriptCalls(t, keySteps[1].Stdin)
	if !hasCall(keyCalls, []string{"printf", `%s\n`, jdoeRecord().Keys[1].Line}) {
		t.Errorf("key script does not append the verbatim key line: %q", keySteps[1].Stdin)
	}
	if !hasCall(keyCalls, []string{"chown", "1001:1001", "/home/jdoe/.ssh/authorized_keys"}) {
		t.Errorf("key script does not fix ownership: %q", keySteps[1].Stdin)
	}
	if want := []string{"iocage", "exec", "homebase", "/bin/sh"}; !reflect.DeepEqual(user.Argv, want) {
		t.Errorf("create-user argv = %q, want %q", user.Argv, want)
	}
}

func TestBuild_Overrides(t *testing.T) {
	t.Parallel()

	spec := jail.Spec{
		Name:    "bespoke",
		Address: netip.MustParsePrefix("10.1.0.1/24"),
		Gateway: netip.MustParseAddr("10.1.0.254"),
		Release: "11.1-RELEASE",
		Thick:   true,
	}
	steps := mustBuild(t, NewBuilder(siteOptions()), spec).Steps()

	create := steps[0].Argv
	if !slices.Contains(create, "11.1-RELEASE") || create[len(create)-1] != "--thickjail" {
		t.Errorf("create argv = %q", create)
	}
	if !slices.Contains(steps[3].Argv, "defaultrouter=10.1.0.254") {
		t.Errorf("router step argv = %q", steps[3].Argv)
	}
}

func TestBuild_IPv6(t *testing.T) {
	t.Parallel()

	spec := ferrisSpec()
	spec.Address = netip.MustParsePrefix("2001:db8::25/64")
	spec.Gateway = netip.MustParseAddr("2001:db8::1")

	steps := mustBuild(t, NewBuilder(siteOptions()), spec).Steps()
	if got := steps[2].Argv[2]; got != "ip6_addr=vnet0|2001:db8::25/64" {
		t.Errorf("address property = %q", got)
	}
	if got := steps[3].Argv[2]; got != "defaultrouter6=2001:db8::1" {
		t.Errorf("router property = %q", got)
	}
}

func TestBuild_Deterministic(t *testing.T) {
	t.Parallel()

	b := NewBuilder(siteOptions())
	first := mustBuild(t, b, homebaseSpec()).Steps()
	for range 5 {
		again := mustBuild(t, b, homebaseSpec()).Steps()
		if !reflect.DeepEqual(first, again) {
			t.Fatal("Build() produced a different plan for the same spec")
		}
	}
}

func TestBuild_ScriptsAreQuotedAndParse(t *testing.T) {
	t.Parallel()

	spec := homebaseSpec()
	spec.User.Home = "/home/j doe; rm -rf /"
	spec.User.Groups = append(spec.User.Groups, hostuser.Group{Name: "$(reboot)", GID: 4242})

	p := mustBuild(t, NewBuilder(siteOptions()), spec)
	parser := syntax.NewParser(syntax.Variant(syntax.LangPOSIX))

	for _, s := range p.Steps() {
		if s.Stdin == "" {
			continue
		}
		if !strings.HasPrefix(s.Stdin, "set -eu\n") {
			t.Errorf("%s script lacks strict mode: %q", s.Kind, s.Stdin)
		}
		f, err := parser.Parse(strings.NewReader(s.Stdin), s.Description)
		if err != nil {
			t.Fatalf("%s script does not parse: %v", s.Kind, err)
		}
		syntax.Walk(f, func(node syntax.Node) bool {
			if _, ok := node.(*syntax.CmdSubst); ok {
				t.Errorf("%s script contains a command substitution: %q", s.Kind, s.Stdin)
			}
			return true
		})
		for _, call := range scriptCalls(t, s.Stdin) {
			if slices.Contains(call, "rm") || slices.Contains(call, "reboot") {
				t.Errorf("%s script runs an injected command: %q", s.Kind, call)
			}
			if s.Kind == KindCreateUser && !slices.Contains(call, "/home/j doe; rm -rf /") {
				t.Errorf("home directory was split: %q", call)
			}
		}
	}
}

func TestBuild_OptionVariants(t *testing.T) {
	t.Parallel()

	opts := Options{
		IocagePath:  "/usr/local/bin/iocage",
		Properties:  []string{"allow_raw_sockets=1"},
		SSHService:  "",
		ExtraGroups: nil,
	}
	spec := homebaseSpec()
	p := mustBuild(t, NewBuilder(opts), spec)
	kinds := p.Kinds()
	steps := p.Steps()

	for _, s := range steps {
		if s.Argv[0] != "/usr/local/bin/iocage" {
			t.Fatalf("argv[0] = %q", s.Argv[0])
		}
	}
	if slices.Contains(kinds, KindConfigureSudo) {
		t.Error("sudo configured although disabled")
	}
	if slices.Contains(kinds, KindInstallPackage) {
		t.Errorf("packages installed without ssh package, sudo or shell mapping: %v", kinds)
	}
	if got := steps[indexOf(kinds, KindEnableService)].Stdin; !hasCall(scriptCalls(t, got), []string{"sysrc", "sshd_enable=YES"}) {
		t.Errorf("base sshd not enabled: %q", got)
	}
	if got := steps[4].Argv[2]; got != "allow_raw_sockets=1" {
		t.Errorf("extra property = %q", got)
	}
	userCall := scriptCalls(t, steps[indexOf(kinds, KindCreateUser)].Stdin)[0]
	if i := slices.Index(userCall, "-G"); i < 0 || userCall[i+1] != "wheel,operator" {
		t.Errorf("host groups missing: %q", userCall)
	}
}

func TestBuild_InvariantErrors(t *testing.T) {
	t.Parallel()

	_, err := NewBuilder(siteOptions()).Build(jail.Spec{Name: "ferris"})
	if !errors.Is(err, ErrInvariant) {
		t.Errorf("unresolved spec: error = %v, want ErrInvariant", err)
	}

	opts := siteOptions()
	opts.Properties = []string{"novalue"}
	_, err = NewBuilder(opts).Build(ferrisSpec())
	var inv *InvariantError
	if !errors.As(err, &inv) {
		t.Errorf("bad property: error = %v, want *InvariantError", err)
	}
}

func TestDestroyStep(t *testing.T) {
	t.Parallel()

	s := NewBuilder(siteOptions()).DestroyStep("ferris")
	if s.Kind != KindDestroyJail {
		t.Errorf("Kind = %s", s.Kind)
	}
	if want := []string{"iocage", "destroy", "--force", "ferris"}; !reflect.DeepEqual(s.Argv, want) {
		t.Errorf("Argv = %q, want %q", s.Argv, want)
	}
	if err := s.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestPlan_StepsReturnsCopy(t *testing.T) {
	t.Parallel()

	p := mustBuild(t, NewBuilder(siteOptions()), ferrisSpec())
	steps := p.Steps()
	steps[0].Argv[0] = "rm"
	steps[1].Kind = KindDestroyJail

	again := p.Steps()
	if again[0].Argv[0] != "iocage" || again[1].Kind != KindSetProperty {
		t.Error("mutating Steps() output changed the plan")
	}
}

func TestPlan_MarshalYAML(t *testing.T) {
	t.Parallel()

	p := mustBuild(t, NewBuilder(siteOptions()), ferrisSpec())
	out, err := yaml.Marshal(p)
	if err != nil {
		t.Fatalf("yaml.Marshal() error = %v", err)
	}

	var decoded struct {
		Steps []Step `yaml:"steps"`
	}
	if err := yaml.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("yaml.Unmarshal() error = %v", err)
	}
	if len(decoded.Steps) != p.Len() || decoded.Steps[0].Kind != KindCreateJail {
		t.Errorf("decoded plan = %+v", decoded.Steps)
	}
}

func TestStep_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		step Step
	}{
		{name: "unknown kind", step: Step{Kind: "reboot-host", Description: "x", Argv: []string{"true"}}},
		{name: "empty argv", step: Step{Kind: KindStartJail, Description: "x"}},
		{name: "no description", step: Step{Kind: KindStartJail, Argv: []string{"iocage"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if err := tt.step.Validate(); !errors.Is(err, ErrInvalidStep) {
				t.Errorf("Validate() = %v, want ErrInvalidStep", err)
			}
		})
	}
}
