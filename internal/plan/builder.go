// SPDX-License-Identifier: MPL-2.0

package plan

import (
	"fmt"
	"path"
	"slices"
	"strconv"
	"strings"

	"github.com/fnichol/iocage-provision/internal/hostuser"
	"github.com/fnichol/iocage-provision/internal/jail"
)

const (
	// DefaultIocagePath is the iocage binary looked up on PATH.
	DefaultIocagePath = "iocage"

	jailShell      = "/bin/sh"
	vnetInterface  = "vnet0"
	sudoPackage    = "sudo"
	sudoersDir     = "/usr/local/etc/sudoers.d"
	sudoersFile    = sudoersDir + "/wheel"
	sudoersRule    = "%wheel ALL=(ALL) NOPASSWD: ALL"
	defaultService = "sshd"
)

type (
	// Options are the site-wide choices that shape every plan.
	Options struct {
		// IocagePath is the iocage executable.
		IocagePath string
		// Properties are extra KEY=VALUE iocage properties applied after the
		// network properties, in order.
		Properties []string
		// SSHPackage is installed when SSH is requested. Empty means the base
		// system sshd is used and nothing is installed.
		SSHPackage string
		// SSHService is the rc.d service enabled and started for SSH.
		SSHService string
		// Sudo installs sudo and grants the wheel group password-less sudo
		// when a user is copied.
		Sudo bool
		// ExtraGroups are added to the copied user's supplementary groups.
		ExtraGroups []string
		// ShellPackages maps a shell's base name to the package providing it.
		ShellPackages map[string]string
	}

	// Builder turns specs into plans.
	Builder struct {
		opts Options
	}
)

// NewBuilder creates a Builder. Empty IocagePath and SSHService fall back
// to their defaults.
func NewBuilder(opts Options) *Builder {
	if opts.IocagePath == "" {
		opts.IocagePath = DefaultIocagePath
	}
	if opts.SSHService == "" {
		opts.SSHService = defaultService
	}
	return &Builder{opts: opts}
}

// Build expands spec into a plan. The only possible error is an
// *InvariantError.
func (b *Builder) Build(spec jail.Spec) (*Plan, error) {
	if err := spec.Validate(); err != nil {
		return nil, &InvariantError{Reason: "planning an unresolved spec", Cause: err}
	}

	p := &Plan{}
	name := spec.Name.String()

	create := []string{b.opts.IocagePath, "create", "--name", name, "--release", spec.Release.String()}
	if spec.Thick {
		create = append(create, "--thickjail")
	}
	p.append(Step{
		Kind:        KindCreateJail,
		Description: fmt.Sprintf("create jail %s from %s", name, spec.Release),
		Argv:        create,
	})

	props, err := b.properties(spec)
	if err != nil {
		return nil, err
	}
	for _, prop := range props {
		p.append(Step{
			Kind:        KindSetProperty,
			Description: fmt.Sprintf("set %s on %s", prop, name),
			Argv:        []string{b.opts.IocagePath, "set", prop, name},
		})
	}

	p.append(Step{
		Kind:        KindStartJail,
		Description: "start jail " + name,
		Argv:        []string{b.opts.IocagePath, "start", name},
	})

	if spec.SSH {
		if err := b.addSSH(p, name); err != nil {
			return nil, err
		}
	}

	if spec.User != nil {
		if err := b.addUser(p, name, spec.User); err != nil {
			return nil, err
		}
	}

	for _, s := range p.steps {
		if err := s.Validate(); err != nil {
			return nil, &InvariantError{Reason: "generated an invalid step", Cause: err}
		}
	}

	return p, nil
}

// DestroyStep returns the cleanup step that removes a jail and its datasets.
func (b *Builder) DestroyStep(name jail.Name) Step {
	return Step{
		Kind:        KindDestroyJail,
		Description: "destroy jail " + name.String(),
		Argv:        []string{b.opts.IocagePath, "destroy", "--force", name.String()},
	}
}

func (b *Builder) properties(spec jail.Spec) ([]string, error) {
	addrKey, routerKey := "ip4_addr", "defaultrouter"
	if spec.Address.Addr().Is6() {
		addrKey = "ip6_addr"
	}
	if spec.Gateway.Is6() {
		routerKey = "defaultrouter6"
	}

	props := []string{
		"vnet=on",
		addrKey + "=" + vnetInterface + "|" + spec.Address.String(),
		routerKey + "=" + spec.Gateway.String(),
	}
	for _, extra := range b.opts.Properties {
		key, _, ok := strings.Cut(extra, "=")
		if !ok || key == "" {
			return nil, &InvariantError{Reason: fmt.Sprintf("property %q is not KEY=VALUE", extra)}
		}
		props = append(props, extra)
	}
	return props, nil
}

func (b *Builder) addSSH(p *Plan, name string) error {
	if b.opts.SSHPackage != "" {
		p.append(b.installPackage(name, b.opts.SSHPackage))
	}

	svc := b.opts.SSHService
	enable := &script{}
	enable.run("sysrc", svc+"_enable=YES")
	if err := b.appendExec(p, name, KindEnableService, "enable service "+svc+" in "+name, enable); err != nil {
		return err
	}

	start := &script{}
	start.run("service", svc, "start")
	return b.appendExec(p, name, KindStartService, "start service "+svc+" in "+name, start)
}

func (b *Builder) addUser(p *Plan, name string, u *hostuser.Record) error {
	var pkgs []string
	if b.opts.Sudo {
		pkgs = append(pkgs, sudoPackage)
	}
	if pkg, ok := b.opts.ShellPackages[path.Base(u.Shell)]; ok && pkg != "" && !slices.Contains(pkgs, pkg) {
		pkgs = append(pkgs, pkg)
	}
	for _, pkg := range pkgs {
		p.append(b.installPackage(name, pkg))
	}

	if b.opts.Sudo {
		sudo := &script{}
		sudo.run("mkdir", "-p", sudoersDir)
		sudo.line(sudo.words("printf", `%s\n`, sudoersRule) + " >" + sudo.words(sudoersFile))
		sudo.run("chmod", "0440", sudoersFile)
		if err := b.appendExec(p, name, KindConfigureSudo, "grant wheel password-less sudo in "+name, sudo); err != nil {
			return err
		}
	}

	for _, g := range append([]hostuser.Group{u.PrimaryGroup}, u.Groups...) {
		gid := strconv.FormatUint(uint64(g.GID), 10)
		grp := &script{}
		grp.line(grp.words("pw", "groupshow", g.Name) + " >/dev/null 2>&1 || " +
			grp.words("pw", "groupadd", "-n", g.Name, "-g", gid))
		desc := fmt.Sprintf("create group %s (gid %s) in %s", g.Name, gid, name)
		if err := b.appendExec(p, name, KindCreateGroup, desc, grp); err != nil {
			return err
		}
	}

	uid := strconv.FormatUint(uint64(u.UID), 10)
	add := []string{"pw", "useradd", "-n", u.Name, "-u", uid, "-g", u.PrimaryGroup.Name}
	if groups := b.memberships(u); len(groups) > 0 {
		add = append(add, "-G", strings.Join(groups, ","))
	}
	add = append(add, "-d", u.Home, "-m", "-s", u.Shell)
	usr := &script{}
	usr.run(add...)
	desc := fmt.Sprintf("create user %s (uid %s) in %s", u.Name, uid, name)
	if err := b.appendExec(p, name, KindCreateUser, desc, usr); err != nil {
		return err
	}

	owner := uid + ":" + strconv.FormatUint(uint64(u.GID), 10)
	sshDir := path.Join(u.Home, ".ssh")
	keysFile := path.Join(sshDir, "authorized_keys")
	for _, k := range u.Keys {
		ks := &script{}
		ks.run("install", "-d", "-m", "0700", "-o", uid, "-g", strconv.FormatUint(uint64(u.GID), 10), sshDir)
		ks.line(ks.words("printf", `%s\n`, k.Line) + " >>" + ks.words(keysFile))
		ks.run("chown", owner, keysFile)
		ks.run("chmod", "0600", keysFile)
		desc := fmt.Sprintf("install authorized key %s %s for %s in %s", k.Type, k.Fingerprint, u.Name, name)
		if err := b.appendExec(p, name, KindInstallAuthorizedKey, desc, ks); err != nil {
			return err
		}
	}

	return nil
}

// memberships lists supplementary group names for useradd -G: the host
// groups followed by the configured extras, without duplicates or the
// primary group.
func (b *Builder) memberships(u *hostuser.Record) []string {
	var out []string
	for _, g := range append(u.GroupNames(), b.opts.ExtraGroups...) {
		if g == "" || g == u.PrimaryGroup.Name || slices.Contains(out, g) {
			continue
		}
		out = append(out, g)
	}
	return out
}

func (b *Builder) installPackage(name, pkg string) Step {
	return Step{
		Kind:        KindInstallPackage,
		Description: fmt.Sprintf("install package %s in %s", pkg, name),
		Argv:        []string{b.opts.IocagePath, "pkg", name, "install", "-y", pkg},
	}
}

func (b *Builder) appendExec(p *Plan, name string, kind Kind, desc string, s *script) error {
	src, err := s.render()
	if err != nil {
		return &InvariantError{Reason: "render " + kind.String() + " script", Cause: err}
	}
	p.append(Step{
		Kind:        kind,
		Description: desc,
		Argv:        []string{b.opts.IocagePath, "exec", name, jailShell},
		Stdin:       src,
	})
	return nil
}
