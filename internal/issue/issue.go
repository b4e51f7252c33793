// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"golang.org/x/exp/slices"
)

type Id int

const (
	InvalidAddressId Id = iota + 1
	NetworkTooSmallId
	GatewayCollisionId
	InvalidReleaseId
	ReleaseDetectionFailedId
	UnknownUserId
	GroupResolutionFailedId
	CredentialReadFailedId
	InvalidJailNameId
	CommandFailedId
	PermissionDeniedId
	IocageNotFoundId
	ConfigLoadFailedId
	InternalErrorId
)

type MarkdownMsg string

type HttpLink string

type Renderer interface {
	Render(in string, stylePath string) (string, error)
}

type Issue struct {
	id       Id          // ID used to lookup the issue
	mdMsg    MarkdownMsg // Markdown text that will be rendered
	docLinks []HttpLink  // reference documentation for the failing tool
	extLinks []HttpLink  // other links that might be useful for the operator
}

func (i *Issue) Id() Id {
	return i.id
}

func (i *Issue) MarkdownMsg() MarkdownMsg {
	return i.mdMsg
}

func (i *Issue) DocLinks() []HttpLink {
	return slices.Clone(i.docLinks)
}

func (i *Issue) ExtLinks() []HttpLink {
	return slices.Clone(i.extLinks)
}

func (i *Issue) Render(stylePath string) (string, error) {
	var md strings.Builder
	md.WriteString(string(i.mdMsg))
	if len(i.docLinks) > 0 || len(i.extLinks) > 0 {
		md.WriteString("\n\n## See also\n")
		for _, link := range i.docLinks {
			md.WriteString("\n- " + string(link))
		}
		for _, link := range i.extLinks {
			md.WriteString("\n- " + string(link))
		}
	}
	return render(md.String(), stylePath)
}

const (
	iocageDocs   HttpLink = "https://iocage.readthedocs.io/en/latest/"
	handbookJail HttpLink = "https://docs.freebsd.org/en/books/handbook/jails/"
	pwManual     HttpLink = "https://man.freebsd.org/cgi/man.cgi?query=pw"
	sshdManual   HttpLink = "https://man.freebsd.org/cgi/man.cgi?query=sshd"
)

var (
	render = glamour.Render

	invalidAddressIssue = &Issue{
		id: InvalidAddressId,
		mdMsg: `
# Invalid jail address

The address must be an IP address with a network prefix length.

## Things you can try:
- Add the prefix length, for example:
~~~
$ iocage-provision ferris 192.168.0.100/24
~~~
- IPv6 addresses work the same way: ` + "`2001:db8::10/64`",
		docLinks: []HttpLink{iocageDocs},
	}

	networkTooSmallIssue = &Issue{
		id: NetworkTooSmallId,
		mdMsg: `
# Network too small for a default gateway

The prefix leaves no address for a gateway, so none can be computed.

## Things you can try:
- Pass the gateway explicitly with ` + "`--gateway`" + `
- Use the real prefix length of the network the jail joins`,
	}

	gatewayCollisionIssue = &Issue{
		id: GatewayCollisionId,
		mdMsg: `
# Gateway collides with the jail address

The computed default gateway (first address of the network) is the
address given to the jail.

## Things you can try:
- Pass the router's address with ` + "`--gateway`" + `
- Pick a different address for the jail`,
	}

	invalidReleaseIssue = &Issue{
		id: InvalidReleaseId,
		mdMsg: `
# Invalid release

The release must look like ` + "`13.2-RELEASE`" + `.

## Things you can try:
- List the releases iocage has fetched:
~~~
$ iocage list --release
~~~
- Fetch one first:
~~~
$ iocage fetch --release 13.2-RELEASE
~~~
- Adjust ` + "`release_pattern`" + ` in the configuration for custom release names`,
		docLinks: []HttpLink{iocageDocs},
	}

	releaseDetectionFailedIssue = &Issue{
		id: ReleaseDetectionFailedId,
		mdMsg: `
# Could not detect the host release

The running kernel's release could not be turned into an iocage release name.

## Things you can try:
- Pass the release explicitly with ` + "`--release`" + `
- Check what the host reports:
~~~
$ uname -r
~~~`,
	}

	unknownUserIssue = &Issue{
		id: UnknownUserId,
		mdMsg: `
# Unknown user

The user to copy into the jail does not exist on this host.

## Things you can try:
- Check the name:
~~~
$ id <user>
~~~
- Leave out ` + "`--user`" + ` to skip copying an account`,
		docLinks: []HttpLink{pwManual},
	}

	groupResolutionFailedIssue = &Issue{
		id: GroupResolutionFailedId,
		mdMsg: `
# Group could not be resolved

The user belongs to a group id that has no name in the host's group database.

## Things you can try:
- Find the group ids:
~~~
$ id <user>
~~~
- Add the missing group or remove the membership with ` + "`pw`",
		docLinks: []HttpLink{pwManual},
	}

	credentialReadFailedIssue = &Issue{
		id: CredentialReadFailedId,
		mdMsg: `
# Authorized keys could not be read

The user's authorized keys file exists but could not be read.

## Things you can try:
- Run as root, which can read every home directory
- Check the file's permissions
- Point ` + "`user.authorized_keys`" + ` at another file, or set it to "" to skip keys`,
		docLinks: []HttpLink{sshdManual},
	}

	invalidJailNameIssue = &Issue{
		id: InvalidJailNameId,
		mdMsg: `
# Invalid jail name

Jail names start with a letter or digit and may contain letters, digits,
` + "`_`, `-` and `.`" + `.`,
		docLinks: []HttpLink{iocageDocs},
	}

	commandFailedIssue = &Issue{
		id: CommandFailedId,
		mdMsg: `
# A provisioning step failed

The jail may be partially provisioned. The steps that completed are listed
above together with the output of the failing command.

## Things you can try:
- Inspect the jail:
~~~
$ iocage list
$ iocage get all <name>
~~~
- Remove it and retry:
~~~
$ iocage destroy --force <name>
~~~
- Run with ` + "`--destroy-on-failure`" + ` to have failed jails removed`,
		docLinks: []HttpLink{iocageDocs, handbookJail},
	}

	permissionDeniedIssue = &Issue{
		id: PermissionDeniedId,
		mdMsg: `
# Root privileges required

Creating and configuring jails needs root.

## Things you can try:
- Run with sudo or doas:
~~~
$ sudo iocage-provision ferris 192.168.0.100/24
~~~
- Use ` + "`--dry-run`" + ` to see the plan without root`,
	}

	iocageNotFoundIssue = &Issue{
		id: IocageNotFoundId,
		mdMsg: `
# iocage not found

The iocage program could not be started.

## Things you can try:
- Install it:
~~~
$ pkg install py311-iocage
~~~
- Set ` + "`iocage_path`" + ` in the configuration if it lives outside PATH`,
		docLinks: []HttpLink{iocageDocs},
	}

	configLoadFailedIssue = &Issue{
		id: ConfigLoadFailedId,
		mdMsg: `
# Configuration could not be loaded

## Things you can try:
- Show where the configuration is read from:
~~~
$ iocage-provision config path
~~~
- Compare with the defaults:
~~~
$ iocage-provision config show
~~~`,
	}

	internalErrorIssue = &Issue{
		id: InternalErrorId,
		mdMsg: `
# Internal error

iocage-provision built an inconsistent plan. Nothing was run on the host.
Please report this together with the command line that triggered it.`,
	}

	issues = map[Id]*Issue{
		invalidAddressIssue.Id():         invalidAddressIssue,
		networkTooSmallIssue.Id():        networkTooSmallIssue,
		gatewayCollisionIssue.Id():       gatewayCollisionIssue,
		invalidReleaseIssue.Id():         invalidReleaseIssue,
		releaseDetectionFailedIssue.Id(): releaseDetectionFailedIssue,
		unknownUserIssue.Id():            unknownUserIssue,
		groupResolutionFailedIssue.Id():  groupResolutionFailedIssue,
		credentialReadFailedIssue.Id():   credentialReadFailedIssue,
		invalidJailNameIssue.Id():        invalidJailNameIssue,
		commandFailedIssue.Id():          commandFailedIssue,
		permissionDeniedIssue.Id():       permissionDeniedIssue,
		iocageNotFoundIssue.Id():         iocageNotFoundIssue,
		configLoadFailedIssue.Id():       configLoadFailedIssue,
		internalErrorIssue.Id():          internalErrorIssue,
	}
)

// Values returns every issue ordered by id.
func Values() []*Issue {
	all := make([]*Issue, 0, len(issues))
	for _, i := range issues {
		all = append(all, i)
	}
	slices.SortFunc(all, func(a, b *Issue) int { return int(a.id) - int(b.id) })
	return all
}

func Get(id Id) *Issue {
	return issues[id]
}
