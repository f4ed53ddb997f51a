package transport

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildArgsDefaultFlags(t *testing.T) {
	c := New("web1", Options{SSHPort: 2222, SSHKeyPath: "/root/.ssh/id_ed25519"})
	args := c.BuildArgs("web1:/var/www/", "/backups/web1/2026-02-08/files/", "")

	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "--delete")
	assert.Contains(t, joined, "-e ssh -p 2222 -i '/root/.ssh/id_ed25519'")
	assert.NotContains(t, joined, "--link-dest")
	assert.Equal(t, "web1:/var/www/", args[len(args)-2])
	assert.Equal(t, "/backups/web1/2026-02-08/files/", args[len(args)-1])
}

func TestBuildArgsWithLinkDest(t *testing.T) {
	c := New("web1", Options{SSHPort: 22})
	args := c.BuildArgs("web1:/srv/", "/backups/web1/2026-02-09/files/", "/backups/web1/2026-02-08/files")

	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "--link-dest=/backups/web1/2026-02-08/files")
}

func TestBuildArgsWithBandwidthLimitAndSudo(t *testing.T) {
	c := New("db1", Options{SSHPort: 22, BWLimitKBps: 5000, RsyncPathSudo: true})
	args := c.BuildArgs("db1:/data/", "/backups/db1/2026-02-08/files/", "")

	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "--bwlimit=5000")
	assert.Contains(t, joined, "--rsync-path=sudo rsync")
}

func TestBuildArgsWithExcludes(t *testing.T) {
	c := New("web1", Options{SSHPort: 22, Excludes: []string{"*.log", "tmp/"}})
	args := c.BuildArgs("web1:/srv/", "/backups/web1/latest/files/", "")

	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "--exclude=*.log")
	assert.Contains(t, joined, "--exclude=tmp/")
}

func TestBuildArgsFlagsOverrideReplacesOwnershipFlags(t *testing.T) {
	c := New("web1", Options{SSHPort: 22, FlagsOverride: "-rtz"})
	args := c.BuildArgs("web1:/srv/", "/backups/web1/latest/files/", "")

	assert.Equal(t, []string{"-rtz"}, args[:1])
	joined := strings.Join(args, " ")
	assert.NotContains(t, joined, "-avz")
}

func TestBuildArgsExtraRsyncOptsAppended(t *testing.T) {
	c := New("web1", Options{SSHPort: 22, ExtraRsyncOpts: "--no-perms --no-owner"})
	args := c.BuildArgs("web1:/srv/", "/backups/web1/latest/files/", "")

	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "--no-perms")
	assert.Contains(t, joined, "--no-owner")
}

func TestShellQuoteEscapesSingleQuotes(t *testing.T) {
	assert.Equal(t, `'it'\''s'`, shellQuote("it's"))
}

func TestResolveLatestNoneYet(t *testing.T) {
	root := t.TempDir()
	got, err := ResolveLatest(root)
	assert.NoError(t, err)
	assert.Equal(t, "", got)
}
