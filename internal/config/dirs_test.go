package config

import (
	"os/user"
	"path/filepath"
	"testing"
)

func TestNewProjectDirsHonorsStevExplicitRootOverride(t *testing.T) {
	t.Setenv(rootEnvVar, "/srv/stever")
	t.Setenv("SUDO_UID", "")

	dirs, err := NewProjectDirs()
	if err != nil {
		t.Fatalf("NewProjectDirs: %v", err)
	}
	if dirs.Root != "/srv/stever" {
		t.Fatalf("Root = %q, want /srv/stever", dirs.Root)
	}
	if dirs.AppConfig != filepath.Join("/srv/stever", "config.toml") {
		t.Fatalf("AppConfig = %q", dirs.AppConfig)
	}
	if dirs.ValidatorKeys != filepath.Join("/srv/stever", "keys", "validator.keys.json") {
		t.Fatalf("ValidatorKeys = %q", dirs.ValidatorKeys)
	}
	if dirs.DePoolKeys != filepath.Join("/srv/stever", "keys", "depool.keys.json") {
		t.Fatalf("DePoolKeys = %q", dirs.DePoolKeys)
	}
}

func TestNewProjectDirsFallsBackThroughSudoUID(t *testing.T) {
	t.Setenv(rootEnvVar, "")

	self, err := user.Current()
	if err != nil {
		t.Skipf("cannot resolve current user: %v", err)
	}
	t.Setenv("SUDO_UID", self.Uid)

	dirs, err := NewProjectDirs()
	if err != nil {
		t.Fatalf("NewProjectDirs: %v", err)
	}
	want := filepath.Join(self.HomeDir, defaultRootDirName)
	if dirs.Root != want {
		t.Fatalf("Root = %q, want %q", dirs.Root, want)
	}
}

func TestNewProjectDirsRejectsMalformedSudoUID(t *testing.T) {
	t.Setenv(rootEnvVar, "")
	t.Setenv("SUDO_UID", "not-a-number")

	if _, err := NewProjectDirs(); err == nil {
		t.Fatalf("expected error for malformed SUDO_UID")
	}
}
