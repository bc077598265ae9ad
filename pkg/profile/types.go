// Package profile loads the declarative machine profile: which Miniforge
// release to install where, which Homebrew formulae to bring in, and which
// R configuration files to sync. Profiles come from the embedded default
// or from a user file in CUE, YAML, or Starlark; every source funnels into
// the same schema, defaults, and validation.
package profile

import (
	"fmt"

	"github.com/bootforge/bootforge/pkg/engine"
)

// Profile is the fully resolved machine profile all workflows consume.
type Profile struct {
	// Name identifies the profile.
	Name string `json:"name" validate:"required"`

	// Description is free-form text shown by forge validate.
	Description string `json:"description"`

	// Conda configures the Miniforge toolchain.
	Conda CondaSpec `json:"conda"`

	// Brew configures Homebrew terminal tooling.
	Brew BrewSpec `json:"brew"`

	// RConfigs lists R configuration files synced into the home directory.
	RConfigs []FileMapping `json:"r_configs" validate:"dive"`
}

// CondaSpec pins the Miniforge installer and conda defaults.
type CondaSpec struct {
	// Version is the Miniforge release, or "latest".
	Version string `json:"version" validate:"required"`

	// URLTemplate is the installer URL with %s placeholders for the
	// platform OS and architecture tokens.
	URLTemplate string `json:"url_template" validate:"required"`

	// InstallPath is where the toolchain lands. A leading ~ expands to
	// the invoking user's home directory.
	InstallPath string `json:"install_path" validate:"required"`

	// Channels are written to the conda defaults, highest priority first.
	Channels []string `json:"channels" validate:"dive,required"`

	// MinInstallerBytes rejects a truncated installer download.
	MinInstallerBytes int64 `json:"min_installer_bytes" validate:"min=0"`
}

// BrewSpec lists Homebrew formulae to install.
type BrewSpec struct {
	Formulae []string `json:"formulae" validate:"dive,required"`
}

// FileMapping maps one profile-relative source file to a home-relative
// destination.
type FileMapping struct {
	// Source is resolved relative to the profile file's directory.
	Source string `json:"source" validate:"required"`

	// Dest is resolved relative to the home directory.
	Dest string `json:"dest" validate:"required"`
}

// Miniforge installer filename tokens per platform.
var (
	installerOS   = map[string]string{"darwin": "MacOSX", "linux": "Linux"}
	installerArch = map[string]string{"arm64": "arm64", "amd64": "x86_64"}
)

// InstallerURL resolves the installer URL for the given GOOS/GOARCH pair.
// Unsupported platforms fail with the platform error class, matching the
// preflight contract.
func (c CondaSpec) InstallerURL(goos, goarch string) (string, error) {
	osToken, ok := installerOS[goos]
	if !ok {
		return "", engine.NewPlatformError("no installer for operating system "+goos, nil).
			WithCode(engine.ErrCodeUnsupportedOS)
	}
	archToken, ok := installerArch[goarch]
	if !ok {
		return "", engine.NewPlatformError("no installer for architecture "+goarch, nil).
			WithCode(engine.ErrCodeUnsupportedArch)
	}
	return fmt.Sprintf(c.URLTemplate, osToken, archToken), nil
}

// Issue is one parse or validation problem with its source position, as
// surfaced by forge validate.
type Issue struct {
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Message string `json:"message"`
}

// String renders the issue in file:line:col: message form.
func (i Issue) String() string {
	switch {
	case i.File != "" && i.Line > 0:
		return fmt.Sprintf("%s:%d:%d: %s", i.File, i.Line, i.Column, i.Message)
	case i.File != "":
		return i.File + ": " + i.Message
	default:
		return i.Message
	}
}
