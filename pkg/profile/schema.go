package profile

// profileSchema is the CUE schema every profile source is unified with.
// Defaults live in the schema so CUE, YAML, and Starlark profiles all
// inherit them identically.
const profileSchema = `
#FileMapping: {
	// source is resolved relative to the profile file's directory
	source: string & !=""

	// dest is resolved relative to the home directory
	dest: string & !=""
}

#Conda: {
	// version pins a Miniforge release, or "latest"
	version: string | *"latest"

	// url_template carries %s placeholders for OS and architecture tokens
	url_template: string | *"https://github.com/conda-forge/miniforge/releases/latest/download/Miniforge3-%s-%s.sh"

	// install_path is where the toolchain lands; ~ expands to the home directory
	install_path: string | *"~/miniforge3"

	// channels are written to the conda defaults, highest priority first
	channels: [...string] | *["conda-forge", "bioconda"]

	// min_installer_bytes rejects truncated downloads
	min_installer_bytes: int & >=0 | *1048576
}

#Brew: {
	formulae: [...string] | *[]
}

#Profile: {
	name:         string & =~"^[a-zA-Z0-9_-]+$"
	description?: string
	conda:        #Conda
	brew:         #Brew
	r_configs: [...#FileMapping] | *[]
}
`

// defaultProfileSource is the embedded profile used when no --profile flag
// is given: a bioinformatics workstation with the Miniforge toolchain,
// terminal tooling, and the standard R dotfiles.
const defaultProfileSource = `
name:        "workstation"
description: "Miniforge toolchain, Homebrew terminal tooling and R configuration"

conda: {
	channels: ["conda-forge", "bioconda"]
}

brew: formulae: ["git", "tmux", "htop", "wget", "ripgrep", "jq"]

r_configs: [
	{source: "r/Rprofile", dest: ".Rprofile"},
	{source: "r/Renviron", dest: ".Renviron"},
]
`
