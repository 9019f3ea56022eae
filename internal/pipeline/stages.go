package pipeline

// Source archive download and extraction into the volume. The archive
// location and session credentials come from the sandbox environment.
const unarchiveScript = `
curl -sSfL --retry 2 -o /tmp/source.archive "$SOURCE_CODE_URL" || exit 64
tar -xf /tmp/source.archive || exit 65
rm -f /tmp/source.archive
`

// Relay of each relevant source file to the coordinating API, one file per
// upload call, followed by the seal call that closes the upload window.
// Runs before compilation so the audited source set is guaranteed
// identical to what is compiled.
const sealSourcesScript = `
find . -type f \( -name '*.rs' -o -name 'Cargo.toml' -o -name 'Cargo.lock' \) -not -path './target/*' |
while read -r file; do
    curl -sSf -X POST -F "file=@$file" "$API_SERVER_URL/files/upload/$SESSION_TOKEN" >/dev/null || exit 66
done
curl -sSf -X POST "$API_SERVER_URL/files/seal/$SESSION_TOKEN" >/dev/null || exit 67
`

// Toolchain provisioning. The requested contract build tool is linked when
// it matches the version pre-baked into the image, avoiding a network
// install per build.
const toolchainScript = `
rustup toolchain install "$RUSTC_VERSION" --profile minimal >/dev/null 2>&1 || exit 68
rustup default "$RUSTC_VERSION" >/dev/null 2>&1 || exit 68
if [ "$CARGO_CONTRACT_VERSION" = "$PREBAKED_CONTRACT_VERSION" ] && command -v cargo-contract >/dev/null 2>&1; then
    :
else
    cargo install cargo-contract --version "$CARGO_CONTRACT_VERSION" --locked || exit 68
fi
`

// Release-mode contract build. Output is captured as-is; only the exit
// status determines success.
const compileScript = `
cargo contract build --release
`

// Artifact renaming to canonical filenames. The toolchain derives output
// names from the contract name, so the files are located by extension and
// moved to fixed paths downstream consumers can rely on.
const normalizeScript = `
set -- target/ink/*.wasm
if [ "$#" -ne 1 ] || [ ! -f "$1" ]; then exit 69; fi
if [ "$1" != "target/ink/main.wasm" ]; then mv "$1" target/ink/main.wasm; fi
set -- target/ink/*.json
if [ "$#" -ne 1 ] || [ ! -f "$1" ]; then exit 69; fi
if [ "$1" != "target/ink/main.json" ]; then mv "$1" target/ink/main.json; fi
`

// Per-session inputs for assembling the stage list.
type Options struct {
	SealSources     bool   // Whether to relay and seal sources before compiling.
	RustcVersion    string // Requested compiler toolchain version.
	ContractVersion string // Requested contract build tool version.
	PrebakedVersion string // Build tool version pre-installed in the image.
}

// Returns the ordered stage list for one build session.
//
// The pipeline is a pure sequence: stages execute strictly in this order
// inside one sandbox lifetime, and the only runtime condition that skips a
// stage is a failure of the one before it.
func Stages(opts Options) []Stage {
	stages := []Stage{
		{Name: StageUnarchive, Script: unarchiveScript},
	}

	if opts.SealSources {
		stages = append(stages, Stage{Name: StageSealSources, Script: sealSourcesScript})
	}

	stages = append(stages,
		Stage{
			Name:   StageToolchain,
			Script: toolchainScript,
			Env: []string{
				"RUSTC_VERSION=" + opts.RustcVersion,
				"CARGO_CONTRACT_VERSION=" + opts.ContractVersion,
				"PREBAKED_CONTRACT_VERSION=" + opts.PrebakedVersion,
			},
		},
		Stage{Name: StageCompile, Script: compileScript},
		Stage{Name: StageNormalize, Script: normalizeScript},
	)

	return stages
}
