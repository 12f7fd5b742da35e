package executor

import (
	"embed"
	"fmt"
	"os/exec"
	"regexp"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

//go:embed providers/*.yaml
var providersFS embed.FS

// Protocol families a provider can speak.
const (
	ProtocolLineJSON = "line-json"
	ProtocolRPC      = "rpc"
)

// ProviderSpec describes an agent provider loaded from an embedded YAML
// file.
type ProviderSpec struct {
	Name        string   `yaml:"name"`
	DisplayName string   `yaml:"displayName"`
	Description string   `yaml:"description"`
	Binary      string   `yaml:"binary"`
	Protocol    string   `yaml:"protocol"`
	MinVersion  string   `yaml:"minVersion,omitempty"`
	VersionArgs []string `yaml:"versionArgs,omitempty"`
	SpawnArgs   []string `yaml:"spawnArgs,omitempty"`
	ResumeFlag  string   `yaml:"resumeFlag,omitempty"`
	ModelFlag   string   `yaml:"modelFlag,omitempty"`
}

// providerSpecs is loaded at package init time from embedded YAML files.
var providerSpecs = mustLoadProviders(providersFS)

func mustLoadProviders(fsys embed.FS) map[string]*ProviderSpec {
	entries, err := fsys.ReadDir("providers")
	if err != nil {
		panic(fmt.Sprintf("executor: read providers dir: %v", err))
	}

	specs := make(map[string]*ProviderSpec, len(entries))

	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}

		data, readErr := fsys.ReadFile("providers/" + ent.Name())
		if readErr != nil {
			panic(fmt.Sprintf("executor: read provider file %s: %v", ent.Name(), readErr))
		}

		var spec ProviderSpec
		if unmarshalErr := yaml.Unmarshal(data, &spec); unmarshalErr != nil {
			panic(fmt.Sprintf("executor: unmarshal provider %s: %v", ent.Name(), unmarshalErr))
		}

		validateProviderSpec(&spec, ent.Name())

		if _, dup := specs[spec.Name]; dup {
			panic(fmt.Sprintf("executor: duplicate provider name %q in %s", spec.Name, ent.Name()))
		}

		specs[spec.Name] = &spec
	}

	return specs
}

func validateProviderSpec(spec *ProviderSpec, filename string) {
	if spec.Name == "" {
		panic(fmt.Sprintf("executor: provider %s: name is required", filename))
	}

	if spec.Binary == "" {
		panic(fmt.Sprintf("executor: provider %s: binary is required", filename))
	}

	switch spec.Protocol {
	case ProtocolLineJSON, ProtocolRPC:
	default:
		panic(fmt.Sprintf("executor: provider %s: invalid protocol %q", filename, spec.Protocol))
	}

	if spec.MinVersion != "" {
		if _, err := semver.NewVersion(spec.MinVersion); err != nil {
			panic(fmt.Sprintf("executor: provider %s: invalid minVersion %q: %v", filename, spec.MinVersion, err))
		}
	}
}

// GetProvider returns the ProviderSpec for a named agent type.
func GetProvider(name string) (*ProviderSpec, bool) {
	spec, ok := providerSpecs[name]
	return spec, ok
}

func mustGetProvider(name string) *ProviderSpec {
	spec, ok := GetProvider(name)
	if !ok {
		panic(fmt.Sprintf("executor: provider %q not found", name))
	}

	return spec
}

// ProviderNames returns all provider names in sorted order.
func ProviderNames() []string {
	names := make([]string, 0, len(providerSpecs))
	for name := range providerSpecs {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// AvailableFunc returns a lazy closure that checks if a provider's binary
// is installed. The closure reads from the provider spec map at call time,
// avoiding init-order dependence.
func AvailableFunc(name string) func() bool {
	return func() bool {
		spec, ok := providerSpecs[name]
		if !ok {
			return false
		}

		_, err := exec.LookPath(spec.Binary)

		return err == nil
	}
}

var versionPattern = regexp.MustCompile(`\d+\.\d+\.\d+(?:-[0-9A-Za-z.\-]+)?`)

// versionOutput runs the provider binary's version command. Injectable for
// tests.
var versionOutput = func(binary string, args ...string) (string, error) {
	out, err := exec.Command(binary, args...).CombinedOutput() //nolint:gosec // binary and args come from embedded provider specs
	return string(out), err
}

// ProbeVersion runs the provider's version command and returns the parsed
// semantic version from its output.
func ProbeVersion(spec *ProviderSpec) (*semver.Version, error) {
	args := spec.VersionArgs
	if len(args) == 0 {
		args = []string{"--version"}
	}

	out, err := versionOutput(spec.Binary, args...)
	if err != nil {
		return nil, fmt.Errorf("run %s %s: %w", spec.Binary, strings.Join(args, " "), err)
	}

	raw := versionPattern.FindString(out)
	if raw == "" {
		return nil, fmt.Errorf("no version found in output of %s: %q", spec.Binary, strings.TrimSpace(out))
	}

	v, err := semver.NewVersion(raw)
	if err != nil {
		return nil, fmt.Errorf("parse version %q: %w", raw, err)
	}

	return v, nil
}

// MeetsMinVersion reports whether the installed CLI satisfies the
// provider's minimum version. Providers without a minimum always pass.
func MeetsMinVersion(spec *ProviderSpec) (bool, *semver.Version, error) {
	if spec.MinVersion == "" {
		return true, nil, nil
	}

	installed, err := ProbeVersion(spec)
	if err != nil {
		return false, nil, err
	}

	minimum := semver.MustParse(spec.MinVersion)

	return !installed.LessThan(minimum), installed, nil
}
