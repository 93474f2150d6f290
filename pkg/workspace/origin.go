// Package workspace models code-location deployment metadata: where a
// location's code lives, how its server process is started, and the
// document shape the cloud workspace API accepts.
package workspace

import (
	"fmt"
	"strconv"
)

// GitMetadata records the commit a location was deployed from.
type GitMetadata struct {
	CommitHash string `json:"commit_hash,omitempty" yaml:"commit_hash,omitempty"`
	URL        string `json:"url,omitempty" yaml:"url,omitempty"`
}

// CodeDeploymentMetadata describes one deployable code location.
//
// Exactly one of PythonFile, PackageName, or ModuleName identifies the
// code target; Validate enforces that.
type CodeDeploymentMetadata struct {
	Image            string       `json:"image,omitempty" yaml:"image,omitempty"`
	PythonFile       string       `json:"python_file,omitempty" yaml:"python_file,omitempty"`
	PackageName      string       `json:"package_name,omitempty" yaml:"package_name,omitempty"`
	ModuleName       string       `json:"module_name,omitempty" yaml:"module_name,omitempty"`
	WorkingDirectory string       `json:"working_directory,omitempty" yaml:"working_directory,omitempty"`
	ExecutablePath   string       `json:"executable_path,omitempty" yaml:"executable_path,omitempty"`
	Attribute        string       `json:"attribute,omitempty" yaml:"attribute,omitempty"`
	Git              *GitMetadata `json:"git_metadata,omitempty" yaml:"git_metadata,omitempty"`
}

// Validate enforces the exactly-one code target invariant.
func (m CodeDeploymentMetadata) Validate() error {
	count := 0
	for _, v := range []string{m.PythonFile, m.PackageName, m.ModuleName} {
		if v != "" {
			count++
		}
	}
	if count != 1 {
		return fmt.Errorf("must supply exactly one of a file name, a package name, or a module name")
	}
	return nil
}

// ServerCommand returns the argument vector that starts the location's
// code server.
func (m CodeDeploymentMetadata) ServerCommand() []string {
	var cmd []string
	if m.ExecutablePath != "" {
		cmd = append(cmd, m.ExecutablePath, "-m")
	}
	return append(cmd, "dagster", "api", "grpc")
}

// ServerEnv returns the environment the code server is started with.
func (m CodeDeploymentMetadata) ServerEnv(port int) map[string]string {
	env := map[string]string{
		"DAGSTER_CLI_API_GRPC_LAZY_LOAD_USER_CODE": "1",
		"DAGSTER_CLI_API_GRPC_HOST":                "0.0.0.0",
		"DAGSTER_CLI_API_GRPC_PORT":                strconv.Itoa(port),
	}
	if m.Image != "" {
		env["DAGSTER_CURRENT_IMAGE"] = m.Image
	}
	if m.PythonFile != "" {
		env["DAGSTER_CLI_API_GRPC_PYTHON_FILE"] = m.PythonFile
	}
	if m.ModuleName != "" {
		env["DAGSTER_CLI_API_GRPC_MODULE_NAME"] = m.ModuleName
	}
	if m.PackageName != "" {
		env["DAGSTER_CLI_API_GRPC_PACKAGE_NAME"] = m.PackageName
	}
	if m.WorkingDirectory != "" {
		env["DAGSTER_CLI_API_GRPC_WORKING_DIRECTORY"] = m.WorkingDirectory
	}
	if m.Attribute != "" {
		env["DAGSTER_CLI_API_GRPC_ATTRIBUTE"] = m.Attribute
	}
	if m.ExecutablePath != "" {
		env["DAGSTER_CLI_API_GRPC_USE_PYTHON_ENVIRONMENT_ENTRY_POINT"] = "1"
	}
	return env
}

// CodePreviewMetadata describes the branch deployment a preview location
// was built from.
type CodePreviewMetadata struct {
	CommitMessage string `json:"commit_message"`
	BranchName    string `json:"branch_name"`
	BranchURL     string `json:"branch_url"`
	CommitSHA     string `json:"commit_sha"`
	CommitURL     string `json:"commit_url"`
}

// DisplayMetadata returns the preview fields as display key/values.
func (m CodePreviewMetadata) DisplayMetadata() map[string]string {
	return map[string]string{
		"commit_message": m.CommitMessage,
		"branch_name":    m.BranchName,
		"branch_url":     m.BranchURL,
		"commit_sha":     m.CommitSHA,
		"commit_url":     m.CommitURL,
	}
}

// Location is a named code location as supplied on the CLI or in a
// workspace document.
type Location struct {
	Name                   string `yaml:"location_name"`
	CodeDeploymentMetadata `yaml:",inline"`
	CommitHash             string `yaml:"commit_hash,omitempty"`
	URL                    string `yaml:"url,omitempty"`
}

// Document builds the add/update-location mutation input.
func (l Location) Document() (map[string]any, error) {
	if l.Name == "" {
		return nil, fmt.Errorf("location name is required")
	}
	if err := l.Validate(); err != nil {
		return nil, err
	}

	doc := map[string]any{"name": l.Name}
	set := func(key, val string) {
		if val != "" {
			doc[key] = val
		}
	}
	set("pythonFile", l.PythonFile)
	set("packageName", l.PackageName)
	set("image", l.Image)
	set("moduleName", l.ModuleName)
	set("workingDirectory", l.WorkingDirectory)
	set("executablePath", l.ExecutablePath)
	set("attribute", l.Attribute)
	set("commitHash", l.CommitHash)
	set("url", l.URL)
	return doc, nil
}
