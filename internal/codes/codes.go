package codes

// ExitStatus is the outcome of one orchestration run
type ExitStatus int

const (
	Success           ExitStatus = 0
	ConfigError       ExitStatus = 1
	DependencyFailure ExitStatus = 2
	CompileFailure    ExitStatus = 3
	LinkFailure       ExitStatus = 4
	PackageFailure    ExitStatus = 5
	Interrupted       ExitStatus = 130
)

// Descriptions maps exit statuses to their descriptions
var Descriptions = map[ExitStatus]string{
	Success:           "Success",
	ConfigError:       "Invalid configuration or missing tools",
	DependencyFailure: "Dependency build failed",
	CompileFailure:    "Compile errors",
	LinkFailure:       "Link errors",
	PackageFailure:    "Packaging failed",
	Interrupted:       "Interrupted",
}

// Code returns the process exit code for the status
func (s ExitStatus) Code() int {
	return int(s)
}

// String returns the status description
func (s ExitStatus) String() string {
	return GetMessage(s)
}

// IsSuccess returns true if the status indicates a successful build
func IsSuccess(s ExitStatus) bool {
	return s == Success
}

// GetMessage returns the description for a given status, or a generic message if unknown
func GetMessage(s ExitStatus) string {
	if msg, ok := Descriptions[s]; ok {
		return msg
	}

	return "Unknown error"
}
