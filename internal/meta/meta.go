package meta

const (
	// CLIName is the canonical name of the binary and is used for
	// config directories, environment variable prefixes, and User-Agent strings.
	CLIName = "devbotctl"

	// ProductName is the display name of the conversation service this CLI talks to.
	ProductName = "DevBot"

	// DefaultBaseURL is the DevBot API endpoint used when no override is configured.
	DefaultBaseURL = "http://localhost:8000"
)
