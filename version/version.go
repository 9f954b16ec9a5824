package version

// Build information (injected via ldflags - must NOT have default values)
var (
	Version   string
	GitSHA    string
	BuildDate string
)

// String returns "version (sha) date", with "dev" for an unset version.
func String() string {
	v := Version
	if v == "" {
		v = "dev"
	}
	if sha := ShortSHA(); sha != "" {
		v += " (" + sha + ")"
	}
	if BuildDate != "" {
		v += " " + BuildDate
	}
	return v
}

// ShortSHA returns the first 7 characters of the git SHA
func ShortSHA() string {
	if len(GitSHA) >= 7 {
		return GitSHA[:7]
	}
	return GitSHA
}
