package blobstore

import (
	"fmt"
	"strings"
)

// Destination is one parsed element of a "--save-to" destination-string, per
// spec §6.5: dest := scheme (':' '/'? '/'? bucket)?
type Destination struct {
	// Scheme is the backend tag ("s3", "b2", "local") or, when no known
	// scheme matches, the path to an executable.
	Scheme string
	// Bucket is the optional bucket/root named after the colon. Empty means
	// "use the backend's configured default".
	Bucket string
	// Executable is true when Scheme did not match a known backend tag and
	// is instead treated as a path to invoke as `<path> <remote_name>
	// <local_path> <verb>`.
	Executable bool
}

var knownSchemes = map[string]bool{
	"s3":    true,
	"b2":    true,
	"local": true,
}

// ParseDestinations parses a comma-separated destination-string into its
// component Destinations, applying the trimming and stripping rules from
// spec §6.5. An empty or whitespace-only s yields no destinations, which
// callers should treat as "save to the current directory" per spec §4.5.
func ParseDestinations(s string) ([]Destination, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	parts := strings.Split(s, ",")
	dests := make([]Destination, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		dest, err := parseOneDestination(part)
		if err != nil {
			return nil, err
		}
		dests = append(dests, dest)
	}
	return dests, nil
}

func parseOneDestination(s string) (Destination, error) {
	scheme, bucket, hasColon := strings.Cut(s, ":")
	scheme = strings.TrimSpace(scheme)
	if scheme == "" {
		return Destination{}, fmt.Errorf("blobstore: empty scheme in destination %q", s)
	}

	if !hasColon {
		return Destination{Scheme: scheme, Executable: !knownSchemes[scheme]}, nil
	}

	bucket = strings.TrimPrefix(bucket, "//")
	bucket = strings.TrimSuffix(bucket, "/")
	bucket = strings.TrimSpace(bucket)

	return Destination{Scheme: scheme, Bucket: bucket, Executable: !knownSchemes[scheme]}, nil
}
