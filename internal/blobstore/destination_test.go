package blobstore

import "testing"

func TestParseDestinations(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []Destination
	}{
		{name: "empty", input: "", want: nil},
		{name: "whitespace only", input: "   ", want: nil},
		{
			name:  "single known scheme no bucket",
			input: "local",
			want:  []Destination{{Scheme: "local"}},
		},
		{
			name:  "known scheme with bucket",
			input: "s3:my-bucket",
			want:  []Destination{{Scheme: "s3", Bucket: "my-bucket"}},
		},
		{
			name:  "bucket with leading slashes stripped",
			input: "s3://my-bucket",
			want:  []Destination{{Scheme: "s3", Bucket: "my-bucket"}},
		},
		{
			name:  "bucket with trailing slash stripped",
			input: "s3:my-bucket/",
			want:  []Destination{{Scheme: "s3", Bucket: "my-bucket"}},
		},
		{
			name:  "multiple destinations comma separated",
			input: "s3:bucket-a, local:/var/backups , b2:bucket-c",
			want: []Destination{
				{Scheme: "s3", Bucket: "bucket-a"},
				{Scheme: "local", Bucket: "/var/backups"},
				{Scheme: "b2", Bucket: "bucket-c"},
			},
		},
		{
			name:  "unknown scheme treated as executable path",
			input: "/usr/local/bin/my-backend",
			want:  []Destination{{Scheme: "/usr/local/bin/my-backend", Executable: true}},
		},
		{
			name:  "unknown scheme with bucket-like argument still executable",
			input: "/opt/backend.sh:extra-arg",
			want:  []Destination{{Scheme: "/opt/backend.sh", Bucket: "extra-arg", Executable: true}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDestinations(tt.input)
			if err != nil {
				t.Fatalf("ParseDestinations() error: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d destinations, want %d: %+v", len(got), len(tt.want), got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("destination %d: got %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestParseDestinations_RejectsEmptyScheme(t *testing.T) {
	if _, err := ParseDestinations(":bucket"); err == nil {
		t.Fatal("expected error for empty scheme")
	}
}

func TestShardPath(t *testing.T) {
	tests := []struct {
		blobName string
		want     string
	}{
		{blobName: "AbCdEf1234567890", want: "data/Ab/AbCdEf1234567890"},
		{blobName: "xy", want: "data/xy/xy"},
		{blobName: "x", want: "data/x/x"},
	}
	for _, tt := range tests {
		if got := ShardPath(tt.blobName); got != tt.want {
			t.Errorf("ShardPath(%q) = %q, want %q", tt.blobName, got, tt.want)
		}
	}
}
