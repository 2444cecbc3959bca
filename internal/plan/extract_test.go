package plan

import (
	"reflect"
	"testing"
)

func TestExtractFilePaths(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "backtick code span",
			text: "Create `src/auth/login.ts` with the handler.",
			want: []string{"src/auth/login.ts"},
		},
		{
			name: "action verb phrase",
			text: "Update config/app.yaml to add the new key.",
			want: []string{"config/app.yaml"},
		},
		{
			name: "bare slash path",
			text: "The component lives in src/components/Button.tsx today.",
			want: []string{"src/components/Button.tsx"},
		},
		{
			name: "dedupe across heuristics",
			text: "Modify `src/db.go`. The file src/db.go holds the pool.",
			want: []string{"src/db.go"},
		},
		{
			name: "leading ./ stripped",
			text: "Edit `./scripts/build.sh` first.",
			want: []string{"scripts/build.sh"},
		},
		{
			name: "unknown extension ignored",
			text: "Do not touch assets/logo.xcf or `binary.dat`.",
			want: nil,
		},
		{
			name: "prose without paths",
			text: "Make the login page faster and friendlier.",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractFilePaths(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ExtractFilePaths(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestDetectDependencies(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "depends on marker",
			text: "Depends on US-001 for the endpoint.",
			want: []string{"US-001"},
		},
		{
			name: "after and requires markers",
			text: "Run after US-002. Requires TASK-10 to be merged.",
			want: []string{"US-002", "TASK-10"},
		},
		{
			name: "case insensitive",
			text: "DEPENDS ON us-003",
			want: []string{"us-003"},
		},
		{
			name: "deduplicated",
			text: "Depends on US-001. Also depends on US-001.",
			want: []string{"US-001"},
		},
		{
			name: "plain prose mentioning a story",
			text: "US-004 introduced this module.",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DetectDependencies(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("DetectDependencies(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}
