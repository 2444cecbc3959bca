package worker

import (
	"io"
	"os"
	"strings"
	"testing"
	"time"
)

func TestParseInvocation(t *testing.T) {
	tests := []struct {
		in      string
		want    Invocation
		wantErr bool
	}{
		{"arg", InvokeArg, false},
		{"", InvokeArg, false},
		{"stdin", InvokeStdin, false},
		{"file", InvokeFile, false},
		{"STDIN", InvokeStdin, false},
		{" file ", InvokeFile, false},
		{"pipe", InvokeArg, true},
	}

	for _, tt := range tests {
		got, err := ParseInvocation(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseInvocation(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseInvocation(%q): unexpected error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseInvocation(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestCommandSpecBuildArg(t *testing.T) {
	cs := CommandSpec{Command: "claude", Args: []string{"-p"}, Invocation: InvokeArg}

	spec, cleanup, err := cs.Build("do the thing", "/tmp/repo", time.Minute, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer cleanup()

	if spec.Command != "claude" || spec.Dir != "/tmp/repo" {
		t.Errorf("spec = %+v", spec)
	}
	want := []string{"-p", "do the thing"}
	if len(spec.Args) != 2 || spec.Args[0] != want[0] || spec.Args[1] != want[1] {
		t.Errorf("args = %v, want %v", spec.Args, want)
	}
	if spec.Stdin != nil {
		t.Error("arg invocation must not set stdin")
	}
}

func TestCommandSpecBuildStdin(t *testing.T) {
	cs := CommandSpec{Command: "worker", Invocation: InvokeStdin}

	spec, cleanup, err := cs.Build("prompt body", "", time.Minute, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer cleanup()

	if spec.Stdin == nil {
		t.Fatal("stdin invocation must set stdin")
	}
	data, _ := io.ReadAll(spec.Stdin)
	if string(data) != "prompt body" {
		t.Errorf("stdin = %q", data)
	}
	if len(spec.Args) != 0 {
		t.Errorf("args = %v, want none", spec.Args)
	}
}

func TestCommandSpecBuildFile(t *testing.T) {
	tests := []struct {
		name        string
		args        []string
		placeholder bool
	}{
		{name: "placeholder substituted", args: []string{"--prompt-file", PromptFilePlaceholder}, placeholder: true},
		{name: "path appended without placeholder", args: []string{"--verbose"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cs := CommandSpec{Command: "worker", Args: tt.args, Invocation: InvokeFile}
			spec, cleanup, err := cs.Build("file prompt", "", time.Minute, time.Second)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			path := spec.Args[len(spec.Args)-1]
			if strings.Contains(path, PromptFilePlaceholder) {
				t.Fatalf("placeholder not substituted in %v", spec.Args)
			}
			data, err := os.ReadFile(path)
			if err != nil {
				t.Fatalf("prompt file unreadable: %v", err)
			}
			if string(data) != "file prompt" {
				t.Errorf("prompt file contents = %q", data)
			}

			cleanup()
			if _, err := os.Stat(path); !os.IsNotExist(err) {
				t.Error("cleanup left the prompt file behind")
			}
		})
	}
}

func TestRenderPrompt(t *testing.T) {
	got := RenderPrompt(
		"id={{STORY_ID}} title={{STORY_TITLE}}\n{{STORY_CONTENT}}\nctx={{CONTEXT_PATHS}}",
		"US-001", "Login", "Build it.", []string{"docs/ARCH.md", "docs/API.md"},
	)
	want := "id=US-001 title=Login\nBuild it.\nctx=docs/ARCH.md, docs/API.md"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
