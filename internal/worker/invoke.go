package worker

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Invocation selects how the rendered prompt reaches the worker process.
// The variant is chosen explicitly in configuration, never inferred from
// the shape of the command string.
type Invocation int

const (
	// InvokeArg appends the prompt as a trailing command-line argument.
	InvokeArg Invocation = iota
	// InvokeStdin feeds the prompt to the process on standard input.
	InvokeStdin
	// InvokeFile writes the prompt to a temporary file and substitutes its
	// path for the {promptfile} placeholder in the argument list.
	InvokeFile
)

// PromptFilePlaceholder marks where InvokeFile substitutes the prompt path.
const PromptFilePlaceholder = "{promptfile}"

// ParseInvocation converts a config string to an Invocation.
func ParseInvocation(s string) (Invocation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "arg", "":
		return InvokeArg, nil
	case "stdin":
		return InvokeStdin, nil
	case "file":
		return InvokeFile, nil
	default:
		return InvokeArg, fmt.Errorf("unknown invocation style %q (expected arg, stdin, or file)", s)
	}
}

func (i Invocation) String() string {
	switch i {
	case InvokeStdin:
		return "stdin"
	case InvokeFile:
		return "file"
	default:
		return "arg"
	}
}

// CommandSpec is the configured worker command plus its invocation variant.
type CommandSpec struct {
	Command    string
	Args       []string
	Invocation Invocation
}

// Build resolves the command spec and prompt into a runnable Spec. The
// returned cleanup func removes any temporary prompt file and must always
// be called.
func (cs CommandSpec) Build(prompt, dir string, timeout, grace time.Duration) (Spec, func(), error) {
	spec := Spec{
		Command: cs.Command,
		Dir:     dir,
		Timeout: timeout,
		Grace:   grace,
	}
	cleanup := func() {}

	switch cs.Invocation {
	case InvokeStdin:
		spec.Args = append([]string(nil), cs.Args...)
		spec.Stdin = strings.NewReader(prompt)

	case InvokeFile:
		f, err := os.CreateTemp("", "storyflow-prompt-*.md")
		if err != nil {
			return Spec{}, cleanup, &Error{Kind: KindSpawn, Err: fmt.Errorf("failed to create prompt file: %w", err)}
		}
		if _, err := f.WriteString(prompt); err != nil {
			f.Close()
			os.Remove(f.Name())
			return Spec{}, cleanup, &Error{Kind: KindSpawn, Err: fmt.Errorf("failed to write prompt file: %w", err)}
		}
		f.Close()
		cleanup = func() { os.Remove(f.Name()) }

		substituted := false
		for _, a := range cs.Args {
			if strings.Contains(a, PromptFilePlaceholder) {
				spec.Args = append(spec.Args, strings.ReplaceAll(a, PromptFilePlaceholder, f.Name()))
				substituted = true
			} else {
				spec.Args = append(spec.Args, a)
			}
		}
		if !substituted {
			spec.Args = append(spec.Args, f.Name())
		}

	default: // InvokeArg
		spec.Args = append(append([]string(nil), cs.Args...), prompt)
	}

	return spec, cleanup, nil
}

// DefaultPromptTemplate is used when the config does not override it.
const DefaultPromptTemplate = `You are implementing one story from a planning document.

Story ID: {{STORY_ID}}
Title: {{STORY_TITLE}}

{{STORY_CONTENT}}

Shared context paths: {{CONTEXT_PATHS}}

When finished, print a result block:
<result>{"storyId":"{{STORY_ID}}","status":"success|failed","filesModified":[],"potentialConflicts":[],"error":""}</result>`

// RenderPrompt substitutes story fields and shared context paths into the
// prompt template.
func RenderPrompt(template, id, title, content string, contextPaths []string) string {
	r := strings.NewReplacer(
		"{{STORY_ID}}", id,
		"{{STORY_TITLE}}", title,
		"{{STORY_CONTENT}}", content,
		"{{CONTEXT_PATHS}}", strings.Join(contextPaths, ", "),
	)
	return r.Replace(template)
}
