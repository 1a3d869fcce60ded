// Package locate runs the program location pass: all pages in a range are
// shown to the model, which reports every BASIC listing it finds together
// with the pages carrying it. The result is the programs.json consumed by
// the extraction stage.
package locate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/retrolab/basicscan/internal/uploadcache"
	"github.com/retrolab/basicscan/pkg/types"
)

// Generator is the AI call the location pass needs.
type Generator interface {
	GenerateContent(ctx context.Context, prompt string, handles []types.FileHandle) (string, error)
}

// Run uploads the given pages through cache, asks the model to identify
// every program, and returns the parsed list. The caller owns the cache
// and is responsible for releasing it; Run itself never deletes handles.
func Run(ctx context.Context, gen Generator, cache *uploadcache.Cache, pageStart, pageEnd int, w io.Writer) (types.ProgramList, error) {
	if pageStart < 1 || pageEnd < pageStart {
		return types.ProgramList{}, fmt.Errorf("invalid page range %d-%d", pageStart, pageEnd)
	}

	pages := make([]int, 0, pageEnd-pageStart+1)
	for p := pageStart; p <= pageEnd; p++ {
		pages = append(pages, p)
	}

	failed, err := cache.Ensure(ctx, pages)
	if err != nil {
		return types.ProgramList{}, err
	}
	for _, f := range failed {
		fmt.Fprintf(w, "warning: %v (page skipped)\n", f)
	}

	skip := make(map[int]bool, len(failed))
	for _, f := range failed {
		skip[f.Page] = true
	}
	var available []int
	for _, p := range pages {
		if !skip[p] {
			available = append(available, p)
		}
	}
	if len(available) == 0 {
		return types.ProgramList{}, fmt.Errorf("no pages available in range %d-%d", pageStart, pageEnd)
	}

	handles, err := cache.Resolve(available)
	if err != nil {
		return types.ProgramList{}, err
	}

	fmt.Fprintf(w, "identifying programs across %d pages\n", len(handles))
	text, err := gen.GenerateContent(ctx, locatePrompt(), handles)
	if err != nil {
		return types.ProgramList{}, fmt.Errorf("locating programs: %w", err)
	}

	list, err := ParseProgramList(text)
	if err != nil {
		return types.ProgramList{}, err
	}
	return list, nil
}

var jsonFence = regexp.MustCompile("(?s)```json\\s*\\n(.*?)\\n```")

// ParseProgramList extracts the program list JSON from a model response.
// The JSON may arrive inside a ```json fence or as the bare response body.
func ParseProgramList(text string) (types.ProgramList, error) {
	if strings.TrimSpace(text) == "" {
		return types.ProgramList{}, fmt.Errorf("empty response from model")
	}

	payload := text
	if m := jsonFence.FindStringSubmatch(text); m != nil {
		payload = m[1]
	}

	var list types.ProgramList
	if err := json.Unmarshal([]byte(payload), &list); err != nil {
		return types.ProgramList{}, fmt.Errorf("parsing program list: %w", err)
	}
	if err := list.Validate(); err != nil {
		return types.ProgramList{}, fmt.Errorf("invalid program list: %w", err)
	}
	return list, nil
}

// locatePrompt returns the instruction for the program location pass.
func locatePrompt() string {
	var sb strings.Builder
	sb.WriteString("PROGRAM LOCATION EXTRACTION\n\n")
	sb.WriteString("Scan through all the provided images of Atari BASIC book pages and identify every BASIC program listing. ")
	sb.WriteString("Look for program source code that appears in a terminal-like computer typeface with line numbers. ")
	sb.WriteString("Programs may span multiple pages.\n\n")
	sb.WriteString("For each program you find, provide:\n")
	sb.WriteString("1. Program name/title\n")
	sb.WriteString("2. Page numbers where the program appears\n")
	sb.WriteString("3. Brief description if available\n\n")
	sb.WriteString("IMPORTANT: Look only for the actual BASIC source code listings (lines with numbers like 10, 20, 30, etc.) ")
	sb.WriteString("in computer terminal font. DO NOT include program execution output or sample runs.\n\n")
	sb.WriteString("Return your findings in this exact JSON format:\n")
	sb.WriteString("```json\n")
	sb.WriteString("{\n")
	sb.WriteString("  \"programs\": [\n")
	sb.WriteString("    {\n")
	sb.WriteString("      \"name\": \"Program Name\",\n")
	sb.WriteString("      \"pages\": [1, 2, 3],\n")
	sb.WriteString("      \"description\": \"Brief description\"\n")
	sb.WriteString("    }\n")
	sb.WriteString("  ]\n")
	sb.WriteString("}\n")
	sb.WriteString("```")
	return sb.String()
}
