package extract

import (
	"fmt"
	"strings"

	"github.com/retrolab/basicscan/pkg/types"
)

// sourcePrompt returns the instruction for extracting one program's
// source from its page images.
func sourcePrompt(prog types.Program) string {
	var sb strings.Builder
	sb.WriteString("PROGRAM SOURCE EXTRACTION\n\n")
	fmt.Fprintf(&sb, "Extract the complete BASIC source code for the program %q from the provided images "+
		"(expected on pages: %s). ", prog.Name, pagesString(prog.Pages))
	sb.WriteString("Look for the source code listing that appears in terminal-like computer typeface with line numbers.\n\n")
	sb.WriteString("IMPORTANT GUIDELINES:\n")
	sb.WriteString("- Extract ONLY the BASIC source code (lines starting with numbers like 10, 20, 30, etc.)\n")
	sb.WriteString("- DO NOT include program execution output, sample runs, or example gameplay\n")
	sb.WriteString("- Maintain exact formatting, spacing, and line numbers as they appear\n")
	sb.WriteString("- If the program spans multiple pages, combine all source lines in order\n")
	sb.WriteString("- Include any comments or REM statements that are part of the source code\n\n")
	sb.WriteString("Return the source code in markdown format:\n")
	sb.WriteString("```basic\n")
	sb.WriteString("[SOURCE CODE HERE]\n")
	sb.WriteString("```")
	return sb.String()
}
