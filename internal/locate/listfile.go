package locate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/retrolab/basicscan/pkg/types"
)

// ListFileName is the program list artifact under the listings directory.
const ListFileName = "programs.json"

// SaveProgramList writes the program list to listingsDir/programs.json.
func SaveProgramList(list types.ProgramList, listingsDir string) (string, error) {
	if err := os.MkdirAll(listingsDir, 0o755); err != nil {
		return "", fmt.Errorf("creating listings directory: %w", err)
	}

	path := filepath.Join(listingsDir, ListFileName)
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling program list: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	return path, nil
}

// LoadProgramList reads and validates a program list JSON file.
func LoadProgramList(path string) (types.ProgramList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.ProgramList{}, fmt.Errorf("reading program list %s: %w", path, err)
	}

	var list types.ProgramList
	if err := json.Unmarshal(data, &list); err != nil {
		return types.ProgramList{}, fmt.Errorf("parsing program list %s: %w", path, err)
	}
	if err := list.Validate(); err != nil {
		return types.ProgramList{}, fmt.Errorf("invalid program list %s: %w", path, err)
	}
	return list, nil
}
