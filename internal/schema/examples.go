package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// LoadExamples reads the example query pairs indexed alongside schema
// fragments from a JSON seed file. A missing path yields no examples.
func LoadExamples(path string) ([]ExamplePair, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read example pairs %q: %w", path, err)
	}

	var examples []ExamplePair
	if err := json.Unmarshal(data, &examples); err != nil {
		return nil, fmt.Errorf("decode example pairs %q: %w", path, err)
	}
	for i, example := range examples {
		if strings.TrimSpace(example.Question) == "" || strings.TrimSpace(example.SQL) == "" {
			return nil, fmt.Errorf("example pair %d: question and sql are required", i)
		}
		if strings.TrimSpace(example.ID) == "" {
			examples[i].ID = fmt.Sprintf("seed-%03d", i)
		}
	}
	return examples, nil
}
