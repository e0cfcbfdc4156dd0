package model

import (
	"fmt"
	"strings"
)

// ResolveName finds the graph name that binds to want. Exported checkpoints
// sometimes keep the training wrapper's prefix ("model.input"), so a stored
// name matches when it equals want with prefix stripped.
func ResolveName(stored []string, want, prefix string) (string, error) {
	for _, name := range stored {
		if name == want {
			return name, nil
		}
	}
	if prefix != "" {
		for _, name := range stored {
			if strings.HasPrefix(name, prefix) && strings.TrimPrefix(name, prefix) == want {
				return name, nil
			}
		}
	}
	return "", fmt.Errorf("no graph tensor matches %q (prefix %q), graph has %v", want, prefix, stored)
}
