package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Credentials are the tokens the CLI sends on behalf of the operator.
type Credentials struct {
	AccessToken   string `json:"accessToken"`
	InternalToken string `json:"internalToken"`
}

func Load(path string) (Credentials, error) {
	var st Credentials
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return st, nil
		}
		return st, fmt.Errorf("read credentials failed: %w", err)
	}
	if len(data) == 0 {
		return st, nil
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("parse credentials failed: %w", err)
	}
	return st, nil
}

func Save(path string, st Credentials) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create credentials dir failed: %w", err)
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal credentials failed: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write credentials failed: %w", err)
	}
	return nil
}
