package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	envOutDir    = "DFROT_OUT_DIR"
	envModelsDir = "DFROT_MODELS_DIR"
	envDatabase  = "DFROT_DB"
)

// resolveOutDir picks the output directory for generated artifacts:
// the flag if set, then $DFROT_OUT_DIR, then ./out. The directory is
// created. The bool reports whether the value was defaulted.
func resolveOutDir(outFlag string) (string, bool, error) {
	outFlag = strings.TrimSpace(outFlag)
	if outFlag != "" {
		outDir := filepath.Clean(outFlag)
		if err := os.MkdirAll(outDir, 0o755); err != nil {
			return "", false, err
		}
		return outDir, false, nil
	}

	outDir := strings.TrimSpace(os.Getenv(envOutDir))
	if outDir == "" {
		outDir = filepath.Join(".", "out")
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", true, err
	}
	return outDir, true, nil
}

// resolveDatabasePath picks the run database path: the flag if set,
// then $DFROT_DB, then ~/.config/dfrot/runs.db. The parent directory is
// created.
func resolveDatabasePath(dbFlag string) (string, error) {
	path := strings.TrimSpace(dbFlag)
	if path == "" {
		path = strings.TrimSpace(os.Getenv(envDatabase))
	}
	if path == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("no --db set and no user config dir: %w", err)
		}
		path = filepath.Join(dir, "dfrot", "runs.db")
	}
	path = filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// resolveModelDir picks the checkpoint directory: the flag if set,
// otherwise the single checkpoint found under the models directory
// (--models-path, then $DFROT_MODELS_DIR). Multiple candidates are an
// error; commands operate on one checkpoint at a time.
func resolveModelDir(modelFlag, modelsPath string) (string, error) {
	modelFlag = strings.TrimSpace(modelFlag)
	if modelFlag != "" {
		return filepath.Clean(modelFlag), nil
	}

	modelsDir := strings.TrimSpace(modelsPath)
	if modelsDir == "" {
		modelsDir = strings.TrimSpace(os.Getenv(envModelsDir))
	}
	if modelsDir == "" {
		return "", fmt.Errorf("--model or --models-path is required unless %s is set", envModelsDir)
	}

	models, err := discoverCheckpoints(modelsDir)
	if err != nil {
		return "", err
	}
	switch len(models) {
	case 0:
		return "", fmt.Errorf("no checkpoints found in %s", modelsDir)
	case 1:
		return models[0], nil
	default:
		return "", fmt.Errorf("multiple checkpoints found in %s; set --model", modelsDir)
	}
}

// discoverCheckpoints lists subdirectories of dir that look like HF
// checkpoints (they contain a config.json).
func discoverCheckpoints(dir string) ([]string, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("models directory is empty")
	}
	st, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("models path is not a directory: %s", dir)
	}

	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	models := make([]string, 0, len(ents))
	for _, e := range ents {
		if !e.IsDir() {
			continue
		}
		candidate := filepath.Join(dir, e.Name())
		if _, err := os.Stat(filepath.Join(candidate, "config.json")); err == nil {
			models = append(models, candidate)
		}
	}
	sort.Strings(models)
	return models, nil
}

// copyConfigJSON carries config.json from a source checkpoint into an
// output checkpoint directory unchanged.
func copyConfigJSON(srcDir, dstDir string) error {
	data, err := os.ReadFile(filepath.Join(srcDir, "config.json"))
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dstDir, "config.json"), data, 0o644)
}
