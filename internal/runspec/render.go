package runspec

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// RenderOptions control script emission.
type RenderOptions struct {
	// Pipeline is the evaluation command the scripts invoke.
	// Default "dfrot-eval".
	Pipeline string
	// Devices is the default CUDA_VISIBLE_DEVICES value baked into the
	// scripts. The scripts honour an externally-set value. Default "0".
	Devices string
}

func (o RenderOptions) withDefaults() RenderOptions {
	if o.Pipeline == "" {
		o.Pipeline = "dfrot-eval"
	}
	if o.Devices == "" {
		o.Devices = "0"
	}
	return o
}

// Script is a rendered shell script.
type Script struct {
	Name     string
	Contents string
}

// Render builds the shell script for one experiment.
func Render(e Experiment, opts RenderOptions) (Script, error) {
	if err := e.Validate(); err != nil {
		return Script{}, err
	}
	opts = opts.withDefaults()

	var b strings.Builder
	b.WriteString("#!/usr/bin/env bash\n")
	if e.Label != "" {
		fmt.Fprintf(&b, "# %s\n", e.Label)
	}
	fmt.Fprintf(&b, "# %s\n", e.Name())
	b.WriteString("set -euo pipefail\n\n")

	fmt.Fprintf(&b, "CUDA_VISIBLE_DEVICES=\"${CUDA_VISIBLE_DEVICES:-%s}\" \\\n", opts.Devices)
	fmt.Fprintf(&b, "%s \\\n", opts.Pipeline)
	fmt.Fprintf(&b, "  --model %s \\\n", e.Model)
	fmt.Fprintf(&b, "  --rotate-mode %s \\\n", e.Mode)
	fmt.Fprintf(&b, "  --w-bits %d --a-bits %d --v-bits %d --k-bits %d \\\n", e.WBits, e.ABits, e.VBits, e.KBits)
	if e.WClip != 0 {
		fmt.Fprintf(&b, "  --w-clip-ratio %g \\\n", e.WClip)
	}
	if e.AClip != 0 {
		fmt.Fprintf(&b, "  --a-clip-ratio %g \\\n", e.AClip)
	}
	if e.GroupSize != 0 {
		fmt.Fprintf(&b, "  --group-size %d \\\n", e.GroupSize)
	}
	if e.Calibration != "" {
		fmt.Fprintf(&b, "  --calibration %s \\\n", e.Calibration)
	}
	fmt.Fprintf(&b, "  --seed %d \\\n", e.Seed)
	fmt.Fprintf(&b, "  --output-dir %s\n", e.OutputDir)

	return Script{Name: e.Name() + ".sh", Contents: b.String()}, nil
}

// WriteAll renders every experiment into dir: one script and one YAML
// config per experiment plus a run_all.sh driver. Experiment names must
// be unique within the batch.
func WriteAll(dir string, exps []Experiment, opts RenderOptions) error {
	if len(exps) == 0 {
		return fmt.Errorf("runspec: no experiments to write")
	}
	seen := make(map[string]struct{}, len(exps))
	for _, e := range exps {
		name := e.Name()
		if _, dup := seen[name]; dup {
			return fmt.Errorf("runspec: duplicate experiment name %s", name)
		}
		seen[name] = struct{}{}
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	names := make([]string, 0, len(exps))
	for _, e := range exps {
		script, err := Render(e, opts)
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dir, script.Name), []byte(script.Contents), 0o755); err != nil {
			return err
		}

		cfg, err := yaml.Marshal(e)
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dir, e.Name()+".yaml"), cfg, 0o644); err != nil {
			return err
		}
		names = append(names, script.Name)
	}

	sort.Strings(names)
	var b strings.Builder
	b.WriteString("#!/usr/bin/env bash\n")
	b.WriteString("set -euo pipefail\n")
	b.WriteString("cd \"$(dirname \"$0\")\"\n\n")
	for _, name := range names {
		fmt.Fprintf(&b, "bash %s\n", name)
	}
	return os.WriteFile(filepath.Join(dir, "run_all.sh"), []byte(b.String()), 0o755)
}
