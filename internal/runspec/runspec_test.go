package runspec

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/samcharles93/dfrot/internal/rotation"
)

func TestSweepExpandCount(t *testing.T) {
	t.Parallel()
	s := Sweep{
		Models: []string{"meta-llama/Llama-2-7b-hf", "mistralai/Mistral-7B-v0.1"},
		Modes:  []rotation.Mode{rotation.ModeRandom, rotation.ModeHadamard},
		WBits:  []int{4},
		ABits:  []int{4, 8},
		KVBits: []int{4, 16},
		Seeds:  []int64{0, 1, 2},
	}
	exps := s.Expand()
	want := 2 * 2 * 1 * 2 * 2 * 3
	if len(exps) != want {
		t.Fatalf("expanded %d experiments, want %d", len(exps), want)
	}
}

func TestSweepExpandDeterministic(t *testing.T) {
	t.Parallel()
	s := RotationSweep([]string{"meta-llama/Llama-2-7b-hf"}, "calib.json", "out")
	a := s.Expand()
	b := s.Expand()
	if len(a) != len(b) {
		t.Fatalf("expansion sizes differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("expansion order not deterministic at %d", i)
		}
	}
}

func TestExperimentNames(t *testing.T) {
	t.Parallel()
	e := Experiment{
		Model: "meta-llama/Llama-2-7b-hf",
		Mode:  rotation.ModeHadamard,
		WBits: 4, ABits: 4, VBits: 4, KBits: 4,
	}
	if got := e.Name(); got != "llama-2-7b-hf.hadamard.w4a4kv4" {
		t.Fatalf("Name() = %q", got)
	}

	e.Seed = 3
	if got := e.Name(); !strings.HasSuffix(got, ".seed3") {
		t.Fatalf("Name() with seed = %q, want .seed3 suffix", got)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	good := Experiment{Model: "m", Mode: rotation.ModeNone, WBits: 4, ABits: 16, VBits: 16, KBits: 16}
	if err := good.Validate(); err != nil {
		t.Fatal(err)
	}

	bad := good
	bad.Model = ""
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error for missing model")
	}

	bad = good
	bad.Mode = "spin"
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error for unknown mode")
	}

	bad = good
	bad.WBits = 1
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error for 1-bit weights")
	}
}

func TestRenderScriptContents(t *testing.T) {
	t.Parallel()
	e := Experiment{
		Model: "meta-llama/Llama-2-7b-hf",
		Mode:  rotation.ModeOrthogonalProcrustes,
		WBits: 4, ABits: 4, VBits: 4, KBits: 4,
		WClip:       0.9,
		Calibration: "calib/wikitext2.json",
		OutputDir:   "out/test",
	}
	script, err := Render(e, RenderOptions{})
	if err != nil {
		t.Fatal(err)
	}

	for _, want := range []string{
		"#!/usr/bin/env bash",
		"set -euo pipefail",
		`CUDA_VISIBLE_DEVICES="${CUDA_VISIBLE_DEVICES:-0}"`,
		"dfrot-eval",
		"--model meta-llama/Llama-2-7b-hf",
		"--rotate-mode orthogonal_procrustes",
		"--w-bits 4 --a-bits 4 --v-bits 4 --k-bits 4",
		"--w-clip-ratio 0.9",
		"--calibration calib/wikitext2.json",
		"--output-dir out/test",
	} {
		if !strings.Contains(script.Contents, want) {
			t.Fatalf("script missing %q:\n%s", want, script.Contents)
		}
	}
}

func TestRenderIncludesLabel(t *testing.T) {
	t.Parallel()
	exps := SeparateBaseline([]string{"meta-llama/Llama-2-7b-hf"}, "", "out")
	if len(exps) == 0 {
		t.Fatal("no baseline experiments")
	}
	script, err := Render(exps[0], RenderOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(script.Contents, "QuaRot.FP16()") {
		t.Fatalf("baseline script missing label:\n%s", script.Contents)
	}
	if exps[0].ABits != 16 || exps[0].KBits != 16 {
		t.Fatal("separate baseline must keep activations at FP16")
	}
}

func TestVanillaBaselineHasNoRotation(t *testing.T) {
	t.Parallel()
	for _, e := range VanillaBaseline([]string{"m/a", "m/b"}, "out") {
		if e.Mode != rotation.ModeNone {
			t.Fatalf("vanilla experiment has mode %s", e.Mode)
		}
	}
}

func TestWriteAll(t *testing.T) {
	t.Parallel()
	dir := filepath.Join(t.TempDir(), "scripts")
	exps := VanillaBaseline([]string{"meta-llama/Llama-2-7b-hf"}, "out")

	if err := WriteAll(dir, exps, RenderOptions{Devices: "1"}); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	// One .sh and one .yaml per experiment plus run_all.sh.
	if want := len(exps)*2 + 1; len(entries) != want {
		t.Fatalf("wrote %d files, want %d", len(entries), want)
	}

	driver, err := os.ReadFile(filepath.Join(dir, "run_all.sh"))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range exps {
		if !strings.Contains(string(driver), e.Name()+".sh") {
			t.Fatalf("run_all.sh missing %s", e.Name())
		}
	}

	st, err := os.Stat(filepath.Join(dir, exps[0].Name()+".sh"))
	if err != nil {
		t.Fatal(err)
	}
	if st.Mode().Perm()&0o100 == 0 {
		t.Fatal("script not executable")
	}
}

func TestWriteAllRejectsDuplicates(t *testing.T) {
	t.Parallel()
	e := Experiment{Model: "m", Mode: rotation.ModeNone, WBits: 4, ABits: 4, VBits: 4, KBits: 4}
	if err := WriteAll(t.TempDir(), []Experiment{e, e}, RenderOptions{}); err == nil {
		t.Fatal("expected duplicate-name error")
	}
}

func TestWriteAllRejectsEmpty(t *testing.T) {
	t.Parallel()
	if err := WriteAll(t.TempDir(), nil, RenderOptions{}); err == nil {
		t.Fatal("expected error for empty experiment list")
	}
}
