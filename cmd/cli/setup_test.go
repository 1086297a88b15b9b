package main

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/dvloznov/order-ledger/internal/domain"
	"github.com/dvloznov/order-ledger/internal/recorder"
)

// markerRecorder writes a file when closed so a parent process can see it.
type markerRecorder struct {
	recorder.NoopRecorder
	marker string
	closes int
}

func (m *markerRecorder) StartRun(ctx context.Context, kind string, years domain.YearRange) (string, error) {
	return "run-1", nil
}

func (m *markerRecorder) Close() error {
	m.closes++
	if m.marker == "" {
		return nil
	}
	return os.WriteFile(m.marker, []byte("closed"), 0o644)
}

func TestEnvClose_Once(t *testing.T) {
	rec := &markerRecorder{}
	e := &env{recorder: rec}
	e.close()
	e.close()
	if rec.closes != 1 {
		t.Errorf("Close called %d times, want 1", rec.closes)
	}
}

func TestEnvExit_ClosesRecorder(t *testing.T) {
	if marker := os.Getenv("ORDER_LEDGER_EXIT_MARKER"); marker != "" {
		e := &env{recorder: &markerRecorder{marker: marker}}
		e.exit(130)
		return
	}

	marker := filepath.Join(t.TempDir(), "closed")
	cmd := exec.Command(os.Args[0], "-test.run=^TestEnvExit_ClosesRecorder$")
	cmd.Env = append(os.Environ(), "ORDER_LEDGER_EXIT_MARKER="+marker)
	err := cmd.Run()

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) || exitErr.ExitCode() != 130 {
		t.Fatalf("child exit = %v, want code 130", err)
	}
	if _, err := os.Stat(marker); err != nil {
		t.Errorf("recorder was not closed before exit: %v", err)
	}
}

func TestBuildCategorizer_Modes(t *testing.T) {
	rules := filepath.Join(t.TempDir(), "categories.yaml")
	if err := os.WriteFile(rules, []byte("categories:\n  - name: Electronics\n    keywords: [usb]\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		mode    string
		rules   string
		wantNil bool
		wantErr bool
	}{
		{name: "no rules means none", wantNil: true},
		{name: "explicit none", mode: "none", rules: rules, wantNil: true},
		{name: "rules default to keywords", rules: rules},
		{name: "keywords", mode: "keywords", rules: rules},
		{name: "keywords without rules", mode: "keywords", wantErr: true},
		{name: "unknown mode", mode: "magic", rules: rules, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cat, err := buildCategorizer(context.Background(), tt.mode, tt.rules)
			if (err != nil) != tt.wantErr {
				t.Fatalf("buildCategorizer() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && (cat == nil) != tt.wantNil {
				t.Errorf("categorizer = %v, wantNil %v", cat, tt.wantNil)
			}
		})
	}
}
