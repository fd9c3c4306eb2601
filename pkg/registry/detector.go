package registry

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
)

// DetectChangedScanners returns the scanner identifiers whose files changed
// between baseRef and headRef and that ship a test definition. The result is
// sorted for reproducible dispatch order.
func DetectChangedScanners(ctx context.Context, registryPath, baseRef, headRef string) ([]string, error) {
	files, err := changedFiles(ctx, registryPath, baseRef, headRef)
	if err != nil {
		return nil, err
	}

	var scanners []string
	for _, id := range extractScannerIDs(files) {
		if !HasTestDefinition(registryPath, id) {
			log.Debug().Str("scanner", id).Msg("Changed scanner has no tests.yaml, skipping")
			continue
		}
		scanners = append(scanners, id)
	}
	return scanners, nil
}

// HasTestDefinition reports whether the scanner ships a tests.yaml.
func HasTestDefinition(registryPath, scannerID string) bool {
	_, err := os.Stat(TestFilePath(registryPath, scannerID))
	return err == nil
}

// CurrentCommit resolves the registry checkout's HEAD commit. The value is
// passed through to providers as an opaque ref and never interpreted here.
func CurrentCommit(ctx context.Context, registryPath string) (string, error) {
	out, err := gitOutput(ctx, registryPath, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("resolve registry commit: %w", err)
	}
	return strings.TrimSpace(out), nil
}

func changedFiles(ctx context.Context, registryPath, baseRef, headRef string) ([]string, error) {
	out, err := gitOutput(ctx, registryPath, "diff", "--name-only", baseRef, headRef)
	if err != nil {
		return nil, fmt.Errorf("diff %s..%s: %w", baseRef, headRef, err)
	}

	var files []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

func gitOutput(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// extractScannerIDs maps changed file paths to the scanners they belong to.
// Scanner files live under scanners/<org>/<name>/; anything else is ignored.
func extractScannerIDs(files []string) []string {
	seen := make(map[string]struct{})
	for _, f := range files {
		parts := strings.Split(f, "/")
		if len(parts) < 4 || parts[0] != "scanners" {
			continue
		}
		seen[parts[1]+"/"+parts[2]] = struct{}{}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
