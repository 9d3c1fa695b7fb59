package finetune

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strings"

	pkgerrors "github.com/pkg/errors"

	"github.com/questforge-ai/modelplane/pkg/afero"
	"github.com/questforge-ai/modelplane/pkg/apierror"
)

const seedFileScheme = "file://"

// loadSeedFiles stages seed examples from file:// JSONL references, one
// {"input": ..., "output": ...} object per line. Blank lines are skipped.
func loadSeedFiles(fs afero.Fs, refs []string) ([]SeedExample, error) {
	var seeds []SeedExample
	for _, ref := range refs {
		if !strings.HasPrefix(ref, seedFileScheme) {
			return nil, apierror.InvalidArgument("unsupported seed reference %q, only file:// is accepted", ref)
		}

		data, err := afero.ReadFile(fs, strings.TrimPrefix(ref, seedFileScheme))
		if err != nil {
			return nil, pkgerrors.Wrapf(err, "reading seed file %s", ref)
		}

		scanner := bufio.NewScanner(bytes.NewReader(data))
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		line := 0
		for scanner.Scan() {
			line++
			text := strings.TrimSpace(scanner.Text())
			if text == "" {
				continue
			}
			var seed SeedExample
			if err := json.Unmarshal([]byte(text), &seed); err != nil {
				return nil, apierror.InvalidArgument("seed file %s line %d is not valid JSON", ref, line).WithCause(err)
			}
			seeds = append(seeds, seed)
		}
		if err := scanner.Err(); err != nil {
			return nil, pkgerrors.Wrapf(err, "scanning seed file %s", ref)
		}
	}
	return seeds, nil
}
