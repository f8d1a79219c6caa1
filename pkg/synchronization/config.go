package synchronization

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dd0wney/cluso-dbcluster/pkg/validation"
)

// DefaultBatchSize is the number of statements sent per batch.
const DefaultBatchSize = 100

// FullConfig configures the full strategy.
type FullConfig struct {
	BatchSize int `yaml:"batch_size"`
}

// Validate checks the configuration.
func (c FullConfig) Validate() error {
	return validation.NewConfigValidator("full strategy").
		NonNegative("batch_size", c.BatchSize).
		Validate()
}

// DiffConfig configures the differential strategy.
type DiffConfig struct {
	BatchSize int `yaml:"batch_size"`
	// VersionPattern matches the name of a column whose value changes on
	// every update. When a table has such a column, rows with equal keys
	// are compared on that column alone.
	VersionPattern string `yaml:"version_pattern"`
}

// Validate checks the configuration.
func (c DiffConfig) Validate() error {
	return validation.NewConfigValidator("diff strategy").
		NonNegative("batch_size", c.BatchSize).
		When(c.VersionPattern != "", func(cv *validation.ConfigValidator) {
			cv.Custom("version_pattern", func() error {
				if _, err := regexp.Compile(c.VersionPattern); err != nil {
					return fmt.Errorf("invalid pattern: %w", err)
				}
				return nil
			})
		}).
		Validate()
}

// DumpRestoreConfig configures the dump/restore strategy. Commands are argv
// lists. The placeholders {dsn}, {user}, {driver} and {member} are
// replaced with the source member's settings in DumpCommand and the
// target's in RestoreCommand. Passwords are passed in the environment, see
// PasswordEnv.
type DumpRestoreConfig struct {
	DumpCommand    []string `yaml:"dump_command"`
	RestoreCommand []string `yaml:"restore_command"`
}

// Validate checks the configuration.
func (c DumpRestoreConfig) Validate() error {
	var dump, restore string
	if len(c.DumpCommand) > 0 {
		dump = c.DumpCommand[0]
	}
	if len(c.RestoreCommand) > 0 {
		restore = c.RestoreCommand[0]
	}
	return validation.NewConfigValidator("dump-restore strategy").
		Required("dump_command", dump).
		Required("restore_command", restore).
		Custom("dump_command", func() error { return noPasswordArg(c.DumpCommand) }).
		Custom("restore_command", func() error { return noPasswordArg(c.RestoreCommand) }).
		Validate()
}

func noPasswordArg(argv []string) error {
	for _, a := range argv {
		if strings.Contains(a, "{password}") {
			return fmt.Errorf("must not contain {password}; read $%s instead", PasswordEnv)
		}
	}
	return nil
}

func batchSize(n int) int {
	return validation.DefaultOr(n, DefaultBatchSize)
}
