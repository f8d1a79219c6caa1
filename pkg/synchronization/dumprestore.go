package synchronization

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/dd0wney/cluso-dbcluster/pkg/logging"
	"github.com/dd0wney/cluso-dbcluster/pkg/member"
)

// DumpRestore pipes the output of an external dump tool run against the
// source into a restore tool run against the target, then reconciles
// identity columns and sequences.
type DumpRestore struct {
	config DumpRestoreConfig
}

// NewDumpRestore creates the dump/restore strategy.
func NewDumpRestore(cfg DumpRestoreConfig) (*DumpRestore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &DumpRestore{config: cfg}, nil
}

func (s *DumpRestore) ID() string { return DumpRestoreID }

func (s *DumpRestore) Synchronize(ctx context.Context, sc *Context) error {
	timer := logging.StartTimer(sc.Logger(), "dump restored")

	dumpArgs := expandCommand(s.config.DumpCommand, sc.Source())
	restoreArgs := expandCommand(s.config.RestoreCommand, sc.Target())
	dump := exec.CommandContext(ctx, dumpArgs[0], dumpArgs[1:]...)
	dump.Env = commandEnv(sc.Source())
	restore := exec.CommandContext(ctx, restoreArgs[0], restoreArgs[1:]...)
	restore.Env = commandEnv(sc.Target())

	pr, pw, err := os.Pipe()
	if err != nil {
		return err
	}
	var dumpErr, restoreErr bytes.Buffer
	dump.Stdout, dump.Stderr = pw, &dumpErr
	restore.Stdin, restore.Stderr = pr, &restoreErr

	if err := restore.Start(); err != nil {
		pr.Close()
		pw.Close()
		return fmt.Errorf("failed to start restore: %w", err)
	}
	if err := dump.Start(); err != nil {
		pr.Close()
		pw.Close()
		restore.Wait()
		return fmt.Errorf("failed to start dump: %w", err)
	}
	// The children hold their own copies of the pipe ends.
	pr.Close()
	pw.Close()

	waitDump := dump.Wait()
	waitRestore := restore.Wait()
	if waitDump != nil {
		return fmt.Errorf("dump of %s failed: %w: %s", sc.Source().ID, waitDump, strings.TrimSpace(dumpErr.String()))
	}
	if waitRestore != nil {
		return fmt.Errorf("restore of %s failed: %w: %s", sc.Target().ID, waitRestore, strings.TrimSpace(restoreErr.String()))
	}
	sc.Target().MarkDirty()
	timer.End()

	return reconcile(ctx, sc)
}

// Environment variables carrying the member's password to the dump and
// restore tools. The password never appears in argv.
const (
	PasswordEnv = "CLUSO_DB_PASSWORD"
	pgPassword  = "PGPASSWORD"
	mysqlPwd    = "MYSQL_PWD"
)

// expandCommand substitutes member settings into an argv template.
func expandCommand(argv []string, m *member.Member) []string {
	r := strings.NewReplacer(
		"{member}", m.ID,
		"{driver}", m.Source.Driver,
		"{dsn}", m.Source.DSN,
		"{user}", m.Credentials.User,
	)
	out := make([]string, len(argv))
	for i, a := range argv {
		out[i] = r.Replace(a)
	}
	return out
}

// commandEnv is the parent environment plus m's password under
// PasswordEnv and the variable its vendor's client tools read.
func commandEnv(m *member.Member) []string {
	env := os.Environ()
	if m.Credentials.Password == "" {
		return env
	}
	env = append(env, PasswordEnv+"="+m.Credentials.Password)
	switch m.Source.Driver {
	case "pgx", "postgres", "postgresql":
		env = append(env, pgPassword+"="+m.Credentials.Password)
	case "mysql", "mariadb":
		env = append(env, mysqlPwd+"="+m.Credentials.Password)
	}
	return env
}
