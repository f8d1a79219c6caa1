package synchronization

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/dd0wney/cluso-dbcluster/pkg/backend"
	"github.com/dd0wney/cluso-dbcluster/pkg/dialect"
	"github.com/dd0wney/cluso-dbcluster/pkg/logging"
	"github.com/dd0wney/cluso-dbcluster/pkg/member"
	"github.com/dd0wney/cluso-dbcluster/pkg/schema"
)

// SynchronizeSequences reads every source sequence from every active member
// concurrently. If all members agree, the target's sequences are moved to
// the next value; otherwise ErrSequenceDivergence is returned and nothing is
// changed.
func SynchronizeSequences(ctx context.Context, sc *Context) error {
	d := sc.Dialect()
	sequences := sc.SourceProperties().Sequences
	if !d.SupportsSequences() || len(sequences) == 0 {
		return nil
	}

	members := sequenceVoters(sc)
	values := make([][]int64, len(members))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sc.Pool().Size())
	for i, m := range members {
		g.Go(func() error {
			conn := sc.SourceConn()
			if m != sc.Source() {
				var err error
				if conn, err = sc.Connect(gctx, m); err != nil {
					return fmt.Errorf("failed to connect to %s: %w", m.ID, err)
				}
			}
			vals, err := readSequences(gctx, conn, d, sequences)
			if err != nil {
				return fmt.Errorf("failed to read sequences on %s: %w", m.ID, err)
			}
			values[i] = vals
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var diverged []string
	for j, seq := range sequences {
		for i := 1; i < len(members); i++ {
			if values[i][j] != values[0][j] {
				diverged = append(diverged, fmt.Sprintf("%s (%s=%d, %s=%d)",
					seq.Name, members[0].ID, values[0][j], members[i].ID, values[i][j]))
				break
			}
		}
	}
	if len(diverged) > 0 {
		return fmt.Errorf("%w: %s", ErrSequenceDivergence, strings.Join(diverged, ", "))
	}

	for j, seq := range sequences {
		next := values[0][j] + seq.Step()
		if _, err := sc.TargetConn().Exec(ctx, d.AlterSequenceSQL(seq, next)); err != nil {
			return fmt.Errorf("failed to alter sequence %s on %s: %w", seq.Name, sc.Target().ID, err)
		}
		sc.Logger().Debug("synchronized sequence", logging.Sequence(seq.Name), logging.Int64("next", next))
	}
	return nil
}

// sequenceVoters returns the source followed by the other active members,
// never the target.
func sequenceVoters(sc *Context) []*member.Member {
	voters := []*member.Member{sc.Source()}
	for _, m := range sc.ActiveMembers() {
		if m != sc.Source() && m != sc.Target() {
			voters = append(voters, m)
		}
	}
	return voters
}

func readSequences(ctx context.Context, q backend.Querier, d dialect.Dialect, sequences []schema.Sequence) ([]int64, error) {
	out := make([]int64, len(sequences))
	for i, seq := range sequences {
		rows, err := backend.Scan(ctx, q, d.SequenceValueSQL(seq))
		if err != nil {
			return nil, err
		}
		if len(rows) != 1 || len(rows[0]) == 0 {
			return nil, fmt.Errorf("sequence %s returned %d rows", seq.Name, len(rows))
		}
		if out[i], err = backend.Int64(rows[0][0]); err != nil {
			return nil, fmt.Errorf("sequence %s: %w", seq.Name, err)
		}
	}
	return out, nil
}

// SynchronizeIdentityColumns moves every target identity column past the
// largest value the source holds. Empty tables are skipped.
func SynchronizeIdentityColumns(ctx context.Context, sc *Context) error {
	d := sc.Dialect()
	for _, t := range sc.Tables() {
		for _, column := range t.IdentityColumns() {
			rows, err := backend.Scan(ctx, sc.SourceConn(), dialect.MaxSQL(d, t, column))
			if err != nil {
				return fmt.Errorf("failed to read max %s.%s: %w", t.Name, column, err)
			}
			if len(rows) == 0 || rows[0][0] == nil {
				continue
			}
			max, err := backend.Int64(rows[0][0])
			if err != nil {
				return fmt.Errorf("identity %s.%s: %w", t.Name, column, err)
			}
			if _, err := sc.TargetConn().Exec(ctx, d.AlterIdentityColumnSQL(t, column, max+1)); err != nil {
				return fmt.Errorf("failed to alter identity %s.%s on %s: %w", t.Name, column, sc.Target().ID, err)
			}
			sc.Logger().Debug("synchronized identity column",
				logging.Table(t.Name), logging.String("column", column), logging.Int64("next", max+1))
		}
	}
	return nil
}

// reconcile runs identity then sequence synchronization.
func reconcile(ctx context.Context, sc *Context) error {
	if err := SynchronizeIdentityColumns(ctx, sc); err != nil {
		return err
	}
	return SynchronizeSequences(ctx, sc)
}
