package synchronization

import (
	"bytes"

	"github.com/dd0wney/cluso-dbcluster/pkg/dialect"
	"github.com/dd0wney/cluso-dbcluster/pkg/schema"
)

// rowArgs turns fetched values into statement arguments. Large object
// columns are copied so a queued batch never aliases a driver buffer.
func rowArgs(d dialect.Dialect, t *schema.Table, columns []string, values []any) []any {
	args := make([]any, len(values))
	for i, v := range values {
		if b, ok := v.([]byte); ok && isLargeObject(d, t, columns[i]) {
			v = bytes.Clone(b)
		}
		args[i] = v
	}
	return args
}

func isLargeObject(d dialect.Dialect, t *schema.Table, column string) bool {
	c, ok := t.Column(column)
	return ok && d.IsLargeObject(c)
}
