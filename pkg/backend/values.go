package backend

import (
	"fmt"
	"math/big"
	"strconv"
	"time"
)

// Int64 converts a scalar returned by a driver into an int64.
func Int64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case float32:
		return int64(n), nil
	case *big.Int:
		return n.Int64(), nil
	case []byte:
		return strconv.ParseInt(string(n), 10, 64)
	case string:
		return strconv.ParseInt(n, 10, 64)
	case fmt.Stringer:
		return strconv.ParseInt(n.String(), 10, 64)
	case nil:
		return 0, fmt.Errorf("cannot convert NULL to int64")
	default:
		return 0, fmt.Errorf("cannot convert %T to int64", v)
	}
}

// String converts a scalar returned by a driver into a string.
func String(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case []byte:
		return string(s)
	case time.Time:
		return s.Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(v)
	}
}

// Bool interprets information_schema style flags ("YES"/"NO") and booleans.
func Bool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case int64:
		return b != 0
	default:
		switch String(v) {
		case "YES", "yes", "Y", "y", "TRUE", "true", "t", "1":
			return true
		}
		return false
	}
}
