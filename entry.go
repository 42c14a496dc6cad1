package layercache

import (
	"reflect"
	"time"

	"github.com/unkn0wn-root/layercache/internal/expiry"
)

// entry is what L1 holds. The key travels with the value so eviction
// callbacks can reconcile the tag index.
type entry struct {
	key       string
	value     any
	typ       reflect.Type
	createdAt time.Time
	deadlines expiry.Deadlines
	sliding   time.Duration
	tags      []string
	size      int64
	gen       uint64
	seq       uint64 // cache-wide write order; stamps tag index records
	remote    bool   // written (or read back) through L2
}

// as converts a stored value to V. A nil interface value is a valid V only
// when V is itself an interface type.
func as[V any](x any) (V, bool) {
	if x == nil {
		var zero V
		return zero, reflect.TypeOf((*V)(nil)).Elem().Kind() == reflect.Interface
	}
	v, ok := x.(V)
	return v, ok
}

// typeName identifies t in the L2 envelope.
func typeName(t reflect.Type) string {
	if t == nil {
		return ""
	}
	if t.PkgPath() != "" {
		return t.PkgPath() + "." + t.Name()
	}
	return t.String()
}
