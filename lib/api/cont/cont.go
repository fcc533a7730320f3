package cont

import (
	"context"
)

type ctxKey string

const callerKey ctxKey = "apiCaller"

// PutCaller stores the authenticated API caller name in the request context.
func PutCaller(c context.Context, name string) context.Context {
	return context.WithValue(c, callerKey, name)
}

func GetCaller(c context.Context) string {
	name, ok := c.Value(callerKey).(string)
	if !ok {
		return ""
	}
	return name
}
