package log

import "context"

type contextKey string

// contextLogValuesKey used as unique key to store log values in the context.
const contextLogValuesKey = contextKey("optrack-log-values")

// CtxWithValues returns a copy of parent in which the key values passed have
// been stored ready to be used by loggers.
func CtxWithValues(parent context.Context, kv Kv) context.Context {
	// Maybe we have values already set.
	oldValues, _ := parent.Value(contextLogValuesKey).(Kv)

	// Copy old and received values into the new kv.
	newValues := Kv{}
	for k, v := range oldValues {
		newValues[k] = v
	}
	for k, v := range kv {
		newValues[k] = v
	}

	return context.WithValue(parent, contextLogValuesKey, newValues)
}

// ValuesFromCtx gets the log values from the context.
// The returned map is safe to mutate, it's always a new map.
func ValuesFromCtx(ctx context.Context) Kv {
	values, _ := ctx.Value(contextLogValuesKey).(Kv)

	newValues := Kv{}
	for k, v := range values {
		newValues[k] = v
	}

	return newValues
}
