package parser

import (
	"fmt"
	"reflect"
)

// sanitize walks v and returns a copy safe to hand to encoding/json:
// function-typed values are dropped (becoming nil), and any value reachable
// through more than one step from itself on the current path is rewritten
// as the sentinel string "[Circular]" at the point of revisit.
func sanitize(v any) any {
	return sanitizeValue(reflect.ValueOf(v), map[uintptr]bool{})
}

func sanitizeValue(rv reflect.Value, path map[uintptr]bool) any {
	if !rv.IsValid() {
		return nil
	}

	switch rv.Kind() {
	case reflect.Func:
		return nil

	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		if rv.Kind() == reflect.Interface {
			return sanitizeValue(rv.Elem(), path)
		}
		ptr := rv.Pointer()
		if path[ptr] {
			return "[Circular]"
		}
		path[ptr] = true
		defer delete(path, ptr)
		return sanitizeValue(rv.Elem(), path)

	case reflect.Map:
		if rv.IsNil() {
			return nil
		}
		ptr := rv.Pointer()
		if path[ptr] {
			return "[Circular]"
		}
		path[ptr] = true
		defer delete(path, ptr)

		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			key := fmt.Sprintf("%v", iter.Key().Interface())
			out[key] = sanitizeValue(iter.Value(), path)
		}
		return out

	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil
		}
		var ptr uintptr
		tracked := rv.Kind() == reflect.Slice && rv.Len() > 0
		if tracked {
			ptr = rv.Pointer()
			if path[ptr] {
				return "[Circular]"
			}
			path[ptr] = true
			defer delete(path, ptr)
		}
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = sanitizeValue(rv.Index(i), path)
		}
		return out

	case reflect.Struct:
		out := make(map[string]any, rv.NumField())
		rt := rv.Type()
		for i := 0; i < rv.NumField(); i++ {
			field := rt.Field(i)
			if !field.IsExported() {
				continue
			}
			out[field.Name] = sanitizeValue(rv.Field(i), path)
		}
		return out

	default:
		return rv.Interface()
	}
}
