package util

import (
	"context"
	"reflect"
	"strings"
	"time"
)

// Exported struct fields as a map. Used to put typed inputs into reports.
func StructMap(s any) map[string]any {
	out := map[string]any{}
	typ := reflect.TypeOf(s)
	struc := reflect.ValueOf(s)
	for typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
		struc = struc.Elem()
	}
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		if !field.IsExported() {
			continue
		}
		out[field.Name] = struc.Field(i).Interface()
	}
	return out
}

// The last line of out with any content, or "" if there is none.
func LastNonEmptyLine(out []byte) string {
	lines := strings.Split(string(out), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if len(strings.TrimSpace(lines[i])) > 0 {
			return strings.TrimRight(lines[i], "\r")
		}
	}
	return ""
}

// Sleeps for d or until ctx is done, whichever comes first. Returns ctx.Err() if interrupted.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
