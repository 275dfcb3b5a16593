package service

import (
	"context"
	"reflect"
	"runtime"
	"strings"
)

// Wrap returns fn instrumented by r. The wrapped function returns exactly
// what fn returns and records one call per invocation. An empty name is
// replaced by FuncName(fn).
func Wrap[T any](r *Recorder, name string, fn func(context.Context) (T, error)) func(context.Context) (T, error) {
	name = nameOr(name, fn)
	return func(ctx context.Context) (T, error) {
		var out T
		err := r.run(ctx, name, func(ctx context.Context) error {
			var err error
			out, err = fn(ctx)
			return err
		})
		return out, err
	}
}

// Wrap1 is Wrap for functions taking one argument.
func Wrap1[A, T any](r *Recorder, name string, fn func(context.Context, A) (T, error)) func(context.Context, A) (T, error) {
	name = nameOr(name, fn)
	return func(ctx context.Context, a A) (T, error) {
		var out T
		err := r.run(ctx, name, func(ctx context.Context) error {
			var err error
			out, err = fn(ctx, a)
			return err
		})
		return out, err
	}
}

// Wrap2 is Wrap for functions taking two arguments.
func Wrap2[A, B, T any](r *Recorder, name string, fn func(context.Context, A, B) (T, error)) func(context.Context, A, B) (T, error) {
	name = nameOr(name, fn)
	return func(ctx context.Context, a A, b B) (T, error) {
		var out T
		err := r.run(ctx, name, func(ctx context.Context) error {
			var err error
			out, err = fn(ctx, a, b)
			return err
		})
		return out, err
	}
}

// WrapErr is Wrap for functions that only return an error.
func WrapErr(r *Recorder, name string, fn func(context.Context) error) func(context.Context) error {
	name = nameOr(name, fn)
	return func(ctx context.Context) error {
		return r.run(ctx, name, fn)
	}
}

// FuncName returns the short name of a function value: the package path and
// package qualifier are dropped, so "example.com/app/sample.Work" becomes
// "Work" and a method value becomes "(*Type).Method".
func FuncName(fn any) string {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return "unknown"
	}
	f := runtime.FuncForPC(v.Pointer())
	if f == nil {
		return "unknown"
	}

	name := f.Name()
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	// Dots in the last path element are escaped as %2e in symbol names, so
	// the first dot ends the package qualifier.
	if i := strings.Index(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return strings.TrimSuffix(name, "-fm")
}

func nameOr(name string, fn any) string {
	if name != "" {
		return name
	}
	return FuncName(fn)
}
