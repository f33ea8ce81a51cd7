package models

type ResourceState int

const (
	ResourceLoading ResourceState = iota
	ResourceSuccess
	ResourceError
)

func (s ResourceState) String() string {
	switch s {
	case ResourceLoading:
		return "loading"
	case ResourceSuccess:
		return "success"
	case ResourceError:
		return "error"
	}
	return "unknown"
}

// Resource is the result of an asynchronous read: still loading, loaded, or
// failed. Data may be set alongside an error to carry the last known value.
type Resource[T any] struct {
	State ResourceState
	Data  T
	Err   error
}

func Loading[T any]() Resource[T] {
	return Resource[T]{State: ResourceLoading}
}

func Success[T any](data T) Resource[T] {
	return Resource[T]{State: ResourceSuccess, Data: data}
}

func Failure[T any](err error) Resource[T] {
	return Resource[T]{State: ResourceError, Err: err}
}

func (r Resource[T]) IsLoading() bool { return r.State == ResourceLoading }
func (r Resource[T]) IsSuccess() bool { return r.State == ResourceSuccess }
func (r Resource[T]) IsError() bool   { return r.State == ResourceError }
