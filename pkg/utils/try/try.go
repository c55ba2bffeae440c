// Package try folds a (value, error) pair into one value,
// so that test setup reads as a sequence of steps.
//
//	jobs := try.To(store.History(ctx, id)).OrFatal(t)
package try

// Fataler is satisfied by *testing.T and by the adapters of loggers.
type Fataler interface {
	Fatal(...any)
}

// Either is a pair of (T, error) where exactly one side is meaningful.
type Either[T any] interface {
	// Get returns (value, nil) or (zero value, error).
	Get() (T, error)

	// OrFatal returns the value, or calls ftl.Fatal(err).
	//
	// When ftl has Helper() (like *testing.T), it is called first.
	OrFatal(ftl Fataler) T

	// OrDefault returns the value, or d when it holds an error.
	OrDefault(d T) T
}

func To[T any](ok T, ng error) Either[T] {
	if ng == nil {
		return tryOk[T]{ok}
	}
	return tryNg[T]{ng}
}

// Map converts the value when there is one.
func Map[T any, R any](try Either[T], mapper func(T) R) Either[R] {
	val, err := try.Get()
	if err != nil {
		return tryNg[R]{err}
	}
	return tryOk[R]{mapper(val)}
}

type tryOk[T any] struct {
	value T
}

func (ok tryOk[T]) Get() (T, error)   { return ok.value, nil }
func (ok tryOk[T]) OrDefault(T) T     { return ok.value }
func (ok tryOk[T]) OrFatal(Fataler) T { return ok.value }

type tryNg[T any] struct {
	err error
}

func (ng tryNg[T]) Get() (T, error) { return *new(T), ng.err }
func (ng tryNg[T]) OrDefault(d T) T { return d }

func (ng tryNg[T]) OrFatal(ftl Fataler) T {
	if hlp, ok := ftl.(interface{ Helper() }); ok {
		hlp.Helper()
	}
	ftl.Fatal(ng.err)
	return *new(T)
}
