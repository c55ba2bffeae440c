// Package args adapts typed parsers to flag values.
package args

// Adapter is a flag value (flag.Value and pflag.Value) backed by a parser.
type Adapter[T interface{ String() string }] struct {
	value    T
	parser   func(string) (T, error)
	typename string
	isSet    bool
}

func (i *Adapter[T]) String() string {
	if i.isSet {
		return i.value.String()
	}
	return ""
}

func (i *Adapter[T]) Set(s string) error {
	v, err := i.parser(s)
	if err != nil {
		return err
	}
	i.isSet = true
	i.value = v
	return nil
}

func (i *Adapter[T]) Type() string {
	return i.typename
}

func (i *Adapter[T]) Value() T {
	return i.value
}

func (i *Adapter[T]) IsSet() bool {
	return i.isSet
}

// Parser makes an Adapter named typename (shown in usage).
func Parser[T interface{ String() string }](typename string, parser func(string) (T, error)) *Adapter[T] {
	return &Adapter[T]{parser: parser, typename: typename}
}

// WithDefault parses s as the initial value.
//
// The adapter still reports IsSet() == false afterwards.
func (i *Adapter[T]) WithDefault(s string) (*Adapter[T], error) {
	v, err := i.parser(s)
	if err != nil {
		return nil, err
	}
	i.value = v
	return i, nil
}
