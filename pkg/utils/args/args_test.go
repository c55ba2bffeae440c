package args_test

import (
	"errors"
	"strconv"
	"testing"

	"github.com/elderproject/elder-worker/pkg/utils/args"
)

type num int

func (n num) String() string { return strconv.Itoa(int(n)) }

func parseNum(s string) (num, error) {
	i, err := strconv.Atoi(s)
	return num(i), err
}

func TestAdapter(t *testing.T) {
	t.Run("Set parses", func(t *testing.T) {
		testee := args.Parser("num", parseNum)
		if testee.IsSet() || testee.String() != "" {
			t.Fatalf("unset adapter reports (%v, %q)", testee.IsSet(), testee.String())
		}
		if err := testee.Set("12"); err != nil {
			t.Fatal(err)
		}
		if !testee.IsSet() || testee.Value() != 12 || testee.String() != "12" {
			t.Errorf("(isSet, value, string) = (%v, %d, %q)", testee.IsSet(), testee.Value(), testee.String())
		}
		if testee.Type() != "num" {
			t.Errorf("Type() = %q", testee.Type())
		}
	})

	t.Run("Set passes parser errors", func(t *testing.T) {
		testee := args.Parser("num", parseNum)
		var numErr *strconv.NumError
		if err := testee.Set("twelve"); !errors.As(err, &numErr) {
			t.Errorf("err = %v, want *strconv.NumError", err)
		}
		if testee.IsSet() {
			t.Error("failed Set marks the adapter as set")
		}
	})

	t.Run("WithDefault does not mark as set", func(t *testing.T) {
		testee, err := args.Parser("num", parseNum).WithDefault("3")
		if err != nil {
			t.Fatal(err)
		}
		if testee.IsSet() || testee.Value() != 3 {
			t.Errorf("(isSet, value) = (%v, %d), want (false, 3)", testee.IsSet(), testee.Value())
		}
	})
}
